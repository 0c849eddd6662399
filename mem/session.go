package mem

import (
	"sync"

	"github.com/zerofox-oss/go-jms"
	"golang.org/x/sync/errgroup"
)

// Session creates producers and consumers on a Connection.
type Session struct {
	conn *Connection

	mu        sync.Mutex
	closed    bool
	producers map[*Producer]struct{}
	consumers map[*Consumer]struct{}
}

// Ensure that Session implements jms.Session
var _ jms.Session = &Session{}

func newSession(c *Connection) *Session {
	return &Session{
		conn:      c,
		producers: make(map[*Producer]struct{}),
		consumers: make(map[*Consumer]struct{}),
	}
}

// CreateProducer creates a Producer for d. d may be nil.
func (s *Session) CreateProducer(d jms.Destination) (jms.Producer, error) {
	if d != nil {
		if err := validDestination(d); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, jms.ErrClosed
	}

	p := &Producer{session: s, dest: d}
	s.producers[p] = struct{}{}
	return p, nil
}

// CreateConsumer creates a Consumer for d. Consumers of a jms.Topic only
// receive messages published after they were created.
func (s *Session) CreateConsumer(d jms.Destination) (jms.Consumer, error) {
	if err := validDestination(d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, jms.ErrClosed
	}

	c := newConsumer(s, d)
	s.consumers[c] = struct{}{}
	return c, nil
}

// Close closes every producer and consumer created by the session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	g := errgroup.Group{}
	for p := range s.producers {
		g.Go(p.Close)
	}
	for c := range s.consumers {
		g.Go(c.Close)
	}
	s.mu.Unlock()

	err := g.Wait()
	s.conn.removeSession(s)
	return err
}

func (s *Session) removeProducer(p *Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.producers, p)
}

func (s *Session) removeConsumer(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, c)
}
