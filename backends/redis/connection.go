package redis

import (
	"sync"

	"github.com/zerofox-oss/go-jms"
	"golang.org/x/sync/errgroup"
)

// Connection is a connection to Redis. The Redis client is shared by every
// connection of a ConnectionFactory.
type Connection struct {
	factory *ConnectionFactory

	mu                sync.Mutex
	clientID          string
	exceptionListener jms.ExceptionListener
	started           bool
	// running is closed while the connection is started
	running  chan struct{}
	closed   bool
	sessions map[*Session]struct{}
}

// Ensure that Connection implements jms.Connection
var _ jms.Connection = &Connection{}

func newConnection(f *ConnectionFactory) *Connection {
	return &Connection{
		factory:  f,
		running:  make(chan struct{}),
		sessions: make(map[*Session]struct{}),
	}
}

func (c *Connection) CreateSession() (jms.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, jms.ErrClosed
	}

	s := &Session{
		conn:      c,
		producers: make(map[*Producer]struct{}),
		consumers: make(map[*Consumer]struct{}),
	}
	c.sessions[s] = struct{}{}
	return s, nil
}

func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SetClientID sets the client identifier, which prefixes the consumer
// names used in consumer groups.
func (c *Connection) SetClientID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jms.ErrClosed
	}
	c.clientID = id
	return nil
}

func (c *Connection) ExceptionListener() jms.ExceptionListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceptionListener
}

// SetExceptionListener sets the listener notified about failures of
// listener polling.
func (c *Connection) SetExceptionListener(l jms.ExceptionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptionListener = l
}

func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jms.ErrClosed
	}
	if !c.started {
		c.started = true
		close(c.running)
	}
	return nil
}

func (c *Connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jms.ErrClosed
	}
	if c.started {
		c.started = false
		c.running = make(chan struct{})
	}
	return nil
}

// Close closes every session of the connection. The Redis client is left
// open.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	g := errgroup.Group{}
	for _, s := range sessions {
		g.Go(s.Close)
	}
	return g.Wait()
}

func (c *Connection) isRunning() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Connection) notify(err error) {
	if l := c.ExceptionListener(); l != nil {
		l.OnException(err)
	}
}

func (c *Connection) removeSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

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

// CreateConsumer creates a Consumer for d, creating the stream and its
// consumer group if needed.
func (s *Session) CreateConsumer(d jms.Destination) (jms.Consumer, error) {
	if err := validDestination(d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, jms.ErrClosed
	}

	c, err := newConsumer(s, d)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		go c.Close()
		return nil, jms.ErrClosed
	}
	s.consumers[c] = struct{}{}
	return c, nil
}

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
