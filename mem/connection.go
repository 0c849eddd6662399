package mem

import (
	"sync"

	"github.com/zerofox-oss/go-jms"
	"golang.org/x/sync/errgroup"
)

// Connection is a connection to a Broker.
type Connection struct {
	broker *Broker

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

func newConnection(b *Broker) *Connection {
	return &Connection{
		broker:   b,
		running:  make(chan struct{}),
		sessions: make(map[*Session]struct{}),
	}
}

// CreateSession creates a new Session.
func (c *Connection) CreateSession() (jms.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, jms.ErrClosed
	}

	s := newSession(c)
	c.sessions[s] = struct{}{}
	return s, nil
}

// ClientID returns the client identifier of the connection.
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SetClientID sets the client identifier of the connection.
func (c *Connection) SetClientID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jms.ErrClosed
	}
	c.clientID = id
	return nil
}

// ExceptionListener returns the connection's ExceptionListener.
func (c *Connection) ExceptionListener() jms.ExceptionListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceptionListener
}

// SetExceptionListener sets the listener notified about messages that
// were dropped after exhausting their redeliveries.
func (c *Connection) SetExceptionListener(l jms.ExceptionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptionListener = l
}

// Start starts delivery of messages to listeners.
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

// Stop pauses delivery of messages to listeners. Synchronous receives are
// not affected.
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

// Close closes every session of the connection. Closing a closed
// connection is a no-op.
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
		s := s
		g.Go(s.Close)
	}
	return g.Wait()
}

// isRunning returns a channel that is closed while the connection is
// started.
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
