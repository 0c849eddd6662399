package mem

import (
	"context"
	"sync"
	"time"

	"github.com/zerofox-oss/go-jms"
)

// Consumer receives messages from a Broker queue or topic subscription.
type Consumer struct {
	session *Session
	dest    jms.Destination
	queue   *queue

	// topic is set for topic subscriptions
	topic *topic

	mu       sync.Mutex
	listener jms.Listener
	server   *server
	closed   bool
	done     chan struct{}
}

// Ensure that Consumer implements jms.Consumer
var _ jms.Consumer = &Consumer{}

func newConsumer(s *Session, d jms.Destination) *Consumer {
	c := &Consumer{
		session: s,
		dest:    d,
		done:    make(chan struct{}),
	}

	b := s.conn.broker
	switch d := d.(type) {
	case jms.Queue:
		c.queue = b.queue(d.Name())
	case jms.Topic:
		c.topic = b.topic(d.Name())
		c.queue = c.topic.subscribe()
	}
	return c
}

// Receive blocks until a message arrives, ctx is done or c is closed.
func (c *Consumer) Receive(ctx context.Context) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}
	return c.queue.pop(ctx, nil, c.done)
}

// ReceiveTimeout is like Receive but gives up after d, returning a nil
// message and a nil error.
func (c *Consumer) ReceiveTimeout(ctx context.Context, d time.Duration) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	return c.queue.pop(ctx, timer.C, c.done)
}

// ReceiveNoWait returns the next message if one is pending.
func (c *Consumer) ReceiveNoWait(ctx context.Context) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, _ := c.queue.tryPop(time.Now())
	return m, nil
}

func (c *Consumer) checkReceive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jms.ErrClosed
	}
	if c.listener != nil {
		return jms.ErrListenerSet
	}
	return nil
}

// Listener returns the consumer's listener.
func (c *Consumer) Listener() jms.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// SetListener replaces the consumer's listener. Calls of the previous
// listener that are in flight complete before SetListener returns.
func (c *Consumer) SetListener(l jms.Listener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return jms.ErrClosed
	}

	prev := c.server
	c.listener = l
	c.server = nil
	if l != nil {
		b := c.session.conn.broker
		c.server = newServer(c.queue, c.session.conn, l, b.concurrency, b.maxRedeliveries, b.logger)
		go c.server.serve()
	}
	c.mu.Unlock()

	if prev != nil {
		prev.shutdown()
	}
	return nil
}

// Close stops the listener, waiting for in-flight calls, and unblocks
// pending receives.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv != nil {
		srv.shutdown()
	}
	if c.topic != nil {
		c.topic.unsubscribe(c.queue)
	}
	c.session.removeConsumer(c)
	return nil
}
