package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/zerofox-oss/go-jms"
)

type consumer struct {
	jms.Consumer
	t *Tracer

	mu       sync.Mutex
	listener jms.Listener
}

// Consumer wraps next so that every message it returns is traced by a
// receive span, and every listener set on it is wrapped with Listener.
func Consumer(next jms.Consumer, t *Tracer) jms.Consumer {
	return &consumer{Consumer: next, t: t}
}

func (c *consumer) Receive(ctx context.Context) (*jms.Message, error) {
	m, err := c.Consumer.Receive(ctx)
	return c.received(ctx, m, err)
}

func (c *consumer) ReceiveTimeout(ctx context.Context, d time.Duration) (*jms.Message, error) {
	m, err := c.Consumer.ReceiveTimeout(ctx, d)
	return c.received(ctx, m, err)
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (*jms.Message, error) {
	m, err := c.Consumer.ReceiveNoWait(ctx)
	return c.received(ctx, m, err)
}

func (c *consumer) received(ctx context.Context, m *jms.Message, err error) (*jms.Message, error) {
	if err != nil || m == nil {
		return m, err
	}

	ctx = c.t.FinishReceive(ctx, m)
	if c.t.options.MessageContext {
		m = m.WithContext(ctx)
	}
	return m, nil
}

// Listener returns the listener passed to SetListener, without tracing.
func (c *consumer) Listener() jms.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

func (c *consumer) SetListener(l jms.Listener) error {
	var wrapped jms.Listener
	if l != nil {
		wrapped = Listener(l, c.t)
	}
	if err := c.Consumer.SetListener(wrapped); err != nil {
		return err
	}

	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
	return nil
}
