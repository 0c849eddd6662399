// Package lz4 provides decorators which compress message bodies with lz4.
//
// This should be used in conjunction with the base64 decorators when the
// transport does not support binary bodies. In this case the base64
// decorators should wrap the transport directly:
//
//	p = lz4.Producer(base64.Producer(p))
//	c = lz4.Consumer(base64.Consumer(c))
package lz4

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/zerofox-oss/go-jms"
)

// ContentEncodingProperty is set to "lz4" on compressed messages.
const ContentEncodingProperty = "ContentEncoding"

const encoding = "lz4"

type producer struct {
	jms.Producer
}

// Producer wraps next so that the body of every message sent is lz4
// compressed. The body of the message passed to a send is replaced by its
// compressed form.
func Producer(next jms.Producer) jms.Producer {
	return producer{Producer: next}
}

func (p producer) Send(ctx context.Context, m *jms.Message, opts ...jms.SendOption) error {
	if err := encode(m); err != nil {
		return err
	}
	return p.Producer.Send(ctx, m, opts...)
}

func (p producer) SendTo(ctx context.Context, d jms.Destination, m *jms.Message, opts ...jms.SendOption) error {
	if err := encode(m); err != nil {
		return err
	}
	return p.Producer.SendTo(ctx, d, m, opts...)
}

func (p producer) SendAsync(ctx context.Context, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	if err := encode(m); err != nil {
		return err
	}
	return p.Producer.SendAsync(ctx, m, cl, opts...)
}

func (p producer) SendToAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	if err := encode(m); err != nil {
		return err
	}
	return p.Producer.SendToAsync(ctx, d, m, cl, opts...)
}

func encode(m *jms.Message) error {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Level3)); err != nil {
		return err
	}
	if m.Body != nil {
		if _, err := io.Copy(w, m.Body); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := m.SetStringProperty(ContentEncodingProperty, encoding); err != nil {
		return err
	}
	m.Body = &buf
	return nil
}

// Listener wraps next with lz4 decoding. It only decodes the body if
// ContentEncoding is set to lz4.
func Listener(next jms.Listener) jms.Listener {
	return jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		decode(m)
		return next.OnMessage(ctx, m)
	})
}

func decode(m *jms.Message) {
	if m == nil || m.Body == nil {
		return
	}
	if v, _ := m.StringProperty(ContentEncodingProperty); v == encoding {
		m.Body = lz4.NewReader(m.Body)
	}
}

type consumer struct {
	jms.Consumer

	mu       sync.Mutex
	listener jms.Listener
}

// Consumer wraps next so that the messages it returns, and the messages
// passed to its listener, are decoded.
func Consumer(next jms.Consumer) jms.Consumer {
	return &consumer{Consumer: next}
}

func (c *consumer) Receive(ctx context.Context) (*jms.Message, error) {
	m, err := c.Consumer.Receive(ctx)
	decode(m)
	return m, err
}

func (c *consumer) ReceiveTimeout(ctx context.Context, d time.Duration) (*jms.Message, error) {
	m, err := c.Consumer.ReceiveTimeout(ctx, d)
	decode(m)
	return m, err
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (*jms.Message, error) {
	m, err := c.Consumer.ReceiveNoWait(ctx)
	decode(m)
	return m, err
}

func (c *consumer) Listener() jms.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

func (c *consumer) SetListener(l jms.Listener) error {
	var wrapped jms.Listener
	if l != nil {
		wrapped = Listener(l)
	}
	if err := c.Consumer.SetListener(wrapped); err != nil {
		return err
	}

	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
	return nil
}
