// Package base64 provides decorators which base64 encode message bodies,
// for transports that do not support binary bodies.
package base64

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sync"
	"time"

	"github.com/zerofox-oss/go-jms"
)

// ContentTransferEncodingProperty is set to "base64" on encoded messages.
const ContentTransferEncodingProperty = "ContentTransferEncoding"

const encoding = "base64"

type producer struct {
	jms.Producer
}

// Producer wraps next so that the body of every message sent is base64
// encoded. The body of the message passed to a send is replaced by its
// encoded form.
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
	var src []byte
	if m.Body != nil {
		var err error
		if src, err = io.ReadAll(m.Body); err != nil {
			return err
		}
	}

	buf := make([]byte, base64.StdEncoding.EncodedLen(len(src)))
	base64.StdEncoding.Encode(buf, src)

	if err := m.SetStringProperty(ContentTransferEncodingProperty, encoding); err != nil {
		return err
	}
	m.Body = bytes.NewReader(buf)
	return nil
}

// Listener wraps next with base64 decoding. It only decodes the body if
// ContentTransferEncoding is set to base64.
func Listener(next jms.Listener) jms.Listener {
	return jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			decode(m)
			return next.OnMessage(ctx, m)
		}
	})
}

func decode(m *jms.Message) {
	if m == nil || m.Body == nil {
		return
	}
	if v, _ := m.StringProperty(ContentTransferEncodingProperty); v == encoding {
		m.Body = base64.NewDecoder(base64.StdEncoding, m.Body)
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
