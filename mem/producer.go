package mem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zerofox-oss/go-jms"
)

// Producer sends messages to a Broker.
type Producer struct {
	session *Session
	dest    jms.Destination

	mu     sync.Mutex
	closed bool

	// async tracks sends whose completion has not been reported yet
	async sync.WaitGroup
}

// Ensure that Producer implements jms.Producer
var _ jms.Producer = &Producer{}

// Destination returns the destination the producer was created with.
func (p *Producer) Destination() jms.Destination {
	return p.dest
}

// Send sends m to the producer's destination.
func (p *Producer) Send(ctx context.Context, m *jms.Message, opts ...jms.SendOption) error {
	if err := p.prepare(ctx, p.dest, m, opts); err != nil {
		return err
	}
	return p.session.conn.broker.deliver(p.dest, m)
}

// SendTo sends m to d.
func (p *Producer) SendTo(ctx context.Context, d jms.Destination, m *jms.Message, opts ...jms.SendOption) error {
	if p.dest != nil {
		return jms.ErrDestinationConflict
	}
	if err := p.prepare(ctx, d, m, opts); err != nil {
		return err
	}
	return p.session.conn.broker.deliver(d, m)
}

// SendAsync sends m to the producer's destination on another goroutine.
func (p *Producer) SendAsync(ctx context.Context, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	return p.sendAsync(ctx, p.dest, m, cl, opts)
}

// SendToAsync sends m to d on another goroutine.
func (p *Producer) SendToAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	if p.dest != nil {
		return jms.ErrDestinationConflict
	}
	return p.sendAsync(ctx, d, m, cl, opts)
}

func (p *Producer) sendAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, opts []jms.SendOption) error {
	if err := p.begin(); err != nil {
		return err
	}
	if err := p.prepare(ctx, d, m, opts); err != nil {
		p.async.Done()
		return err
	}

	go func() {
		defer p.async.Done()

		err := p.session.conn.broker.deliver(d, m)
		if cl != nil {
			cl.OnCompletion(m, err)
		}
	}()
	return nil
}

// prepare validates a send and sets the message headers owned by the
// provider.
func (p *Producer) prepare(ctx context.Context, d jms.Destination, m *jms.Message, opts []jms.SendOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return jms.ErrClosed
	}

	if err := validDestination(d); err != nil {
		return err
	}

	o, err := jms.ApplySendOptions(opts...)
	if err != nil {
		return err
	}

	now := time.Now()
	m.ID = "ID:" + uuid.NewString()
	m.Destination = d
	m.DeliveryMode = o.DeliveryMode
	m.Priority = o.Priority
	m.Timestamp = now
	m.Expiration = time.Time{}
	if o.TimeToLive > 0 {
		m.Expiration = now.Add(o.TimeToLive)
	}
	m.Redelivered = false
	return nil
}

// begin registers an asynchronous send. Close waits for it once begin
// returned nil.
func (p *Producer) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return jms.ErrClosed
	}
	p.async.Add(1)
	return nil
}

// Close waits for pending asynchronous sends to complete.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.async.Wait()
	p.session.removeProducer(p)
	return nil
}
