package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zerofox-oss/go-jms"
)

// Producer appends messages to Redis Streams.
type Producer struct {
	session *Session
	dest    jms.Destination

	mu     sync.Mutex
	closed bool

	async sync.WaitGroup
}

// Ensure that Producer implements jms.Producer
var _ jms.Producer = &Producer{}

func (p *Producer) Destination() jms.Destination {
	return p.dest
}

func (p *Producer) Send(ctx context.Context, m *jms.Message, opts ...jms.SendOption) error {
	values, err := p.prepare(ctx, p.dest, m, opts)
	if err != nil {
		return err
	}
	return p.xAdd(ctx, p.dest, values)
}

func (p *Producer) SendTo(ctx context.Context, d jms.Destination, m *jms.Message, opts ...jms.SendOption) error {
	if p.dest != nil {
		return jms.ErrDestinationConflict
	}
	values, err := p.prepare(ctx, d, m, opts)
	if err != nil {
		return err
	}
	return p.xAdd(ctx, d, values)
}

func (p *Producer) SendAsync(ctx context.Context, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	return p.sendAsync(ctx, p.dest, m, cl, opts)
}

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
	values, err := p.prepare(ctx, d, m, opts)
	if err != nil {
		p.async.Done()
		return err
	}

	go func() {
		defer p.async.Done()

		err := p.xAdd(context.WithoutCancel(ctx), d, values)
		if cl != nil {
			cl.OnCompletion(m, err)
		}
	}()
	return nil
}

// prepare sets the headers owned by the provider and returns the stream
// entry for m.
func (p *Producer) prepare(ctx context.Context, d jms.Destination, m *jms.Message, opts []jms.SendOption) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, jms.ErrClosed
	}

	if err := validDestination(d); err != nil {
		return nil, err
	}

	o, err := jms.ApplySendOptions(opts...)
	if err != nil {
		return nil, err
	}

	body, err := jms.DumpBody(m)
	if err != nil {
		return nil, fmt.Errorf("could not read body: %w", err)
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

	return toValues(m, body)
}

func (p *Producer) xAdd(ctx context.Context, d jms.Destination, values map[string]interface{}) error {
	f := p.session.conn.factory

	args := &goredis.XAddArgs{
		Stream: d.Name(),
		ID:     "*",
		Values: values,
	}
	if f.options.MaxLen > 0 {
		args.MaxLen = f.options.MaxLen
		args.Approx = true
	}

	if err := f.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("XADD %s failed with: %w", d.Name(), err)
	}
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
