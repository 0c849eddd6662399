// Package mem is an in-memory messaging provider. It is meant for tests and
// for running applications without a broker.
package mem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zerofox-oss/go-jms"
	"go.uber.org/zap"
)

// DeliveryCountProperty holds the number of times a message was delivered.
const DeliveryCountProperty = "JMSXDeliveryCount"

// ErrUnsupportedDestination is returned for destinations that are neither a
// jms.Queue nor a jms.Topic.
var ErrUnsupportedDestination = errors.New("mem: unsupported destination")

// Broker routes messages between in-memory queues and topics.
// It implements jms.ConnectionFactory.
type Broker struct {
	logger *zap.Logger

	// concurrency is the maximum number of Messages that can be processed
	// concurrently by the listener of a single Consumer.
	concurrency int

	// maxRedeliveries is how many times a message is redelivered to a
	// listener that returned an error.
	maxRedeliveries int

	mu     sync.Mutex
	queues map[string]*queue
	topics map[string]*topic
}

// Ensure that Broker implements jms.ConnectionFactory
var _ jms.ConnectionFactory = &Broker{}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// WithConcurrency sets the maximum number of concurrent listener calls per
// Consumer.
func WithConcurrency(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMaxRedeliveries sets how many times a message whose listener returned
// an error is delivered again. The default is 0.
func WithMaxRedeliveries(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.maxRedeliveries = n
		}
	}
}

// NewBroker creates and initializes a new Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		logger:      zap.NewNop(),
		concurrency: 1,
		queues:      make(map[string]*queue),
		topics:      make(map[string]*topic),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateConnection creates a stopped Connection to b.
func (b *Broker) CreateConnection(ctx context.Context) (jms.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newConnection(b), nil
}

// Pending returns the number of messages waiting on q.
func (b *Broker) Pending(q jms.Queue) int {
	return b.queue(q.Name()).len()
}

func (b *Broker) queue(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = newQueue()
		b.queues[name] = q
	}
	return q
}

func (b *Broker) topic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = newTopic()
		b.topics[name] = t
	}
	return t
}

// deliver stores copies of m on d. m.Body is buffered and reset so the
// caller can still read it.
func (b *Broker) deliver(d jms.Destination, m *jms.Message) error {
	body, err := jms.DumpBody(m)
	if err != nil {
		return fmt.Errorf("could not read message body: %w", err)
	}

	switch d := d.(type) {
	case jms.Queue:
		b.queue(d.Name()).push(copyMessage(m, body))
	case jms.Topic:
		b.topic(d.Name()).publish(m, body)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedDestination, d)
	}
	return nil
}

func validDestination(d jms.Destination) error {
	switch d.(type) {
	case jms.Queue, jms.Topic:
		return nil
	case nil:
		return jms.ErrNoDestination
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedDestination, d)
	}
}

// copyMessage returns an independent copy of m which owns its body.
func copyMessage(m *jms.Message, body []byte) *jms.Message {
	c := jms.WithBody(m, bytes.NewReader(body))
	c.Properties[DeliveryCountProperty] = 1
	return c
}
