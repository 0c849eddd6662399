// Package redis is a messaging provider backed by Redis Streams.
//
// Every destination is a stream named after the destination. Consumers of a
// jms.Queue share one consumer group, so each message is received once.
// Every consumer of a jms.Topic gets a consumer group of its own, so each
// consumer receives every message published after it was created.
//
// Messages received synchronously are acknowledged before they are
// returned. Messages delivered to a listener are acknowledged once the
// listener returns without error. Failed messages stay pending and are
// claimed again with XAUTOCLAIM once they were idle for MinIdle.
//
// Redis 7 is compatible with go-redis/v9.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zerofox-oss/go-jms"
	"go.uber.org/zap"
)

// ErrUnsupportedDestination is returned for destinations that are neither a
// jms.Queue nor a jms.Topic.
var ErrUnsupportedDestination = errors.New("redis: unsupported destination")

// Options configure a ConnectionFactory.
type Options struct {
	// Group is the consumer group of queue consumers, and the prefix of
	// the consumer groups of topic consumers.
	Group string

	// Block is the longest a single XREADGROUP blocks. Receive and
	// listeners poll at this interval.
	Block time.Duration

	// MinIdle is how long a message stays pending before another
	// listener may claim it (the visibility timeout).
	MinIdle time.Duration

	// Count is the maximum number of messages read at once by a
	// listener.
	Count int64

	// Concurrency is the maximum number of concurrent listener calls per
	// Consumer.
	Concurrency int

	// MaxLen caps the length of streams, approximately. Zero means no cap.
	MaxLen int64

	Logger *zap.Logger
}

// Option configures a ConnectionFactory.
type Option func(*Options) error

func WithGroup(group string) Option {
	return func(o *Options) error {
		if group == "" {
			return errors.New("redis: empty consumer group")
		}
		o.Group = group
		return nil
	}
}

func WithBlock(d time.Duration) Option {
	return func(o *Options) error {
		if d < time.Millisecond {
			return fmt.Errorf("redis: block %s is below a millisecond", d)
		}
		o.Block = d
		return nil
	}
}

func WithMinIdle(d time.Duration) Option {
	return func(o *Options) error {
		o.MinIdle = d
		return nil
	}
}

func WithCount(n int64) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("redis: invalid count %d", n)
		}
		o.Count = n
		return nil
	}
}

func WithConcurrency(c int) Option {
	return func(o *Options) error {
		if c <= 0 {
			return fmt.Errorf("redis: invalid concurrency %d", c)
		}
		o.Concurrency = c
		return nil
	}
}

func WithMaxLen(n int64) Option {
	return func(o *Options) error {
		o.MaxLen = n
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) error {
		o.Logger = l
		return nil
	}
}

// ConnectionFactory creates connections to Redis.
// It implements jms.ConnectionFactory.
type ConnectionFactory struct {
	client  goredis.UniversalClient
	options Options
}

// Ensure that ConnectionFactory implements jms.ConnectionFactory
var _ jms.ConnectionFactory = &ConnectionFactory{}

// NewConnectionFactory returns a ConnectionFactory using client.
func NewConnectionFactory(client goredis.UniversalClient, opts ...Option) (*ConnectionFactory, error) {
	options := Options{
		Group:       "go-jms",
		Block:       time.Second,
		MinIdle:     30 * time.Second,
		Count:       10,
		Concurrency: 10,
		Logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	return &ConnectionFactory{client: client, options: options}, nil
}

// CreateConnection checks that Redis is reachable and returns a new
// Connection.
func (f *ConnectionFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("could not reach redis: %w", err)
	}
	return newConnection(f), nil
}

func validDestination(d jms.Destination) error {
	switch d.(type) {
	case jms.Queue, jms.Topic:
		if d.Name() == "" {
			return fmt.Errorf("%w: empty name", ErrUnsupportedDestination)
		}
		return nil
	case nil:
		return jms.ErrNoDestination
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedDestination, d)
}
