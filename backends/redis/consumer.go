package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zerofox-oss/go-jms"
	"go.uber.org/zap"
)

// Consumer reads a Redis Stream as a member of a consumer group.
type Consumer struct {
	session *Session
	dest    jms.Destination

	stream string
	group  string
	name   string

	// ctx is canceled by Close, aborting blocked reads
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener jms.Listener
	server   *server
	closed   bool
}

// Ensure that Consumer implements jms.Consumer
var _ jms.Consumer = &Consumer{}

func newConsumer(s *Session, d jms.Destination) (*Consumer, error) {
	f := s.conn.factory

	name := uuid.NewString()
	if id := s.conn.ClientID(); id != "" {
		name = id + "-" + name
	}

	c := &Consumer{
		session: s,
		dest:    d,
		stream:  d.Name(),
		group:   f.options.Group,
		name:    name,
	}
	// every topic consumer reads the whole stream through its own group
	if _, ok := d.(jms.Topic); ok {
		c.group = f.options.Group + ":" + name
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// consumer groups should only receive new messages, therefore $ as the ID
	// See https://redis.io/docs/latest/commands/xgroup-create/
	err := f.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("could not create consumer group (%s): %w", c.group, err)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Receive blocks until a message arrives, ctx is done or c is closed.
func (c *Consumer) Receive(ctx context.Context) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}

	block := c.session.conn.factory.options.Block
	for {
		m, err := c.read(ctx, block)
		if m != nil || err != nil {
			return m, err
		}
	}
}

// ReceiveTimeout is like Receive but gives up after d, returning a nil
// message and a nil error.
func (c *Consumer) ReceiveTimeout(ctx context.Context, d time.Duration) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}

	block := c.session.conn.factory.options.Block
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			return nil, nil
		}
		if remaining > block {
			remaining = block
		}

		m, err := c.read(ctx, remaining)
		if m != nil || err != nil {
			return m, err
		}
	}
}

// ReceiveNoWait returns the next message if one is pending.
func (c *Consumer) ReceiveNoWait(ctx context.Context) (*jms.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}
	return c.read(ctx, -1)
}

// read reads and acknowledges one message. Expired messages are
// acknowledged and skipped. A negative block does not block.
func (c *Consumer) read(ctx context.Context, block time.Duration) (*jms.Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for {
		messages, err := c.xReadGroup(ctx, 1, block)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, jms.ErrClosed
			}
			return nil, err
		}
		if len(messages) == 0 {
			return nil, nil
		}

		xm := messages[0]
		if err := c.xAck(ctx, xm.ID); err != nil {
			return nil, err
		}

		m, err := toMessage(xm.Values, c.dest)
		if err != nil {
			return nil, fmt.Errorf("could not convert stream entry %s: %w", xm.ID, err)
		}
		if !m.Expired(time.Now()) {
			return m, nil
		}
		block = -1
	}
}

func (c *Consumer) xReadGroup(ctx context.Context, count int64, block time.Duration) ([]goredis.XMessage, error) {
	resp, err := c.session.conn.factory.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read messages with: %w", err)
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp[0].Messages, nil
}

func (c *Consumer) xAutoClaim(ctx context.Context, count int64) ([]goredis.XMessage, error) {
	o := c.session.conn.factory.options

	messages, _, err := c.session.conn.factory.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,

		// MinIdle == Message Visibility Timeout (SQS)
		MinIdle: o.MinIdle,
		Start:   "0",
		Count:   count,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("XAUTOCLAIM failed with: %w", err)
	}
	return messages, nil
}

func (c *Consumer) xAck(ctx context.Context, id string) error {
	if err := c.session.conn.factory.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("could not XACK message: %w", err)
	}
	return nil
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
		c.server = newServer(c, l)
		go c.server.serve()
	}
	c.mu.Unlock()

	if prev != nil {
		prev.shutdown()
	}
	return nil
}

// Close stops the consumer's listener. The consumer groups of topic
// consumers are destroyed.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv != nil {
		srv.shutdown()
	}
	c.cancel()
	c.session.removeConsumer(c)

	if _, ok := c.dest.(jms.Topic); !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.session.conn.factory.client.XGroupDestroy(ctx, c.stream, c.group).Err(); err != nil {
		c.session.conn.factory.options.Logger.Warn("could not destroy consumer group",
			zap.String("stream", c.stream),
			zap.String("group", c.group),
			zap.Error(err),
		)
	}
	return nil
}
