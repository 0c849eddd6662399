package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zerofox-oss/go-jms"
	"go.uber.org/zap"
)

// pollErrorBackoff is how long the server waits after a failed poll.
const pollErrorBackoff = time.Second

// server delivers the messages of a Consumer's stream to a Listener.
type server struct {
	consumer *Consumer
	listener jms.Listener
	logger   *zap.Logger

	// inFlightQueue is a buffered channel which acts as a shared lock
	// that limits the number of concurrent goroutines
	inFlightQueue chan struct{}
	inFlight      sync.WaitGroup

	// context used to shutdown the server
	serverCtx        context.Context
	serverCancelFunc context.CancelFunc

	// context used to shutdown processing of in-flight messages
	receiverCtx        context.Context
	receiverCancelFunc context.CancelFunc

	stopped chan struct{}
}

func newServer(c *Consumer, l jms.Listener) *server {
	o := c.session.conn.factory.options

	serverCtx, serverCancelFunc := context.WithCancel(c.ctx)
	receiverCtx, receiverCancelFunc := context.WithCancel(context.Background())

	return &server{
		consumer: c,
		listener: l,
		logger: o.Logger.With(
			zap.String("stream", c.stream),
			zap.String("group", c.group),
			zap.String("consumer", c.name),
		),

		inFlightQueue: make(chan struct{}, o.Concurrency),

		serverCtx:          serverCtx,
		serverCancelFunc:   serverCancelFunc,
		receiverCtx:        receiverCtx,
		receiverCancelFunc: receiverCancelFunc,

		stopped: make(chan struct{}),
	}
}

// serve polls the stream while the connection is started, until shutdown
// is called. New messages are read first; when there are none, messages
// left pending by failed listener calls are claimed.
func (s *server) serve() {
	defer close(s.stopped)

	conn := s.consumer.session.conn
	o := conn.factory.options

	for {
		select {
		case <-s.serverCtx.Done():
			return
		case <-conn.isRunning():
		}

		messages, err := s.consumer.xReadGroup(s.serverCtx, o.Count, o.Block)
		if err == nil && len(messages) == 0 {
			messages, err = s.claim(o.Count)
		}
		if err != nil {
			if s.serverCtx.Err() != nil {
				return
			}
			s.logger.Error("could not poll stream", zap.Error(err))
			conn.notify(err)

			select {
			case <-s.serverCtx.Done():
				return
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		for _, m := range messages {
			// acquire "lock"
			select {
			case s.inFlightQueue <- struct{}{}:
			case <-s.serverCtx.Done():
				// unprocessed messages stay pending and are claimed later
				return
			}

			s.inFlight.Add(1)
			go func(m goredis.XMessage) {
				defer func() {
					<-s.inFlightQueue
					s.inFlight.Done()
				}()

				if err := s.process(m); err != nil {
					s.logger.Warn("message left pending", zap.String("entry_id", m.ID), zap.Error(err))
				}
			}(m)
		}
	}
}

// claim returns the messages idle for longer than MinIdle, marked as
// redelivered.
func (s *server) claim(count int64) ([]goredis.XMessage, error) {
	ctx, cancel := context.WithTimeout(s.serverCtx, time.Second)
	defer cancel()

	messages, err := s.consumer.xAutoClaim(ctx, count)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].Values == nil {
			messages[i].Values = map[string]interface{}{}
		}
		messages[i].Values[redeliveredField] = "1"
	}
	return messages, nil
}

// redeliveredField is set locally on claimed entries.
const redeliveredField = "_redelivered"

func (s *server) process(xm goredis.XMessage) error {
	m, err := toMessage(xm.Values, s.consumer.dest)
	if err != nil {
		// a malformed entry will never succeed
		s.logger.Error("dropping malformed stream entry", zap.String("entry_id", xm.ID), zap.Error(err))
		return s.ack(xm.ID)
	}
	_, m.Redelivered = xm.Values[redeliveredField]

	if m.Expired(time.Now()) {
		return s.ack(xm.ID)
	}

	if err := s.onMessage(s.receiverCtx, m); err != nil {
		return fmt.Errorf("listener error: %w", err)
	}

	// ACK the message to remove it
	return s.ack(xm.ID)
}

func (s *server) ack(id string) error {
	ctx, cancel := context.WithTimeout(s.receiverCtx, 2*time.Second)
	defer cancel()
	return s.consumer.xAck(ctx, id)
}

// onMessage calls the listener, turning a panic into an error.
func (s *server) onMessage(ctx context.Context, m *jms.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("redis: listener panic: %v", r)
		}
	}()
	return s.listener.OnMessage(ctx, m)
}

// shutdown stops polling and waits for in-flight listener calls to
// return.
func (s *server) shutdown() {
	s.serverCancelFunc()
	<-s.stopped
	s.inFlight.Wait()
	s.receiverCancelFunc()
}
