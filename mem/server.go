package mem

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/zerofox-oss/go-jms"
	"go.uber.org/zap"
)

// server delivers the messages of a queue to a Listener.
type server struct {
	queue    *queue
	conn     *Connection
	listener jms.Listener
	logger   *zap.Logger

	maxRedeliveries int

	// maxConcurrentReceives is a buffered channel which acts as
	// a shared lock that limits the number of concurrent goroutines
	maxConcurrentReceives chan struct{}
	inFlight              sync.WaitGroup

	listenerCtx        context.Context
	listenerCancelFunc context.CancelFunc

	receiverCtx        context.Context
	receiverCancelFunc context.CancelFunc

	stopped chan struct{}
}

func newServer(q *queue, conn *Connection, l jms.Listener, cc, maxRedeliveries int, logger *zap.Logger) *server {
	listenerCtx, listenerCancelFunc := context.WithCancel(context.Background())
	receiverCtx, receiverCancelFunc := context.WithCancel(context.Background())

	return &server{
		queue:    q,
		conn:     conn,
		listener: l,
		logger:   logger,

		maxRedeliveries:       maxRedeliveries,
		maxConcurrentReceives: make(chan struct{}, cc),

		listenerCtx:        listenerCtx,
		listenerCancelFunc: listenerCancelFunc,
		receiverCtx:        receiverCtx,
		receiverCancelFunc: receiverCancelFunc,

		stopped: make(chan struct{}),
	}
}

// serve delivers messages while the connection is started, until shutdown
// is called.
func (s *server) serve() {
	defer close(s.stopped)

	for {
		select {
		// shutdown listener to prevent new messages from being received
		case <-s.listenerCtx.Done():
			return
		case <-s.conn.isRunning():
		}

		e, err := s.queue.popEnvelope(s.listenerCtx, nil, nil)
		if err != nil {
			return
		}

		// the connection may have been stopped while waiting
		select {
		case <-s.conn.isRunning():
		default:
			s.queue.restore(e)
			continue
		}

		// acquire "lock"
		select {
		case s.maxConcurrentReceives <- struct{}{}:
		case <-s.listenerCtx.Done():
			s.queue.restore(e)
			return
		}
		m := e.msg

		s.inFlight.Add(1)
		go func(ctx context.Context, m *jms.Message) {
			defer func() {
				<-s.maxConcurrentReceives
				s.inFlight.Done()
			}()
			s.receive(ctx, m)
		}(s.receiverCtx, m)
	}
}

func (s *server) receive(ctx context.Context, m *jms.Message) {
	body, err := jms.DumpBody(m)
	if err != nil {
		s.logger.Error("could not read message body", zap.String("message_id", m.ID), zap.Error(err))
		return
	}

	if err := s.onMessage(ctx, m); err != nil {
		s.retry(m, body, err)
	}
}

// onMessage calls the listener, turning a panic into an error.
func (s *server) onMessage(ctx context.Context, m *jms.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mem: listener panic: %v", r)
		}
	}()
	return s.listener.OnMessage(ctx, m)
}

func (s *server) retry(m *jms.Message, body []byte, cause error) {
	count, _ := m.Properties[DeliveryCountProperty].(int)
	if count > s.maxRedeliveries {
		s.logger.Error("listener error; dropping message",
			zap.String("message_id", m.ID),
			zap.Int("deliveries", count),
			zap.Error(cause),
		)
		s.conn.notify(fmt.Errorf("mem: message %s dropped after %d deliveries: %w", m.ID, count, cause))
		return
	}

	s.logger.Warn("listener error; redelivering",
		zap.String("message_id", m.ID),
		zap.Int("deliveries", count),
		zap.Error(cause),
	)

	r := jms.WithBody(m, bytes.NewReader(body))
	r.Properties[DeliveryCountProperty] = count + 1
	r.Redelivered = true
	s.queue.push(r)
}

// shutdown stops the server from taking new messages and waits for
// in-flight listener calls to return.
func (s *server) shutdown() {
	s.listenerCancelFunc()
	<-s.stopped
	s.inFlight.Wait()
	s.receiverCancelFunc()
}
