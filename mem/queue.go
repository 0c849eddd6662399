package mem

import (
	"context"
	"sync"
	"time"

	pq "github.com/JimWen/gods-generic/queues/priorityqueue"
	"github.com/JimWen/gods-generic/utils"
	"github.com/zerofox-oss/go-jms"
)

type envelope struct {
	msg *jms.Message
	seq int64
}

// queue holds pending messages ordered by priority (highest first) and then
// by arrival.
type queue struct {
	mu      sync.Mutex
	pending *pq.Queue[*envelope]
	seq     int64

	// ready is closed and replaced whenever a message is pushed,
	// waking up every waiting receiver.
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{
		pending: pq.NewWith(func(a, b *envelope) int {
			if c := utils.NumberComparator(b.msg.Priority, a.msg.Priority); c != 0 {
				return c
			}
			return utils.NumberComparator(a.seq, b.seq)
		}),
		ready: make(chan struct{}),
	}
}

func (q *queue) push(m *jms.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.enqueue(&envelope{msg: m, seq: q.seq})
}

// restore puts back a message taken by popEnvelope at its original place.
func (q *queue) restore(e *envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.enqueue(e)
}

func (q *queue) enqueue(e *envelope) {
	q.pending.Enqueue(e)

	close(q.ready)
	q.ready = make(chan struct{})
}

// tryPop returns the next unexpired message. If there is none it returns a
// channel that is closed on the next push.
func (q *queue) tryPop(now time.Time) (*jms.Message, <-chan struct{}) {
	e, ready := q.tryPopEnvelope(now)
	if e == nil {
		return nil, ready
	}
	return e.msg, nil
}

func (q *queue) tryPopEnvelope(now time.Time) (*envelope, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		e, ok := q.pending.Dequeue()
		if !ok {
			return nil, q.ready
		}
		if e.msg.Expired(now) {
			continue
		}
		return e, nil
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Size()
}

// pop blocks until a message is available or one of ctx, timeout or done
// fires. A fired timeout returns (nil, nil).
func (q *queue) pop(ctx context.Context, timeout <-chan time.Time, done <-chan struct{}) (*jms.Message, error) {
	e, err := q.popEnvelope(ctx, timeout, done)
	if e == nil {
		return nil, err
	}
	return e.msg, nil
}

// popEnvelope is pop keeping the arrival order of the message, for use
// with restore.
func (q *queue) popEnvelope(ctx context.Context, timeout <-chan time.Time, done <-chan struct{}) (*envelope, error) {
	for {
		e, ready := q.tryPopEnvelope(time.Now())
		if e != nil {
			return e, nil
		}

		select {
		case <-ready:
		case <-timeout:
			return nil, nil
		case <-done:
			return nil, jms.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
