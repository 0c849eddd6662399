package mem

import (
	"sync"

	"github.com/zerofox-oss/go-jms"
)

// topic fans messages out to its subscriptions.
type topic struct {
	mu   sync.Mutex
	subs map[*queue]struct{}
}

func newTopic() *topic {
	return &topic{subs: make(map[*queue]struct{})}
}

func (t *topic) subscribe() *queue {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := newQueue()
	t.subs[q] = struct{}{}
	return q
}

func (t *topic) unsubscribe(q *queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, q)
}

// publish delivers a copy of m to every current subscription. Messages
// published while nobody is subscribed are dropped.
func (t *topic) publish(m *jms.Message, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for q := range t.subs {
		q.push(copyMessage(m, body))
	}
}
