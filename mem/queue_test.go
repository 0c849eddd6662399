package mem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofox-oss/go-jms"
)

func TestQueue_RestoreKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	q := newQueue()

	for _, s := range []string{"first", "second", "third"} {
		m := jms.NewTextMessage(s)
		m.Priority = jms.DefaultPriority
		m.ID = s
		q.push(m)
	}

	e, err := q.popEnvelope(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "first", e.msg.ID)
	q.restore(e)

	var got []string
	for q.len() > 0 {
		m, err := q.pop(ctx, nil, nil)
		require.NoError(t, err)
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestQueue_RestoreWakesWaiters(t *testing.T) {
	q := newQueue()

	m := jms.NewTextMessage("hello")
	q.push(m)
	e, err := q.popEnvelope(context.Background(), nil, nil)
	require.NoError(t, err)

	_, ready := q.tryPop(e.msg.Timestamp)
	require.NotNil(t, ready)

	q.restore(e)
	select {
	case <-ready:
	default:
		t.Fatal("restore did not wake waiting receivers")
	}
}
