package jms_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofox-oss/go-jms"
)

const expected = "hello world"

func TestDumpBody(t *testing.T) {
	m := &jms.Message{
		Body: strings.NewReader(expected),
	}
	b, err := jms.DumpBody(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != expected {
		t.Errorf("Dumped body does not match expected: %s != %s", expected, string(b))
	}

	// body can be read again
	bb, err := io.ReadAll(m.Body)
	require.NoError(t, err)
	assert.Equal(t, expected, string(bb))
}

func TestDumpBody_NilBody(t *testing.T) {
	m := &jms.Message{}
	b, err := jms.DumpBody(m)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.NotNil(t, m.Body)
}

func TestCloneBody(t *testing.T) {
	m := &jms.Message{
		Body: strings.NewReader(expected),
	}
	b, err := jms.CloneBody(m)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := io.ReadAll(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(bb) != expected {
		t.Errorf("Cloned body does not match expected: %s != %s", expected, string(bb))
	}
}

func TestWithBody(t *testing.T) {
	m := jms.NewTextMessage("world hello")
	m.CorrelationID = "abc"
	require.NoError(t, m.SetStringProperty("hello", "world"))

	mm := jms.WithBody(m, strings.NewReader(expected))
	bb, err := jms.DumpBody(mm)
	require.NoError(t, err)
	assert.Equal(t, expected, string(bb))
	assert.Equal(t, "abc", mm.CorrelationID)

	v, ok := mm.StringProperty("hello")
	assert.True(t, ok)
	assert.Equal(t, "world", v)

	require.NoError(t, mm.SetStringProperty("test", "one"))
	require.NoError(t, m.SetStringProperty("test", "two"))

	a, _ := m.StringProperty("test")
	b, _ := mm.StringProperty("test")
	assert.NotEqual(t, a, b, "the two message properties should not affect each other")
}

func TestMessage_Context(t *testing.T) {
	type key struct{}

	m := jms.NewTextMessage(expected)
	assert.Equal(t, context.Background(), m.Context())

	ctx := context.WithValue(context.Background(), key{}, "v")
	m2 := m.WithContext(ctx)
	assert.Equal(t, "v", m2.Context().Value(key{}))
	assert.Nil(t, m.Context().Value(key{}), "original message must keep its context")
	assert.Equal(t, m.Body, m2.Body)
}

func TestMessage_Expired(t *testing.T) {
	now := time.Now()
	m := jms.NewTextMessage(expected)
	assert.False(t, m.Expired(now))

	m.Expiration = now.Add(-time.Second)
	assert.True(t, m.Expired(now))

	m.Expiration = now.Add(time.Second)
	assert.False(t, m.Expired(now))
}

func TestValidPropertyName(t *testing.T) {
	for name, valid := range map[string]bool{
		"traceparent":               true,
		"Tracecontext":              true,
		"_private":                  true,
		"$dollar":                   true,
		"x_$dash$_b3_$dash$_spanid": true,
		"a1":                        true,
		"":                          false,
		"1abc":                      false,
		"x-b3-traceid":              false,
		"has space":                 false,
		"dotted.name":               false,
	} {
		assert.Equal(t, valid, jms.ValidPropertyName(name), name)
	}
}

func TestProperties_Set(t *testing.T) {
	p := jms.Properties{}

	assert.NoError(t, p.Set("s", "v"))
	assert.NoError(t, p.Set("i", 42))
	assert.NoError(t, p.Set("f", 4.2))
	assert.NoError(t, p.Set("b", true))

	assert.ErrorIs(t, p.Set("x-b3-traceid", "v"), jms.ErrInvalidPropertyName)
	assert.ErrorIs(t, p.Set("obj", struct{}{}), jms.ErrInvalidPropertyValue)

	assert.Equal(t, []string{"b", "f", "i", "s"}, p.Names())

	_, ok := p.String("i")
	assert.False(t, ok, "non-string values are not returned by String")

	p.Delete("i")
	_, ok = p.Get("i")
	assert.False(t, ok)
}

func TestMessage_SetPropertyAllocates(t *testing.T) {
	m := &jms.Message{}
	require.NoError(t, m.SetStringProperty("key", "value"))
	v, ok := m.StringProperty("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestApplySendOptions(t *testing.T) {
	o, err := jms.ApplySendOptions()
	require.NoError(t, err)
	assert.Equal(t, jms.Persistent, o.DeliveryMode)
	assert.Equal(t, jms.DefaultPriority, o.Priority)
	assert.Zero(t, o.TimeToLive)

	o, err = jms.ApplySendOptions(
		jms.WithDeliveryMode(jms.NonPersistent),
		jms.WithPriority(9),
		jms.WithTimeToLive(time.Minute),
	)
	require.NoError(t, err)
	assert.Equal(t, jms.NonPersistent, o.DeliveryMode)
	assert.Equal(t, 9, o.Priority)
	assert.Equal(t, time.Minute, o.TimeToLive)

	_, err = jms.ApplySendOptions(jms.WithPriority(10))
	assert.ErrorIs(t, err, jms.ErrInvalidPriority)
}

func TestDestinations(t *testing.T) {
	assert.Equal(t, "queue://orders", jms.Queue("orders").String())
	assert.Equal(t, "orders", jms.Queue("orders").Name())
	assert.Equal(t, "topic://events", jms.Topic("events").String())
	assert.Equal(t, "events", jms.Topic("events").Name())
}
