package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofox-oss/go-jms"
	"github.com/zerofox-oss/go-jms/mem"
	"github.com/zerofox-oss/go-jms/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTracer(t *testing.T, opts ...tracing.Option) (*tracing.Tracer, *tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
	})

	opts = append([]tracing.Option{tracing.WithTracerProvider(tp)}, opts...)
	return tracing.NewTracer(opts...), sr, tp.Tracer("tracing_test")
}

func newSession(t *testing.T, tr *tracing.Tracer) (jms.Connection, jms.Session) {
	t.Helper()

	factory := tracing.ConnectionFactory(mem.NewBroker(), tr)
	conn, err := factory.CreateConnection(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sess, err := conn.CreateSession()
	require.NoError(t, err)
	return conn, sess
}

func attr(s tracesdk.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func assertFollows(t *testing.T, s tracesdk.ReadOnlySpan, parent trace.SpanContext) {
	t.Helper()

	assert.Equal(t, parent.TraceID(), s.SpanContext().TraceID(), "same trace")
	assert.Equal(t, parent.SpanID(), s.Parent().SpanID(), "parent")
	require.Len(t, s.Links(), 1)
	assert.Equal(t, parent.SpanID(), s.Links()[0].SpanContext.SpanID(), "follows from")
	assert.Contains(t, s.Links()[0].Attributes, tracing.RefTypeKey.String(tracing.FollowsFrom))
}

func assertFailed(t *testing.T, s tracesdk.ReadOnlySpan, err error) {
	t.Helper()

	assert.Equal(t, codes.Error, s.Status().Code)
	v, ok := attr(s, tracing.ErrorKey)
	assert.True(t, ok && v.AsBool(), "error attribute")
	require.Len(t, s.Events(), 1)
	assert.Equal(t, "exception", s.Events()[0].Name)
	assert.Contains(t, s.Events()[0].Attributes, attribute.String("exception.message", err.Error()))
}

func TestSendReceive(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t)
	_, sess := newSession(t, tr)

	p, err := sess.CreateProducer(jms.Queue("orders"))
	require.NoError(t, err)
	c, err := sess.CreateConsumer(jms.Queue("orders"))
	require.NoError(t, err)

	require.NoError(t, p.Send(ctx, jms.NewTextMessage("hello")))

	m, err := c.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	b, err := jms.DumpBody(m)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	send, receive := spans[0], spans[1]

	assert.Equal(t, tracing.OperationSend, send.Name())
	assert.Equal(t, trace.SpanKindProducer, send.SpanKind())
	assert.Equal(t, tracing.OperationReceive, receive.Name())
	assert.Equal(t, trace.SpanKindConsumer, receive.SpanKind())
	assertFollows(t, receive, send.SpanContext())

	for _, s := range spans {
		v, ok := attr(s, tracing.ComponentKey)
		assert.True(t, ok)
		assert.Equal(t, tracing.ComponentName, v.AsString())

		v, ok = attr(s, tracing.DestinationKey)
		assert.True(t, ok)
		assert.Equal(t, "queue://orders", v.AsString())

		v, ok = attr(s, "messaging.message.id")
		assert.True(t, ok)
		assert.Equal(t, m.ID, v.AsString())

		assert.Empty(t, s.Events())
		assert.Equal(t, codes.Unset, s.Status().Code)
	}
}

func TestSend_AmbientParent(t *testing.T) {
	tr, sr, tracer := newTracer(t)
	_, sess := newSession(t, tr)

	ctx, ambient := tracer.Start(context.Background(), "ambient")
	defer ambient.End()

	p, err := sess.CreateProducer(nil)
	require.NoError(t, err)
	require.NoError(t, p.SendTo(ctx, jms.Topic("events"), jms.NewTextMessage("hello")))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, ambient.SpanContext().SpanID(), spans[0].Parent().SpanID())

	v, _ := attr(spans[0], tracing.DestinationKey)
	assert.Equal(t, "topic://events", v.AsString())
}

func TestReceive_Root(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t)

	b := mem.NewBroker()
	conn, err := b.CreateConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()
	sess, err := conn.CreateSession()
	require.NoError(t, err)

	// sent without tracing
	p, err := sess.CreateProducer(jms.Queue("q"))
	require.NoError(t, err)
	require.NoError(t, p.Send(ctx, jms.NewTextMessage("hello")))

	c, err := sess.CreateConsumer(jms.Queue("q"))
	require.NoError(t, err)
	m, err := tracing.Consumer(c, tr).ReceiveNoWait(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.OperationReceive, spans[0].Name())
	assert.False(t, spans[0].Parent().IsValid(), "root span")
	assert.Empty(t, spans[0].Links())
}

func TestReceive_NoMessage(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t)
	_, sess := newSession(t, tr)

	c, err := sess.CreateConsumer(jms.Queue("empty"))
	require.NoError(t, err)

	m, err := c.ReceiveNoWait(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = c.ReceiveTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, c.Close())
	_, err = c.Receive(ctx)
	assert.Equal(t, jms.ErrClosed, err)

	assert.Empty(t, sr.Ended())
}

func TestReceive_MessageContext(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t, tracing.WithMessageContext(true))
	_, sess := newSession(t, tr)

	p, err := sess.CreateProducer(jms.Queue("q"))
	require.NoError(t, err)
	c, err := sess.CreateConsumer(jms.Queue("q"))
	require.NoError(t, err)

	require.NoError(t, p.Send(ctx, jms.NewTextMessage("hello")))
	m, err := c.ReceiveTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext(), trace.SpanContextFromContext(m.Context()))
}

func TestFinishReceive(t *testing.T) {
	tr, sr, tracer := newTracer(t)

	ctx, ambient := tracer.Start(context.Background(), "ambient")
	defer ambient.End()

	ctx = tr.FinishReceive(ctx, jms.NewTextMessage("hello"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFollows(t, spans[0], ambient.SpanContext())
	assert.Equal(t, spans[0].SpanContext(), trace.SpanContextFromContext(ctx))
}

// producer is a jms.Producer whose sends fail with err, or panic with
// panicValue.
type producer struct {
	jms.Producer

	err        error
	panicValue interface{}

	calls int
	cl    jms.CompletionListener
}

func (p *producer) Destination() jms.Destination { return jms.Queue("q") }

func (p *producer) Send(ctx context.Context, m *jms.Message, opts ...jms.SendOption) error {
	p.calls++
	if p.panicValue != nil {
		panic(p.panicValue)
	}
	return p.err
}

func (p *producer) SendTo(ctx context.Context, d jms.Destination, m *jms.Message, opts ...jms.SendOption) error {
	return p.Send(ctx, m, opts...)
}

func (p *producer) SendAsync(ctx context.Context, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	p.cl = cl
	return p.Send(ctx, m, opts...)
}

func (p *producer) SendToAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	return p.SendAsync(ctx, m, cl, opts...)
}

func TestSend_Error(t *testing.T) {
	tr, sr, _ := newTracer(t)

	sendErr := errors.New("broker unavailable")
	p := tracing.Producer(&producer{err: sendErr}, tr)

	err := p.Send(context.Background(), jms.NewTextMessage("hello"))
	assert.Equal(t, sendErr, err, "error is not wrapped")

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFailed(t, spans[0], sendErr)
}

func TestSend_Panic(t *testing.T) {
	tr, sr, _ := newTracer(t)

	p := tracing.Producer(&producer{panicValue: "boom"}, tr)

	assert.PanicsWithValue(t, "boom", func() {
		p.Send(context.Background(), jms.NewTextMessage("hello"))
	})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFailed(t, spans[0], fmt.Errorf("panic: %v", "boom"))
}

// invalidPropagator writes a key that is not a valid property name.
type invalidPropagator struct{}

func (invalidPropagator) Inject(ctx context.Context, c propagation.TextMapCarrier) {
	c.Set("not valid", "value")
}

func (invalidPropagator) Extract(ctx context.Context, c propagation.TextMapCarrier) context.Context {
	return ctx
}

func (invalidPropagator) Fields() []string { return nil }

func TestSend_InjectError(t *testing.T) {
	tr, sr, _ := newTracer(t, tracing.WithPropagator(invalidPropagator{}))

	next := &producer{}
	p := tracing.Producer(next, tr)

	err := p.Send(context.Background(), jms.NewTextMessage("hello"))
	assert.True(t, errors.Is(err, jms.ErrInvalidPropertyName))
	assert.Equal(t, 0, next.calls, "send is not attempted")

	err = p.SendAsync(context.Background(), jms.NewTextMessage("hello"), nil)
	assert.True(t, errors.Is(err, jms.ErrInvalidPropertyName))
	assert.Equal(t, 0, next.calls, "send is not attempted")

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code)
	}
}

func TestSend_NilMessage(t *testing.T) {
	tr, _, _ := newTracer(t)

	next := &producer{}
	err := tracing.Producer(next, tr).Send(context.Background(), nil)
	assert.Equal(t, tracing.ErrNilMessage, err)
	assert.Equal(t, 0, next.calls)
}

func TestSendAsync(t *testing.T) {
	tr, sr, _ := newTracer(t)

	next := &producer{}
	p := tracing.Producer(next, tr)

	var completions []error
	cl := jms.CompletionFunc(func(m *jms.Message, err error) {
		completions = append(completions, err)
	})

	m := jms.NewTextMessage("hello")
	require.NoError(t, p.SendAsync(context.Background(), m, cl))
	assert.Empty(t, sr.Ended(), "span ends on completion")

	sendErr := errors.New("rejected")
	next.cl.OnCompletion(m, sendErr)
	next.cl.OnCompletion(m, nil)

	assert.Equal(t, []error{sendErr, nil}, completions)

	spans := sr.Ended()
	require.Len(t, spans, 1, "span ends once")
	assertFailed(t, spans[0], sendErr)
}

func TestSendAsync_SyncError(t *testing.T) {
	tr, sr, _ := newTracer(t)

	sendErr := errors.New("closed")
	p := tracing.Producer(&producer{err: sendErr}, tr)

	called := false
	cl := jms.CompletionFunc(func(m *jms.Message, err error) { called = true })

	err := p.SendToAsync(context.Background(), jms.Queue("q"), jms.NewTextMessage("hello"), cl)
	assert.Equal(t, sendErr, err)
	assert.False(t, called)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFailed(t, spans[0], sendErr)
}

func TestSendAsync_Mem(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t)
	_, sess := newSession(t, tr)

	p, err := sess.CreateProducer(jms.Queue("q"))
	require.NoError(t, err)

	done := make(chan *jms.Message, 1)
	m := jms.NewTextMessage("hello")
	require.NoError(t, p.SendAsync(ctx, m, jms.CompletionFunc(func(m *jms.Message, err error) {
		assert.NoError(t, err)
		done <- m
	})))

	select {
	case got := <-done:
		assert.Same(t, m, got)
	case <-time.After(time.Second):
		t.Fatal("send did not complete")
	}

	require.Eventually(t, func() bool {
		return len(sr.Ended()) == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := m.StringProperty("traceparent")
	assert.True(t, ok)
}

// listener records the contexts it is called with.
type listener struct {
	mu   sync.Mutex
	ctxs []context.Context
	c    chan struct{}
}

func (l *listener) OnMessage(ctx context.Context, m *jms.Message) error {
	l.mu.Lock()
	l.ctxs = append(l.ctxs, ctx)
	l.mu.Unlock()

	l.c <- struct{}{}
	return nil
}

func TestListener_Mem(t *testing.T) {
	ctx := context.Background()
	tr, sr, _ := newTracer(t)
	conn, sess := newSession(t, tr)

	p, err := sess.CreateProducer(jms.Queue("q"))
	require.NoError(t, err)
	c, err := sess.CreateConsumer(jms.Queue("q"))
	require.NoError(t, err)

	l := &listener{c: make(chan struct{}, 1)}
	require.NoError(t, c.SetListener(l))
	assert.Same(t, l, c.Listener(), "Listener returns the undecorated listener")
	require.NoError(t, conn.Start())

	require.NoError(t, p.Send(ctx, jms.NewTextMessage("hello")))

	select {
	case <-l.c:
	case <-time.After(time.Second):
		t.Fatal("listener was not called")
	}

	require.Eventually(t, func() bool {
		return len(sr.Ended()) == 2
	}, time.Second, 5*time.Millisecond)

	spans := sr.Ended()
	send, onMessage := spans[0], spans[1]
	assert.Equal(t, tracing.OperationOnMessage, onMessage.Name())
	assert.Equal(t, trace.SpanKindConsumer, onMessage.SpanKind())
	assertFollows(t, onMessage, send.SpanContext())

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.ctxs, 1)
	assert.Equal(t, onMessage.SpanContext(), trace.SpanContextFromContext(l.ctxs[0]), "listener span is ambient")
}

func TestListener_Error(t *testing.T) {
	tr, sr, _ := newTracer(t)

	listenErr := errors.New("cannot handle")
	l := tracing.Listener(jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		return listenErr
	}), tr)

	err := l.OnMessage(context.Background(), jms.NewTextMessage("hello"))
	assert.Equal(t, listenErr, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFailed(t, spans[0], listenErr)
}

func TestListener_Nil(t *testing.T) {
	tr, sr, _ := newTracer(t)

	l := tracing.Listener(nil, tr)
	assert.NotPanics(t, func() {
		assert.NoError(t, l.OnMessage(context.Background(), jms.NewTextMessage("hello")))
	})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.OperationOnMessage, spans[0].Name())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
}

func TestListener_Panic(t *testing.T) {
	tr, sr, _ := newTracer(t)

	panicErr := errors.New("nil map")
	l := tracing.Listener(jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		panic(panicErr)
	}), tr)

	assert.PanicsWithError(t, panicErr.Error(), func() {
		l.OnMessage(context.Background(), jms.NewTextMessage("hello"))
	})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assertFailed(t, spans[0], panicErr)
}

func TestListener_Concurrent(t *testing.T) {
	tr, sr, tracer := newTracer(t)

	var mu sync.Mutex
	seen := map[trace.SpanID]trace.TraceID{}

	l := tracing.Listener(jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		sc := trace.SpanContextFromContext(ctx)
		want, _ := m.StringProperty("trace")

		mu.Lock()
		defer mu.Unlock()
		seen[sc.SpanID()] = sc.TraceID()
		if sc.TraceID().String() != want {
			return fmt.Errorf("got trace %s, want %s", sc.TraceID(), want)
		}
		return nil
	}), tr)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		sendCtx, span := tracer.Start(context.Background(), "send")
		m := jms.NewTextMessage("hello")
		require.NoError(t, tr.Inject(sendCtx, m))
		require.NoError(t, m.SetStringProperty("trace", span.SpanContext().TraceID().String()))
		span.End()

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.OnMessage(context.Background(), m)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, seen, n, "every call has its own span")
	assert.Len(t, sr.Ended(), 2*n)
}

func TestTraceInLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tr, sr, _ := newTracer(t, tracing.WithTraceInLog(true), tracing.WithLogger(zap.New(core)))

	l := tracing.Listener(jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		tracing.Logger(ctx).Info("handled")
		return nil
	}), tr)
	require.NoError(t, l.OnMessage(context.Background(), jms.NewTextMessage("hello")))

	spans := sr.Ended()
	require.Len(t, spans, 1)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, spans[0].SpanContext().SpanID().String(), fields["span_id"])
}

func TestLogger_Default(t *testing.T) {
	assert.NotNil(t, tracing.Logger(context.Background()))
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	_, sess := newSession(t, tracing.NewTracer())

	p, err := sess.CreateProducer(jms.Queue("q"))
	require.NoError(t, err)
	c, err := sess.CreateConsumer(jms.Queue("q"))
	require.NoError(t, err)

	m := jms.NewTextMessage("hello")
	require.NoError(t, p.Send(ctx, m))
	assert.Empty(t, m.Properties.Names(), "no context to propagate")

	got, err := c.ReceiveNoWait(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestConnection_PassThrough(t *testing.T) {
	tr, _, _ := newTracer(t)
	conn, _ := newSession(t, tr)

	require.NoError(t, conn.SetClientID("client-1"))
	assert.Equal(t, "client-1", conn.ClientID())

	var got error
	conn.SetExceptionListener(jms.ExceptionFunc(func(err error) { got = err }))
	require.NotNil(t, conn.ExceptionListener())
	conn.ExceptionListener().OnException(jms.ErrClosed)
	assert.Equal(t, jms.ErrClosed, got)

	require.NoError(t, conn.Start())
	require.NoError(t, conn.Stop())
	require.NoError(t, conn.Close())

	_, err := conn.CreateSession()
	assert.Equal(t, jms.ErrClosed, err)
}
