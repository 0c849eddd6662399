package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/zerofox-oss/go-jms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	// ComponentName is the value of the component attribute of every span.
	ComponentName = "go-jms"

	OperationSend      = "send"
	OperationReceive   = "receive"
	OperationOnMessage = "on-message"

	instrumentationName = "github.com/zerofox-oss/go-jms/tracing"
)

// Attribute keys set on spans besides the semantic conventions.
const (
	ComponentKey   = attribute.Key("component")
	ErrorKey       = attribute.Key("error")
	DestinationKey = attribute.Key("message_bus.destination")

	// RefTypeKey marks the link from a receive or on-message span to the
	// span of the message's producer.
	RefTypeKey = attribute.Key("opentracing.ref_type")
)

// FollowsFrom is the value of RefTypeKey.
const FollowsFrom = "follows_from"

// A Tracer builds the spans of the decorators and moves span contexts in
// and out of messages.
//
// A Tracer is safe for concurrent use.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
	options    *Options
}

// NewTracer returns a Tracer. Without options spans are not recorded, the
// W3C trace context format is used and nothing is logged.
func NewTracer(opts ...Option) *Tracer {
	options := &Options{
		TracerProvider: noop.NewTracerProvider(),
		Propagator:     propagation.TraceContext{},
		Logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Tracer{
		tracer:     options.TracerProvider.Tracer(instrumentationName),
		propagator: options.Propagator,
		logger:     options.Logger,
		options:    options,
	}
}

// StartProducerSpan starts a send span for m and writes its context into
// m's properties. d is the destination m is sent to and may be nil.
//
// If the context cannot be written the span is ended with the error, which
// is returned.
func (t *Tracer) StartProducerSpan(ctx context.Context, d jms.Destination, m *jms.Message) (context.Context, trace.Span, error) {
	ctx, _ = t.parentContext(ctx, m)

	attrs := t.attributes(d, m)
	ctx, span := t.tracer.Start(ctx, OperationSend,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)

	if err := t.Inject(ctx, m); err != nil {
		recordError(span, err)
		span.End()
		return ctx, span, err
	}
	return ctx, span, nil
}

// StartConsumerSpan starts a receive span for m.
func (t *Tracer) StartConsumerSpan(ctx context.Context, m *jms.Message) (context.Context, trace.Span) {
	return t.startFollowingSpan(ctx, OperationReceive, m)
}

// StartListenerSpan starts an on-message span for m.
func (t *Tracer) StartListenerSpan(ctx context.Context, m *jms.Message) (context.Context, trace.Span) {
	return t.startFollowingSpan(ctx, OperationOnMessage, m)
}

// FinishReceive records a finished receive span for m, for messages that
// were obtained without a decorated Consumer. The returned context carries
// the span.
func (t *Tracer) FinishReceive(ctx context.Context, m *jms.Message) context.Context {
	ctx, span := t.StartConsumerSpan(ctx, m)
	span.End()
	return ctx
}

func (t *Tracer) startFollowingSpan(ctx context.Context, name string, m *jms.Message) (context.Context, trace.Span) {
	ctx, parent := t.parentContext(ctx, m)

	var d jms.Destination
	if m != nil {
		d = m.Destination
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(t.attributes(d, m)...),
	}
	if parent.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{
			SpanContext: parent,
			Attributes:  []attribute.KeyValue{RefTypeKey.String(FollowsFrom)},
		}))
	}

	ctx, span := t.tracer.Start(ctx, name, opts...)
	if t.options.TraceInLog {
		ctx = withLogger(ctx, t.logger, span.SpanContext())
	}
	return ctx, span
}

func (t *Tracer) attributes(d jms.Destination, m *jms.Message) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		ComponentKey.String(ComponentName),
		semconv.MessagingSystemKey.String("jms"),
	}
	if d != nil {
		attrs = append(attrs,
			semconv.MessagingDestinationName(d.Name()),
			DestinationKey.String(d.String()),
		)
	}
	if m != nil && m.ID != "" {
		attrs = append(attrs, semconv.MessagingMessageID(m.ID))
	}
	return attrs
}

// recordError marks span as failed with err.
func recordError(span trace.Span, err error) {
	span.SetAttributes(ErrorKey.Bool(true))
	span.RecordError(err, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, err.Error())
}

// recordPanic marks span as failed with the value r passed to panic.
func recordPanic(span trace.Span, r interface{}) {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	recordError(span, err)
}

// spanEnd ends a span once, whichever of a completion or a panic comes
// first.
type spanEnd struct {
	span trace.Span
	once sync.Once
}

func (e *spanEnd) end(err error) {
	e.once.Do(func() {
		if err != nil {
			recordError(e.span, err)
		}
		e.span.End()
	})
}

// run calls fn. If fn panics the span is ended with the panic, which is
// then re-raised.
func (e *spanEnd) run(fn func() error) error {
	defer func() {
		if r := recover(); r != nil {
			e.once.Do(func() {
				recordPanic(e.span, r)
				e.span.End()
			})
			panic(r)
		}
	}()
	return fn()
}
