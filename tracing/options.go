package tracing

import (
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Options struct {
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	Logger         *zap.Logger

	// TraceInLog adds the trace and span ids to the logger returned by
	// Logger for listener and receive contexts.
	TraceInLog bool

	// MessageContext makes decorated consumers return messages whose
	// Context carries the receive span.
	MessageContext bool

	// OpenCensus also writes and reads the binary OpenCensus
	// "Tracecontext" property.
	OpenCensus bool
}

type Option func(*Options)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *Options) {
		o.Propagator = p
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func WithTraceInLog(traceInLog bool) Option {
	return func(o *Options) {
		o.TraceInLog = traceInLog
	}
}

func WithMessageContext(messageContext bool) Option {
	return func(o *Options) {
		o.MessageContext = messageContext
	}
}

func WithOpenCensus(openCensus bool) Option {
	return func(o *Options) {
		o.OpenCensus = openCensus
	}
}
