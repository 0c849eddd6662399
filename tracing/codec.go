package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zerofox-oss/go-jms"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// dash replaces '-' in property names, which may not contain dashes.
const dash = "_$dash$_"

// ErrNilMessage is returned when a nil message is sent.
var ErrNilMessage = errors.New("tracing: nil message")

// EncodeKey turns a propagation key into a valid property name. Keys that
// already contain "_$dash$_" do not survive DecodeKey unchanged.
func EncodeKey(key string) string {
	if key == "" {
		return key
	}
	return strings.ReplaceAll(key, "-", dash)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) string {
	return strings.ReplaceAll(key, dash, "-")
}

// injectCarrier writes propagation fields into message properties. The
// first failed write is kept in err.
type injectCarrier struct {
	m   *jms.Message
	err error
}

var _ propagation.TextMapCarrier = &injectCarrier{}

func (c *injectCarrier) Get(key string) string {
	v, _ := c.m.StringProperty(EncodeKey(key))
	return v
}

func (c *injectCarrier) Set(key, value string) {
	if err := c.m.SetStringProperty(EncodeKey(key), value); err != nil && c.err == nil {
		c.err = fmt.Errorf("could not set property %q: %w", key, err)
	}
}

func (c *injectCarrier) Keys() []string {
	keys := []string{}
	for key := range c.m.Properties {
		keys = append(keys, DecodeKey(key))
	}
	return keys
}

// extractCarrier returns the string properties of m keyed by their decoded
// names.
func extractCarrier(m *jms.Message) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	if m == nil {
		return carrier
	}
	for key, value := range m.Properties {
		if s, ok := value.(string); ok {
			carrier[DecodeKey(key)] = s
		}
	}
	return carrier
}

// Inject writes the span context and baggage of ctx into the properties of
// m.
func (t *Tracer) Inject(ctx context.Context, m *jms.Message) error {
	if m == nil {
		return ErrNilMessage
	}

	c := &injectCarrier{m: m}
	t.propagator.Inject(ctx, c)
	if c.err != nil {
		return c.err
	}

	if t.options.OpenCensus {
		return injectOpenCensus(ctx, m)
	}
	return nil
}

// Extract returns the span context carried by the properties of m.
// Missing or malformed properties return false.
func (t *Tracer) Extract(m *jms.Message) (trace.SpanContext, bool) {
	if m == nil {
		return trace.SpanContext{}, false
	}

	ctx := t.propagator.Extract(context.Background(), extractCarrier(m))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc, true
	}

	if t.options.OpenCensus {
		sc, err := extractOpenCensus(m)
		if err != nil {
			t.logger.Debug("ignoring opencensus trace context", zap.String("message_id", m.ID), zap.Error(err))
			return trace.SpanContext{}, false
		}
		return sc, sc.IsValid()
	}
	return trace.SpanContext{}, false
}

// parentContext returns ctx carrying the parent of a new span for m: the
// context found in m, else the span already in ctx. Baggage found in m is
// merged into ctx.
func (t *Tracer) parentContext(ctx context.Context, m *jms.Message) (context.Context, trace.SpanContext) {
	ctx = t.propagator.Extract(ctx, extractCarrier(m))
	if sc, ok := t.Extract(m); ok {
		return trace.ContextWithRemoteSpanContext(ctx, sc), sc
	}
	return ctx, trace.SpanContextFromContext(ctx)
}
