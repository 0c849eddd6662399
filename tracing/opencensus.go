package tracing

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/zerofox-oss/go-jms"
	octrace "go.opencensus.io/trace"
	"go.opencensus.io/trace/propagation"
	"go.opencensus.io/trace/tracestate"
	ocbridge "go.opentelemetry.io/otel/bridge/opencensus"
	"go.opentelemetry.io/otel/trace"
)

// Properties used by producers that predate OpenTelemetry.
const (
	traceContextKey = "Tracecontext"
	traceStateKey   = "Tracestate"
)

var errMalformedTraceContext = errors.New("tracing: malformed Tracecontext property")

// injectOpenCensus writes the span context of ctx in the OpenCensus binary
// format, base64 encoded.
func injectOpenCensus(ctx context.Context, m *jms.Message) error {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	ocsc := ocbridge.OTelSpanContextToOC(sc)
	bs := propagation.Binary(ocsc)
	if err := m.SetStringProperty(traceContextKey, base64.StdEncoding.EncodeToString(bs)); err != nil {
		return err
	}

	if ts := tracestateToString(ocsc); ts != "" {
		return m.SetStringProperty(traceStateKey, ts)
	}
	return nil
}

// extractOpenCensus reads the span context written by injectOpenCensus.
// A message without the property returns an invalid span context and no
// error.
func extractOpenCensus(m *jms.Message) (trace.SpanContext, error) {
	traceContextB64, ok := m.StringProperty(traceContextKey)
	if !ok || traceContextB64 == "" {
		return trace.SpanContext{}, nil
	}

	traceContext, err := base64.StdEncoding.DecodeString(traceContextB64)
	if err != nil {
		return trace.SpanContext{}, errMalformedTraceContext
	}

	spanContext, ok := propagation.FromBinary(traceContext)
	if !ok {
		return trace.SpanContext{}, errMalformedTraceContext
	}

	if ts, ok := m.StringProperty(traceStateKey); ok && ts != "" {
		spanContext.Tracestate = tracestateFromString(ts)
	}

	sc := ocbridge.OCSpanContextToOTel(spanContext)
	if !sc.IsValid() {
		return trace.SpanContext{}, errMalformedTraceContext
	}
	return sc.WithRemote(true), nil
}

// CODE BASED ON:
// https://github.com/census-instrumentation/opencensus-go/blob/ \
// master/plugin/ochttp/propagation/tracecontext/propagation.go

const (
	trimOWSRegexFmt  = `^[\x09\x20]*(.*[^\x20\x09])[\x09\x20]*$`
	maxTracestateLen = 512
)

var trimOWSRegExp = regexp.MustCompile(trimOWSRegexFmt) // nolint

func tracestateToString(sc octrace.SpanContext) string {
	if sc.Tracestate == nil {
		return ""
	}

	entries := sc.Tracestate.Entries()
	pairs := make([]string, 0, len(entries))
	for _, entry := range entries {
		pairs = append(pairs, entry.Key+"="+entry.Value)
	}
	return strings.Join(pairs, ",")
}

func tracestateFromString(tracestateString string) *tracestate.Tracestate {
	var entries []tracestate.Entry // nolint
	pairs := strings.Split(tracestateString, ",")
	hdrLenWithoutOWS := len(pairs) - 1 // Number of commas
	for _, pair := range pairs {
		matches := trimOWSRegExp.FindStringSubmatch(pair)
		if matches == nil {
			return nil
		}
		pair = matches[1]
		hdrLenWithoutOWS += len(pair)
		if hdrLenWithoutOWS > maxTracestateLen {
			return nil
		}
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			return nil
		}
		entries = append(entries, tracestate.Entry{Key: kv[0], Value: kv[1]})
	}
	ts, err := tracestate.New(nil, entries...)
	if err != nil {
		return nil
	}

	return ts
}
