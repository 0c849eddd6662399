// Package tracing provides decorators which enable distributed tracing
// of jms producers, consumers and listeners.
//
// How it works
//
// A Tracer builds spans and moves their context in and out of message
// properties using an OpenTelemetry propagator. Property names may not
// contain dashes, so every '-' in a propagation key is written as
// "_$dash$_" and restored on the way back.
//
// The producer decorator starts a "send" span for every message and
// attaches the span's context to the message. The consumer decorator
// records a finished "receive" span for every message it returns, and the
// listener decorator wraps each listener call in an "on-message" span which
// is also the span carried by the context handed to the listener.
//
// A new span's parent is the context found in the message if there is one,
// else the span carried by the caller's context, else the span is a root.
// Receive and on-message spans additionally link to that parent as a
// follows-from reference.
//
// Examples
//
// Decorating a whole connection:
//
//	func ExampleConnectionFactory() {
//		t := tracing.NewTracer(tracing.WithTracerProvider(tp))
//		factory := tracing.ConnectionFactory(mem.NewBroker(), t)
//		conn, _ := factory.CreateConnection(ctx)
//		// sessions, producers and consumers created from conn are traced
//	}
//
// Decorating a single listener:
//
//	func ExampleListener() {
//		listener := jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
//			// ctx carries the on-message span
//		})
//		consumer.SetListener(tracing.Listener(listener, t))
//	}
package tracing
