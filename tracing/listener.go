package tracing

import (
	"context"

	"github.com/zerofox-oss/go-jms"
)

// Listener wraps next so that every call is traced by an on-message span.
// The context passed to next carries the span, which ends when next
// returns, fails or panics. A nil next only records the span.
func Listener(next jms.Listener, t *Tracer) jms.Listener {
	return jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		ctx, span := t.StartListenerSpan(ctx, m)
		if t.options.MessageContext && m != nil {
			m = m.WithContext(ctx)
		}

		e := &spanEnd{span: span}
		err := e.run(func() error {
			if next == nil {
				return nil
			}
			return next.OnMessage(ctx, m)
		})
		e.end(err)
		return err
	})
}
