package tracing

import (
	"context"

	"github.com/zerofox-oss/go-jms"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

type producer struct {
	jms.Producer
	t *Tracer
}

// Producer wraps next so that every message sent is traced by a send span
// whose context is written into the message properties.
//
// Errors from next are returned unchanged.
func Producer(next jms.Producer, t *Tracer) jms.Producer {
	return &producer{Producer: next, t: t}
}

func (p *producer) Send(ctx context.Context, m *jms.Message, opts ...jms.SendOption) error {
	return p.send(ctx, p.Destination(), m, func(ctx context.Context) error {
		return p.Producer.Send(ctx, m, opts...)
	})
}

func (p *producer) SendTo(ctx context.Context, d jms.Destination, m *jms.Message, opts ...jms.SendOption) error {
	return p.send(ctx, d, m, func(ctx context.Context) error {
		return p.Producer.SendTo(ctx, d, m, opts...)
	})
}

func (p *producer) SendAsync(ctx context.Context, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	return p.sendAsync(ctx, p.Destination(), m, cl, func(ctx context.Context, cl jms.CompletionListener) error {
		return p.Producer.SendAsync(ctx, m, cl, opts...)
	})
}

func (p *producer) SendToAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, opts ...jms.SendOption) error {
	return p.sendAsync(ctx, d, m, cl, func(ctx context.Context, cl jms.CompletionListener) error {
		return p.Producer.SendToAsync(ctx, d, m, cl, opts...)
	})
}

func (p *producer) send(ctx context.Context, d jms.Destination, m *jms.Message, fn func(context.Context) error) error {
	ctx, span, err := p.t.StartProducerSpan(ctx, d, m)
	if err != nil {
		return err
	}

	e := &spanEnd{span: span}
	err = e.run(func() error { return fn(ctx) })
	if err == nil {
		setMessageID(span, m)
	}
	e.end(err)
	return err
}

func (p *producer) sendAsync(ctx context.Context, d jms.Destination, m *jms.Message, cl jms.CompletionListener, fn func(context.Context, jms.CompletionListener) error) error {
	ctx, span, err := p.t.StartProducerSpan(ctx, d, m)
	if err != nil {
		return err
	}

	e := &spanEnd{span: span}
	err = e.run(func() error {
		return fn(ctx, completionListener(cl, e))
	})
	if err != nil {
		e.end(err)
	}
	return err
}

// completionListener wraps next so that the send span held by e ends once
// next returns. next may be nil.
func completionListener(next jms.CompletionListener, e *spanEnd) jms.CompletionListener {
	return jms.CompletionFunc(func(m *jms.Message, err error) {
		if err == nil {
			setMessageID(e.span, m)
		}
		if next != nil {
			_ = e.run(func() error {
				next.OnCompletion(m, err)
				return nil
			})
		}
		e.end(err)
	})
}

func setMessageID(span trace.Span, m *jms.Message) {
	if m != nil && m.ID != "" {
		span.SetAttributes(semconv.MessagingMessageID(m.ID))
	}
}
