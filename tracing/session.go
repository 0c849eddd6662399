package tracing

import (
	"context"

	"github.com/zerofox-oss/go-jms"
)

type session struct {
	jms.Session
	t *Tracer
}

// Session wraps next so that the producers and consumers it creates are
// traced.
func Session(next jms.Session, t *Tracer) jms.Session {
	return &session{Session: next, t: t}
}

func (s *session) CreateProducer(d jms.Destination) (jms.Producer, error) {
	p, err := s.Session.CreateProducer(d)
	if err != nil {
		return nil, err
	}
	return Producer(p, s.t), nil
}

func (s *session) CreateConsumer(d jms.Destination) (jms.Consumer, error) {
	c, err := s.Session.CreateConsumer(d)
	if err != nil {
		return nil, err
	}
	return Consumer(c, s.t), nil
}

type connection struct {
	jms.Connection
	t *Tracer
}

// Connection wraps next so that the sessions it creates are traced.
func Connection(next jms.Connection, t *Tracer) jms.Connection {
	return &connection{Connection: next, t: t}
}

func (c *connection) CreateSession() (jms.Session, error) {
	s, err := c.Connection.CreateSession()
	if err != nil {
		return nil, err
	}
	return Session(s, c.t), nil
}

type connectionFactory struct {
	next jms.ConnectionFactory
	t    *Tracer
}

// ConnectionFactory wraps next so that the connections it creates are
// traced.
func ConnectionFactory(next jms.ConnectionFactory, t *Tracer) jms.ConnectionFactory {
	return &connectionFactory{next: next, t: t}
}

func (f *connectionFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	conn, err := f.next.CreateConnection(ctx)
	if err != nil {
		return nil, err
	}
	return Connection(conn, f.t), nil
}
