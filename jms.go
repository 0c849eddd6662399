package jms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// A Destination is where a Message is sent to or received from.
type Destination interface {
	// Name returns the provider specific name of the destination.
	Name() string
	String() string
}

// Queue is a point-to-point Destination: each Message is consumed once.
type Queue string

// Name returns the queue name.
func (q Queue) Name() string { return string(q) }

func (q Queue) String() string { return "queue://" + string(q) }

// Topic is a publish/subscribe Destination: each Message is delivered to
// every subscriber.
type Topic string

// Name returns the topic name.
func (t Topic) Name() string { return string(t) }

func (t Topic) String() string { return "topic://" + string(t) }

// DeliveryMode tells the provider whether a Message must survive a restart.
type DeliveryMode int

const (
	Persistent DeliveryMode = iota
	NonPersistent
)

func (d DeliveryMode) String() string {
	if d == NonPersistent {
		return "non-persistent"
	}
	return "persistent"
}

// DefaultPriority is the priority used when a send does not specify one.
// Valid priorities range from 0 (lowest) to 9 (highest).
const DefaultPriority = 4

// A Message represents a discrete message in a messaging system.
type Message struct {
	ID            string
	CorrelationID string
	Type          string
	ReplyTo       Destination

	// Destination, DeliveryMode, Priority, Timestamp and Expiration are set
	// by the provider when the message is sent.
	Destination  Destination
	DeliveryMode DeliveryMode
	Priority     int
	Timestamp    time.Time
	Expiration   time.Time
	Redelivered  bool

	Properties Properties
	Body       io.Reader

	ctx context.Context
}

// NewMessage creates a Message with empty Properties and the given body.
func NewMessage(body io.Reader) *Message {
	return &Message{
		Properties: Properties{},
		Body:       body,
	}
}

// NewTextMessage creates a Message whose body is s.
func NewTextMessage(s string) *Message {
	return NewMessage(strings.NewReader(s))
}

// Context returns the message's context. The returned context is always
// non-nil; it defaults to the background context.
func (m *Message) Context() context.Context {
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of m with its context changed to ctx.
// The provided ctx must be non-nil.
func (m *Message) WithContext(ctx context.Context) *Message {
	if ctx == nil {
		panic("nil context")
	}
	m2 := new(Message)
	*m2 = *m
	m2.ctx = ctx
	return m2
}

// SetProperty sets a property on m, allocating Properties if needed.
func (m *Message) SetProperty(name string, value interface{}) error {
	if m.Properties == nil {
		m.Properties = Properties{}
	}
	return m.Properties.Set(name, value)
}

// SetStringProperty sets a string property on m.
func (m *Message) SetStringProperty(name, value string) error {
	return m.SetProperty(name, value)
}

// StringProperty returns the named property if it holds a string.
func (m *Message) StringProperty(name string) (string, bool) {
	return m.Properties.String(name)
}

// Expired reports whether m has an expiration that is before now.
func (m *Message) Expired(now time.Time) bool {
	return !m.Expiration.IsZero() && now.After(m.Expiration)
}

// WithBody creates a new Message with the given io.Reader as a Body
// containing a copy of the parent's headers and Properties.
// The new Message does not inherit the parent's context.
//
//	p := jms.NewTextMessage("hello world")
//	p.SetStringProperty("hello", "world")
//	m := jms.WithBody(p, strings.NewReader("world hello"))
func WithBody(parent *Message, r io.Reader) *Message {
	m := new(Message)
	*m = *parent
	m.Properties = parent.Properties.Clone()
	m.Body = r
	m.ctx = nil
	return m
}

// DumpBody returns the contents of m.Body
// while resetting m.Body
// allowing it to be read from later.
func DumpBody(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if m.Body != nil {
		// inspired by https://golang.org/src/net/http/httputil/dump.go#L26
		if _, err := buf.ReadFrom(m.Body); err != nil {
			return nil, err
		}
	}
	m.Body = &buf

	return buf.Bytes(), nil
}

// CloneBody returns a reader
// with the same contents and m.Body.
// m.Body is reset allowing it to be read from later.
func CloneBody(m *Message) (io.Reader, error) {
	b, err := DumpBody(m)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(b), nil
}

// A Listener processes a Message delivered asynchronously by a Consumer.
//
// OnMessage is called on a goroutine owned by the provider and may be called
// concurrently. Returning an error signals that the message has not been
// processed; what happens next depends on the provider.
type Listener interface {
	OnMessage(context.Context, *Message) error
}

// The ListenerFunc is an adapter to allow the use of ordinary functions
// as a Listener. ListenerFunc(f) is a Listener that calls f.
type ListenerFunc func(context.Context, *Message) error

// OnMessage calls f(ctx, m)
func (f ListenerFunc) OnMessage(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

// A CompletionListener is notified when an asynchronous send completes.
// err is nil when the provider accepted the message.
//
// OnCompletion is called on a goroutine chosen by the provider, never on
// the goroutine that called SendAsync.
type CompletionListener interface {
	OnCompletion(m *Message, err error)
}

// CompletionFunc is an adapter to allow the use of ordinary functions
// as a CompletionListener.
type CompletionFunc func(*Message, error)

// OnCompletion calls f(m, err)
func (f CompletionFunc) OnCompletion(m *Message, err error) {
	f(m, err)
}

var (
	// ErrClosed is returned by operations on a closed Connection, Session,
	// Producer or Consumer.
	ErrClosed = errors.New("jms: closed")

	// ErrNoDestination is returned when a send has no destination to go to.
	ErrNoDestination = errors.New("jms: no destination")

	// ErrDestinationConflict is returned by SendTo on a Producer that was
	// created with a destination.
	ErrDestinationConflict = errors.New("jms: producer has a destination")

	// ErrInvalidPriority is returned for priorities outside [0, 9].
	ErrInvalidPriority = errors.New("jms: invalid priority")

	// ErrListenerSet is returned by synchronous receives on a Consumer that
	// has a Listener.
	ErrListenerSet = errors.New("jms: consumer has a listener")
)

// A Producer sends messages to a Destination.
//
// Multiple goroutines may invoke methods on a Producer simultaneously.
type Producer interface {
	// Destination returns the destination the producer was created with,
	// or nil.
	Destination() Destination

	// Send sends m to the producer's destination and blocks until the
	// provider accepted it.
	Send(ctx context.Context, m *Message, opts ...SendOption) error

	// SendTo sends m to d. It may only be used by producers created
	// without a destination.
	SendTo(ctx context.Context, d Destination, m *Message, opts ...SendOption) error

	// SendAsync sends m to the producer's destination without waiting.
	// cl is called once the send completes. If SendAsync returns an error
	// cl is never called.
	SendAsync(ctx context.Context, m *Message, cl CompletionListener, opts ...SendOption) error

	// SendToAsync is the asynchronous version of SendTo.
	SendToAsync(ctx context.Context, d Destination, m *Message, cl CompletionListener, opts ...SendOption) error

	Close() error
}

// A Consumer receives messages from a Destination, either synchronously via
// the Receive methods or asynchronously through a Listener.
type Consumer interface {
	// Receive blocks until a message arrives, ctx is done or the consumer
	// is closed.
	Receive(ctx context.Context) (*Message, error)

	// ReceiveTimeout is like Receive but returns a nil Message and a nil
	// error once d has elapsed.
	ReceiveTimeout(ctx context.Context, d time.Duration) (*Message, error)

	// ReceiveNoWait returns the next message if one is immediately
	// available, and a nil Message otherwise.
	ReceiveNoWait(ctx context.Context) (*Message, error)

	// Listener returns the listener registered with SetListener.
	Listener() Listener

	// SetListener registers l for asynchronous delivery. A nil l stops
	// asynchronous delivery.
	SetListener(l Listener) error

	Close() error
}

// A Session is a single-threaded context for producing and consuming
// messages.
type Session interface {
	// CreateProducer creates a Producer for d. d may be nil, in which case
	// every send must name its destination.
	CreateProducer(d Destination) (Producer, error)

	CreateConsumer(d Destination) (Consumer, error)

	Close() error
}

// An ExceptionListener is notified of problems with a Connection that are
// not tied to a specific call.
type ExceptionListener interface {
	OnException(error)
}

// ExceptionFunc is an adapter to allow the use of ordinary functions
// as an ExceptionListener.
type ExceptionFunc func(error)

// OnException calls f(err)
func (f ExceptionFunc) OnException(err error) {
	f(err)
}

// A Connection is a client's active connection to a provider.
//
// Messages are only delivered to listeners while the connection is started.
type Connection interface {
	CreateSession() (Session, error)

	ClientID() string
	SetClientID(id string) error

	ExceptionListener() ExceptionListener
	SetExceptionListener(l ExceptionListener)

	Start() error
	Stop() error
	Close() error
}

// A ConnectionFactory creates connections to a provider.
type ConnectionFactory interface {
	CreateConnection(ctx context.Context) (Connection, error)
}
