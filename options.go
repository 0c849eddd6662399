package jms

import "time"

// SendOptions hold the per-send settings of a Producer.
type SendOptions struct {
	DeliveryMode DeliveryMode
	Priority     int

	// TimeToLive is how long the message is kept by the provider.
	// Zero means the message never expires.
	TimeToLive time.Duration
}

// SendOption modifies SendOptions.
type SendOption func(*SendOptions)

// WithDeliveryMode sets the delivery mode of a send.
func WithDeliveryMode(d DeliveryMode) SendOption {
	return func(o *SendOptions) {
		o.DeliveryMode = d
	}
}

// WithPriority sets the priority of a send.
func WithPriority(p int) SendOption {
	return func(o *SendOptions) {
		o.Priority = p
	}
}

// WithTimeToLive sets how long the provider keeps the message.
func WithTimeToLive(ttl time.Duration) SendOption {
	return func(o *SendOptions) {
		o.TimeToLive = ttl
	}
}

// ApplySendOptions returns the defaults overridden by opts. It is meant for
// providers implementing Producer.
func ApplySendOptions(opts ...SendOption) (SendOptions, error) {
	o := SendOptions{
		DeliveryMode: Persistent,
		Priority:     DefaultPriority,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Priority < 0 || o.Priority > 9 {
		return o, ErrInvalidPriority
	}
	return o, nil
}
