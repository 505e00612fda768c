package onvif

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/log"
)

// EventReceiver connects to one device and receives its events.
type EventReceiver interface {
	ConnectionParameters() ConnectionParameters
	// Connect runs the handshake. It fails for devices without pull point support.
	Connect(ctx context.Context) error
	// Receive blocks until ctx is cancelled or a call fails. Cancellation returns nil.
	Receive(ctx context.Context, handler EventHandler) error
}

// ReceiverFactory builds a receiver for one connection attempt.
type ReceiverFactory interface {
	NewReceiver(params ConnectionParameters) EventReceiver
}

// ReceiverFactoryFunc adapts a function to ReceiverFactory.
type ReceiverFactoryFunc func(params ConnectionParameters) EventReceiver

// NewReceiver implements ReceiverFactory.
func (f ReceiverFactoryFunc) NewReceiver(params ConnectionParameters) EventReceiver {
	return f(params)
}

// PullPointReceiver is the EventReceiver built from a Session and a Subscriber sharing one
// client factory.
type PullPointReceiver struct {
	params     ConnectionParameters
	session    *Session
	subscriber *Subscriber
}

// ReceiverOptions groups the options forwarded to the session and the subscriber.
type ReceiverOptions struct {
	Session    []SessionOption
	Subscriber []SubscriberOption
}

// NewPullPointReceiver returns a receiver that uses factory for every proxy it creates.
func NewPullPointReceiver(params ConnectionParameters, factory ClientFactory, opts ReceiverOptions) *PullPointReceiver {
	return &PullPointReceiver{
		params:     params,
		session:    NewSession(params, factory, opts.Session...),
		subscriber: NewSubscriber(params, factory, opts.Subscriber...),
	}
}

// ConnectionParameters implements EventReceiver.
func (r *PullPointReceiver) ConnectionParameters() ConnectionParameters { return r.params }

// Session returns the underlying handshake state.
func (r *PullPointReceiver) Session() *Session { return r.session }

// Connect implements EventReceiver.
func (r *PullPointReceiver) Connect(ctx context.Context) error {
	return r.session.Connect(ctx)
}

// Receive implements EventReceiver.
func (r *PullPointReceiver) Receive(ctx context.Context, handler EventHandler) error {
	eventService, err := r.session.EventServiceAddress()
	if err != nil {
		return err
	}
	return r.subscriber.Receive(ctx, eventService, handler)
}

// HTTPReceiverFactory builds PullPointReceivers, each over a fresh HTTPClientFactory so
// security tokens never leak between connection attempts.
type HTTPReceiverFactory struct {
	TerminationTime time.Duration
	InsecureTLS     bool
	Logger          *zerolog.Logger
}

// NewReceiver implements ReceiverFactory.
func (f HTTPReceiverFactory) NewReceiver(params ConnectionParameters) EventReceiver {
	logger := log.WithComponent("receiver")
	if f.Logger != nil {
		logger = *f.Logger
	}
	clients := NewHTTPClientFactory(
		WithInsecureTLS(f.InsecureTLS),
		WithFactoryLogger(logger.With().Str("layer", "soap").Logger()),
	)
	opts := ReceiverOptions{
		Session:    []SessionOption{WithSessionLogger(logger.With().Str("layer", "session").Logger())},
		Subscriber: []SubscriberOption{WithSubscriberLogger(logger.With().Str("layer", "subscription").Logger())},
	}
	if f.TerminationTime > 0 {
		opts.Subscriber = append(opts.Subscriber, WithTerminationTime(f.TerminationTime))
	}
	return NewPullPointReceiver(params, clients, opts)
}
