package onvif

import (
	"context"
	"net/url"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/log"
	"github.com/SridarDhandapani/onvif-events/internal/metrics"
)

// EventHandler receives device events in the order the device returned them.
type EventHandler func(DeviceEvent)

// Subscriber owns one pull point subscription at a time: it creates it, pulls
// notifications, renews the lease around its midpoint and unsubscribes on exit.
type Subscriber struct {
	params          ConnectionParameters
	factory         ClientFactory
	terminationTime time.Duration
	gate            TimeGate
	now             func() time.Time
	logger          zerolog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithTerminationTime sets the requested lease. Renewal happens after half of it.
// Leases above MaxTerminationTime are capped.
func WithTerminationTime(d time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.terminationTime = min(d, MaxTerminationTime) }
}

// WithTimeGate replaces the tick source driving renewals.
func WithTimeGate(gate TimeGate) SubscriberOption {
	return func(s *Subscriber) { s.gate = gate }
}

// WithEventClock replaces the clock stamping delivered events.
func WithEventClock(now func() time.Time) SubscriberOption {
	return func(s *Subscriber) { s.now = now }
}

// WithSubscriberLogger sets the subscriber logger.
func WithSubscriberLogger(logger zerolog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// NewSubscriber returns a subscriber using DefaultTerminationTime.
func NewSubscriber(params ConnectionParameters, factory ClientFactory, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		params:          params,
		factory:         factory,
		terminationTime: DefaultTerminationTime,
		now:             time.Now,
		logger:          log.WithComponent("subscriber"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe creates a pull point subscription on the event service. The returned
// handle points at the subscription path resolved against the configured device URI.
func (s *Subscriber) Subscribe(ctx context.Context, eventService *url.URL) (*SubscriptionHandle, error) {
	client := s.factory.NewEventClient(NewEndpointAddress(eventService), s.params, Soap12WSAddressing10)
	defer client.Close()

	resp, err := client.CreatePullPointSubscription(ctx, CreatePullPointSubscriptionRequest{
		InitialTerminationTime: FormatTerminationTime(s.terminationTime),
	})
	if err != nil {
		return nil, err
	}

	ref, err := url.Parse(resp.Address)
	if err != nil {
		return nil, errors.NewNotValid(err, "subscription reference address")
	}

	handle := &SubscriptionHandle{
		Address: EndpointAddress{
			URL:                 s.params.rebase(ref),
			ReferenceParameters: resp.ReferenceParameters,
		},
		TerminationTime: s.terminationTime,
		CurrentTime:     resp.CurrentTime,
		ExpiresAt:       resp.TerminationTime,
	}
	s.logger.Info().
		Str("address", handle.Address.String()).
		Int("reference_parameters", len(handle.Address.ReferenceParameters)).
		Time("expires_at", handle.ExpiresAt).
		Msg("subscription created")
	return handle, nil
}

// Receive subscribes and pulls until ctx is cancelled or a call fails. On cancellation it
// returns nil. Unsubscribe is always attempted before returning and its failure is ignored.
func (s *Subscriber) Receive(ctx context.Context, eventService *url.URL, handler EventHandler) error {
	handle, err := s.Subscribe(ctx, eventService)
	if err != nil {
		return err
	}
	return s.Pull(ctx, handle, handler)
}

// Pull runs the pull/renew loop on an existing subscription.
func (s *Subscriber) Pull(ctx context.Context, handle *SubscriptionHandle, handler EventHandler) error {
	pullPoint := s.factory.NewPullPointClient(handle.Address, s.params, Soap12WSAddressing10)
	defer pullPoint.Close()
	manager := s.factory.NewSubscriptionManagerClient(handle.Address, s.params, Soap12WSAddressing10)
	defer manager.Close()

	defer s.unsubscribe(ctx, manager)

	req := PullMessagesRequest{Timeout: pullTimeout, MessageLimit: pullMessageLimit}
	renewInterval := renewIntervalMs(handle.TerminationTime)
	lastRenew := s.gate.Now()

	for ctx.Err() == nil {
		metrics.RecordPull()
		resp, err := pullPoint.PullMessages(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}

		for _, msg := range resp.NotificationMessages {
			if msg.Message == nil {
				continue
			}
			metrics.RecordEvent()
			if handler != nil {
				handler(DeviceEvent{Timestamp: s.now().UTC(), Topic: msg.Topic, Message: *msg.Message})
			}
		}

		if s.gate.IsElapsed(lastRenew, renewInterval) {
			lastRenew = s.gate.Now()
			metrics.RecordRenewal()
			if err := manager.Renew(ctx, RenewRequest{TerminationTime: FormatTerminationTime(handle.TerminationTime)}); err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
			s.logger.Debug().Str("address", handle.Address.String()).Msg("subscription renewed")
		}
	}
	return nil
}

// renewIntervalMs is half the lease in TimeGate ticks, capped so it cannot wrap negative.
func renewIntervalMs(lease time.Duration) int32 {
	return int32(min(lease, MaxTerminationTime).Milliseconds() / 2)
}

// unsubscribe runs on a context detached from cancellation, bounded by the connection timeout.
func (s *Subscriber) unsubscribe(ctx context.Context, manager SubscriptionManagerClient) {
	timeout := s.params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := manager.Unsubscribe(uctx); err != nil {
		metrics.RecordUnsubscribeFailure()
		s.logger.Warn().Err(err).Msg("unsubscribe failed")
		return
	}
	s.logger.Debug().Msg("unsubscribed")
}
