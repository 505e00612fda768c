package onvif

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/log"
)

// SessionState is a phase of the connection handshake.
type SessionState int

const (
	StateIdle SessionState = iota
	StateTimeSynced
	StateTokenReady
	StateCapabilitiesKnown
	StateValidated
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTimeSynced:
		return "time-synced"
	case StateTokenReady:
		return "token-ready"
	case StateCapabilitiesKnown:
		return "capabilities-known"
	case StateValidated:
		return "validated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// ErrPullPointUnsupported is the message of the error returned when a device does not offer
// pull point subscriptions. Test for it with errors.Is(err, errors.NotSupported).
const ErrPullPointUnsupported = "device doesn't support pull point subscription"

// Session performs the connection handshake against one device: time sync, optional
// security token, capability discovery and validation.
type Session struct {
	params  ConnectionParameters
	factory ClientFactory
	logger  zerolog.Logger
	now     func() time.Time

	mu           sync.Mutex
	state        SessionState
	capabilities *Capabilities
	eventService *url.URL
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithSessionClock replaces the local clock used when the device reports no time.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession returns an idle session.
func NewSession(params ConnectionParameters, factory ClientFactory, opts ...SessionOption) *Session {
	s := &Session{
		params:  params,
		factory: factory,
		logger:  log.WithComponent("session"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current handshake phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug().Stringer("state", state).Msg("session state")
}

// Capabilities returns the discovered capabilities, nil before discovery.
func (s *Session) Capabilities() *Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// EventServiceAddress returns the event service endpoint of a validated session.
func (s *Session) EventServiceAddress() (*url.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateValidated {
		return nil, errors.Errorf("session is %s, not validated", s.state)
	}
	return s.eventService, nil
}

// Connect runs the handshake. It may be called again after a failure; every call starts
// from Idle and derives a new token.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.mu.Lock()
	s.state = StateIdle
	s.capabilities = nil
	s.eventService = nil
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.setState(StateFailed)
		}
	}()

	device := s.factory.NewDeviceClient(NewEndpointAddress(s.params.DeviceServiceURI()), s.params, Soap12)
	defer device.Close()

	deviceTime, err := s.syncTime(ctx, device)
	if err != nil {
		return err
	}
	s.setState(StateTimeSynced)

	if !s.params.Credentials.IsEmpty() {
		token, err := DeriveSecurityToken(deviceTime, s.params.Credentials)
		if err != nil {
			return err
		}
		s.factory.SetSecurityToken(token)
		s.setState(StateTokenReady)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	caps, err := device.GetCapabilities(ctx, CapabilityCategoryAll)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.capabilities = caps
	s.mu.Unlock()
	s.setState(StateCapabilitiesKnown)

	if !caps.WSPullPointSupport {
		return errors.NewNotSupported(nil, ErrPullPointUnsupported)
	}
	if caps.EventsXAddr == "" {
		return errors.NotValidf("event service address")
	}
	xaddr, err := url.Parse(caps.EventsXAddr)
	if err != nil {
		return errors.NewNotValid(err, "event service address")
	}

	s.mu.Lock()
	s.eventService = s.params.rebase(xaddr)
	s.state = StateValidated
	s.mu.Unlock()

	s.logger.Info().
		Str("event_service", s.eventService.String()).
		Bool("token", !s.params.Credentials.IsEmpty()).
		Msg("session validated")
	return nil
}

func (s *Session) syncTime(ctx context.Context, device DeviceClient) (time.Time, error) {
	sdt, err := device.GetSystemDateAndTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if sdt.UTC == nil {
		local := s.now().UTC()
		s.logger.Warn().Time("local_time", local).Msg("device reported no UTC time, using local clock")
		return local, nil
	}
	s.logger.Debug().Time("device_time", *sdt.UTC).Msg("device time")
	return *sdt.UTC, nil
}
