package onvif

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/log"
	"github.com/SridarDhandapani/onvif-events/internal/metrics"
)

var (
	// ErrFatal marks failures the supervisor must not retry. Wrap it to stop the
	// reconnect loop and hand the error to the caller.
	ErrFatal = errors.New("fatal receiver failure")

	// ErrAlreadyStarted is returned by Start and Run while a loop is running.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithReconnectDelay sets the fixed wait between connection attempts.
func WithReconnectDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.delay = d }
}

// WithSupervisorLogger sets the supervisor logger.
func WithSupervisorLogger(logger zerolog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = logger }
}

// WithSupervisorClock replaces the clock stamping state notifications and the timer
// used for the reconnect delay.
func WithSupervisorClock(now func() time.Time, after func(time.Duration) <-chan time.Time) SupervisorOption {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
		if after != nil {
			s.after = after
		}
	}
}

// Supervisor keeps a device connection alive: it connects, receives until failure, reports
// the failure as a state and retries after a fixed delay until stopped.
type Supervisor struct {
	factory ReceiverFactory
	delay   time.Duration
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	logger  zerolog.Logger

	events  *notifier[DeviceEvent]
	states  *notifier[ConnectionStateInfo]
	stopped *notifier[struct{}]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewSupervisor returns a stopped supervisor.
func NewSupervisor(factory ReceiverFactory, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		factory: factory,
		delay:   DefaultReconnectDelay,
		now:     time.Now,
		after:   time.After,
		logger:  log.WithComponent("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = newNotifier[DeviceEvent]("events", &s.logger)
	s.states = newNotifier[ConnectionStateInfo]("states", &s.logger)
	s.stopped = newNotifier[struct{}]("stopped", &s.logger)
	return s
}

// SubscribeEvents returns a channel receiving every device event. Events are dropped
// for this subscriber while its buffer is full. Call cancel to unsubscribe.
func (s *Supervisor) SubscribeEvents(buffer int) (<-chan DeviceEvent, func()) {
	return s.events.subscribe(buffer)
}

// SubscribeStates returns a channel receiving connection state transitions.
func (s *Supervisor) SubscribeStates(buffer int) (<-chan ConnectionStateInfo, func()) {
	return s.states.subscribe(buffer)
}

// SubscribeStopped returns a channel receiving one value each time a loop exits.
func (s *Supervisor) SubscribeStopped() (<-chan struct{}, func()) {
	return s.stopped.subscribe(1)
}

// Start runs the reconnect loop in the background.
func (s *Supervisor) Start(params ConnectionParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running, s.cancel, s.done, s.err = true, cancel, done, nil

	go func() {
		err := s.loop(ctx, params)
		cancel()
		s.mu.Lock()
		s.running, s.cancel, s.err = false, nil, err
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels a loop started with Start and waits for it to exit, including the final
// unsubscribe. It is a no-op when nothing is running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop and closes every subscriber channel. The supervisor cannot be
// started again afterwards.
func (s *Supervisor) Close() {
	s.Stop()
	s.events.close()
	s.states.close()
	s.stopped.close()
}

// Wait blocks until the loop started with Start exits and returns its error, which is
// non-nil only for fatal failures.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run is the blocking form of Start. It returns nil once ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, params ConnectionParameters) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return s.loop(ctx, params)
}

func (s *Supervisor) loop(ctx context.Context, params ConnectionParameters) error {
	defer func() {
		s.logger.Info().Msg("receiver stopped")
		s.stopped.publish(struct{}{})
	}()

	for ctx.Err() == nil {
		s.emitState(fmt.Sprintf("Connecting to %s...", params.URI))

		if err := s.attempt(ctx, params); err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, ErrFatal) {
				s.logger.Error().Err(err).Msg("fatal receiver failure")
				return err
			}
			class := errorClass(err)
			metrics.RecordConnectionError(class)
			s.logger.Warn().Err(err).Str("class", class).Dur("retry_in", s.delay).Msg("connection error")
			s.emitState(fmt.Sprintf("Connection error: %s", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(s.delay):
		}
	}
	return nil
}

func (s *Supervisor) attempt(ctx context.Context, params ConnectionParameters) error {
	receiver := s.factory.NewReceiver(params)
	metrics.RecordConnectAttempt()

	if err := receiver.Connect(ctx); err != nil {
		return err
	}
	s.emitState("Connection is established. Receiving...")

	return receiver.Receive(ctx, s.events.publish)
}

func (s *Supervisor) emitState(description string) {
	info := ConnectionStateInfo{Timestamp: s.now(), Description: description}
	s.logger.Info().Str("state", description).Msg("connection state")
	s.states.publish(info)
}

// errorClass buckets a connection error for metrics.
func errorClass(err error) string {
	var fault *Fault
	var netErr net.Error
	switch {
	case errors.Is(err, errors.NotSupported):
		return "unsupported"
	case errors.Is(err, errors.Unauthorized):
		return "unauthorized"
	case errors.As(err, &fault):
		return "fault"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "other"
	}
}
