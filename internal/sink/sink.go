// Package sink delivers received events to the terminal and to an MQTT broker.
package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	onvif "github.com/SridarDhandapani/onvif-events"
)

// EventSink consumes device events.
type EventSink interface {
	HandleEvent(event onvif.DeviceEvent) error
}

// Record is the serialized form of a device event.
type Record struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Device    string    `json:"device,omitempty" yaml:"device,omitempty"`
	Topic     string    `json:"topic,omitempty" yaml:"topic,omitempty"`
	Message   string    `json:"message" yaml:"message"`
}

// NewRecord converts an event for serialization.
func NewRecord(device string, event onvif.DeviceEvent) Record {
	return Record{
		Timestamp: event.Timestamp.UTC(),
		Device:    device,
		Topic:     event.Topic,
		Message:   event.Message,
	}
}

// Pump hands every event from events to each sink until ctx is done or events is closed.
// Sink errors are logged and do not stop delivery.
func Pump(ctx context.Context, events <-chan onvif.DeviceEvent, logger zerolog.Logger, sinks ...EventSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.HandleEvent(event); err != nil {
					logger.Warn().Err(err).Str("topic", event.Topic).Msg("event sink failed")
				}
			}
		}
	}
}
