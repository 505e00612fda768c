// Package httpfeed serves recent events, connection states and metrics over HTTP.
package httpfeed

import (
	"strings"
	"sync"

	onvif "github.com/SridarDhandapani/onvif-events"
	"github.com/SridarDhandapani/onvif-events/internal/sink"
)

const establishedPrefix = "Connection is established"

// Recorder keeps the most recent events and states in fixed-size rings.
type Recorder struct {
	device string

	mu        sync.RWMutex
	events    []sink.Record
	nextEvent int
	numEvents int
	states    []onvif.ConnectionStateInfo
	nextState int
	numStates int
	total     uint64
}

// NewRecorder returns a recorder holding up to capacity events and capacity states.
func NewRecorder(device string, capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{
		device: device,
		events: make([]sink.Record, capacity),
		states: make([]onvif.ConnectionStateInfo, capacity),
	}
}

// HandleEvent implements sink.EventSink.
func (r *Recorder) HandleEvent(event onvif.DeviceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.nextEvent] = sink.NewRecord(r.device, event)
	r.nextEvent = (r.nextEvent + 1) % len(r.events)
	if r.numEvents < len(r.events) {
		r.numEvents++
	}
	r.total++
	return nil
}

// RecordState stores a connection state.
func (r *Recorder) RecordState(info onvif.ConnectionStateInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[r.nextState] = info
	r.nextState = (r.nextState + 1) % len(r.states)
	if r.numStates < len(r.states) {
		r.numStates++
	}
}

// Events returns up to limit events, newest first. A limit of zero or less returns all.
func (r *Recorder) Events(limit int) []sink.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.events, r.nextEvent, r.numEvents, limit)
}

// States returns up to limit states, newest first.
func (r *Recorder) States(limit int) []onvif.ConnectionStateInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.states, r.nextState, r.numStates, limit)
}

// Total returns the number of events recorded since start.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Connected reports whether the latest state is the established state.
func (r *Recorder) Connected() bool {
	latest := r.States(1)
	return len(latest) == 1 && strings.HasPrefix(latest[0].Description, establishedPrefix)
}

func newestFirst[T any](ring []T, next, n, limit int) []T {
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]T, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, ring[(next-i+len(ring))%len(ring)])
	}
	return out
}
