package onvif

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/metrics"
)

// notifier fans values out to subscriber channels. Publishing never blocks: a value
// is dropped for a subscriber whose buffer is full.
type notifier[T any] struct {
	stream string
	logger *zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
}

func newNotifier[T any](stream string, logger *zerolog.Logger) *notifier[T] {
	return &notifier[T]{stream: stream, logger: logger, subs: make(map[int]chan T)}
}

// subscribe registers a channel with the given buffer. The cancel function unregisters
// and closes it; it is safe to call more than once. Subscribing to a closed notifier
// returns an already closed channel.
func (n *notifier[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}

func (n *notifier[T]) publish(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- v:
		default:
			metrics.RecordDropped(n.stream)
			n.logger.Warn().Str("stream", n.stream).Msg("subscriber buffer full, notification dropped")
		}
	}
}

// close closes every subscriber channel. Later publishes are ignored.
func (n *notifier[T]) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
