package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is returned when the microphone cannot be acquired or dies mid-stream.
var ErrUnavailable = errors.New("capture device unavailable")

type EventKind int

const (
	EventFragment EventKind = iota
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is delivered on a Stream. A stream emits fragments in temporal order followed
// by exactly one EventStopped, after which the channel is closed. A stopped event with
// a nil Err is a clean end.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Stream is a live capture. Stop requests termination; the terminal event still
// arrives on Events.
type Stream interface {
	Events() <-chan Event
	Stop() error
}

// Device acquires capture streams.
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
}

// emitter serializes delivery so that nothing is sent after the terminal event.
// Sends block until the consumer reads; consumers must drain until close.
type emitter struct {
	mu      sync.Mutex
	events  chan Event
	stopped bool
}

func newEmitter(buffer int) *emitter {
	return &emitter{events: make(chan Event, buffer)}
}

func (e *emitter) fragment(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.events <- Event{Kind: EventFragment, Data: data}
	return true
}

func (e *emitter) finish(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.stopped = true
	e.events <- Event{Kind: EventStopped, Err: err}
	close(e.events)
	return true
}

// discard drains the channel in the background for streams that are abandoned
// before anyone consumes them.
func (e *emitter) discard() {
	go func() {
		for range e.events {
		}
	}()
}

func (e *emitter) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
