package session

import (
	"sync"
	"sync/atomic"
)

// eventQueue delivers events to observers in order on a single goroutine. push never
// blocks, so the controller can enqueue while holding its lock.
type eventQueue struct {
	mu        sync.Mutex
	pending   []Event
	observers []registered
	nextID    int

	delivering atomic.Bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type registered struct {
	id int
	fn Observer
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (q *eventQueue) add(o Observer) func() {
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.observers = append(q.observers, registered{id: id, fn: o})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, r := range q.observers {
			if r.id == id {
				q.observers = append(q.observers[:i:i], q.observers[i+1:]...)
				return
			}
		}
	}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.wake:
			q.flush()
		case <-q.done:
			q.flush()
			return
		}
	}
}

func (q *eventQueue) flush() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		observers := make([]Observer, len(q.observers))
		for i, r := range q.observers {
			observers[i] = r.fn
		}
		q.mu.Unlock()

		q.delivering.Store(true)
		for _, fn := range observers {
			fn(ev)
		}
		q.delivering.Store(false)
	}
}

// close delivers what is pending and stops the delivery goroutine. Called from an
// observer it returns without waiting, since the delivery goroutine is the caller.
func (q *eventQueue) close() {
	q.once.Do(func() { close(q.done) })
	if q.delivering.Load() {
		return
	}
	<-q.stopped
}
