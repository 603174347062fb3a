package event

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the subscription is
// closed and drained.
var ErrClosed = errors.New("event: subscription closed")

// queue is a thread-safe unbounded FIFO. Publishers never block on it.
type queue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue() *queue {
	return &queue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false if the queue is closed.
func (q *queue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Buffer of one coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *queue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *queue) isDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close wakes all waiters. Enqueue fails afterwards.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Subscription is an asynchronous view of a Bus.
type Subscription struct {
	queue  *queue
	detach func()
	once   sync.Once
}

// Next blocks until an event is available, the context is done, or the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.queue.TryDequeue(); ok {
			return e, nil
		}
		if s.queue.isDrained() {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.queue.signal:
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Close detaches the subscription from its bus. Queued events remain
// readable.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		s.queue.Close()
	})
}
