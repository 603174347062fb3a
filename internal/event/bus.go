package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// Event is a notification published on a Bus.
type Event interface {
	// Topic names the event kind, e.g. "attribute.changed".
	Topic() string
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers. The zero value is not usable;
// construct with NewBus. A nil *Bus drops every event.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	channels    map[uint64]*Subscription
	nextID      uint64
	closed      bool

	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		channels: make(map[uint64]*Subscription),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h and returns a function that removes it. Calling
// cancel more than once is harmless. Subscribing to a closed bus returns
// a no-op cancel and h never runs.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || h == nil {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Channel returns an asynchronous Subscription. Events published after
// the call are queued until read with Next.
func (b *Bus) Channel() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{queue: newQueue()}
	if b.closed {
		sub.queue.Close()
		return sub
	}

	b.nextID++
	id := b.nextID
	b.channels[id] = sub
	sub.detach = func() {
		b.mu.Lock()
		delete(b.channels, id)
		b.mu.Unlock()
	}
	return sub
}

// Publish delivers e to every handler, then enqueues it on every
// Subscription. A panicking handler is logged and does not prevent
// delivery to the others.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, len(b.subscribers))
	for i, s := range b.subscribers {
		handlers[i] = s.handler
	}
	channels := make([]*Subscription, 0, len(b.channels))
	for _, sub := range b.channels {
		channels = append(channels, sub)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
	for _, sub := range channels {
		sub.queue.Enqueue(e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				"topic", e.Topic(),
				"panic", fmt.Sprint(r))
		}
	}()
	h(e)
}

// Close drops all handlers and closes every Subscription. Events already
// queued on a Subscription can still be read.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subscribers = nil
	for id, sub := range b.channels {
		sub.queue.Close()
		delete(b.channels, id)
	}
}
