package store

import (
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/sandpolis/sandpolis/internal/state"
)

// View is a typed wrapper bound to exactly one document.
type View interface {
	Document() *state.Document
}

// Validator is implemented by views that check themselves before Create
// registers them.
type Validator interface {
	// Complete returns an error naming a missing required field.
	Complete() error
	// Valid returns an error naming a malformed field.
	Valid() error
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Store is a typed, identity-preserving cache over one collection.
type Store[V View] struct {
	collection *state.Collection
	construct  func(*state.Document) V
	logger     *slog.Logger

	mu    sync.RWMutex
	cache map[uint32]V
}

// New binds construct to collection. construct must be cheap and must not
// mutate the document.
func New[V View](collection *state.Collection, construct func(*state.Document) V, opts ...Option) *Store[V] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		collection: collection,
		construct:  construct,
		logger:     o.logger,
		cache:      make(map[uint32]V),
	}
}

// Collection returns the underlying collection.
func (s *Store[V]) Collection() *state.Collection { return s.collection }

// Count returns the number of documents in the collection.
func (s *Store[V]) Count() int { return s.collection.Len() }

// Get returns the cached view at tag, or a fresh uncached view when the
// collection holds a document there.
func (s *Store[V]) Get(tag uint32) (V, bool) {
	s.mu.RLock()
	cached, ok := s.cache[tag]
	s.mu.RUnlock()

	if ok {
		if s.collection.Contains(cached.Document()) {
			return cached, true
		}
		s.evict(tag, cached)
	}

	doc, ok := s.collection.Get(tag)
	if !ok {
		var zero V
		return zero, false
	}
	return s.construct(doc), true
}

// evict drops a cached view whose document left the collection without
// going through Remove.
func (s *Store[V]) evict(tag uint32, stale V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cache[tag]; ok && current.Document() == stale.Document() {
		delete(s.cache, tag)
		s.logger.Debug("evicted stale view", "oid", stale.Document().Oid().String())
	}
}

// Create allocates a document, lets configure populate its view and
// registers it. When the view implements Validator and fails either check
// the document is discarded and nothing is registered. Writes made by
// configure publish no events.
func (s *Store[V]) Create(configure func(V)) (V, error) {
	var zero V

	doc, err := s.collection.NewDocument()
	if err != nil {
		return zero, fmt.Errorf("create: %w", err)
	}
	v := s.construct(doc)
	if configure != nil {
		configure(v)
	}

	if validator, ok := any(v).(Validator); ok {
		if err := validator.Complete(); err != nil {
			s.logger.Warn("discarding incomplete object",
				"oid", doc.Oid().String(), "error", err)
			return zero, newConfigError(ErrCodeIncomplete, err)
		}
		if err := validator.Valid(); err != nil {
			s.logger.Warn("discarding invalid object",
				"oid", doc.Oid().String(), "error", err)
			return zero, newConfigError(ErrCodeInvalid, err)
		}
	}

	// Registration and insertion happen under one lock so Stream never
	// sees the document twice.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.Insert(doc); err != nil {
		return zero, fmt.Errorf("create: %w", err)
	}
	s.cache[doc.Tag()] = v
	return v, nil
}

// Remove evicts the view at tag and removes its document. It returns the
// removed view, or false when nothing was at tag.
func (s *Store[V]) Remove(tag uint32) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, wasCached := s.cache[tag]
	delete(s.cache, tag)

	doc, ok := s.collection.Remove(tag)
	if !ok {
		var zero V
		return zero, false
	}
	if wasCached && cached.Document() == doc {
		return cached, true
	}
	return s.construct(doc), true
}

// Stream yields every view: cached views first, ordered by tag, then
// fresh views of uncached documents. Each call reads the current
// contents.
func (s *Store[V]) Stream() iter.Seq[V] {
	return func(yield func(V) bool) {
		s.mu.RLock()
		cached := maps.Clone(s.cache)
		s.mu.RUnlock()

		for _, tag := range slices.Sorted(maps.Keys(cached)) {
			v := cached[tag]
			if !s.collection.Contains(v.Document()) {
				continue
			}
			if !yield(v) {
				return
			}
		}
		for tag, doc := range s.collection.All() {
			if v, ok := cached[tag]; ok && v.Document() == doc {
				continue
			}
			if !yield(s.construct(doc)) {
				return
			}
		}
	}
}

// Find returns the first view from Stream matching pred.
func (s *Store[V]) Find(pred func(V) bool) (V, bool) {
	for v := range s.Stream() {
		if pred(v) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Filter returns every view from Stream matching pred.
func (s *Store[V]) Filter(pred func(V) bool) []V {
	var out []V
	for v := range s.Stream() {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}
