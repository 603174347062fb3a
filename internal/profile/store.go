package profile

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
)

// Store manages the profiles of the instance collection.
type Store struct {
	records *store.Store[*Profile]
	logger  *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore binds a profile Store to collection.
func NewStore(collection *state.Collection, opts ...Option) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.records = store.New(collection, New, store.WithLogger(s.logger))
	return s
}

func (s *Store) Count() int { return s.records.Count() }

// All returns every profile.
func (s *Store) All() []*Profile {
	return s.records.Filter(func(*Profile) bool { return true })
}

// Get returns the profile with the given uuid.
func (s *Store) Get(id uuid.UUID) (*Profile, bool) {
	return s.records.Find(func(p *Profile) bool { return p.UUID() == id })
}

// Ensure returns the profile with id, creating it when missing.
func (s *Store) Ensure(id uuid.UUID, instanceType InstanceType, flavor string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.Get(id); ok {
		return p, nil
	}
	p, err := s.records.Create(func(p *Profile) {
		p.SetUUID(id)
		p.SetInstanceType(instanceType)
		if flavor != "" {
			p.SetFlavor(flavor)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create profile %s: %w", id, err)
	}
	s.logger.Info("profile created",
		"uuid", id.String(),
		"instance_type", string(instanceType),
		"oid", p.Document().Oid().String())
	return p, nil
}
