package user

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
)

var (
	// ErrExists is returned by Create for a username that is taken.
	ErrExists = errors.New("user: username already exists")

	// ErrNotFound is returned for a username with no account.
	ErrNotFound = errors.New("user: not found")

	// ErrInvalidUsername is returned by Authenticate before any lookup
	// when the username cannot be valid.
	ErrInvalidUsername = errors.New("user: invalid username")

	// ErrAccessDenied covers unknown users, expired accounts and wrong
	// passwords alike.
	ErrAccessDenied = errors.New("user: access denied")
)

// Store manages the user accounts of one profile.
type Store struct {
	records *store.Store[*User]
	clock   state.Clock
	logger  *slog.Logger

	// mu keeps username uniqueness across concurrent Create calls.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for creation and login times.
func WithClock(c state.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore binds a user Store to collection.
func NewStore(collection *state.Collection, opts ...Option) *Store {
	s := &Store{clock: state.RealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.records = store.New(collection, New, store.WithLogger(s.logger))
	return s
}

func (s *Store) Count() int { return s.records.Count() }

// All returns every account.
func (s *Store) All() []*User {
	return s.records.Filter(func(*User) bool { return true })
}

// GetByUsername returns the account named username.
func (s *Store) GetByUsername(username string) (*User, bool) {
	return s.records.Find(func(u *User) bool { return u.Username() == username })
}

// Create adds an account. configure may set optional fields such as the
// email address or expiration before validation.
func (s *Store) Create(username, password string, configure func(*User)) (*User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.GetByUsername(username); exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, username)
	}
	now := s.clock.Now()
	u, err := s.records.Create(func(u *User) {
		u.SetUsername(username)
		u.setHash(hash)
		u.SetCreation(now)
		if configure != nil {
			configure(u)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	s.logger.Info("user created", "username", username, "oid", u.Document().Oid().String())
	return u, nil
}

// Authenticate checks a login attempt and records the login time on
// success.
func (s *Store) Authenticate(username, password string) (*User, error) {
	if !ValidUsername(username) {
		s.logger.Debug("login rejected", "username", username, "reason", "invalid username")
		return nil, ErrInvalidUsername
	}
	u, ok := s.GetByUsername(username)
	if !ok {
		s.logger.Debug("login rejected", "username", username, "reason", "unknown user")
		return nil, ErrAccessDenied
	}
	now := s.clock.Now()
	if u.Expired(now) {
		s.logger.Debug("login rejected", "username", username, "reason", "expired")
		return nil, ErrAccessDenied
	}
	if !u.CheckPassword(password) {
		s.logger.Debug("login rejected", "username", username, "reason", "wrong password")
		return nil, ErrAccessDenied
	}

	u.RecordLogin(now)
	s.logger.Debug("login accepted", "username", username)
	return u, nil
}

// Remove deletes the account named username.
func (s *Store) Remove(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.GetByUsername(username)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	s.records.Remove(u.Document().Tag())
	s.logger.Info("user removed", "username", username)
	return nil
}

// Expire sets the expiration of username's account to at.
func (s *Store) Expire(username string, at time.Time) error {
	u, ok := s.GetByUsername(username)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	u.SetExpiration(at)
	return nil
}
