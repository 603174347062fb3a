package journal

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on checkpoints(root, created_at)
const currentSchemaVersion = 1

var (
	// ErrNoCheckpoint is returned when a root has no checkpoint.
	ErrNoCheckpoint = errors.New("journal: no checkpoint")

	// ErrCorrupt is returned when a stored payload no longer matches its
	// digest.
	ErrCorrupt = errors.New("journal: checkpoint payload is corrupt")

	// ErrDuplicateID is returned by Write when the id generator repeats
	// an id that is already stored.
	ErrDuplicateID = errors.New("journal: duplicate checkpoint id")

	// ErrInvalidKeep is returned by Prune for a keep below 1.
	ErrInvalidKeep = errors.New("journal: keep must be at least 1")
)

// IDGenerator produces checkpoint ids.
type IDGenerator interface {
	NewID() (string, error)
}

type uuidV7 struct{}

// NewID returns a time-ordered UUIDv7.
func (uuidV7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Journal is a SQLite checkpoint store.
type Journal struct {
	db          *sql.DB
	ids         IDGenerator
	clock       state.Clock
	compression codec.CompressionTag
	logger      *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(j *Journal) {
		j.ids = g
	}
}

// WithClock sets the clock used for created_at.
func WithClock(c state.Clock) Option {
	return func(j *Journal) {
		j.clock = c
	}
}

// WithCompression sets the compression applied to new checkpoints.
// Existing checkpoints keep the compression they were written with.
func WithCompression(tag codec.CompressionTag) Option {
	return func(j *Journal) {
		j.compression = tag
	}
}

// WithLogger sets the journal's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// Open creates or opens a journal at path and applies migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Open is idempotent.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		ids:         uuidV7{},
		clock:       state.RealClock(),
		compression: codec.CompressionZstd,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j.db = db
	j.logger.Debug("journal opened", "path", path, "compression", j.compression.String())
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes checkpoints by creation time for List queries.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_checkpoints_root_created
		ON checkpoints(root, created_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (j *Journal) verifyPragma(name, expected string) error {
	var value string
	if err := j.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
