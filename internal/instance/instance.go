package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sandpolis/sandpolis/internal/config"
	"github.com/sandpolis/sandpolis/internal/event"
	"github.com/sandpolis/sandpolis/internal/journal"
	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/plugin"
	"github.com/sandpolis/sandpolis/internal/profile"
	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/trust"
	"github.com/sandpolis/sandpolis/internal/user"
)

// ErrNoJournal is returned by Checkpoint when the journal is disabled.
var ErrNoJournal = errors.New("instance: journal disabled")

// Instance is the runtime context of one Sandpolis instance.
type Instance struct {
	config *config.Config
	schema *schema.Schema
	tree   *state.Tree
	bus    *event.Bus

	journal  *journal.Journal
	profiles *profile.Store
	local    *profile.Profile
	plugins  *plugin.Store
	users    *user.Store

	verifier trust.Verifier
	registry *plugin.Registry
	clock    state.Clock
	logger   *slog.Logger
	ids      journal.IDGenerator
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Instance) {
		in.logger = logger
	}
}

// WithClock sets the clock shared by every component.
func WithClock(c state.Clock) Option {
	return func(in *Instance) {
		in.clock = c
	}
}

// WithRegistry sets the plugin entry points.
func WithRegistry(r *plugin.Registry) Option {
	return func(in *Instance) {
		in.registry = r
	}
}

// WithCheckpointIDs replaces the journal's id generator.
func WithCheckpointIDs(g journal.IDGenerator) Option {
	return func(in *Instance) {
		in.ids = g
	}
}

// New builds an instance from cfg. When a journal is configured, the
// newest checkpoint is restored before the local profile is resolved.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Instance, error) {
	in := &Instance{
		config:   cfg,
		schema:   schema.Core(),
		clock:    state.RealClock(),
		logger:   slog.Default(),
		registry: plugin.NewRegistry(),
	}
	for _, opt := range opts {
		opt(in)
	}

	for _, w := range cfg.Warnings() {
		in.logger.Warn(w)
	}

	verifier, err := cfg.Verifier(trust.WithLogger(in.logger), trust.WithNow(in.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("new instance: %w", err)
	}
	in.verifier = verifier

	in.bus = event.NewBus(event.WithLogger(in.logger))
	in.tree = state.New(
		state.WithClock(in.clock),
		state.WithPublisher(in.bus),
		state.WithLogger(in.logger),
		state.WithRetentionPolicy(RetentionPolicy(in.schema)),
	)

	if path := cfg.Paths.Journal; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			in.Close()
			return nil, fmt.Errorf("new instance: %w", err)
		}
		jopts := []journal.Option{
			journal.WithClock(in.clock),
			journal.WithCompression(cfg.Compression()),
			journal.WithLogger(in.logger),
		}
		if in.ids != nil {
			jopts = append(jopts, journal.WithIDGenerator(in.ids))
		}
		in.journal, err = journal.Open(path, jopts...)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("new instance: %w", err)
		}
		if _, err := in.Restore(ctx); err != nil {
			in.Close()
			return nil, fmt.Errorf("new instance: %w", err)
		}
		return in, nil
	}

	if err := in.bind(); err != nil {
		in.Close()
		return nil, fmt.Errorf("new instance: %w", err)
	}
	return in, nil
}

func (in *Instance) namespace() (*state.Document, error) {
	return in.tree.Document(in.schema.Base())
}

// bind resolves the local profile, creating it on first start, and binds
// the plugin and user stores to it.
func (in *Instance) bind() error {
	ns, err := in.namespace()
	if err != nil {
		return err
	}
	root := in.schema.Root()
	in.profiles = profile.NewStore(ns.Collection(root.Tag("profile")), profile.WithLogger(in.logger))

	localTag := root.Tag("local")
	local, err := in.resolveLocal(ns, localTag)
	if err != nil {
		return err
	}
	ns.SetRelation(localTag, local.Document().Oid())
	if in.local == nil {
		local.SetStartTime(in.clock.Now())
	}
	in.local = local

	in.plugins = plugin.NewStore(local.Plugins(),
		plugin.WithVerifier(in.verifier),
		plugin.WithRegistry(in.registry),
		plugin.WithPublisher(in.bus),
		plugin.WithLogger(in.logger))
	in.users = user.NewStore(local.Users(),
		user.WithClock(in.clock),
		user.WithLogger(in.logger))
	return nil
}

func (in *Instance) resolveLocal(ns *state.Document, localTag uint32) (*profile.Profile, error) {
	instanceType, err := profile.ParseInstanceType(in.config.Instance.Type)
	if err != nil {
		return nil, err
	}
	if s := in.config.Instance.UUID; s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("instance.uuid: %w", err)
		}
		return in.profiles.Ensure(id, instanceType, in.config.Instance.Flavor)
	}
	if doc, err := in.tree.Follow(ns, localTag); err == nil {
		return profile.New(doc), nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate instance uuid: %w", err)
	}
	return in.profiles.Ensure(id, instanceType, in.config.Instance.Flavor)
}

// Restore merges the newest checkpoint into the tree and rebinds the
// stores. It reports false when the journal holds no checkpoint.
func (in *Instance) Restore(ctx context.Context) (bool, error) {
	if in.journal == nil {
		return false, ErrNoJournal
	}

	restored := true
	cp, err := in.journal.Latest(ctx, oid.Root())
	switch {
	case errors.Is(err, journal.ErrNoCheckpoint):
		restored = false
	case err != nil:
		return false, fmt.Errorf("restore: %w", err)
	default:
		if err := in.tree.Merge(cp.Snapshot); err != nil {
			return false, fmt.Errorf("restore %s: %w", cp.ID, err)
		}
		in.logger.Info("state restored", "checkpoint", cp.ID, "seq", cp.Seq)
	}

	if err := in.bind(); err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	return restored, nil
}

// Checkpoint writes a full snapshot of the tree to the journal and prunes
// old checkpoints down to journal.keep.
func (in *Instance) Checkpoint(ctx context.Context) (journal.Checkpoint, error) {
	if in.journal == nil {
		return journal.Checkpoint{}, ErrNoJournal
	}
	snap, err := in.tree.Snapshot()
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("checkpoint: %w", err)
	}
	cp, err := in.journal.Write(ctx, oid.Root(), snap)
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("checkpoint: %w", err)
	}
	if keep := in.config.Journal.Keep; keep > 0 {
		if _, err := in.journal.Prune(ctx, oid.Root(), keep); err != nil {
			return cp, fmt.Errorf("checkpoint: %w", err)
		}
	}
	return cp, nil
}

// Close stops event delivery and closes the journal.
func (in *Instance) Close() error {
	if in.tree != nil {
		in.tree.Close()
	}
	if in.bus != nil {
		in.bus.Close()
	}
	if in.journal != nil {
		return in.journal.Close()
	}
	return nil
}

func (in *Instance) Config() *config.Config     { return in.config }
func (in *Instance) Schema() *schema.Schema     { return in.schema }
func (in *Instance) Tree() *state.Tree          { return in.tree }
func (in *Instance) Bus() *event.Bus            { return in.bus }
func (in *Instance) Journal() *journal.Journal  { return in.journal }
func (in *Instance) Profiles() *profile.Store   { return in.profiles }
func (in *Instance) Profile() *profile.Profile  { return in.local }
func (in *Instance) Plugins() *plugin.Store     { return in.plugins }
func (in *Instance) Users() *user.Store         { return in.users }
func (in *Instance) Registry() *plugin.Registry { return in.registry }
func (in *Instance) Logger() *slog.Logger       { return in.logger }
