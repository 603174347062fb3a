package plugin

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
	"github.com/sandpolis/sandpolis/internal/trust"
)

// ArtifactPrefix is the filename prefix ScanDirectory looks for.
const ArtifactPrefix = "sandpolis-plugin-"

var (
	// ErrAlreadyLoaded is returned by Load for a plugin that is loaded.
	ErrAlreadyLoaded = errors.New("plugin: already loaded")

	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("plugin: not found")
)

// TopicPluginLoaded is the topic of LoadedEvent.
const TopicPluginLoaded = "plugin.loaded"

// LoadedEvent is published once a plugin passes every gate of Load.
type LoadedEvent struct {
	PluginID string
	Oid      oid.Oid
}

func (LoadedEvent) Topic() string { return TopicPluginLoaded }

// Outcome is the result of Load.
type Outcome int

const (
	OutcomeLoaded Outcome = iota
	OutcomeAlreadyLoaded
	OutcomeDisabled
	OutcomeArtifactUnreadable
	OutcomeHashMismatch
	OutcomeCertificateInvalid
	OutcomeCertificateRejected
	OutcomeNoEntryPoint
	OutcomeEntryPointFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeAlreadyLoaded:
		return "already-loaded"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeArtifactUnreadable:
		return "artifact-unreadable"
	case OutcomeHashMismatch:
		return "hash-mismatch"
	case OutcomeCertificateInvalid:
		return "certificate-invalid"
	case OutcomeCertificateRejected:
		return "certificate-rejected"
	case OutcomeNoEntryPoint:
		return "no-entry-point"
	case OutcomeEntryPointFailed:
		return "entry-point-failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Store manages the plugin records of one profile.
type Store struct {
	records   *store.Store[*Plugin]
	registry  *Registry
	verifier  trust.Verifier
	publisher state.Publisher
	logger    *slog.Logger

	// mu serializes Install and Load.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithVerifier sets the certificate trust predicate. The default accepts
// every certificate.
func WithVerifier(v trust.Verifier) Option {
	return func(s *Store) {
		s.verifier = v
	}
}

// WithRegistry sets the extension entry points.
func WithRegistry(r *Registry) Option {
	return func(s *Store) {
		s.registry = r
	}
}

// WithPublisher sets the destination of LoadedEvent.
func WithPublisher(p state.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore binds a plugin Store to collection. Records restored with the
// loaded flag set are reset to not loaded: entry points run in this
// process only.
func NewStore(collection *state.Collection, opts ...Option) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.verifier == nil {
		s.logger.Warn("no plugin trust verifier configured; accepting all certificates")
		s.verifier = trust.AcceptAll
	}
	s.records = store.New(collection, New, store.WithLogger(s.logger))
	for _, p := range s.records.Filter(func(p *Plugin) bool { return p.Loaded() }) {
		s.logger.Debug("resetting loaded flag of restored plugin", "plugin_id", p.ID())
		p.setLoaded(false)
	}
	return s
}

// Registry returns the store's extension entry points.
func (s *Store) Registry() *Registry { return s.registry }

// Count returns the number of plugin records.
func (s *Store) Count() int { return s.records.Count() }

// All returns every plugin record.
func (s *Store) All() []*Plugin {
	return s.records.Filter(func(*Plugin) bool { return true })
}

// GetByID returns the record with the given plugin id.
func (s *Store) GetByID(id string) (*Plugin, bool) {
	return s.records.Find(func(p *Plugin) bool { return p.ID() == id })
}

// GetByPackageID returns a record with the given package id.
func (s *Store) GetByPackageID(packageID string) (*Plugin, bool) {
	return s.records.Find(func(p *Plugin) bool { return p.PackageID() == packageID })
}

// Loaded returns the enabled plugins whose extensions are active.
func (s *Store) Loaded() []*Plugin {
	return s.records.Filter(func(p *Plugin) bool { return p.Enabled() && p.Loaded() })
}

// Install records the artifact at path. When a record with the
// artifact's plugin id exists, Install does nothing and returns that
// record with installed false.
func (s *Store) Install(path string) (p *Plugin, installed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("installing plugin", "path", path)

	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, false, fmt.Errorf("install: %w", err)
	}
	if existing, ok := s.GetByID(manifest.ID); ok {
		s.logger.Debug("plugin already installed",
			"plugin_id", manifest.ID,
			"path", path)
		return existing, false, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("install: %w", err)
	}
	if !utf8.ValidString(abs) {
		return nil, false, fmt.Errorf("install: path %q is not valid UTF-8", abs)
	}
	hash, err := HashArtifact(abs)
	if err != nil {
		return nil, false, fmt.Errorf("install: %w", err)
	}

	p, err = s.records.Create(func(p *Plugin) {
		p.SetID(manifest.ID)
		p.SetPackageID(manifest.PackageID)
		p.SetVersion(manifest.Version)
		p.SetName(manifest.Name)
		p.SetDescription(manifest.Description)
		p.SetPath(abs)
		p.SetHash(hash)
		p.SetCertificate(manifest.Certificate)
		p.SetEnabled(true)
		p.setLoaded(false)
	})
	if err != nil {
		return nil, false, fmt.Errorf("install %s: %w", manifest.ID, err)
	}

	s.logger.Info("plugin installed",
		"plugin_id", p.ID(),
		"version", p.Version(),
		"path", abs)
	return p, true, nil
}

// Load verifies p and runs its entry point. Verification failures are
// logged and reported through the Outcome; p stays Installed. The only
// error is ErrAlreadyLoaded.
func (s *Store) Load(ctx context.Context, p *Plugin) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := p.ID()
	if p.Loaded() {
		return OutcomeAlreadyLoaded, fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	if !p.Enabled() {
		s.logger.Info("plugin disabled; not loading", "plugin_id", id)
		return OutcomeDisabled, nil
	}

	match, err := VerifyHash(p.Path(), p.Hash())
	if err != nil {
		s.logger.Error("failed to hash plugin artifact",
			"plugin_id", id,
			"path", p.Path(),
			"error", err)
		return OutcomeArtifactUnreadable, nil
	}
	if !match {
		s.logger.Error("plugin artifact hash does not match the installed hash",
			"plugin_id", id,
			"path", p.Path())
		return OutcomeHashMismatch, nil
	}

	var cert *x509.Certificate
	if der := p.Certificate(); len(der) > 0 {
		cert, err = x509.ParseCertificate(der)
		if err != nil {
			s.logger.Error("failed to parse plugin certificate",
				"plugin_id", id,
				"error", err)
			return OutcomeCertificateInvalid, nil
		}
	}
	if !s.verifier(cert) {
		s.logger.Error("plugin certificate rejected", "plugin_id", id)
		return OutcomeCertificateRejected, nil
	}

	module, ok := s.registry.Lookup(id)
	if !ok {
		s.logger.Error("no entry point registered for plugin", "plugin_id", id)
		return OutcomeNoEntryPoint, nil
	}

	s.logger.Debug("loading plugin", "plugin_id", id, "name", p.Name())
	if err := runEntryPoint(ctx, module, p); err != nil {
		s.logger.Error("plugin entry point failed",
			"plugin_id", id,
			"error", err)
		return OutcomeEntryPointFailed, nil
	}

	p.setLoaded(true)
	s.logger.Info("plugin loaded", "plugin_id", id)
	if s.publisher != nil {
		s.publisher.Publish(LoadedEvent{PluginID: id, Oid: p.Document().Oid()})
	}
	return OutcomeLoaded, nil
}

func runEntryPoint(ctx context.Context, m Module, p *Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entry point panic: %v", r)
		}
	}()
	return m.Load(ctx, p)
}

// LoadResult is the outcome of loading one plugin in LoadPlugins.
type LoadResult struct {
	PluginID string
	Outcome  Outcome
}

// LoadPlugins loads every enabled plugin that is not loaded. A failure in
// one plugin does not stop the others.
func (s *Store) LoadPlugins(ctx context.Context) []LoadResult {
	pending := s.records.Filter(func(p *Plugin) bool { return p.Enabled() && !p.Loaded() })

	results := make([]LoadResult, 0, len(pending))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("plugin loading interrupted", "error", err)
			break
		}
		outcome, err := s.Load(ctx, p)
		if err != nil {
			// Loaded concurrently since the filter ran.
			s.logger.Debug("skipping plugin", "plugin_id", p.ID(), "reason", err)
		}
		results = append(results, LoadResult{PluginID: p.ID(), Outcome: outcome})
	}
	return results
}

// ScanFailure is an artifact ScanDirectory could not process.
type ScanFailure struct {
	Path string
	Err  error
}

// Duplicate reports several artifacts that declare the same plugin id.
// Only Chosen is installed; which one is chosen follows directory order
// and is not a version comparison.
type Duplicate struct {
	ID     string
	Paths  []string
	Chosen string
}

// ScanReport summarizes ScanDirectory.
type ScanReport struct {
	Installed  []string // plugin ids
	Skipped    []string // artifact paths whose id was already installed
	Failures   []ScanFailure
	Duplicates []Duplicate
}

// ScanDirectory installs every artifact in dir named ArtifactPrefix*
// whose plugin id has no record. Per-artifact failures go to the report;
// the error is returned only when dir cannot be read.
func (s *Store) ScanDirectory(dir string) (ScanReport, error) {
	var report ScanReport

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("scan plugin directory: %w", err)
	}

	var order []string
	byID := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ArtifactPrefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		id, err := ReadID(path)
		if err != nil {
			s.logger.Warn("skipping unreadable plugin artifact",
				"path", path,
				"error", err)
			report.Failures = append(report.Failures, ScanFailure{Path: path, Err: err})
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = append(byID[id], path)
	}

	for _, id := range order {
		paths := byID[id]

		existing, installed := s.GetByID(id)
		if installed {
			report.Skipped = append(report.Skipped, paths...)
		}
		if len(paths) > 1 {
			chosen := paths[0]
			if installed {
				chosen = existing.Path()
			}
			s.logger.Warn("several artifacts share one plugin id",
				"plugin_id", id,
				"paths", paths,
				"chosen", chosen)
			report.Duplicates = append(report.Duplicates, Duplicate{ID: id, Paths: paths, Chosen: chosen})
		}
		if installed {
			continue
		}

		p, ok, err := s.Install(paths[0])
		if err != nil {
			s.logger.Warn("failed to install plugin artifact",
				"plugin_id", id,
				"path", paths[0],
				"error", err)
			report.Failures = append(report.Failures, ScanFailure{Path: paths[0], Err: err})
			continue
		}
		if ok {
			report.Installed = append(report.Installed, p.ID())
		}
	}
	return report, nil
}

// Enable allows the plugin with id to load.
func (s *Store) Enable(id string) error {
	p, ok := s.GetByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.SetEnabled(true)
	s.logger.Info("plugin enabled", "plugin_id", id)
	return nil
}

// Disable blocks the plugin with id from loading. Extensions that are
// already active stay active.
func (s *Store) Disable(id string) error {
	p, ok := s.GetByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.SetEnabled(false)
	s.logger.Info("plugin disabled", "plugin_id", id)
	return nil
}

// Remove deletes the record with id. This is the only way a record is
// destroyed.
func (s *Store) Remove(id string) (*Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed, _ := s.records.Remove(p.Tag())
	s.logger.Info("plugin removed", "plugin_id", id, "path", p.Path())
	return removed, nil
}
