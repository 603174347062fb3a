package plugin

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/sandpolis/sandpolis/internal/event"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
	"github.com/sandpolis/sandpolis/internal/testutil"
	"github.com/sandpolis/sandpolis/internal/trust"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) loaded() []LoadedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LoadedEvent
	for _, e := range r.events {
		if l, ok := e.(LoadedEvent); ok {
			out = append(out, l)
		}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *recorder) {
	t.Helper()
	tree := state.New(state.WithLogger(quietLogger()))
	t.Cleanup(tree.Close)

	rec := &recorder{}
	base := []Option{WithPublisher(rec), WithLogger(quietLogger())}
	return NewStore(tree.Root().Collection(1), append(base, opts...)...), rec
}

func artifact(t *testing.T, dir, id string) string {
	t.Helper()
	return testutil.WriteArtifact(t, dir, "sandpolis-plugin-"+id+".jar", testutil.ArtifactSpec{
		ID:        id,
		Name:      "Plugin " + id,
		Version:   "1.2.0",
		PackageID: "com.example",
	})
}

// counting registers a module for id that counts its invocations.
func counting(t *testing.T, r *Registry, id string) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	require.NoError(t, r.Register(id, ModuleFunc(func(context.Context, *Plugin) error {
		calls.Add(1)
		return nil
	})))
	return &calls
}

func TestStore_InstallAndLoad(t *testing.T) {
	registry := NewRegistry()
	calls := counting(t, registry, "com.example.a")
	s, rec := newTestStore(t, WithRegistry(registry))

	path := artifact(t, t.TempDir(), "com.example.a")
	p, installed, err := s.Install(path)
	require.NoError(t, err)
	require.True(t, installed)

	assert.Equal(t, "com.example.a", p.ID())
	assert.Equal(t, "1.2.0", p.Version())
	assert.Equal(t, "com.example", p.PackageID())
	assert.Equal(t, path, p.Path())
	assert.Len(t, p.Hash(), HashSize)
	assert.True(t, p.Enabled())
	assert.False(t, p.Loaded())
	assert.Equal(t, StateInstalled, p.State())

	outcome, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
	assert.Equal(t, StateLoaded, p.State())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []LoadedEvent{{PluginID: "com.example.a", Oid: p.Document().Oid()}}, rec.loaded())
	assert.Equal(t, []*Plugin{p}, s.Loaded())

	outcome, err = s.Load(context.Background(), p)
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
	assert.Equal(t, OutcomeAlreadyLoaded, outcome)
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, rec.loaded(), 1)
}

func TestNewStore_ResetsRestoredLoadedFlag(t *testing.T) {
	tree := state.New(state.WithLogger(quietLogger()))
	t.Cleanup(tree.Close)
	collection := tree.Root().Collection(1)

	registry := NewRegistry()
	counting(t, registry, "com.example.a")
	s := NewStore(collection, WithRegistry(registry), WithLogger(quietLogger()))
	p, _, err := s.Install(artifact(t, t.TempDir(), "com.example.a"))
	require.NoError(t, err)
	_, err = s.Load(context.Background(), p)
	require.NoError(t, err)
	require.True(t, p.Loaded())

	again := NewStore(collection, WithRegistry(registry), WithLogger(quietLogger()))
	restored, ok := again.GetByID("com.example.a")
	require.True(t, ok)
	assert.False(t, restored.Loaded())
	assert.Empty(t, again.Loaded())

	outcome, err := again.Load(context.Background(), restored)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
}

func TestStore_InstallTwiceIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	path := artifact(t, t.TempDir(), "com.example.a")

	first, installed, err := s.Install(path)
	require.NoError(t, err)
	require.True(t, installed)

	second, installed, err := s.Install(path)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Same(t, first.Document(), second.Document())
	assert.Equal(t, 1, s.Count())
}

func TestStore_InstallRejectsInvalidID(t *testing.T) {
	s, _ := newTestStore(t)
	path := artifact(t, t.TempDir(), "bad id!")

	_, _, err := s.Install(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidConfig)
	assert.Equal(t, 0, s.Count())
}

func TestStore_InstallRejectsInvalidUTF8(t *testing.T) {
	s, _ := newTestStore(t)
	dir := t.TempDir()

	named := testutil.WriteArtifact(t, dir, "sandpolis-plugin-named.jar", testutil.ArtifactSpec{
		ID:      "com.example.named",
		Name:    "bad \xff name",
		Version: "1.0.0",
	})
	_, _, err := s.Install(named)
	assert.ErrorIs(t, err, ErrManifestKey)

	pathed := artifact(t, dir, "com.example.pathed")
	renamed := filepath.Join(dir, "sandpolis-plugin-\xff.jar")
	require.NoError(t, os.Rename(pathed, renamed))
	_, _, err = s.Install(renamed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid UTF-8")

	assert.Equal(t, 0, s.Count())
}

func TestStore_TamperedArtifactStaysInstalled(t *testing.T) {
	registry := NewRegistry()
	calls := counting(t, registry, "com.example.a")
	s, rec := newTestStore(t, WithRegistry(registry))

	dir := t.TempDir()
	p, _, err := s.Install(artifact(t, dir, "com.example.a"))
	require.NoError(t, err)

	testutil.WriteArtifact(t, dir, "sandpolis-plugin-com.example.a.jar", testutil.ArtifactSpec{
		ID:          "com.example.a",
		Version:     "1.2.0",
		Description: "swapped after install",
	})

	outcome, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHashMismatch, outcome)
	assert.Equal(t, StateInstalled, p.State())
	assert.Zero(t, calls.Load())
	assert.Empty(t, rec.loaded())
}

func TestStore_MissingArtifact(t *testing.T) {
	s, rec := newTestStore(t)
	path := artifact(t, t.TempDir(), "com.example.a")
	p, _, err := s.Install(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	outcome, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArtifactUnreadable, outcome)
	assert.False(t, p.Loaded())
	assert.Empty(t, rec.loaded())
}

func TestStore_CertificateGate(t *testing.T) {
	trusted := testutil.SelfSignedCertificate(t, "trusted.example.com")
	untrusted := testutil.SelfSignedCertificate(t, "untrusted.example.com")

	verifier, err := trust.Compile(trust.EngineCEL, `cert.present && cert.common_name == "trusted.example.com"`,
		trust.WithLogger(quietLogger()))
	require.NoError(t, err)

	tests := []struct {
		name string
		der  []byte
		want Outcome
	}{
		{"trusted", trusted.DER, OutcomeLoaded},
		{"untrusted", untrusted.DER, OutcomeCertificateRejected},
		{"unsigned", nil, OutcomeCertificateRejected},
		{"garbage", []byte{0x30, 0x03, 0x02, 0x01}, OutcomeCertificateInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			counting(t, registry, "com.example.signed")
			s, rec := newTestStore(t, WithRegistry(registry), WithVerifier(verifier))

			path := testutil.WriteArtifact(t, t.TempDir(), "sandpolis-plugin-signed.jar", testutil.ArtifactSpec{
				ID:          "com.example.signed",
				Version:     "1.0.0",
				Certificate: tt.der,
			})
			p, _, err := s.Install(path)
			require.NoError(t, err)

			outcome, err := s.Load(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, tt.want == OutcomeLoaded, p.Loaded())
			assert.Len(t, rec.loaded(), map[bool]int{true: 1, false: 0}[tt.want == OutcomeLoaded])
		})
	}
}

func TestStore_DefaultVerifierSeesNilForUnsigned(t *testing.T) {
	var seen []*x509.Certificate
	registry := NewRegistry()
	counting(t, registry, "com.example.a")
	s, _ := newTestStore(t, WithRegistry(registry), WithVerifier(func(c *x509.Certificate) bool {
		seen = append(seen, c)
		return trust.AcceptAll(c)
	}))

	p, _, err := s.Install(artifact(t, t.TempDir(), "com.example.a"))
	require.NoError(t, err)

	outcome, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
	require.Len(t, seen, 1)
	assert.Nil(t, seen[0])
}

func TestStore_DisabledAndNoEntryPoint(t *testing.T) {
	s, rec := newTestStore(t)
	p, _, err := s.Install(artifact(t, t.TempDir(), "com.example.a"))
	require.NoError(t, err)

	require.NoError(t, s.Disable("com.example.a"))
	assert.Equal(t, StateDisabled, p.State())
	outcome, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, outcome)

	require.NoError(t, s.Enable("com.example.a"))
	outcome, err = s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEntryPoint, outcome)
	assert.Equal(t, StateInstalled, p.State())
	assert.Empty(t, rec.loaded())

	assert.ErrorIs(t, s.Enable("com.example.missing"), ErrNotFound)
	assert.ErrorIs(t, s.Disable("com.example.missing"), ErrNotFound)
}

func TestStore_LoadPluginsIsolatesFailures(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("com.example.fails", ModuleFunc(func(context.Context, *Plugin) error {
		return errors.New("boom")
	})))
	require.NoError(t, registry.Register("com.example.panics", ModuleFunc(func(context.Context, *Plugin) error {
		panic("kaboom")
	})))
	calls := counting(t, registry, "com.example.works")
	s, rec := newTestStore(t, WithRegistry(registry))

	dir := t.TempDir()
	for _, id := range []string{"com.example.fails", "com.example.panics", "com.example.works", "com.example.orphan"} {
		_, _, err := s.Install(artifact(t, dir, id))
		require.NoError(t, err)
	}

	outcomes := make(map[string]Outcome)
	for _, r := range s.LoadPlugins(context.Background()) {
		outcomes[r.PluginID] = r.Outcome
	}
	assert.Equal(t, map[string]Outcome{
		"com.example.fails":  OutcomeEntryPointFailed,
		"com.example.panics": OutcomeEntryPointFailed,
		"com.example.works":  OutcomeLoaded,
		"com.example.orphan": OutcomeNoEntryPoint,
	}, outcomes)
	assert.Equal(t, int32(1), calls.Load())

	loaded := s.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "com.example.works", loaded[0].ID())
	assert.Len(t, rec.loaded(), 1)

	// A second pass retries only what is not loaded.
	again := s.LoadPlugins(context.Background())
	assert.Len(t, again, 3)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_ScanDirectory(t *testing.T) {
	s, _ := newTestStore(t)
	dir := t.TempDir()

	first := testutil.WriteArtifact(t, dir, "sandpolis-plugin-a-1.jar", testutil.ArtifactSpec{ID: "com.example.a", Version: "1.0.0"})
	second := testutil.WriteArtifact(t, dir, "sandpolis-plugin-a-2.jar", testutil.ArtifactSpec{ID: "com.example.a", Version: "2.0.0"})
	other := testutil.WriteArtifact(t, dir, "sandpolis-plugin-b.jar", testutil.ArtifactSpec{ID: "com.example.b", Version: "1.0.0"})
	broken := filepath.Join(dir, "sandpolis-plugin-broken.jar")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sandpolis-plugin-dir"), 0o755))

	report, err := s.ScanDirectory(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"com.example.a", "com.example.b"}, report.Installed)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []Duplicate{{ID: "com.example.a", Paths: []string{first, second}, Chosen: first}}, report.Duplicates)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, broken, report.Failures[0].Path)
	assert.Equal(t, 2, s.Count())

	a, ok := s.GetByID("com.example.a")
	require.True(t, ok)
	assert.Equal(t, first, a.Path())
	assert.Equal(t, "1.0.0", a.Version())

	// Rescanning installs nothing new.
	report, err = s.ScanDirectory(dir)
	require.NoError(t, err)
	assert.Empty(t, report.Installed)
	assert.Equal(t, []string{first, second, other}, report.Skipped)
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, first, report.Duplicates[0].Chosen)
	assert.Equal(t, 2, s.Count())
}

func TestStore_ScanMissingDirectory(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ScanDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStore_LookupAndRemove(t *testing.T) {
	s, _ := newTestStore(t)
	dir := t.TempDir()
	_, _, err := s.Install(artifact(t, dir, "com.example.a"))
	require.NoError(t, err)

	p, ok := s.GetByPackageID("com.example")
	require.True(t, ok)
	assert.Equal(t, "com.example.a", p.ID())

	_, ok = s.GetByPackageID("org.other")
	assert.False(t, ok)

	removed, err := s.Remove("com.example.a")
	require.NoError(t, err)
	assert.Same(t, p.Document(), removed.Document())
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.All())

	_, err = s.Remove("com.example.a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := ModuleFunc(func(context.Context, *Plugin) error { return nil })

	require.NoError(t, r.Register("b", noop))
	require.NoError(t, r.Register("a", noop))
	assert.Error(t, r.Register("a", noop))
	assert.Error(t, r.Register("c", nil))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	_, ok := r.Lookup("c")
	assert.False(t, ok)
}

func TestHashArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	sum, err := HashArtifact(path)
	require.NoError(t, err)
	assert.Len(t, sum, HashSize)

	plain := blake3.Sum256([]byte("payload"))
	assert.NotEqual(t, plain[:], sum)

	ok, err := VerifyHash(path, sum)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("payload!"), 0o644))
	ok, err = VerifyHash(path, sum)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = HashArtifact(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
