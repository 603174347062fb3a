package instance

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/config"
	"github.com/sandpolis/sandpolis/internal/event"
	"github.com/sandpolis/sandpolis/internal/plugin"
	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, withJournal bool) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	cfg.Paths.Plugins = filepath.Join(cfg.Paths.Root, "plugins")
	cfg.Paths.Journal = ""
	if withJournal {
		cfg.Paths.Journal = filepath.Join(cfg.Paths.Root, "state", "journal.db")
	}
	return cfg
}

func newTestInstance(t *testing.T, cfg *config.Config, opts ...Option) (*Instance, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	base := []Option{WithLogger(quietLogger()), WithClock(clock)}
	in, err := New(context.Background(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in, clock
}

func TestNew_WithoutJournal(t *testing.T) {
	in, _ := newTestInstance(t, testConfig(t, false))
	ctx := context.Background()

	p := in.Profile()
	require.NotNil(t, p)
	assert.NotEqual(t, uuid.Nil, p.UUID())
	assert.Equal(t, "server", string(p.InstanceType()))
	assert.Equal(t, "vanilla", p.Flavor())
	start, ok := p.StartTime()
	require.True(t, ok)
	assert.True(t, start.Equal(testutil.Epoch))
	assert.Equal(t, 1, in.Profiles().Count())

	_, err := in.Checkpoint(ctx)
	assert.ErrorIs(t, err, ErrNoJournal)
	_, err = in.Restore(ctx)
	assert.ErrorIs(t, err, ErrNoJournal)
}

func TestNew_PinnedUUID(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Instance.UUID = "0190b2f4-6c1e-7a3b-9d2e-4f5a6b7c8d9e"
	cfg.Instance.Type = "agent"

	in, _ := newTestInstance(t, cfg)
	assert.Equal(t, cfg.Instance.UUID, in.Profile().UUID().String())
	assert.Equal(t, "agent", string(in.Profile().InstanceType()))
}

func TestCheckpointAndRestore(t *testing.T) {
	cfg := testConfig(t, true)
	ctx := context.Background()

	first, _ := newTestInstance(t, cfg)
	_, err := first.Users().Create("admin", "hunter22", nil)
	require.NoError(t, err)
	artifact := testutil.WriteArtifact(t, t.TempDir(), "sandpolis-plugin-a.jar", testutil.ArtifactSpec{
		ID:      "com.example.a",
		Version: "1.0.0",
	})
	installed, _, err := first.Plugins().Install(artifact)
	require.NoError(t, err)

	cp, err := first.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Seq)
	id := first.Profile().UUID()
	require.NoError(t, first.Close())

	second, _ := newTestInstance(t, cfg)
	assert.Equal(t, id, second.Profile().UUID())
	assert.Equal(t, 1, second.Profiles().Count())

	admin, ok := second.Users().GetByUsername("admin")
	require.True(t, ok)
	assert.True(t, admin.CheckPassword("hunter22"))

	p, ok := second.Plugins().GetByID("com.example.a")
	require.True(t, ok)
	assert.Equal(t, installed.Hash(), p.Hash())
	assert.Equal(t, plugin.StateInstalled, p.State())

	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, id, second.Profile().UUID())
}

func TestCheckpoint_Prunes(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.Journal.Keep = 2
	in, clock := newTestInstance(t, cfg)
	ctx := context.Background()

	for range 3 {
		clock.Advance(time.Second)
		_, err := in.Checkpoint(ctx)
		require.NoError(t, err)
	}

	list, err := in.Journal().List(ctx, in.Tree().Root().Oid())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].Seq)
}

func TestRetentionPolicy(t *testing.T) {
	s := schema.Core()
	policy := RetentionPolicy(s)

	r, ok := policy(s.MustResolve("/profile/1/user/1/login_time"))
	require.True(t, ok)
	assert.Equal(t, state.ItemLimited(10), r)

	r, ok = policy(s.MustResolve("/profile/1/online"))
	require.True(t, ok)
	assert.Equal(t, state.ItemLimited(32), r)

	_, ok = policy(s.MustResolve("/profile/1/uuid"))
	assert.False(t, ok)
}

func TestInstance_SchemaRetentionApplies(t *testing.T) {
	in, clock := newTestInstance(t, testConfig(t, false))
	u, err := in.Users().Create("admin", "hunter22", nil)
	require.NoError(t, err)

	for range 12 {
		clock.Advance(time.Minute)
		_, err := in.Users().Authenticate("admin", "hunter22")
		require.NoError(t, err)
	}
	assert.Len(t, u.Logins(), 11, "current login plus ten retained")
}

func TestInstance_PublishesPluginLoaded(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register("com.example.a", plugin.ModuleFunc(func(context.Context, *plugin.Plugin) error {
		return nil
	})))
	in, _ := newTestInstance(t, testConfig(t, false), WithRegistry(registry))

	var mu sync.Mutex
	var loaded []plugin.LoadedEvent
	cancel := in.Bus().Subscribe(func(e event.Event) {
		if l, ok := e.(plugin.LoadedEvent); ok {
			mu.Lock()
			loaded = append(loaded, l)
			mu.Unlock()
		}
	})
	defer cancel()

	artifact := testutil.WriteArtifact(t, t.TempDir(), "sandpolis-plugin-a.jar", testutil.ArtifactSpec{
		ID:      "com.example.a",
		Version: "1.0.0",
	})
	p, _, err := in.Plugins().Install(artifact)
	require.NoError(t, err)

	results := in.Plugins().LoadPlugins(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, plugin.OutcomeLoaded, results[0].Outcome)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, loaded, 1)
	assert.Equal(t, "com.example.a", loaded[0].PluginID)
	assert.True(t, loaded[0].Oid.Equal(p.Document().Oid()))
}
