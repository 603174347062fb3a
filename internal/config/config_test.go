package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/testutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandpolis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Instance.Type)
	assert.Equal(t, codec.CompressionZstd, cfg.Compression())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, filepath.Join(cfg.Paths.Root, "plugins"), cfg.Paths.Plugins)
	assert.Contains(t, cfg.Warnings(), "trust.engine is none: every plugin certificate is accepted (INSECURE)")
}

func TestLoad_OverridesAndExpansion(t *testing.T) {
	path := writeConfig(t, `
instance:
  type: agent
paths:
  root: /srv/sandpolis
  plugins: ${SANDPOLIS_ROOT}/plugins
  journal: ${SANDPOLIS_ROOT}/state/${JOURNAL_NAME:-journal.db}
trust:
  engine: cel
  expression: cert.present && cert.common_name == "plugins.example.com"
journal:
  compression: lz4
  keep: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agent", cfg.Instance.Type)
	assert.Equal(t, "vanilla", cfg.Instance.Flavor, "unset keys keep defaults")
	assert.Equal(t, "/srv/sandpolis/plugins", cfg.Paths.Plugins)
	assert.Equal(t, "/srv/sandpolis/state/journal.db", cfg.Paths.Journal)
	assert.Equal(t, codec.CompressionLZ4, cfg.Compression())
	assert.Equal(t, 4, cfg.Journal.Keep)
	assert.Empty(t, cfg.Warnings())

	verify, err := cfg.Verifier()
	require.NoError(t, err)
	assert.True(t, verify(testutil.SelfSignedCertificate(t, "plugins.example.com").Certificate))
	assert.False(t, verify(testutil.SelfSignedCertificate(t, "evil.example.com").Certificate))
	assert.False(t, verify(nil))
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"instance type", "instance: {type: toaster}", "instance.type must be one of"},
		{"engine", "trust: {engine: lua}", "trust.engine"},
		{"missing expression", "trust: {engine: expr}", "trust.expression is required for engine expr"},
		{"compression", "journal: {compression: brotli}", "journal.compression"},
		{"keep", "journal: {keep: -1}", "journal.keep must not be negative"},
		{"level", "log: {level: trace}", "log.level must be one of"},
		{"plugins", "paths: {plugins: ''}", "paths.plugins is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	_, err := Load(writeConfig(t, "journal: {keep: -1}\nlog: {level: loud}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal.keep")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "paths: [unclosed"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvVar, "/etc/sandpolis/env.yaml")
	assert.Equal(t, "/etc/sandpolis/flag.yaml", Path("/etc/sandpolis/flag.yaml"))
	assert.Equal(t, "/etc/sandpolis/env.yaml", Path(""))

	t.Setenv(EnvVar, "")
	assert.Empty(t, Path(""))
}

func TestLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		cfg := Default()
		cfg.Log.Level = name
		assert.Equal(t, want, cfg.Level(), name)
	}
}
