package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/trust"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "SANDPOLIS_CONFIG"

// Config is the configuration of one Sandpolis instance.
type Config struct {
	// Instance identifies the local instance.
	Instance InstanceConfig `yaml:"instance"`

	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Trust configures plugin certificate verification.
	Trust TrustConfig `yaml:"trust"`

	// Journal configures checkpoint storage.
	Journal JournalConfig `yaml:"journal"`

	// Log configures the default logger.
	Log LogConfig `yaml:"log"`
}

// InstanceConfig identifies the local instance.
type InstanceConfig struct {
	// Type is server, agent or client.
	// Default: server
	Type string `yaml:"type"`

	// Flavor names the implementation variant.
	// Default: vanilla
	Flavor string `yaml:"flavor"`

	// UUID pins the instance uuid. Empty means the journal's, or a new one.
	UUID string `yaml:"uuid"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for instance data.
	Root string `yaml:"root"`

	// Plugins is the directory scanned for plugin artifacts.
	Plugins string `yaml:"plugins"`

	// Journal is the SQLite checkpoint file. Empty disables the journal.
	Journal string `yaml:"journal"`
}

// TrustConfig configures plugin certificate verification.
type TrustConfig struct {
	// Engine is none, cel or expr. none accepts every certificate and
	// is INSECURE.
	// Default: none
	Engine string `yaml:"engine"`

	// Expression is the policy evaluated by the engine.
	Expression string `yaml:"expression"`
}

// JournalConfig configures checkpoint storage.
type JournalConfig struct {
	// Compression is none, lz4 or zstd.
	// Default: zstd
	Compression string `yaml:"compression"`

	// Keep is how many checkpoints Checkpoint retains. 0 keeps all.
	// Default: 16
	Keep int `yaml:"keep"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration, the base a config file is
// loaded onto.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "sandpolis")

	return &Config{
		Instance: InstanceConfig{
			Type:   "server",
			Flavor: "vanilla",
		},
		Paths: PathsConfig{
			Root:    root,
			Plugins: filepath.Join(root, "plugins"),
			Journal: filepath.Join(root, "journal.db"),
		},
		Trust: TrustConfig{
			Engine: string(trust.EngineNone),
		},
		Journal: JournalConfig{
			Compression: codec.CompressionZstd.String(),
			Keep:        16,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Path returns flag when set, else the SANDPOLIS_CONFIG value.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvVar)
}

// Load reads the file at path onto Default, expands ${HOME} style
// variables in paths and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SANDPOLIS_ROOT"] = c.Paths.Root

	c.Paths.Plugins = expandVars(c.Paths.Plugins, vars)
	c.Paths.Journal = expandVars(c.Paths.Journal, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Instance.Type {
	case "server", "agent", "client":
	default:
		errs = append(errs, fmt.Errorf("instance.type must be one of: server, agent, client"))
	}

	if c.Paths.Plugins == "" {
		errs = append(errs, errors.New("paths.plugins is required"))
	}

	engine, err := trust.ParseEngine(c.Trust.Engine)
	if err != nil {
		errs = append(errs, fmt.Errorf("trust.engine: %w", err))
	} else if engine != trust.EngineNone && strings.TrimSpace(c.Trust.Expression) == "" {
		errs = append(errs, fmt.Errorf("trust.expression is required for engine %s", engine))
	}

	if _, err := codec.ParseCompression(c.Journal.Compression); err != nil {
		errs = append(errs, fmt.Errorf("journal.compression: %w", err))
	}
	if c.Journal.Keep < 0 {
		errs = append(errs, errors.New("journal.keep must not be negative"))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but unsafe.
func (c *Config) Warnings() []string {
	var out []string
	if engine, err := trust.ParseEngine(c.Trust.Engine); err == nil && engine == trust.EngineNone {
		out = append(out, "trust.engine is none: every plugin certificate is accepted (INSECURE)")
	}
	if c.Paths.Journal == "" {
		out = append(out, "paths.journal is empty: state is not persisted")
	}
	return out
}

// Compression returns the parsed journal compression.
func (c *Config) Compression() codec.CompressionTag {
	tag, _ := codec.ParseCompression(c.Journal.Compression)
	return tag
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
}

// Verifier compiles the trust policy.
func (c *Config) Verifier(opts ...trust.Option) (trust.Verifier, error) {
	engine, err := trust.ParseEngine(c.Trust.Engine)
	if err != nil {
		return nil, err
	}
	return trust.Compile(engine, c.Trust.Expression, opts...)
}
