package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sandpolis/sandpolis/internal/config"
	"github.com/sandpolis/sandpolis/internal/instance"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the Sandpolis CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sandpolis",
		Short: "Sandpolis instance state and plugin management",
		Long: `Inspect and manage the state tree of a Sandpolis instance.

The state tree is restored from the checkpoint journal named in the
configuration file. Commands that change state write a new checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $"+config.EnvVar+")")

	cmd.AddCommand(NewOidCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewPluginCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // diagnostics go to stderr to keep JSON clean
		Verbose:   o.Verbose,
	}
}

// loadConfig loads the file named by --config or SANDPOLIS_CONFIG, or
// returns Default when neither is set.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	path := config.Path(o.ConfigPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openInstance loads the configuration and restores the instance. Errors
// are reported through f.
func (o *RootOptions) openInstance(cmd *cobra.Command, f *OutputFormatter) (*instance.Instance, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	in, err := instance.New(cmd.Context(), cfg, instance.WithLogger(o.logger(cmd, cfg)))
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeIO, "failed to open instance", err)
	}
	return in, nil
}
