package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sandpolis/sandpolis/internal/instance"
	"github.com/sandpolis/sandpolis/internal/plugin"
)

// PluginView is one plugin record.
type PluginView struct {
	ID        string `json:"id"`
	PackageID string `json:"package_id"`
	Version   string `json:"version"`
	Name      string `json:"name,omitempty"`
	Path      string `json:"path"`
	State     string `json:"state"`
	Signed    bool   `json:"signed"`
}

func viewPlugin(p *plugin.Plugin) PluginView {
	return PluginView{
		ID:        p.ID(),
		PackageID: p.PackageID(),
		Version:   p.Version(),
		Name:      p.Name(),
		Path:      p.Path(),
		State:     p.State().String(),
		Signed:    len(p.Certificate()) > 0,
	}
}

func (v PluginView) String() string {
	return fmt.Sprintf("%s %s (%s) %s", v.ID, v.Version, v.State, v.Path)
}

// PluginList is the result of plugin list.
type PluginList struct {
	Plugins []PluginView `json:"plugins"`
}

func (l PluginList) String() string {
	if len(l.Plugins) == 0 {
		return "no plugins installed"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tSIGNED\tPATH")
	for _, p := range l.Plugins {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Version, p.State, p.Signed, p.Path)
	}
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

// ScanResult is the result of plugin scan.
type ScanResult struct {
	Directory  string          `json:"directory"`
	Installed  []string        `json:"installed"`
	Skipped    []string        `json:"skipped,omitempty"`
	Failures   []ScanFailure   `json:"failures,omitempty"`
	Duplicates []ScanDuplicate `json:"duplicates,omitempty"`
}

// ScanFailure is an artifact that could not be installed.
type ScanFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScanDuplicate lists artifacts that share a plugin id.
type ScanDuplicate struct {
	ID     string   `json:"id"`
	Paths  []string `json:"paths"`
	Chosen string   `json:"chosen"`
}

func newScanResult(dir string, r plugin.ScanReport) ScanResult {
	res := ScanResult{
		Directory: dir,
		Installed: r.Installed,
		Skipped:   r.Skipped,
	}
	if res.Installed == nil {
		res.Installed = []string{}
	}
	for _, f := range r.Failures {
		res.Failures = append(res.Failures, ScanFailure{Path: f.Path, Error: f.Err.Error()})
	}
	for _, d := range r.Duplicates {
		res.Duplicates = append(res.Duplicates, ScanDuplicate{ID: d.ID, Paths: d.Paths, Chosen: d.Chosen})
	}
	return res
}

func (r ScanResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d installed, %d skipped, %d failed", r.Directory, len(r.Installed), len(r.Skipped), len(r.Failures))
	for _, id := range r.Installed {
		fmt.Fprintf(&b, "\n  installed %s", id)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n  failed %s: %s", f.Path, f.Error)
	}
	for _, d := range r.Duplicates {
		fmt.Fprintf(&b, "\n  duplicate %s: chose %s", d.ID, d.Chosen)
	}
	return b.String()
}

// LoadView is the outcome of loading one plugin.
type LoadView struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// LoadResult is the result of plugin load.
type LoadResult struct {
	Results []LoadView `json:"results"`
}

func (r LoadResult) String() string {
	if len(r.Results) == 0 {
		return "nothing to load"
	}
	lines := make([]string, 0, len(r.Results))
	for _, v := range r.Results {
		lines = append(lines, v.ID+": "+v.Outcome)
	}
	return strings.Join(lines, "\n")
}

func (r LoadResult) failed() int {
	n := 0
	for _, v := range r.Results {
		if v.Outcome != plugin.OutcomeLoaded.String() && v.Outcome != plugin.OutcomeAlreadyLoaded.String() {
			n++
		}
	}
	return n
}

// NewPluginCommand creates the plugin command group.
func NewPluginCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugin records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, false, func(in *instance.Instance, f *OutputFormatter) error {
				list := PluginList{Plugins: []PluginView{}}
				for _, p := range in.Plugins().All() {
					list.Plugins = append(list.Plugins, viewPlugin(p))
				}
				return f.Success(list)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scan [dir]",
		Short: "Install every plugin artifact in a directory",
		Long: `Install every artifact named sandpolis-plugin-* in a directory.

The directory defaults to paths.plugins from the configuration. Artifacts
whose plugin id is already installed are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, true, func(in *instance.Instance, f *OutputFormatter) error {
				dir := in.Config().Paths.Plugins
				if len(args) == 1 {
					dir = args[0]
				}
				report, err := in.Plugins().ScanDirectory(dir)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeIO, "failed to scan plugin directory", err)
				}
				return f.Success(newScanResult(dir, report))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install <artifact>",
		Short: "Install one plugin artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, true, func(in *instance.Instance, f *OutputFormatter) error {
				p, installed, err := in.Plugins().Install(args[0])
				if err != nil {
					return f.Fail(ExitFailure, ErrCodeInvalid, "failed to install plugin", err)
				}
				if !installed {
					in.Logger().Info("plugin already installed", "plugin_id", p.ID())
				}
				return f.Success(viewPlugin(p))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load [id...]",
		Short: "Load plugins",
		Long: `Load the named plugins, or every enabled plugin that is not loaded.

Exits with status 1 when any plugin fails to load.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, true, func(in *instance.Instance, f *OutputFormatter) error {
				return runPluginLoad(cmd, in, f, args)
			})
		},
	})

	cmd.AddCommand(pluginIDCommand(rootOpts, "enable", "Allow a plugin to load", func(s *plugin.Store, id string) error {
		return s.Enable(id)
	}))
	cmd.AddCommand(pluginIDCommand(rootOpts, "disable", "Block a plugin from loading", func(s *plugin.Store, id string) error {
		return s.Disable(id)
	}))
	cmd.AddCommand(pluginIDCommand(rootOpts, "remove", "Delete a plugin record", func(s *plugin.Store, id string) error {
		_, err := s.Remove(id)
		return err
	}))

	return cmd
}

func runPluginLoad(cmd *cobra.Command, in *instance.Instance, f *OutputFormatter, ids []string) error {
	var res LoadResult
	if len(ids) == 0 {
		for _, r := range in.Plugins().LoadPlugins(cmd.Context()) {
			res.Results = append(res.Results, LoadView{ID: r.PluginID, Outcome: r.Outcome.String()})
		}
	} else {
		for _, id := range ids {
			p, ok := in.Plugins().GetByID(id)
			if !ok {
				return f.Fail(ExitCommandError, ErrCodeNotFound, "plugin not found", fmt.Errorf("%w: %s", plugin.ErrNotFound, id))
			}
			outcome, err := in.Plugins().Load(cmd.Context(), p)
			if err != nil && !errors.Is(err, plugin.ErrAlreadyLoaded) {
				return f.Fail(ExitFailure, ErrCodeFailed, "failed to load plugin", err)
			}
			res.Results = append(res.Results, LoadView{ID: id, Outcome: outcome.String()})
		}
	}
	if res.Results == nil {
		res.Results = []LoadView{}
	}

	if err := f.Success(res); err != nil {
		return err
	}
	if n := res.failed(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d plugin(s) failed to load", n))
	}
	return nil
}

func pluginIDCommand(rootOpts *RootOptions, use, short string, fn func(*plugin.Store, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, true, func(in *instance.Instance, f *OutputFormatter) error {
				p, ok := in.Plugins().GetByID(args[0])
				if !ok {
					return f.Fail(ExitCommandError, ErrCodeNotFound, "plugin not found", fmt.Errorf("%w: %s", plugin.ErrNotFound, args[0]))
				}
				view := viewPlugin(p)
				if err := fn(in.Plugins(), args[0]); err != nil {
					return f.Fail(ExitFailure, ErrCodeFailed, use+" failed", err)
				}
				if use != "remove" {
					view = viewPlugin(p)
				}
				return f.Success(view)
			})
		},
	}
}

// withInstance opens the instance, runs fn and closes the instance. When
// persist is set and fn succeeds (or fails with ExitFailure after changing
// state), the tree is checkpointed.
func withInstance(cmd *cobra.Command, rootOpts *RootOptions, persist bool, fn func(*instance.Instance, *OutputFormatter) error) (err error) {
	f := rootOpts.formatter(cmd)
	in, err := rootOpts.openInstance(cmd, f)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil && err == nil {
			err = f.Fail(ExitCommandError, ErrCodeIO, "failed to close instance", closeErr)
		}
	}()

	runErr := fn(in, f)
	if !persist || (runErr != nil && GetExitCode(runErr) != ExitFailure) {
		return runErr
	}
	if _, cpErr := in.Checkpoint(cmd.Context()); cpErr != nil && !errors.Is(cpErr, instance.ErrNoJournal) {
		if runErr != nil {
			return runErr
		}
		return f.Fail(ExitCommandError, ErrCodeIO, "failed to write checkpoint", cpErr)
	}
	return runErr
}
