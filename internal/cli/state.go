package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandpolis/sandpolis/internal/instance"
	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/state"
)

// CheckpointView is one journal checkpoint without its snapshot.
type CheckpointView struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	Compression string    `json:"compression"`
	Size        int       `json:"size"`
}

func (v CheckpointView) String() string {
	return fmt.Sprintf("checkpoint %s (seq %d, %d bytes)", v.ID, v.Seq, v.Size)
}

// CheckpointList is the result of state checkpoints.
type CheckpointList struct {
	Checkpoints []CheckpointView `json:"checkpoints"`
}

func (l CheckpointList) String() string {
	if len(l.Checkpoints) == 0 {
		return "no checkpoints"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tID\tCREATED\tCOMPRESSION\tSIZE")
	for _, c := range l.Checkpoints {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", c.Seq, c.ID, c.CreatedAt.Format(time.RFC3339), c.Compression, c.Size)
	}
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

// NewStateCommand creates the state command group.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the state tree",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dump [path]",
		Short: "Print a document and everything below it",
		Long: `Print a document and everything below it.

The path is relative to the core namespace document and defaults to "/".
Collection elements are addressed by tag, for example /profile/1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			return withInstance(cmd, rootOpts, false, func(in *instance.Instance, f *OutputFormatter) error {
				return runStateDump(in, f, path)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print an attribute and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, false, func(in *instance.Instance, f *OutputFormatter) error {
				return runStateGet(in, f, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "checkpoint",
		Short: "Write a checkpoint of the state tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, false, func(in *instance.Instance, f *OutputFormatter) error {
				cp, err := in.Checkpoint(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeIO, "failed to write checkpoint", err)
				}
				return f.Success(CheckpointView{
					ID:          cp.ID,
					Seq:         cp.Seq,
					CreatedAt:   cp.CreatedAt,
					Compression: cp.Compression.String(),
					Size:        cp.Size,
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "checkpoints",
		Short: "List journal checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, rootOpts, false, func(in *instance.Instance, f *OutputFormatter) error {
				if in.Journal() == nil {
					return f.Fail(ExitCommandError, ErrCodeConfig, "no journal configured", instance.ErrNoJournal)
				}
				cps, err := in.Journal().List(cmd.Context(), oid.Root())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeIO, "failed to list checkpoints", err)
				}
				list := CheckpointList{Checkpoints: make([]CheckpointView, 0, len(cps))}
				for _, cp := range cps {
					list.Checkpoints = append(list.Checkpoints, CheckpointView{
						ID:          cp.ID,
						Seq:         cp.Seq,
						CreatedAt:   cp.CreatedAt,
						Compression: cp.Compression.String(),
						Size:        cp.Size,
					})
				}
				return f.Success(list)
			})
		},
	})

	return cmd
}

func runStateDump(in *instance.Instance, f *OutputFormatter, path string) error {
	o, err := in.Schema().Resolve(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid path", err)
	}
	if o.Kind() != oid.KindDocument {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "not a document", fmt.Errorf("%s resolves to a %s", path, o.Kind()))
	}
	node, err := in.Tree().Lookup(o)
	if err != nil {
		return lookupFailure(f, err)
	}
	doc, ok := node.(*state.Document)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "not a document", fmt.Errorf("%s is not a document", path))
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeFailed, "failed to snapshot document", err)
	}
	return f.Success(RenderDocument(in.Schema(), o, snap))
}

func runStateGet(in *instance.Instance, f *OutputFormatter, path string) error {
	o, err := in.Schema().Resolve(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid path", err)
	}
	if o.Kind() != oid.KindAttribute {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "not an attribute", fmt.Errorf("%s resolves to a %s", path, o.Kind()))
	}
	node, err := in.Tree().Lookup(o)
	if err != nil {
		return lookupFailure(f, err)
	}
	attr, ok := node.(*state.Attribute)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "not an attribute", fmt.Errorf("%s is not an attribute", path))
	}
	entries, err := attr.Snapshot()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeFailed, "failed to read attribute", err)
	}
	return f.Success(AttributeView{
		Oid:     o.String(),
		Path:    path,
		Entries: renderEntries(entries),
	})
}

func lookupFailure(f *OutputFormatter, err error) error {
	if errors.Is(err, state.ErrNotFound) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "not found", err)
	}
	return f.Fail(ExitCommandError, ErrCodeInvalid, "lookup failed", err)
}
