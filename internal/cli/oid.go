package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/schema"
)

// OidResult describes one resolved path.
type OidResult struct {
	Path string `json:"path"`
	Oid  string `json:"oid"`
	Kind string `json:"kind"`
}

func (r OidResult) String() string {
	return fmt.Sprintf("%s\t%s\t%s", r.Oid, r.Kind, r.Path)
}

// NamespaceResult is the namespace tag of a module.
type NamespaceResult struct {
	Module    string `json:"module"`
	Namespace uint32 `json:"namespace"`
}

func (r NamespaceResult) String() string {
	return fmt.Sprintf("%s\t%d", r.Module, r.Namespace)
}

// NewOidCommand creates the oid command group.
func NewOidCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oid",
		Short: "Translate between paths and object identifiers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "resolve <path>",
		Short:   "Resolve a path of the core schema to an oid",
		Example: `  sandpolis oid resolve /profile/1/plugin/2/name`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s := schema.Core()
			o, err := s.Resolve(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeNotFound, "failed to resolve path", err)
			}
			return f.Success(OidResult{Path: args[0], Oid: o.String(), Kind: o.Kind().String()})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe <oid>",
		Short: "Describe an oid as a path of the core schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			o, err := oid.Parse(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid oid", err)
			}
			path, err := schema.Core().Describe(o)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeNotFound, "failed to describe oid", err)
			}
			return f.Success(OidResult{Path: path, Oid: o.String(), Kind: o.Kind().String()})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "namespace <module>",
		Short: "Print the namespace tag of a schema module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Success(NamespaceResult{
				Module:    args[0],
				Namespace: oid.Namespace(args[0]),
			})
		},
	})

	return cmd
}
