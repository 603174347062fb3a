package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandpolis/sandpolis/internal/schema"
)

// SchemaResult summarizes a schema module that compiled.
type SchemaResult struct {
	Module    string   `json:"module"`
	Namespace uint32   `json:"namespace"`
	Documents []string `json:"documents"`
}

func (r SchemaResult) String() string {
	return fmt.Sprintf("%s (namespace %d): %s", r.Module, r.Namespace, strings.Join(r.Documents, ", "))
}

// SchemaProblem locates a schema error.
type SchemaProblem struct {
	Document string `json:"document,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with state tree schemas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Compile the CUE schema module in a directory",
		Long: `Compile the CUE schema module in a directory without loading it.

Checks tags, child names, attribute types, retention declarations and
document references.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts.formatter(cmd), args[0])
		},
	})

	return cmd
}

func runSchemaValidate(f *OutputFormatter, dir string) error {
	s, err := schema.LoadDir(dir)
	if err != nil {
		var schemaErr *schema.Error
		if !errors.As(err, &schemaErr) {
			return f.Fail(ExitCommandError, ErrCodeIO, "failed to load schema", err)
		}
		problem := SchemaProblem{
			Document: schemaErr.Document,
			Field:    schemaErr.Field,
			Message:  schemaErr.Message,
		}
		if schemaErr.Pos.IsValid() {
			problem.File = schemaErr.Pos.Filename()
			problem.Line = schemaErr.Pos.Line()
		}
		if outErr := f.Error(ErrCodeInvalid, schemaErr.Error(), problem); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "invalid schema", err)
	}

	return f.Success(SchemaResult{
		Module:    s.Module,
		Namespace: s.Namespace,
		Documents: s.Documents(),
	})
}
