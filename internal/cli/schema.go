package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

// SchemaResult is the JSON payload of the schema command.
type SchemaResult struct {
	Path   string                  `json:"path"`
	Open   store.OpenReport        `json:"open"`
	Schema record.SchemaDescriptor `json:"schema"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var showSQL bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Open the database and report schema validation",
		Long: `Open the database, creating, validating or rebuilding its tables, and
print what was done together with the expected column contract.

A rebuild drops every stored notification.

Examples:
  roberto schema
  roberto schema --sql
  roberto schema --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			st, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			result := SchemaResult{
				Path:   st.Path(),
				Open:   st.OpenReport(),
				Schema: record.Schema,
			}
			if f.Format == "json" {
				return f.Success(result)
			}
			if err := writeSchemaReport(f.Writer, result, showSQL); err != nil {
				return f.Fail(ExitFailure, ErrCodeGeneric, "failed to render schema", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSQL, "sql", false, "also print CREATE TABLE statements")

	return cmd
}

func writeSchemaReport(w io.Writer, r SchemaResult, showSQL bool) error {
	fmt.Fprintf(w, "database: %s\n", r.Path)
	fmt.Fprintf(w, "outcome:  %s\n", r.Open.Outcome)
	fmt.Fprintf(w, "identity: %s\n", r.Open.IdentityHash)
	if r.Open.PreviousIdentity != "" && r.Open.PreviousIdentity != r.Open.IdentityHash {
		fmt.Fprintf(w, "previous: %s\n", r.Open.PreviousIdentity)
	}
	for _, m := range r.Open.Mismatches {
		fmt.Fprintf(w, "mismatch: %s\n", m)
	}

	for _, t := range r.Schema.Tables {
		fmt.Fprintf(w, "\ntable %s (version %d)\n", t.Name, r.Schema.Version)
		var table = tablewriter.NewWriter(w)
		table.Header("Column", "Type", "Not Null", "PK")
		for _, c := range t.Columns {
			if err := table.Append([]string{
				c.Name, c.Type, strconv.FormatBool(c.NotNull), strconv.Itoa(c.PrimaryKeyPosition),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		if showSQL {
			fmt.Fprintf(w, "\n%s;\n", t.CreateTableSQL())
		}
	}
	return nil
}
