package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/store"
)

// ClearResult is the JSON payload of the clear command.
type ClearResult struct {
	Removed     int   `json:"removed"`
	BytesBefore int64 `json:"bytes_before"`
	BytesAfter  int64 `json:"bytes_after"`
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every notification and compact the database",
		Long: `Delete every stored notification, then checkpoint the write-ahead log
and vacuum the database file.

Examples:
  roberto clear --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !yes {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "refusing to clear without --yes", nil)
			}
			return runClear(rootOpts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting all notifications")

	return cmd
}

func runClear(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	path := st.Path()

	ctx := cmd.Context()
	count, err := st.Count(ctx)
	if err != nil {
		closeStore(st)
		return mutationFailed(f, "failed to count notifications", err)
	}

	result := ClearResult{Removed: count, BytesBefore: databaseSize(path)}
	if err := st.ClearAll(ctx); err != nil {
		closeStore(st)
		return mutationFailed(f, "failed to clear notifications", err)
	}
	// The vacuumed pages reach the main file at the final checkpoint on close.
	closeStore(st)
	result.BytesAfter = databaseSize(path)

	return f.Result(result, fmt.Sprintf("cleared %d notification(s), database %s -> %s",
		result.Removed,
		humanize.IBytes(uint64(result.BytesBefore)),
		humanize.IBytes(uint64(result.BytesAfter))))
}

// databaseSize is the on-disk size of the main file plus its WAL.
// In-memory databases report zero.
func databaseSize(path string) int64 {
	if path == store.MemoryPath {
		return 0
	}
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}
