package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// DeleteResult is the JSON payload of the delete command.
type DeleteResult struct {
	Deleted []int64 `json:"deleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete notifications by id",
		Long: `Delete notifications by id in a single transaction.

Ids that are not stored are ignored.

Examples:
  roberto delete 42
  roberto delete 1 2 3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, cmd, args)
		},
	}
	return cmd
}

func runDelete(opts *RootOptions, cmd *cobra.Command, args []string) error {
	f := opts.formatter(cmd)

	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid id %q", arg), err)
		}
		ids = append(ids, id)
	}

	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.DeleteByIDs(cmd.Context(), ids); err != nil {
		return mutationFailed(f, "failed to delete notifications", err)
	}
	return f.Result(DeleteResult{Deleted: ids}, fmt.Sprintf("deleted %d id(s)", len(ids)))
}
