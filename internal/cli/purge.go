package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/housekeeping"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	OlderThan time.Duration
	Before    int64

	// Clock anchors --older-than (for testing).
	// If nil, defaults to the wall clock.
	Clock housekeeping.Clock
}

// PurgeResult is the JSON payload of the purge command.
type PurgeResult struct {
	Threshold int64 `json:"threshold"`
	Removed   int64 `json:"removed"`
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return newPurgeCommandWith(&PurgeOptions{RootOptions: rootOpts})
}

func newPurgeCommandWith(opts *PurgeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete notifications older than a cutoff",
		Long: `Delete every notification whose timestamp is strictly before a cutoff.

The cutoff is --before (epoch millis) if given, otherwise now minus
--older-than, which defaults to the configured retention.

Examples:
  roberto purge
  roberto purge --older-than 72h
  roberto purge --before 1700000000000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "purge notifications older than this age (default: configured retention)")
	cmd.Flags().Int64Var(&opts.Before, "before", 0, "purge notifications with timestamp before this epoch millis")
	cmd.MarkFlagsMutuallyExclusive("older-than", "before")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if cmd.Flags().Changed("older-than") && opts.OlderThan <= 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--older-than must be positive", nil)
	}

	st, cfg, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := cmd.Context()
	f.VerboseLog("database: %s", st.Path())
	var result PurgeResult
	if cmd.Flags().Changed("before") {
		result.Threshold = opts.Before
		result.Removed, err = st.DeleteOlderThan(ctx, opts.Before)
	} else {
		retention := cfg.Retention
		if opts.OlderThan > 0 {
			retention = opts.OlderThan
		}
		clock := opts.Clock
		if clock == nil {
			clock = housekeeping.SystemClock{}
		}
		// The interval is unused by a single run.
		janitor, jerr := housekeeping.New(st, retention, retention, housekeeping.WithClock(clock))
		if jerr != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid retention", jerr)
		}
		result.Threshold = janitor.Threshold()
		result.Removed, err = janitor.RunOnce(ctx)
	}
	if err != nil {
		return mutationFailed(f, "failed to purge notifications", err)
	}

	return f.Result(result, fmt.Sprintf("purged %d notification(s) older than %s",
		result.Removed, time.UnixMilli(result.Threshold).UTC().Format(time.RFC3339)))
}
