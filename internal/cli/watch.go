package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/record"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count int
	Poll  time.Duration
}

// Snapshot is one line of watch output in JSON mode.
type Snapshot struct {
	Seq           int                   `json:"seq"`
	Count         int                   `json:"count"`
	Notifications []record.Notification `json:"notifications"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream snapshots of the notification history",
		Long: `Print the full notification list now and again after every change.

Changes made through this process are seen immediately. Writes by other
processes are picked up by polling (--poll). In JSON mode every snapshot
is one JSON object per line.

Examples:
  roberto watch --poll 2s
  roberto watch --count 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "exit after this many snapshots (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 0, "re-read the database at this interval (0 = never)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Count < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--count must not be negative", nil)
	}
	if opts.Poll < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--poll must not be negative", nil)
	}

	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if opts.Poll > 0 {
		go pollChanges(ctx, st.Tracker(), opts.Poll)
	}

	sub := st.Notifications().Subscribe(ctx)
	defer sub.Cancel()

	seq := 0
	for snapshot := range sub.C() {
		seq++
		if err := writeSnapshot(f, seq, snapshot); err != nil {
			return err
		}
		if opts.Count > 0 && seq >= opts.Count {
			return nil
		}
	}

	if err := sub.Err(); err != nil {
		return mutationFailed(f, "subscription failed", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// pollChanges invalidates the notifications table every interval so
// writes committed by other processes reach local subscribers.
func pollChanges(ctx context.Context, tracker *invalidation.Tracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !tracker.Notify(invalidation.NewChangeSet(record.TableNotifications)) {
				return
			}
		}
	}
}

func writeSnapshot(f *OutputFormatter, seq int, notifications []record.Notification) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Snapshot{
			Seq:           seq,
			Count:         len(notifications),
			Notifications: notifications,
		})
	}

	fmt.Fprintf(f.Writer, "--- snapshot %d: %d notification(s)\n", seq, len(notifications))
	if len(notifications) == 0 {
		return nil
	}
	return writeTable(f.Writer, notifications, time.Now())
}
