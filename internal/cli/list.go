package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/record"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	App   string
	Limit int
}

// ListResult is the JSON payload of the list command.
type ListResult struct {
	Total         int                   `json:"total"`
	Notifications []record.Notification `json:"notifications"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored notifications",
		Long: `List the stored notifications in storage order.

Examples:
  roberto list
  roberto list --app com.example.chat --limit 20
  roberto list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.App, "app", "", "only show notifications posted by this package")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show at most this many notifications (0 = all)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Limit < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--limit must not be negative", nil)
	}

	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	all, err := st.ReadAll(cmd.Context())
	if err != nil {
		return mutationFailed(f, "failed to read notifications", err)
	}

	shown := filterNotifications(all, opts.App, opts.Limit)
	if f.Format == "json" {
		return f.Success(ListResult{Total: len(all), Notifications: shown})
	}

	if len(shown) == 0 {
		fmt.Fprintln(f.Writer, "no notifications")
		return nil
	}
	if err := writeTable(f.Writer, shown, time.Now()); err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "failed to render table", err)
	}
	return nil
}

// filterNotifications keeps rows from app (any app if empty), up to limit
// rows (all if zero).
func filterNotifications(all []record.Notification, app string, limit int) []record.Notification {
	out := make([]record.Notification, 0, len(all))
	for _, n := range all {
		if app != "" && n.AppPackageName != app {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func writeTable(w io.Writer, notifications []record.Notification, now time.Time) error {
	var table = tablewriter.NewWriter(w)
	table.Header("ID", "App", "Posted", "Title", "Text")
	for _, n := range notifications {
		if err := table.Append([]string{
			strconv.FormatInt(n.ID, 10),
			n.AppPackageName,
			humanize.RelTime(time.UnixMilli(n.Timestamp), now, "ago", "from now"),
			deref(n.Title),
			deref(n.Text),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
