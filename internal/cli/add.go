package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/roberto/internal/housekeeping"
	"github.com/roach88/roberto/internal/ident"
	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	ID            int64
	UniqueID      string
	Key           string
	App           string
	Timestamp     int64
	ShowTimestamp bool
	Group         bool
	Text          string
	Title         string
	SubText       string
	TitleBig      string
	File          string

	// IDGenerator fills missing unique ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator ident.Generator

	// Clock supplies the default timestamp (for testing).
	// If nil, defaults to the wall clock.
	Clock housekeeping.Clock
}

// AddResult is the JSON payload of the add command.
type AddResult struct {
	Added []int64 `json:"added"`
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return newAddCommandWith(&AddOptions{RootOptions: rootOpts})
}

func newAddCommandWith(opts *AddOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Insert or replace notifications",
		Long: `Insert a notification, or every notification in a YAML file.

A notification with an existing id fully replaces the stored one. Missing
unique ids are generated (UUIDv7); a missing timestamp defaults to now.
A file import is written in a single transaction.

Examples:
  roberto add --id 1 --key k1 --app com.app --title "Hello" --text "hi"
  roberto add --file notifications.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "notification id")
	cmd.Flags().StringVar(&opts.UniqueID, "unique-id", "", "unique id (generated if empty)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "notification key")
	cmd.Flags().StringVar(&opts.App, "app", "", "posting app package name")
	cmd.Flags().Int64Var(&opts.Timestamp, "timestamp", 0, "post time in epoch millis (default now)")
	cmd.Flags().BoolVar(&opts.ShowTimestamp, "show-timestamp", true, "whether the timestamp is shown")
	cmd.Flags().BoolVar(&opts.Group, "group", false, "notification is a group summary")
	cmd.Flags().StringVar(&opts.Text, "text", "", "body text")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.SubText, "subtext", "", "sub text")
	cmd.Flags().StringVar(&opts.TitleBig, "title-big", "", "expanded title")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML file with a list of notifications")

	return cmd
}

func runAdd(opts *AddOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var notifications []record.Notification
	if opts.File != "" {
		loaded, err := LoadNotifications(opts.File)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to load notifications", err)
		}
		notifications = loaded
		f.VerboseLog("loaded %d notification(s) from %s", len(loaded), opts.File)
	} else {
		if !cmd.Flags().Changed("id") {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--id is required without --file", nil)
		}
		notifications = []record.Notification{opts.fromFlags(cmd)}
	}

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = ident.UUIDv7Generator{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = housekeeping.SystemClock{}
	}
	for i := range notifications {
		if notifications[i].UniqueID == "" {
			notifications[i].UniqueID = idGen.Generate()
		}
		if notifications[i].Timestamp == 0 {
			notifications[i].Timestamp = clock.Now().UnixMilli()
		}
	}

	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := insertAll(cmd.Context(), st, notifications); err != nil {
		return mutationFailed(f, "failed to add notifications", err)
	}

	ids := make([]int64, len(notifications))
	for i, n := range notifications {
		ids[i] = n.ID
	}
	text := fmt.Sprintf("added %d notification(s)", len(ids))
	if len(ids) == 1 {
		text = fmt.Sprintf("added notification %d (%s)", ids[0], notifications[0].UniqueID)
	}
	return f.Result(AddResult{Added: ids}, text)
}

func (opts *AddOptions) fromFlags(cmd *cobra.Command) record.Notification {
	optional := func(flag, value string) *string {
		if !cmd.Flags().Changed(flag) {
			return nil
		}
		return record.String(value)
	}

	return record.Notification{
		ID:             opts.ID,
		UniqueID:       opts.UniqueID,
		Key:            opts.Key,
		Timestamp:      opts.Timestamp,
		ShowTimestamp:  opts.ShowTimestamp,
		IsGroup:        opts.Group,
		Text:           optional("text", opts.Text),
		Title:          optional("title", opts.Title),
		SubText:        optional("subtext", opts.SubText),
		TitleBig:       optional("title-big", opts.TitleBig),
		AppPackageName: opts.App,
	}
}

// insertAll writes one notification directly and several in one batch.
func insertAll(ctx context.Context, st *store.Store, notifications []record.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(notifications) == 1 {
		return st.InsertOrReplace(ctx, notifications[0])
	}
	return st.Batch(ctx, func(tx *store.Tx) error {
		for _, n := range notifications {
			if err := tx.InsertOrReplace(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadNotifications reads a YAML list of notifications. Unknown fields
// are rejected.
func LoadNotifications(path string) ([]record.Notification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications file: %w", err)
	}

	var notifications []record.Notification
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&notifications); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(notifications) == 0 {
		return nil, fmt.Errorf("%s: no notifications", path)
	}
	return notifications, nil
}
