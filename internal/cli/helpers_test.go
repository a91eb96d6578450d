package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

// newTestOptions returns root options pointing at a fresh database file.
func newTestOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "roberto.db"),
	}
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), cmd, args...)
}

func executeContext(t *testing.T, ctx context.Context, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// seed writes notifications straight through the store.
func seed(t *testing.T, path string, notifications ...record.Notification) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	for _, n := range notifications {
		require.NoError(t, st.InsertOrReplace(context.Background(), n))
	}
}

// readBack returns every stored notification.
func readBack(t *testing.T, path string) []record.Notification {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	all, err := st.ReadAll(context.Background())
	require.NoError(t, err)
	return all
}
