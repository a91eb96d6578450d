package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roberto/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "roberto", cmd.Use)
	assert.Contains(t, cmd.Long, "SQLite")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"add", "list", "delete", "purge", "clear", "watch", "schema", "serve"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(t, cmd, "--format", "xml", "schema", "--db", filepath.Join(t.TempDir(), "r.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_DBFlagEndToEnd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "r.db")

	_, err := execute(t, NewRootCommand(), "--db", db, "add",
		"--id", "1", "--unique-id", "u1", "--key", "k1", "--app", "com.app", "--timestamp", "100")
	require.NoError(t, err)

	out, err := execute(t, NewRootCommand(), "--db", db, "--format", "json", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"unique_id":"u1"`)
}

func TestRootCommand_ConfigFile(t *testing.T) {
	t.Setenv(config.EnvDatabase, "")
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "roberto.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+db+"\nretention: 48h\n"), 0o644))

	_, err := execute(t, NewRootCommand(), "--config", cfgPath, "schema")
	require.NoError(t, err)

	_, err = os.Stat(db)
	assert.NoError(t, err, "database should be created at the configured path")
}

func TestRootCommand_BadConfig(t *testing.T) {
	t.Setenv(config.EnvRetention, "")
	cfgPath := filepath.Join(t.TempDir(), "roberto.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("retention: 1ms\n"), 0o644))

	_, err := execute(t, NewRootCommand(), "--config", cfgPath, "schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSetupLogging_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	setupLogging(buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	defer setupLogging(os.Stderr, config.LogConfig{Level: "info", Format: "text"}, false)

	slog.Info("hidden")
	slog.Warn("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}

func TestSetupLogging_VerboseForcesDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	setupLogging(buf, config.LogConfig{Level: "error", Format: "text"}, true)
	defer setupLogging(os.Stderr, config.LogConfig{Level: "info", Format: "text"}, false)

	slog.Debug("opening database")
	assert.Contains(t, buf.String(), "opening database")
}
