package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/roberto/internal/config"
	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the config file and ROBERTO_DB
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the roberto CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "roberto",
		Short: "roberto - notification history store",
		Long: `roberto keeps a durable, queryable history of captured notifications
in SQLite and streams live snapshots of it as it changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter returns an OutputFormatter writing to cmd's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// resolve loads the configuration, applies flag overrides and installs the
// default logger on cmd's error stream.
func (o *RootOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, o.formatter(cmd).Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
		if err := cfg.Validate(); err != nil {
			return config.Config{}, o.formatter(cmd).Fail(ExitCommandError, ErrCodeConfig, "invalid --db", err)
		}
	}

	setupLogging(cmd.ErrOrStderr(), cfg.Log, o.Verbose)
	return cfg, nil
}

// openStore resolves the configuration and opens the store it names.
func (o *RootOptions) openStore(cmd *cobra.Command) (*store.Store, config.Config, error) {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return nil, config.Config{}, err
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(slog.Default()))
	if err != nil {
		return nil, config.Config{}, o.formatter(cmd).Fail(ExitCommandError, ErrCodeOpen, "failed to open database", err)
	}
	return st, cfg, nil
}

// closeStore closes st, logging rather than returning the error.
func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// mutationFailed maps a store error to the matching exit code and error code.
func mutationFailed(f *OutputFormatter, message string, err error) error {
	switch {
	case errors.Is(err, record.ErrInvalidRecord):
		return f.Fail(ExitCommandError, ErrCodeInvalidRecord, message, err)
	case errors.Is(err, store.ErrNotFound):
		return f.Fail(ExitFailure, ErrCodeNotFound, message, err)
	case store.IsStorageFault(err):
		return f.Fail(ExitFailure, ErrCodeStorage, message, err)
	}
	return f.Fail(ExitFailure, ErrCodeGeneric, message, err)
}

// setupLogging installs a slog handler on w. Verbose forces debug level.
func setupLogging(w io.Writer, cfg config.LogConfig, verbose bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when
// parent is done. The returned stop func releases the signal handler.
func signalContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
		<-done
	}
}
