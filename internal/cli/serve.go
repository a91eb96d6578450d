package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/roberto/internal/housekeeping"
	"github.com/roach88/roberto/internal/metrics"
	"github.com/roach88/roberto/internal/store"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Listen opens the HTTP listener (for testing).
	// If nil, defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)

	// Ready is called once every component is running, with the bound
	// HTTP address or nil when HTTP is disabled (for testing).
	Ready func(addr net.Addr)

	// Clock drives the retention janitor (for testing).
	// If nil, defaults to the wall clock.
	Clock housekeeping.Clock
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommandWith(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommandWith(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run retention purges and serve metrics until interrupted",
		Long: `Keep the database open, purge notifications older than the configured
retention every purge interval, and log every change to the history.

When an address is configured (metrics_addr or --addr) an HTTP server
exposes:
  /metrics        Prometheus metrics
  /notifications  current history as JSON (?app=, ?limit=)
  /healthz        database liveness

Examples:
  roberto serve
  roberto serve --addr 127.0.0.1:9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides metrics_addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, cfg, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if opts.Addr != "" {
		cfg.MetricsAddr = opts.Addr
		if err := cfg.Validate(); err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "invalid --addr", err)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = housekeeping.SystemClock{}
	}
	janitor, err := housekeeping.New(st, cfg.Retention, cfg.PurgeInterval,
		housekeeping.WithClock(clock),
		housekeeping.WithLogger(slog.Default().With("component", "janitor")),
	)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid retention settings", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		return logChanges(gctx, st)
	})

	var bound net.Addr
	if cfg.MetricsAddr != "" {
		listen := opts.Listen
		if listen == nil {
			listen = net.Listen
		}
		ln, err := listen("tcp", cfg.MetricsAddr)
		if err != nil {
			stop()
			_ = g.Wait()
			return f.Fail(ExitFailure, ErrCodeGeneric, "failed to listen", err)
		}
		bound = ln.Addr()

		handler, err := newServeMux(st)
		if err != nil {
			ln.Close()
			stop()
			_ = g.Wait()
			return f.Fail(ExitFailure, ErrCodeGeneric, "failed to register metrics", err)
		}
		srv := &http.Server{Handler: handler, ReadHeaderTimeout: shutdownTimeout}

		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		slog.Info("serving http", "addr", bound.String())
	}

	slog.Info("roberto serving",
		"database", st.Path(),
		"retention", cfg.Retention,
		"purge_interval", cfg.PurgeInterval,
	)
	if opts.Ready != nil {
		opts.Ready(bound)
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return f.Fail(ExitFailure, ErrCodeGeneric, "serve failed", err)
	}
	slog.Info("roberto stopped")
	return nil
}

// logChanges keeps a subscription open for the lifetime of ctx and logs
// the size of every snapshot.
func logChanges(ctx context.Context, st *store.Store) error {
	sub := st.Notifications().Subscribe(ctx)
	defer sub.Cancel()

	for snapshot := range sub.C() {
		slog.Info("notification history changed", "count", len(snapshot))
	}
	if err := sub.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// newServeMux builds the HTTP handlers over a fresh metrics registry.
func newServeMux(st *store.Store) (*http.ServeMux, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.DB().PingContext(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		all, err := st.ReadAll(r.Context())
		if err != nil {
			slog.Warn("read notifications failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ListResult{
			Total:         len(all),
			Notifications: filterNotifications(all, r.URL.Query().Get("app"), limit),
		})
	})

	return mux, nil
}
