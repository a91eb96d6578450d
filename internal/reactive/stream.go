package reactive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/metrics"
)

// Query produces one snapshot. It should honour ctx cancellation.
type Query[T any] func(ctx context.Context) (T, error)

// Stream is a restartable description of a live query: the tables it
// depends on and how to compute a snapshot.
type Stream[T any] struct {
	tracker *invalidation.Tracker
	tables  []string
	query   Query[T]
}

// NewStream returns a Stream that re-runs query whenever one of tables is
// invalidated through tracker.
func NewStream[T any](tracker *invalidation.Tracker, tables []string, query Query[T]) *Stream[T] {
	tablesCopy := make([]string, len(tables))
	copy(tablesCopy, tables)
	return &Stream[T]{
		tracker: tracker,
		tables:  tablesCopy,
		query:   query,
	}
}

// Tables returns the watched tables.
func (s *Stream[T]) Tables() []string {
	return s.tables
}

// Subscribe starts a new, independent subscription. The first snapshot is
// computed right away. The subscription ends when ctx is cancelled, when
// Cancel is called, or when the query fails.
func (s *Stream[T]) Subscribe(ctx context.Context) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		out:    make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, s)
	return sub
}

// Subscription is one live run of a Stream.
type Subscription[T any] struct {
	out    chan T
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written before done is closed
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Done is closed once the subscription has stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and waits for it to wind down. A query
// already running completes, but its result is not emitted. Once Cancel
// returns no further snapshot is delivered.
func (s *Subscription[T]) Cancel() {
	s.cancel()
	<-s.done
}

// Err returns the query error that ended the subscription, or nil if it
// was cancelled or is still running.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription[T]) run(ctx context.Context, stream *Stream[T]) {
	defer close(s.done)
	defer close(s.out)

	metrics.LiveSubscriptions.Inc()
	defer metrics.LiveSubscriptions.Dec()

	trigger := make(chan struct{}, 1)
	obs := stream.tracker.Register(stream.tables, func(invalidation.ChangeSet) {
		select {
		case trigger <- struct{}{}:
		default: // a re-run is already pending
		}
	})
	defer obs.Unregister()

	for {
		snapshot, err := stream.query(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.QueryExecutionsTotal.WithLabelValues(metrics.Fail).Inc()
			slog.Warn("reactive query failed", "tables", stream.tables, "error", err)
			s.err = fmt.Errorf("reactive query: %w", err)
			return
		}
		metrics.QueryExecutionsTotal.WithLabelValues(metrics.Ok).Inc()

		select {
		case s.out <- snapshot:
		case <-ctx.Done():
			return
		}

		select {
		case <-trigger:
		case <-ctx.Done():
			return
		}
	}
}
