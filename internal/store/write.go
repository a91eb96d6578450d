package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/metrics"
	"github.com/roach88/roberto/internal/record"
)

// Operation names used in faults and metrics.
const (
	opInsert          = "insert"
	opDeleteByID      = "delete by id"
	opDeleteByIDs     = "delete by ids"
	opDeleteOlderThan = "delete older than"
	opClearAll        = "clear all"
	opBatch           = "batch"
)

var allStatements = []stmtKey{stmtInsert, stmtDeleteByID, stmtDeleteOlderThan, stmtClearAll}

// InsertOrReplace writes n in its own transaction, fully overwriting any
// row with the same id. An invalid record is rejected before any
// transaction starts.
func (s *Store) InsertOrReplace(ctx context.Context, n record.Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return s.write(ctx, opInsert, false, func(tx *Tx) error {
		return tx.InsertOrReplace(ctx, n)
	}, stmtInsert)
}

// DeleteByID removes the row with id. An absent id is a successful no-op
// that still notifies observers.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	return s.write(ctx, opDeleteByID, false, func(tx *Tx) error {
		return tx.DeleteByID(ctx, id)
	}, stmtDeleteByID)
}

// DeleteByIDs removes every listed id in one transaction: either all are
// removed or none are. An empty list opens no transaction and notifies
// nobody.
func (s *Store) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.write(ctx, opDeleteByIDs, false, func(tx *Tx) error {
		return tx.DeleteByIDs(ctx, ids)
	}, stmtDeleteByID)
}

// DeleteOlderThan removes every row with timestamp < threshold (epoch
// millis) and returns the number removed.
func (s *Store) DeleteOlderThan(ctx context.Context, threshold int64) (int64, error) {
	var affected int64
	err := s.write(ctx, opDeleteOlderThan, false, func(tx *Tx) error {
		n, err := tx.DeleteOlderThan(ctx, threshold)
		affected = n
		return err
	}, stmtDeleteOlderThan)
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ClearAll removes every row, then checkpoints the WAL and vacuums the
// database. Compaction is best effort: its failures are logged and
// counted, never returned.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.write(ctx, opClearAll, false, func(tx *Tx) error {
		return tx.ClearAll(ctx)
	}, stmtClearAll)
}

// write runs fn in one transaction under the write lock. The tracker is
// notified only after a successful commit.
func (s *Store) write(ctx context.Context, op string, nested bool, fn func(*Tx) error, keys ...stmtKey) (err error) {
	start := time.Now()
	defer func() {
		status := metrics.Ok
		if err != nil {
			status = metrics.Fail
		}
		metrics.MutationsTotal.WithLabelValues(op, status).Inc()
		metrics.MutationDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	if err := s.stmts.prepare(ctx, keys...); err != nil {
		return fault(op, err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault(op, fmt.Errorf("begin: %w", err))
	}

	tx := &Tx{
		store:   s,
		tx:      sqlTx,
		nested:  nested,
		changes: invalidation.NewChangeSet(),
	}

	if err := fn(tx); err != nil {
		tx.done = true
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "op", op, "error", rbErr)
		}
		return err
	}

	tx.done = true
	if err := sqlTx.Commit(); err != nil {
		return fault(op, fmt.Errorf("commit: %w", err))
	}

	s.tracker.Notify(tx.changes)

	if tx.compact {
		s.compact(ctx)
	}
	return nil
}

// compact checkpoints the WAL and vacuums the database. Must be called
// with writeMu held and no transaction open.
//
// It runs on a dedicated connection whose busy timeout is lowered to the
// compaction timeout, so a long-lived reader delays writers by at most
// that long.
func (s *Store) compact(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.compactTimeout)
	defer cancel()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		metrics.CompactionFailuresTotal.Inc()
		s.logger.Warn("compaction skipped", "path", s.path, "error", err)
		return
	}
	defer conn.Close()

	busy := fmt.Sprintf("PRAGMA busy_timeout = %d", s.compactTimeout.Milliseconds())
	if _, err := conn.ExecContext(ctx, busy); err != nil {
		metrics.CompactionFailuresTotal.Inc()
		s.logger.Warn("compaction skipped", "path", s.path, "error", err)
		return
	}
	defer func() {
		// The connection goes back to the pool.
		restore := fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)
		if _, err := conn.ExecContext(context.Background(), restore); err != nil {
			s.logger.Warn("failed to restore busy timeout", "path", s.path, "error", err)
		}
	}()

	var busyFlag, logFrames, checkpointed int
	err = conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(FULL)").Scan(&busyFlag, &logFrames, &checkpointed)
	if err != nil {
		metrics.CompactionFailuresTotal.Inc()
		s.logger.Warn("wal checkpoint failed", "path", s.path, "error", err)
	} else if busyFlag != 0 {
		s.logger.Debug("wal checkpoint incomplete", "path", s.path, "log_frames", logFrames, "checkpointed", checkpointed)
	}

	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.CompactionFailuresTotal.Inc()
		s.logger.Warn("vacuum failed", "path", s.path, "error", err)
	}
}
