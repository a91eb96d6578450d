package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/record"
)

// Tx is an open write transaction handed to Batch callbacks. Its methods
// mirror the Store mutations but commit together, with one invalidation.
// A Tx must not be used after the callback returns.
type Tx struct {
	store *Store
	tx    *sql.Tx

	// nested is true inside Batch: ClearAll then skips compaction.
	nested  bool
	changes invalidation.ChangeSet
	compact bool
	done    bool
}

// InsertOrReplace writes n, fully overwriting any row with the same id.
func (t *Tx) InsertOrReplace(ctx context.Context, n record.Notification) error {
	if t.done {
		return ErrTxDone
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	err := t.store.stmts.withStatement(ctx, t.tx, stmtInsert, func(stmt *sql.Stmt) error {
		_, err := stmt.ExecContext(ctx, n.Args()...)
		return err
	})
	if err != nil {
		return fault(opInsert, err)
	}
	t.changes.Add(record.TableNotifications)
	return nil
}

// DeleteByID removes the row with id. An absent id is not an error.
func (t *Tx) DeleteByID(ctx context.Context, id int64) error {
	if t.done {
		return ErrTxDone
	}
	if _, err := t.deleteByID(ctx, id); err != nil {
		return fault(opDeleteByID, err)
	}
	return nil
}

// DeleteByIDs removes every row whose id is in ids, executing the cached
// delete statement once per id.
func (t *Tx) DeleteByIDs(ctx context.Context, ids []int64) error {
	if t.done {
		return ErrTxDone
	}
	for _, id := range ids {
		if _, err := t.deleteByID(ctx, id); err != nil {
			return fault(opDeleteByIDs, fmt.Errorf("id %d: %w", id, err))
		}
	}
	return nil
}

func (t *Tx) deleteByID(ctx context.Context, id int64) (int64, error) {
	var affected int64
	err := t.store.stmts.withStatement(ctx, t.tx, stmtDeleteByID, func(stmt *sql.Stmt) error {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	t.changes.Add(record.TableNotifications)
	return affected, nil
}

// DeleteOlderThan removes every row with timestamp strictly below
// threshold and returns how many were removed.
func (t *Tx) DeleteOlderThan(ctx context.Context, threshold int64) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}

	var affected int64
	err := t.store.stmts.withStatement(ctx, t.tx, stmtDeleteOlderThan, func(stmt *sql.Stmt) error {
		res, err := stmt.ExecContext(ctx, threshold)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fault(opDeleteOlderThan, err)
	}
	t.changes.Add(record.TableNotifications)
	return affected, nil
}

// ClearAll removes every row. Outside a batch the store compacts the
// database after commit.
func (t *Tx) ClearAll(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}

	err := t.store.stmts.withStatement(ctx, t.tx, stmtClearAll, func(stmt *sql.Stmt) error {
		_, err := stmt.ExecContext(ctx)
		return err
	})
	if err != nil {
		return fault(opClearAll, err)
	}
	t.changes.Add(record.TableNotifications)
	if !t.nested {
		t.compact = true
	}
	return nil
}

// Batch runs fn inside one write transaction. If fn returns an error the
// transaction is rolled back and the error returned unchanged; otherwise
// it commits and the tracker receives a single change set.
func (s *Store) Batch(ctx context.Context, fn func(tx *Tx) error) error {
	return s.write(ctx, opBatch, true, fn, allStatements...)
}
