package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/roach88/roberto/internal/record"
)

// stmtKey names one fixed-shape mutation statement.
type stmtKey int

const (
	stmtInsert stmtKey = iota
	stmtDeleteByID
	stmtDeleteOlderThan
	stmtClearAll
)

func (k stmtKey) String() string {
	switch k {
	case stmtInsert:
		return "insert"
	case stmtDeleteByID:
		return "deleteByID"
	case stmtDeleteOlderThan:
		return "deleteOlderThan"
	case stmtClearAll:
		return "clearAll"
	}
	return fmt.Sprintf("stmtKey(%d)", int(k))
}

var stmtSQL = map[stmtKey]string{
	stmtInsert: fmt.Sprintf("INSERT OR REPLACE INTO `%s` (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?)",
		record.TableNotifications, record.NotificationsTable.ColumnNames()),
	stmtDeleteByID: fmt.Sprintf("DELETE FROM `%s` WHERE notification_id = ?",
		record.TableNotifications),
	stmtDeleteOlderThan: fmt.Sprintf("DELETE FROM `%s` WHERE timestamp < ?",
		record.TableNotifications),
	stmtClearAll: fmt.Sprintf("DELETE FROM `%s`", record.TableNotifications),
}

// sharedStmt is the cached statement for one key plus its lease flag.
type sharedStmt struct {
	stmt   *sql.Stmt
	leased bool
}

// stmtCache holds one lazily prepared statement per key. The cached
// statement is leased to one user at a time; a second concurrent user gets
// a transient statement that is closed on release.
//
// Cached statements are prepared on the DB, which needs a free connection,
// so prepare must run before the write transaction opens. Transient
// statements are prepared on the transaction itself.
type stmtCache struct {
	db *sql.DB

	mu        sync.Mutex
	shared    map[stmtKey]*sharedStmt
	closed    bool
	prepares  int
	transient int
}

func newStmtCache(db *sql.DB) *stmtCache {
	return &stmtCache{
		db:     db,
		shared: make(map[stmtKey]*sharedStmt),
	}
}

// prepare makes sure the cached statements for keys exist. Must not be
// called while holding a transaction on a single-connection database.
func (c *stmtCache) prepare(ctx context.Context, keys ...stmtKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, key := range keys {
		if s := c.shared[key]; s != nil {
			continue
		}
		query, ok := stmtSQL[key]
		if !ok {
			return fmt.Errorf("unknown statement %s", key)
		}
		stmt, err := c.db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", key, err)
		}
		c.shared[key] = &sharedStmt{stmt: stmt}
		c.prepares++
	}
	return nil
}

// acquire returns the statement for key bound to tx. shared reports
// whether it is the cached statement; either way it must be handed back
// via release.
func (c *stmtCache) acquire(ctx context.Context, tx *sql.Tx, key stmtKey) (stmt *sql.Stmt, shared bool, err error) {
	query, ok := stmtSQL[key]
	if !ok {
		return nil, false, fmt.Errorf("unknown statement %s", key)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}
	if s := c.shared[key]; s != nil && !s.leased {
		s.leased = true
		c.mu.Unlock()
		return tx.StmtContext(ctx, s.stmt), true, nil
	}
	c.transient++
	c.mu.Unlock()

	stmt, err = tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("prepare %s: %w", key, err)
	}
	return stmt, false, nil
}

// release hands the lease on key back and closes the tx-bound statement.
func (c *stmtCache) release(key stmtKey, stmt *sql.Stmt, shared bool) {
	stmt.Close()
	if !shared {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.shared[key]; s != nil {
		s.leased = false
	}
}

// withStatement runs fn with the statement for key bound to tx, releasing
// it when fn returns.
func (c *stmtCache) withStatement(ctx context.Context, tx *sql.Tx, key stmtKey, fn func(*sql.Stmt) error) error {
	stmt, shared, err := c.acquire(ctx, tx, key)
	if err != nil {
		return err
	}
	defer c.release(key, stmt, shared)

	return fn(stmt)
}

// stats returns how many statements were prepared for the cache and how
// many transient statements were handed out.
func (c *stmtCache) stats() (prepares, transient int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepares, c.transient
}

func (c *stmtCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for key, s := range c.shared {
		if err := s.stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", key, err)
		}
	}
	return firstErr
}
