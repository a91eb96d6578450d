package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/metrics"
	"github.com/roach88/roberto/internal/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	report := s.OpenReport()
	assert.Equal(t, OutcomeCreated, report.Outcome)
	assert.Equal(t, record.Schema.MustIdentityHash(), report.IdentityHash)
	assert.Empty(t, report.PreviousIdentity)
	assert.Empty(t, report.Mismatches)
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.InsertOrReplace(context.Background(), createTestNotification(1, 100)))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	report := s2.OpenReport()
	assert.Equal(t, OutcomeValidated, report.Outcome)
	assert.Equal(t, report.IdentityHash, report.PreviousIdentity)

	count, err := s2.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "validated open must keep rows")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{record.TableNotifications, masterTable} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.InsertOrReplace(ctx, createTestNotification(1, 100)))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UniqueID)
	assert.Equal(t, 1, s.DB().Stats().MaxOpenConnections)
}

func TestOpen_SharedTracker(t *testing.T) {
	tr := invalidation.NewTracker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	s := createTestStore(t, WithTracker(tr))
	assert.Same(t, tr, s.Tracker())

	changes := watchNotifications(t, s)
	require.NoError(t, s.InsertOrReplace(context.Background(), createTestNotification(1, 100)))
	waitForChange(t, changes)

	// Closing the store leaves a shared tracker running.
	require.NoError(t, s.Close())
	assert.True(t, tr.Notify(invalidation.NewChangeSet(record.TableNotifications)))
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close returns the first result
	assert.NoError(t, s.Close())
}

func TestClose_RejectsWrites(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.InsertOrReplace(context.Background(), createTestNotification(1, 100))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_DispatchesCommittedChange(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	var calls atomic.Int32
	s.Tracker().Register([]string{record.TableNotifications}, func(invalidation.ChangeSet) {
		calls.Add(1)
	})

	// Close right after the commit, possibly before the dispatch goroutine
	// started in Open has entered its loop.
	require.NoError(t, s.InsertOrReplace(context.Background(), createTestNotification(1, 100)))
	require.NoError(t, s.Close())

	assert.Equal(t, int32(1), calls.Load())
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	s := createTestStore(t)

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_NotificationsTableMatchesDescriptor(t *testing.T) {
	s := createTestStore(t)

	got, ok, err := readTableInfo(context.Background(), s.db, record.TableNotifications)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, record.NotificationsTable.Diff(got))
}

func TestSchema_MasterTableStamped(t *testing.T) {
	s := createTestStore(t)

	var hash string
	err := s.db.QueryRow("SELECT identity_hash FROM roberto_master_table WHERE id = 42").Scan(&hash)
	require.NoError(t, err)
	assert.Equal(t, record.Schema.MustIdentityHash(), hash)
}

func TestSchema_RebuildsOnMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	// An older layout without app_package.
	legacy := record.NotificationsTable
	legacy.Columns = legacy.Columns[:len(legacy.Columns)-1]
	s1, err := Open(path, withSchema(record.SchemaDescriptor{Version: 1, Tables: []record.TableDescriptor{legacy}}))
	require.NoError(t, err)
	_, err = s1.DB().Exec("INSERT INTO notifications (notification_id, uid, notification_key, timestamp, showTimestamp, isGroup) VALUES (1, 'u', 'k', 1, 0, 0)")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	before := testutil.ToFloat64(metrics.SchemaOpensTotal.WithLabelValues(string(OutcomeRebuilt)))

	s2, err := Open(path)
	require.NoError(t, err, "a mismatch must not be surfaced as an error")
	defer s2.Close()

	report := s2.OpenReport()
	assert.Equal(t, OutcomeRebuilt, report.Outcome)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, record.TableNotifications, report.Mismatches[0].Table)
	assert.Contains(t, report.Mismatches[0].Diffs, "notifications.app_package: missing column")
	assert.NotEqual(t, report.IdentityHash, report.PreviousIdentity)

	got, ok, err := readTableInfo(ctx, s2.db, record.TableNotifications)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, record.NotificationsTable.Diff(got), "rebuilt table must match the descriptor")

	count, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "rebuild discards rows")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SchemaOpensTotal.WithLabelValues(string(OutcomeRebuilt))))
}

func TestSchema_RebuildsOnTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Replace the table with one where timestamp is TEXT.
	s1, err = Open(path)
	require.NoError(t, err)
	_, err = s1.DB().Exec("DROP TABLE notifications")
	require.NoError(t, err)
	_, err = s1.DB().Exec("CREATE TABLE notifications (notification_id INTEGER NOT NULL, uid TEXT NOT NULL, notification_key TEXT NOT NULL, timestamp TEXT NOT NULL, showTimestamp INTEGER NOT NULL, isGroup INTEGER NOT NULL, text TEXT, title TEXT, subText TEXT, titleBig TEXT, app_package TEXT NOT NULL, PRIMARY KEY(notification_id))")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	report := s2.OpenReport()
	assert.Equal(t, OutcomeRebuilt, report.Outcome)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, []string{`notifications.timestamp: type "TEXT", expected "INTEGER"`}, report.Mismatches[0].Diffs)
}

func TestSchema_RestampsStaleIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.DB().Exec("UPDATE roberto_master_table SET identity_hash = 'stale' WHERE id = 42")
	require.NoError(t, err)
	require.NoError(t, s1.InsertOrReplace(context.Background(), createTestNotification(1, 100)))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	report := s2.OpenReport()
	assert.Equal(t, OutcomeValidated, report.Outcome, "identity alone does not force a rebuild")
	assert.Equal(t, "stale", report.PreviousIdentity)

	var hash string
	require.NoError(t, s2.db.QueryRow("SELECT identity_hash FROM roberto_master_table WHERE id = 42").Scan(&hash))
	assert.Equal(t, record.Schema.MustIdentityHash(), hash)

	count, err := s2.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSchemaMismatch_String(t *testing.T) {
	m := SchemaMismatch{Table: "notifications", Diffs: []string{"a", "b"}}
	assert.Equal(t, "notifications: a; b", m.String())
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"file:/tmp/x.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		dsn("/tmp/x.db"))
	assert.Equal(t,
		":memory:?_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL",
		dsn(MemoryPath))
}
