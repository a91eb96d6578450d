package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/record"
)

// createTestStore opens a file-backed store in a temp dir for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestNotification creates a notification with the required fields set.
func createTestNotification(id, timestamp int64) record.Notification {
	return record.Notification{
		ID:             id,
		UniqueID:       "u" + itoa(id),
		Key:            "k" + itoa(id),
		Timestamp:      timestamp,
		ShowTimestamp:  true,
		Text:           record.String("text " + itoa(id)),
		AppPackageName: "com.example.app",
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// flushTracker waits until every change set notified so far has been
// dispatched. Dispatch is FIFO, so a sentinel round trip is enough.
func flushTracker(t *testing.T, s *Store) {
	t.Helper()
	const sentinel = "flush_sentinel"
	seen := make(chan struct{})
	obs := s.Tracker().Register([]string{sentinel}, func(invalidation.ChangeSet) {
		close(seen)
	})
	defer obs.Unregister()

	require.True(t, s.Tracker().Notify(invalidation.NewChangeSet(sentinel)))
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not flush")
	}
}

// watchNotifications registers an observer on the notifications table and
// returns the channel its change sets arrive on. Writes made before the
// call are not observed.
func watchNotifications(t *testing.T, s *Store) <-chan invalidation.ChangeSet {
	t.Helper()
	flushTracker(t, s)
	ch := make(chan invalidation.ChangeSet, 16)
	obs := s.Tracker().Register([]string{record.TableNotifications}, func(cs invalidation.ChangeSet) {
		select {
		case ch <- cs:
		default:
		}
	})
	t.Cleanup(obs.Unregister)
	return ch
}

func waitForChange(t *testing.T, ch <-chan invalidation.ChangeSet) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation received")
	}
}

func assertNoChange(t *testing.T, ch <-chan invalidation.ChangeSet) {
	t.Helper()
	select {
	case cs := <-ch:
		t.Fatalf("unexpected invalidation for %v", cs.Tables())
	case <-time.After(50 * time.Millisecond):
	}
}

// installTrigger makes the engine abort statements matching when.
func installTrigger(t *testing.T, s *Store, name, event, when string) {
	t.Helper()
	_, err := s.DB().ExecContext(context.Background(),
		"CREATE TRIGGER "+name+" BEFORE "+event+" ON notifications WHEN "+when+
			" BEGIN SELECT RAISE(ABORT, 'forced failure'); END")
	require.NoError(t, err)
}

// nextSnapshot receives one snapshot from sub or fails the test.
func nextSnapshot(t *testing.T, ch <-chan []record.Notification) []record.Notification {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return nil
	}
}
