package reactive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/roberto/internal/invalidation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const table = "notifications"

// fakeTable is an in-memory "table" whose query counts executions.
type fakeTable struct {
	mu    sync.Mutex
	rows  []int
	runs  int
	fail  error
	gate  chan struct{} // when non-nil, the next run blocks on it
	start chan int      // receives the run number as each run starts
}

func (f *fakeTable) insert(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, v)
}

func (f *fakeTable) query(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	f.runs++
	run := f.runs
	gate := f.gate
	f.gate = nil
	start := f.start
	f.mu.Unlock()

	if start != nil {
		start <- run
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([]int, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeTable) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func startTracker(t *testing.T) *invalidation.Tracker {
	t.Helper()
	tr := invalidation.NewTracker()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(context.Background())
	}()
	t.Cleanup(func() {
		tr.Close()
		<-done
	})
	return tr
}

func next(t *testing.T, sub *Subscription[[]int]) []int {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription ended unexpectedly")
		return v
	case <-time.After(time.Second):
		t.Fatal("no snapshot within 1s")
		return nil
	}
}

func assertNoSnapshot(t *testing.T, sub *Subscription[[]int]) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected snapshot %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_EmitsInitialSnapshot(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{rows: []int{1, 2}}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	defer sub.Cancel()

	assert.Equal(t, []int{1, 2}, next(t, sub))
	assertNoSnapshot(t, sub)
	assert.Equal(t, 1, ft.runCount())
}

func TestSubscribe_ReemitsOnInvalidation(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	defer sub.Cancel()

	assert.Empty(t, next(t, sub))

	ft.insert(7)
	tr.Notify(invalidation.NewChangeSet(table))

	assert.Equal(t, []int{7}, next(t, sub))
}

func TestSubscribe_IgnoresOtherTables(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	defer sub.Cancel()
	next(t, sub)

	tr.Notify(invalidation.NewChangeSet("apps"))
	assertNoSnapshot(t, sub)
}

func TestSubscribe_CoalescesBurst(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{start: make(chan int, 16)}

	// Observes every dispatch so the test knows when a burst has been delivered.
	seen := make(chan struct{}, 16)
	probe := tr.Register([]string{table, "sentinel"}, func(invalidation.ChangeSet) { seen <- struct{}{} })
	defer probe.Unregister()

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	defer sub.Cancel()

	require.Equal(t, 1, <-ft.start)
	next(t, sub)

	// Hold the second run in flight.
	gate := make(chan struct{})
	ft.mu.Lock()
	ft.gate = gate
	ft.mu.Unlock()

	tr.Notify(invalidation.NewChangeSet(table))
	<-seen
	require.Equal(t, 2, <-ft.start)

	for i := 0; i < 5; i++ {
		ft.insert(i)
		tr.Notify(invalidation.NewChangeSet(table))
	}
	for i := 0; i < 5; i++ {
		<-seen
	}
	// Dispatch is sequential: once the sentinel is seen, every earlier
	// change set has reached every observer.
	tr.Notify(invalidation.NewChangeSet("sentinel"))
	<-seen

	close(gate)
	next(t, sub) // result of the in-flight run
	assert.Len(t, next(t, sub), 5, "one coalesced re-run sees the whole burst")
	assertNoSnapshot(t, sub)
	assert.Equal(t, 3, ft.runCount())
}

func TestSubscribe_RapidInsertsFewerSnapshots(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	defer sub.Cancel()
	next(t, sub)

	for i := 0; i < 5; i++ {
		ft.insert(i)
		tr.Notify(invalidation.NewChangeSet(table))
	}

	snapshots := 0
	for {
		v := next(t, sub)
		snapshots++
		if len(v) == 5 {
			break
		}
	}
	for {
		select {
		case <-sub.C():
			snapshots++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Less(t, snapshots, 5)
}

func TestCancel_StopsEmission(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())
	next(t, sub)

	sub.Cancel()
	assert.Equal(t, 0, tr.ObserverCount(), "observer released on cancel")

	ft.insert(1)
	tr.Notify(invalidation.NewChangeSet(table))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel closed after cancel")
	assert.NoError(t, sub.Err())
	assert.Equal(t, 1, ft.runCount())

	// Idempotent.
	sub.Cancel()
}

func TestCancel_WhileSnapshotPending(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	sub := NewStream(tr, []string{table}, ft.query).Subscribe(context.Background())

	// Nobody reads the first snapshot; Cancel must not hang.
	done := make(chan struct{})
	go func() {
		sub.Cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked")
	}
}

func TestSubscribe_ParentContextCancel(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	ctx, cancel := context.WithCancel(context.Background())
	sub := NewStream(tr, []string{table}, ft.query).Subscribe(ctx)
	next(t, sub)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSubscribe_QueryErrorIsolated(t *testing.T) {
	tr := startTracker(t)
	broken := &fakeTable{fail: errors.New("disk on fire")}
	healthy := &fakeTable{rows: []int{1}}

	bad := NewStream(tr, []string{table}, broken.query).Subscribe(context.Background())
	good := NewStream(tr, []string{table}, healthy.query).Subscribe(context.Background())
	defer good.Cancel()

	select {
	case <-bad.Done():
	case <-time.After(time.Second):
		t.Fatal("failing subscription did not end")
	}
	require.Error(t, bad.Err())
	assert.Contains(t, bad.Err().Error(), "disk on fire")

	assert.Equal(t, []int{1}, next(t, good))
	healthy.insert(2)
	tr.Notify(invalidation.NewChangeSet(table))
	assert.Equal(t, []int{1, 2}, next(t, good))
}

func TestStream_Restartable(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{rows: []int{1}}
	stream := NewStream(tr, []string{table}, ft.query)

	first := stream.Subscribe(context.Background())
	assert.Equal(t, []int{1}, next(t, first))
	first.Cancel()

	ft.insert(2)
	second := stream.Subscribe(context.Background())
	defer second.Cancel()
	assert.Equal(t, []int{1, 2}, next(t, second))
	assert.Equal(t, []string{table}, stream.Tables())
}

func TestStream_Lazy(t *testing.T) {
	tr := startTracker(t)
	ft := &fakeTable{}

	NewStream(tr, []string{table}, ft.query)
	assert.Equal(t, 0, ft.runCount())
	assert.Equal(t, 0, tr.ObserverCount())
}
