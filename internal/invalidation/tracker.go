package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/roberto/internal/metrics"
)

// ErrClosed is returned by Run when the tracker was closed with nothing
// left to dispatch.
var ErrClosed = errors.New("invalidation tracker closed")

// Observer is a registered callback plus the tables it watches.
type Observer struct {
	id      uint64
	tables  map[string]struct{}
	fn      func(ChangeSet)
	tracker *Tracker
	active  atomic.Bool
}

// Tables returns the watched table names.
func (o *Observer) Tables() []string {
	cs := ChangeSet(o.tables)
	return cs.Tables()
}

// Unregister removes the observer. Safe to call more than once and
// concurrently with dispatch.
func (o *Observer) Unregister() {
	if !o.active.Swap(false) {
		return
	}
	o.tracker.remove(o)
}

// Tracker maps logical tables to registered observers and dispatches
// change sets to them from a single goroutine (see Run).
type Tracker struct {
	mu        sync.RWMutex
	observers map[uint64]*Observer
	byTable   map[string]map[uint64]*Observer
	nextID    uint64

	queue   *changeQueue
	running atomic.Bool
}

// NewTracker returns a Tracker with no observers. Run must be started for
// callbacks to fire.
func NewTracker() *Tracker {
	return &Tracker{
		observers: make(map[uint64]*Observer),
		byTable:   make(map[string]map[uint64]*Observer),
		queue:     newChangeQueue(),
	}
}

// Register adds an observer of tables. fn is invoked from the dispatch
// goroutine and must not block for long.
func (t *Tracker) Register(tables []string, fn func(ChangeSet)) *Observer {
	o := &Observer{
		tables:  make(map[string]struct{}, len(tables)),
		fn:      fn,
		tracker: t,
	}
	for _, name := range tables {
		o.tables[strings.ToLower(name)] = struct{}{}
	}
	o.active.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	o.id = t.nextID
	t.observers[o.id] = o
	for name := range o.tables {
		set, ok := t.byTable[name]
		if !ok {
			set = make(map[uint64]*Observer)
			t.byTable[name] = set
		}
		set[o.id] = o
	}

	slog.Debug("observer registered", "id", o.id, "tables", o.Tables())
	return o
}

func (t *Tracker) remove(o *Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.observers, o.id)
	for name := range o.tables {
		if set, ok := t.byTable[name]; ok {
			delete(set, o.id)
			if len(set) == 0 {
				delete(t.byTable, name)
			}
		}
	}

	slog.Debug("observer unregistered", "id", o.id)
}

// ObserverCount returns the number of registered observers.
func (t *Tracker) ObserverCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observers)
}

// Notify hands a committed change set to the tracker. It never blocks on
// observers. Empty change sets are ignored. Returns false once the tracker
// is closed.
func (t *Tracker) Notify(cs ChangeSet) bool {
	if len(cs) == 0 {
		return true
	}
	if !t.queue.Enqueue(cs) {
		return false
	}
	metrics.InvalidationsTotal.Inc()
	return true
}

// Run is the dispatch loop. It blocks until ctx is cancelled or Close is
// called, and must be called from exactly one goroutine.
//
// Change sets still queued when Close is called are dispatched before
// Run returns, including when Close happened before Run started. On
// context cancellation they are dropped.
func (t *Tracker) Run(ctx context.Context) error {
	if t.queue.Closed() && t.queue.Len() == 0 {
		return ErrClosed
	}
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("invalidation tracker: Run called twice")
	}
	defer t.running.Store(false)

	for {
		if cs, ok := t.queue.TryDequeue(); ok {
			t.dispatch(cs)
			continue
		}

		select {
		case <-ctx.Done():
			t.queue.Close()
			return ctx.Err()
		case <-t.queue.Wait():
			if t.queue.Closed() && t.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Close stops accepting change sets. Run returns after draining the queue.
func (t *Tracker) Close() {
	t.queue.Close()
}

// dispatch invokes every active observer whose tables intersect cs, once.
func (t *Tracker) dispatch(cs ChangeSet) {
	t.mu.RLock()
	matched := make(map[uint64]*Observer)
	for name := range cs {
		for id, o := range t.byTable[name] {
			matched[id] = o
		}
	}
	t.mu.RUnlock()

	for _, o := range matched {
		// Unregistered after the snapshot above: skip.
		if !o.active.Load() {
			continue
		}
		t.invoke(o, cs)
	}
}

func (t *Tracker) invoke(o *Observer, cs ChangeSet) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserverPanicsTotal.Inc()
			slog.Error("observer callback panicked",
				"id", o.id,
				"tables", cs.Tables(),
				"panic", r,
			)
		}
	}()

	metrics.ObserverCallbacksTotal.Inc()
	o.fn(cs)
}
