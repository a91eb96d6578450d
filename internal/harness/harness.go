package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

const (
	barrierTable   = "harness_barrier"
	barrierTimeout = 5 * time.Second
)

// Harness applies scenario steps to a store and traces them.
type Harness struct {
	store   *store.Store
	logger  *slog.Logger
	changes atomic.Int64
	barrier chan struct{}
	seq     int
}

// Run executes a scenario against a fresh in-memory store.
//
// An error is returned only when the scenario could not be executed at
// all; failed expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	st, err := store.Open(store.MemoryPath, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		logger:  logger,
		barrier: make(chan struct{}, 1),
	}
	counter := st.Tracker().Register([]string{record.TableNotifications}, func(invalidation.ChangeSet) {
		h.changes.Add(1)
	})
	defer counter.Unregister()
	sentinel := st.Tracker().Register([]string{barrierTable}, func(invalidation.ChangeSet) {
		h.barrier <- struct{}{}
	})
	defer sentinel.Unregister()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	for i, step := range scenario.Steps {
		event, err := h.executeStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Trace = append(result.Trace, event)
		for _, msg := range checkExpect(i, step, event) {
			result.AddError(msg)
		}
	}

	final, err := st.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeSetup inserts the setup rows and discards their invalidation.
func (h *Harness) executeSetup(ctx context.Context, setup []record.Notification) error {
	if len(setup) > 0 {
		err := h.store.Batch(ctx, func(tx *store.Tx) error {
			for _, n := range setup {
				if err := tx.InsertOrReplace(ctx, n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := h.flush(); err != nil {
		return err
	}
	h.changes.Store(0)
	return nil
}

// executeStep applies one top-level step and traces it.
func (h *Harness) executeStep(ctx context.Context, step Step) (TraceEvent, error) {
	h.seq++
	event := TraceEvent{
		Seq:  h.seq,
		Op:   step.Op,
		Args: stepArgs(step),
	}

	before := h.changes.Load()
	var stepErr error
	switch step.Op {
	case OpFault:
		stepErr = h.installFault(ctx, step.On)
	case OpHeal:
		stepErr = h.removeFault(ctx, step.On)
	case OpBatch:
		stepErr = h.store.Batch(ctx, func(tx *store.Tx) error {
			for _, sub := range step.Steps {
				if _, err := applyTx(ctx, tx, sub); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		event.Removed, stepErr = h.apply(ctx, step)
	}
	event.Outcome = classify(stepErr)
	if event.Outcome == OutcomeError {
		h.logger.Warn("step failed", "seq", event.Seq, "op", step.Op, "error", stepErr)
	}

	if err := h.flush(); err != nil {
		return TraceEvent{}, err
	}
	event.Invalidations = int(h.changes.Load() - before)

	rows, err := h.storedIDs(ctx)
	if err != nil {
		return TraceEvent{}, err
	}
	event.Rows = rows
	return event, nil
}

// apply runs a single mutation through the store's own transactions.
func (h *Harness) apply(ctx context.Context, step Step) (*int64, error) {
	switch step.Op {
	case OpInsert:
		return nil, h.store.InsertOrReplace(ctx, *step.Notification)
	case OpDelete:
		return nil, h.store.DeleteByIDs(ctx, step.IDs)
	case OpPurge:
		removed, err := h.store.DeleteOlderThan(ctx, *step.Before)
		if err != nil {
			return nil, err
		}
		return &removed, nil
	case OpClear:
		return nil, h.store.ClearAll(ctx)
	}
	return nil, fmt.Errorf("unsupported op %q", step.Op)
}

// applyTx runs a single mutation inside a batch.
func applyTx(ctx context.Context, tx *store.Tx, step Step) (*int64, error) {
	switch step.Op {
	case OpInsert:
		return nil, tx.InsertOrReplace(ctx, *step.Notification)
	case OpDelete:
		return nil, tx.DeleteByIDs(ctx, step.IDs)
	case OpPurge:
		removed, err := tx.DeleteOlderThan(ctx, *step.Before)
		if err != nil {
			return nil, err
		}
		return &removed, nil
	case OpClear:
		return nil, tx.ClearAll(ctx)
	}
	return nil, fmt.Errorf("unsupported op %q in batch", step.Op)
}

func faultTrigger(on string) string {
	return "harness_fault_" + on
}

// installFault makes every later statement of the given kind abort.
func (h *Harness) installFault(ctx context.Context, on string) error {
	_, err := h.store.DB().ExecContext(ctx, fmt.Sprintf(
		"CREATE TRIGGER %s BEFORE %s ON %s BEGIN SELECT RAISE(ABORT, 'injected fault'); END",
		faultTrigger(on), on, record.TableNotifications))
	return err
}

func (h *Harness) removeFault(ctx context.Context, on string) error {
	_, err := h.store.DB().ExecContext(ctx, "DROP TRIGGER IF EXISTS "+faultTrigger(on))
	return err
}

// flush waits until every change set notified so far has been dispatched.
// Dispatch is FIFO, so one sentinel round trip is enough.
func (h *Harness) flush() error {
	if !h.store.Tracker().Notify(invalidation.NewChangeSet(barrierTable)) {
		return errors.New("invalidation tracker closed")
	}
	select {
	case <-h.barrier:
		return nil
	case <-time.After(barrierTimeout):
		return errors.New("timed out waiting for invalidation dispatch")
	}
}

func (h *Harness) storedIDs(ctx context.Context) ([]int64, error) {
	all, err := h.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	ids := make([]int64, len(all))
	for i, n := range all {
		ids[i] = n.ID
	}
	return ids, nil
}

// classify maps a step error to its trace outcome.
func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, record.ErrInvalidRecord):
		return OutcomeInvalidRecord
	case store.IsStorageFault(err):
		return OutcomeStorageFault
	}
	return OutcomeError
}

// stepArgs summarises a step's inputs for the trace.
func stepArgs(step Step) map[string]interface{} {
	switch step.Op {
	case OpInsert:
		return map[string]interface{}{"id": step.Notification.ID}
	case OpDelete:
		return map[string]interface{}{"ids": step.IDs}
	case OpPurge:
		return map[string]interface{}{"before": *step.Before}
	case OpBatch:
		ops := make([]string, len(step.Steps))
		for i, sub := range step.Steps {
			ops[i] = sub.Op
		}
		return map[string]interface{}{"ops": ops}
	case OpFault, OpHeal:
		return map[string]interface{}{"on": step.On}
	}
	return nil
}

// checkExpect compares a traced step with its expectation.
func checkExpect(index int, step Step, event TraceEvent) []string {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}

	var msgs []string
	if event.Outcome != want {
		msgs = append(msgs, fmt.Sprintf("step %d (%s): expected outcome %s, got %s",
			index, step.Op, want, event.Outcome))
	}
	if step.Expect != nil && step.Expect.Removed != nil {
		got := int64(-1)
		if event.Removed != nil {
			got = *event.Removed
		}
		if got != *step.Expect.Removed {
			msgs = append(msgs, fmt.Sprintf("step %d (%s): expected %d removed, got %d",
				index, step.Op, *step.Expect.Removed, got))
		}
	}
	return msgs
}
