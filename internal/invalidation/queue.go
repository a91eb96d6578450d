package invalidation

import "sync"

// changeQueue is a thread-safe FIFO of change sets.
//
// The queue is unbounded so that Notify, called on the write path right
// after commit, never waits for a slow observer.
//
// signal is buffered with size 1: any number of enqueues between two
// waits collapse into a single wake-up.
type changeQueue struct {
	mu     sync.Mutex
	items  []ChangeSet
	closed bool
	signal chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		items:  make([]ChangeSet, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds cs to the back of the queue.
// Returns false if the queue is closed.
func (q *changeQueue) Enqueue(cs ChangeSet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, cs)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front change set without blocking.
func (q *changeQueue) TryDequeue() (ChangeSet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	cs := q.items[0]
	q.items[0] = nil // release for GC

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return cs, true
}

// Wait returns a channel that fires when items may be available, and is
// closed once the queue is closed.
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued change sets.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *changeQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting change sets and wakes the dispatcher.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
