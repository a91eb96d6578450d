// Package invalidation tracks which logical tables a committed transaction
// touched and tells interested observers about it.
//
// The write path only enqueues a ChangeSet (Notify never blocks on
// observers). A single dispatch goroutine, Tracker.Run, drains the queue and
// invokes each matching observer once per change set, however many of its
// tables changed.
//
// Observers are isolated: a panicking callback is recovered, logged and
// counted, and dispatch continues with the next observer.
//
// Unregister that happens-before dispatch suppresses the callback. If the
// race goes the other way the callback may still run once, so callbacks
// must be idempotent.
package invalidation
