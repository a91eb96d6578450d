// Package reactive turns a query into a live sequence of result snapshots.
//
// A Stream is cold: nothing runs until Subscribe. Each subscription
// registers an observer with the invalidation tracker, runs the query once
// and emits the result immediately, then re-runs the query whenever one of
// the watched tables changes.
//
// Re-execution is coalesced through a one-slot trigger. Any number of
// invalidations that arrive while a query is running (or while its result
// waits for the consumer) produce at most one further run.
//
// Queries run on the subscription's goroutine and never take the store's
// write lock. A snapshot is at least as new as the commit that triggered
// it, and may include later commits.
package reactive
