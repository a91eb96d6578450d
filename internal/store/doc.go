// Package store provides the SQLite-backed notification history.
//
// The store owns three things:
//   - Opening: schema creation, validation against record.Schema and, on
//     mismatch, a destructive rebuild (see OpenReport)
//   - Mutations: every write runs in one transaction under a single write
//     lock, and a committed write hands its ChangeSet to the invalidation
//     tracker. Failed writes roll back and notify nobody.
//   - Reads: one-shot reads and the live Notifications stream, which never
//     takes the write lock
//
// # Database Configuration
//
//   - WAL mode: readers proceed while a write transaction is open
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Pragmas are passed as go-sqlite3 DSN parameters so that every pooled
// connection gets them. ":memory:" databases are pinned to one connection.
//
// # Error Handling
//
//   - *StorageFault: engine failure inside a transaction; always rolled back
//   - ErrNotFound: Get on an absent id (deletes of absent ids are no-ops)
//   - record.ErrInvalidRecord: a required field is empty; nothing is written
package store
