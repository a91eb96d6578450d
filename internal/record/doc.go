// Package record defines the persisted notification entity and its column contract.
//
// The same contract drives three things:
//   - Physical layout: NotificationsTable renders the CREATE TABLE statement
//   - Binding and scanning: Notification.Args and Scan use column order
//   - Open-time validation: the store compares PRAGMA table_info against Schema
//
// Schema identity is a SHA-256 fingerprint of the canonical descriptor
// (see IdentityHash). It is stamped into the master table on open and is
// the only structural fingerprint the store persists.
package record
