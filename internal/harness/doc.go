// Package harness runs declarative store scenarios.
//
// A scenario is a YAML file that seeds a fresh in-memory store, applies a
// list of mutation steps and checks assertions against the result:
//
//	name: purge_boundary
//	description: "Purging keeps rows at the threshold"
//	setup:
//	  - {id: 1, unique_id: u1, key: k1, timestamp: 100, app_package: com.app}
//	steps:
//	  - op: purge
//	    before: 100
//	    expect: {removed: 0}
//	  - op: delete
//	    ids: [1]
//	assertions:
//	  - type: final_count
//	    count: 0
//	  - type: invalidations
//	    count: 2
//
// # Steps
//
//   - insert: insert or replace one notification
//   - delete: delete by ids in one transaction
//   - purge: delete rows with timestamp strictly before a threshold
//   - clear: delete every row
//   - batch: run nested steps in a single transaction
//   - fault / heal: install or remove a trigger that aborts inserts or deletes
//
// A step is expected to succeed unless its expect clause names an error
// (invalid_record or storage_fault).
//
// # Trace
//
// Every step is recorded with its outcome, how many notification-table
// invalidations it caused and the ids stored afterwards. The trace is
// deterministic, so it can be compared against golden files:
//
//	go test ./internal/harness -update
package harness
