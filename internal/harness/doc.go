// Package harness runs scripted row event scenarios against a session.
//
// A scenario feeds row events to one local player's session through the
// real event loop, with a detached subscriber standing in for the row
// store. Each run is journaled to an in-memory SQLite store and replayed,
// and the replayed state must match the live one.
//
// # Scenario Format
//
// Scenarios are YAML files validated against an embedded CUE schema:
//
//	name: opponent_joins
//	description: "Second player fills the slot"
//	me: alice
//	steps:
//	  - insert:
//	      table: game
//	      row: { id: 1, p1: alice, p2: "", result: unstarted }
//	    expect: { state: bound, subscriptions: 4 }
//	  - update:
//	      table: game
//	      old: { id: 1, p1: alice, p2: "", result: unstarted }
//	      new: { id: 1, p1: alice, p2: bob, result: ongoing }
//	  - submit: 4
//	assertions:
//	  - type: notify_count
//	    kind: started
//	    count: 1
//
// Row events are tagged with the first live subscription whose query
// matches the row, unless the step names one with via ("-" for none).
//
// # Assertion Types
//
//   - notify_contains: a notification of kind with detail was emitted
//   - notify_count: kind was emitted exactly count times
//   - notify_order: the "kind detail" lines appear in this order
//   - remote_count: the remote action was invoked count times
//   - final_state: the session ends in the given state
//
// # Golden Traces
//
// Every run produces a plain-text trace: subscription lifecycle,
// presenter notifications and remote calls per step, then the final state.
// RunWithGolden compares it against testdata/golden/<name>.golden.
package harness
