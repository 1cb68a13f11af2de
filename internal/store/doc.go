// Package store provides the SQLite-backed journal of processed row events.
//
// Every event the engine hands to a session is appended here with its
// logical seq, so a session can be rebuilt offline by feeding the events
// back in seq order.
//
// # Critical Patterns
//
// Logical time:
//   - Ordering uses the seq INTEGER assigned by the engine clock, never
//     timestamps
//   - Reads are always ORDER BY seq ASC
//
// Idempotent appends:
//   - Each event carries a content-addressed id (ir.EventID)
//   - Appending the same event at the same seq twice is a no-op
//   - Appending a different event at an existing seq is an error
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
