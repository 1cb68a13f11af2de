// Package engine implements the single-writer event loop that feeds row
// events into a session.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Row store callbacks may fire on any goroutine. They only Enqueue; the
// Run loop dequeues one event at a time and hands it to the Handler. This
// gives the session the cooperative, one-callback-at-a-time model it is
// written against:
//   - No handler is ever re-entered or run concurrently with another
//   - Events are handled in exactly the order they were enqueued
//   - A journal written from the loop replays to the same state
//
// Event Processing Flow:
//  1. Row store delivers a notification; the client callback calls Enqueue
//  2. Run (or Flush) dequeues it and stamps it with the next logical seq
//  3. If a journal is configured the event is appended to it
//  4. The Handler (a *session.Session) applies it
//
// Ordering:
// The queue is FIFO, so inserts delivered for one subscription keep their
// commit order. Nothing is assumed about ordering across tables.
//
// Errors:
// A failing handler or journal write is logged with the event context and
// the loop continues. No error from one event stops the next.
package engine
