// Package session holds the local view of the current game and the handlers
// that mutate it in response to row events.
//
// A Session cycles between two states for the lifetime of a connection:
//
//	Unbound --(game row for me inserted/updated)--> Bound
//	Bound   --(bound game row deleted)-----------> Unbound
//
// There is no terminal state. Binding activates the game-scoped
// subscriptions; unbinding tears all of them down and resets the board.
//
// Handlers are idempotent against duplicate delivery and never assume an
// order between tables: a move or feedback row for a game that is not the
// bound one is dropped, whichever arrives first. Within one table the row
// store delivers inserts in commit order; move marks depend on that.
//
// A Session is driven from a single goroutine (engine.Run or a test). The
// snapshot accessors and SubmitMove may be called from other goroutines.
package session
