// Package subscription owns the lifecycle of live queries.
//
// A Manager groups handles into scopes. The connection scope holds the
// queries that live as long as the connection (the local player's games and
// stats). A game scope holds the queries that only make sense once the
// current game id is known (its moves, and its feedback addressed to the
// local player). At most one game scope is active at a time.
//
// The Manager never interprets the rows its subscriptions deliver. It only
// answers whether a handle is still live, so that notifications arriving
// after teardown can be dropped before they reach session state.
//
// Handle ids are allocated by the Manager before the subscription is
// issued. A row store that delivers initial rows synchronously from
// Subscribe therefore tags them with an id that is already live.
package subscription
