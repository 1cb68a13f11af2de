// Package memstore is an in-process authoritative row store.
//
// It holds the game, game_move, feedback and player_stats tables, runs the
// server-side actions (client_connected, client_disconnected, play, ready and
// the scheduled delete_game), and pushes row changes to connections whose
// live queries match them.
//
// Delivery model:
//   - Every row change is delivered at most once per connection, tagged with
//     the first live subscription of that connection whose query matches
//   - An update is delivered as an insert when only the new row matches and
//     as a delete when only the old row matches
//   - Deliveries go through a single outbox, so every connection observes
//     changes in commit order
//   - Callbacks run outside the store lock and may call back into the store
//
// The simulator, the client tests and the CLI use it in place of a networked
// row store.
package memstore
