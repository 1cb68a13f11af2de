package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/subscription"
)

var (
	// ErrNotConnected is returned by connection operations before Connect
	// or after Close.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrDuplicateSubscription is returned when a subscription id is reused.
	ErrDuplicateSubscription = errors.New("duplicate subscription id")
)

// IdentityFor derives the identity bound to a credential token.
func IdentityFor(token string) ir.Identity {
	sum := sha256.Sum256([]byte(token))
	return ir.Identity(hex.EncodeToString(sum[:]))
}

type callbackKey struct {
	kind  ir.EventKind
	table ir.Table
}

// Conn is one client connection. It implements the client-side row store
// contract: connect, live queries, per-table callbacks and remote actions.
type Conn struct {
	store *Store

	// guarded by store.mu
	identity  ir.Identity
	connected bool
	subs      []*liveQuery

	cbMu      sync.Mutex
	callbacks map[callbackKey][]func(ir.RowEvent)
}

type liveQuery struct {
	conn   *Conn
	id     string
	q      ir.Query
	active bool
}

// Connect authenticates with token, or with a fresh token when empty, and
// runs the client_connected action. It returns the identity and the token
// to reuse on a later connection.
func (c *Conn) Connect(ctx context.Context, token string) (ir.Identity, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if token == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", "", fmt.Errorf("generate token: %w", err)
		}
		token = id.String()
	}
	me := IdentityFor(token)

	s := c.store
	s.mu.Lock()
	if c.connected {
		s.mu.Unlock()
		return "", "", ErrAlreadyConnected
	}
	c.identity = me
	c.connected = true
	s.clientConnectedLocked(me)
	s.mu.Unlock()
	s.drain()

	slog.Info("client connected", "identity", me.Short())
	return me, token, nil
}

// Identity returns the connected identity, empty before Connect.
func (c *Conn) Identity() ir.Identity {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.identity
}

// Close runs the client_disconnected action and drops every live query.
// Closing twice is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	s := c.store
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return nil
	}
	c.connected = false
	for _, lq := range c.subs {
		lq.active = false
	}
	c.subs = nil
	me := c.identity
	s.clientDisconnectedLocked(me)
	s.mu.Unlock()
	s.drain()

	slog.Info("client disconnected", "identity", me.Short())
	return nil
}

// OnInsert registers fn for inserts delivered for table.
func (c *Conn) OnInsert(table ir.Table, fn func(ir.RowEvent)) {
	c.on(ir.EventInsert, table, fn)
}

// OnUpdate registers fn for updates delivered for table.
func (c *Conn) OnUpdate(table ir.Table, fn func(ir.RowEvent)) {
	c.on(ir.EventUpdate, table, fn)
}

// OnDelete registers fn for deletes delivered for table.
func (c *Conn) OnDelete(table ir.Table, fn func(ir.RowEvent)) {
	c.on(ir.EventDelete, table, fn)
}

func (c *Conn) on(kind ir.EventKind, table ir.Table, fn func(ir.RowEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	k := callbackKey{kind: kind, table: table}
	c.callbacks[k] = append(c.callbacks[k], fn)
}

// Subscribe registers a live query under id and delivers the rows already
// matching it as inserts, skipping rows another live query of this
// connection already covers.
func (c *Conn) Subscribe(ctx context.Context, id string, q ir.Query) (subscription.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !q.Table.Valid() {
		return nil, fmt.Errorf("subscribe %s: unknown table", q)
	}

	s := c.store
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", q, ErrNotConnected)
	}
	for _, lq := range c.subs {
		if lq.id == id {
			s.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: %w: %s", q, ErrDuplicateSubscription, id)
		}
	}

	for _, row := range s.rowsLocked(q.Table) {
		if !q.Matches(row) || c.coveredLocked(row) {
			continue
		}
		s.outbox = append(s.outbox, delivery{conn: c, ev: ir.Insert(row).Via(id)})
	}
	lq := &liveQuery{conn: c, id: id, q: q, active: true}
	c.subs = append(c.subs, lq)
	s.mu.Unlock()
	s.drain()

	slog.Debug("subscription applied", "identity", c.identity.Short(), "subscription", id, "query", q.String())
	return lq, nil
}

// InvokeRemoteAction runs a named action as this connection's identity.
// Rule violations are reported through feedback rows, not errors.
func (c *Conn) InvokeRemoteAction(ctx context.Context, name string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNotConnected)
	}
	err := s.invokeLocked(c.identity, name, args)
	s.mu.Unlock()
	s.drain()
	return err
}

// Live returns the ids of this connection's live queries.
func (c *Conn) Live() []string {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, lq := range c.subs {
		out = append(out, lq.id)
	}
	return out
}

// coveredLocked reports whether a live query already delivers row.
func (c *Conn) coveredLocked(row ir.Row) bool {
	for _, lq := range c.subs {
		if lq.q.Matches(row) {
			return true
		}
	}
	return false
}

// route decides how a row change reaches this connection.
func (c *Conn) route(table ir.Table, before, after ir.Row) (ir.RowEvent, bool) {
	if !c.connected {
		return ir.RowEvent{}, false
	}
	oldBy, newBy := c.firstMatch(before), c.firstMatch(after)
	switch {
	case oldBy != nil && newBy != nil:
		return ir.RowEvent{Kind: ir.EventUpdate, Table: table, Old: before, New: after, SubscriptionID: oldBy.id}, true
	case newBy != nil:
		return ir.Insert(after).Via(newBy.id), true
	case oldBy != nil:
		return ir.Delete(before).Via(oldBy.id), true
	}
	return ir.RowEvent{}, false
}

func (c *Conn) firstMatch(row ir.Row) *liveQuery {
	if row == nil {
		return nil
	}
	for _, lq := range c.subs {
		if lq.q.Matches(row) {
			return lq
		}
	}
	return nil
}

func (c *Conn) deliver(ev ir.RowEvent) {
	c.cbMu.Lock()
	fns := append([]func(ir.RowEvent){}, c.callbacks[callbackKey{kind: ev.Kind, table: ev.Table}]...)
	c.cbMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (lq *liveQuery) ID() string      { return lq.id }
func (lq *liveQuery) Query() ir.Query { return lq.q }

// Unsubscribe removes the live query. Repeated calls are no-ops.
func (lq *liveQuery) Unsubscribe() error {
	s := lq.conn.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !lq.active {
		return nil
	}
	lq.active = false
	subs := lq.conn.subs[:0]
	for _, other := range lq.conn.subs {
		if other != lq {
			subs = append(subs, other)
		}
	}
	lq.conn.subs = subs
	return nil
}

// rowsLocked returns every row of table in key order.
func (s *Store) rowsLocked(table ir.Table) []ir.Row {
	var out []ir.Row
	switch table {
	case ir.TableGame:
		for _, g := range s.games {
			out = append(out, g)
		}
	case ir.TableGameMove:
		for _, m := range s.moves {
			out = append(out, m)
		}
	case ir.TableFeedback:
		for _, f := range s.feedback {
			out = append(out, f)
		}
	case ir.TablePlayerStats:
		for _, st := range s.stats {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i], out[j]) })
	return out
}

func lessKey(a, b ir.Row) bool {
	ka, kb := a.Key(), b.Key()
	if len(ka) != len(kb) {
		return len(ka) < len(kb)
	}
	return ka < kb
}
