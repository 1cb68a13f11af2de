package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/tttsync/internal/ir"
)

// Handle is a revocable live query.
type Handle interface {
	ID() string
	Query() ir.Query
	Unsubscribe() error
}

// Subscriber issues live queries against the row store.
type Subscriber interface {
	Subscribe(ctx context.Context, id string, q ir.Query) (Handle, error)
}

// IDGenerator allocates subscription handle ids.
// Implemented by UUIDv7Generator (production) and SequenceGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 handle ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Scope names a group of handles released together.
type Scope string

// ScopeConnection holds the queries issued once per connection.
const ScopeConnection Scope = "connection"

// GameScope returns the scope for one game id.
func GameScope(gameID uint32) Scope {
	return Scope(fmt.Sprintf("game:%d", gameID))
}

var (
	// ErrScopeActive is returned when binding a game while another is bound.
	ErrScopeActive = errors.New("another game scope is active")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("subscription manager closed")
)

// SubscribeError reports a query the row store refused.
type SubscribeError struct {
	Scope Scope
	Query ir.Query
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s (%s): %v", e.Scope, e.Query, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}

// entry is one issued (or in-flight) query inside a scope.
type entry struct {
	id     string
	query  ir.Query
	handle Handle // nil while Subscribe is in flight
}

// Manager tracks which subscriptions are live and which scope owns them.
//
// All methods are safe for concurrent use. The lock is never held while
// calling into the Subscriber or a Handle, so row stores may deliver
// notifications synchronously.
type Manager struct {
	sub   Subscriber
	idGen IDGenerator

	mu      sync.Mutex
	scopes  map[Scope][]*entry
	live    map[string]Scope
	game    Scope // bound game scope, "" when unbound
	gameID  uint32
	closed  bool
	issued  int
	revoked int
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator overrides the handle id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		m.idGen = g
	}
}

// NewManager creates a Manager issuing queries through sub.
func NewManager(sub Subscriber, opts ...Option) *Manager {
	m := &Manager{
		sub:    sub,
		idGen:  UUIDv7Generator{},
		scopes: make(map[Scope][]*entry),
		live:   make(map[string]Scope),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect issues the connection-scoped queries for the local identity.
func (m *Manager) Connect(ctx context.Context, me ir.Identity) ([]Handle, error) {
	return m.acquire(ctx, ScopeConnection, []ir.Query{ir.GamesOf(me), ir.StatsOf(me)})
}

// Bind issues the game-scoped queries: the game's moves, and its feedback
// addressed to me.
//
// Bind is idempotent: queries already issued for the same game are not
// re-issued. If an earlier Bind partially failed, calling it again issues
// only the missing queries. Binding a different game while one is bound
// returns ErrScopeActive.
func (m *Manager) Bind(ctx context.Context, gameID uint32, me ir.Identity) ([]Handle, error) {
	scope := GameScope(gameID)

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return nil, ErrClosed
	case m.game != "" && m.game != scope:
		bound := m.game
		m.mu.Unlock()
		return nil, fmt.Errorf("bind game %d: %w (bound %s)", gameID, ErrScopeActive, bound)
	}
	m.game = scope
	m.gameID = gameID
	m.mu.Unlock()

	return m.acquire(ctx, scope, []ir.Query{ir.MovesFor(gameID), ir.FeedbackFor(gameID, me)})
}

// Unbind releases every handle of the bound game scope. It is a no-op when
// no game is bound.
//
// Handles leave the live set before they are unsubscribed, so notifications
// already in flight for them are dropped by Live.
func (m *Manager) Unbind(ctx context.Context) error {
	m.mu.Lock()
	scope := m.game
	m.game = ""
	m.gameID = 0
	m.mu.Unlock()

	if scope == "" {
		return nil
	}
	return m.release(scope)
}

// Close releases every scope. Further Bind and Connect calls fail.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.game = ""
	m.gameID = 0
	scopes := make([]Scope, 0, len(m.scopes))
	for s := range m.scopes {
		scopes = append(scopes, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range scopes {
		if err := m.release(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live reports whether id names a handle that has not been torn down.
func (m *Manager) Live(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// Bound returns the game id of the active game scope.
func (m *Manager) Bound() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameID, m.game != ""
}

// Handles returns the issued handles of scope in issue order.
func (m *Manager) Handles(scope Scope) []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hs []Handle
	for _, e := range m.scopes[scope] {
		if e.handle != nil {
			hs = append(hs, e.handle)
		}
	}
	return hs
}

// GameHandles returns the handles of the bound game scope.
func (m *Manager) GameHandles() []Handle {
	m.mu.Lock()
	scope := m.game
	m.mu.Unlock()
	if scope == "" {
		return nil
	}
	return m.Handles(scope)
}

// Stats reports how many subscriptions were issued and revoked in total.
func (m *Manager) Stats() (issued, revoked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued, m.revoked
}

// acquire issues every query of qs not already present in scope and returns
// all handles of the scope. Failures are collected; successful handles stay.
func (m *Manager) acquire(ctx context.Context, scope Scope, qs []ir.Query) ([]Handle, error) {
	var errs []error
	for _, q := range qs {
		if err := m.issue(ctx, scope, q); err != nil {
			slog.Warn("subscription failed",
				"scope", scope,
				"query", q.String(),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return m.Handles(scope), errors.Join(errs...)
}

func (m *Manager) issue(ctx context.Context, scope Scope, q ir.Query) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if scope != ScopeConnection && m.game != scope {
		m.mu.Unlock()
		slog.Debug("scope released before subscribe", "scope", scope, "query", q.String())
		return nil
	}
	for _, e := range m.scopes[scope] {
		if e.query == q {
			m.mu.Unlock()
			slog.Debug("subscription already active", "scope", scope, "query", q.String())
			return nil
		}
	}
	e := &entry{id: m.idGen.Generate(), query: q}
	m.scopes[scope] = append(m.scopes[scope], e)
	m.live[e.id] = scope
	m.mu.Unlock()

	h, err := m.sub.Subscribe(ctx, e.id, q)

	m.mu.Lock()
	_, stillLive := m.live[e.id]
	if err != nil {
		m.dropEntry(scope, e.id)
		m.mu.Unlock()
		return &SubscribeError{Scope: scope, Query: q, Err: err}
	}
	if !stillLive {
		// torn down while Subscribe was in flight
		m.mu.Unlock()
		if uerr := h.Unsubscribe(); uerr != nil {
			return fmt.Errorf("release late subscription %s: %w", e.id, uerr)
		}
		return nil
	}
	e.handle = h
	m.issued++
	m.mu.Unlock()

	slog.Debug("subscription issued",
		"scope", scope,
		"id", e.id,
		"query", q.String(),
	)
	return nil
}

// release removes scope from the live set, then unsubscribes its handles.
func (m *Manager) release(scope Scope) error {
	m.mu.Lock()
	entries := m.scopes[scope]
	delete(m.scopes, scope)
	for _, e := range entries {
		delete(m.live, e.id)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if e.handle == nil {
			continue
		}
		if err := e.handle.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s (%s): %w", e.id, e.query, err))
			continue
		}
		m.mu.Lock()
		m.revoked++
		m.mu.Unlock()
		slog.Debug("subscription released", "scope", scope, "id", e.id, "query", e.query.String())
	}
	return errors.Join(errs...)
}

// dropEntry removes a failed in-flight entry. Caller holds mu.
func (m *Manager) dropEntry(scope Scope, id string) {
	delete(m.live, id)
	entries := m.scopes[scope]
	for i, e := range entries {
		if e.id == id {
			m.scopes[scope] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(m.scopes[scope]) == 0 {
		delete(m.scopes, scope)
	}
}
