// Package client assembles a reactive game client: it connects to a row
// store, routes every row callback through the single-writer engine into a
// session, and exposes move submission.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tttsync/internal/engine"
	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/session"
	"github.com/roach88/tttsync/internal/subscription"
)

// RowStore is the remote authoritative store as seen by one connection.
type RowStore interface {
	subscription.Subscriber

	// Connect authenticates and returns the identity plus the token to
	// reuse next time. An empty token asks the store for a new identity.
	Connect(ctx context.Context, token string) (ir.Identity, string, error)

	OnInsert(table ir.Table, fn func(ir.RowEvent))
	OnUpdate(table ir.Table, fn func(ir.RowEvent))
	OnDelete(table ir.Table, fn func(ir.RowEvent))

	InvokeRemoteAction(ctx context.Context, name string, args ...any) error

	Close(ctx context.Context) error
}

// Journal records processed row events and the subscription handle ids
// that tagged them. Implemented by *store.Store.
type Journal interface {
	engine.Journal
	AppendHandleID(ctx context.Context, id string) error
}

// ErrNotStarted is returned by operations that need a connected client.
var ErrNotStarted = errors.New("client not started")

// Client drives one session against one RowStore connection.
type Client struct {
	rs        RowStore
	presenter session.Presenter
	journal   Journal
	idGen     subscription.IDGenerator
	token     string

	me      ir.Identity
	manager *subscription.Manager
	session *session.Session
	engine  *engine.Engine
}

// Option configures a Client.
type Option func(*Client)

// WithPresenter sets the presentation sink.
func WithPresenter(p session.Presenter) Option {
	return func(c *Client) { c.presenter = p }
}

// WithJournal records every processed row event and every generated
// subscription id, so the session can be rebuilt later with Replay.
// The journal must be empty.
func WithJournal(j Journal) Option {
	return func(c *Client) { c.journal = j }
}

// WithIDGenerator sets the subscription id source.
func WithIDGenerator(g subscription.IDGenerator) Option {
	return func(c *Client) { c.idGen = g }
}

// WithToken reuses a credential token from an earlier connection.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client. Nothing touches the store until Start.
func New(rs RowStore, opts ...Option) *Client {
	c := &Client{
		rs:        rs,
		presenter: session.NopPresenter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects, wires the table callbacks, issues the connection-scoped
// subscriptions and announces readiness. It returns the local identity and
// the credential token; persisting the token is up to the caller.
func (c *Client) Start(ctx context.Context) (ir.Identity, string, error) {
	if c.engine != nil {
		return c.me, c.token, nil
	}

	me, token, err := c.rs.Connect(ctx, c.token)
	if err != nil {
		return "", "", fmt.Errorf("connect: %w", err)
	}
	c.me, c.token = me, token

	idGen := c.idGen
	if idGen == nil {
		idGen = subscription.UUIDv7Generator{}
	}
	if c.journal != nil {
		idGen = RecordIDs(idGen, c.journal)
	}
	c.manager = subscription.NewManager(c.rs, subscription.WithIDGenerator(idGen))
	c.session = session.New(me, c.manager,
		session.WithPresenter(c.presenter),
		session.WithRemote(c.rs),
	)

	var eopts []engine.EngineOption
	if c.journal != nil {
		eopts = append(eopts, engine.WithJournal(c.journal))
	}
	c.engine = engine.New(c.session, eopts...)

	for _, table := range ir.Tables {
		c.rs.OnInsert(table, c.enqueue)
		c.rs.OnUpdate(table, c.enqueue)
		c.rs.OnDelete(table, c.enqueue)
	}

	if _, err := c.manager.Connect(ctx, me); err != nil {
		return me, token, fmt.Errorf("connection subscriptions: %w", err)
	}

	if err := c.rs.InvokeRemoteAction(ctx, session.ActionReady); err != nil {
		slog.Warn("ready action failed", "identity", me.Short(), "error", err)
	}

	slog.Info("client started", "identity", me.Short())
	return me, token, nil
}

func (c *Client) enqueue(ev ir.RowEvent) {
	if !c.engine.Enqueue(ev) {
		slog.Debug("dropping row event after stop", "kind", ev.Kind, "table", ev.Table)
	}
}

// Run processes row events until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	if c.engine == nil {
		return ErrNotStarted
	}
	return c.engine.Run(ctx)
}

// Flush processes every pending row event on the calling goroutine.
// It must not be used while Run is active.
func (c *Client) Flush(ctx context.Context) int {
	if c.engine == nil {
		return 0
	}
	return c.engine.Flush(ctx)
}

// SubmitMove asks the store to play position in the bound game.
func (c *Client) SubmitMove(ctx context.Context, position int) error {
	if c.session == nil {
		return ErrNotStarted
	}
	return c.session.SubmitMove(ctx, position)
}

// Identity returns the local identity, empty before Start.
func (c *Client) Identity() ir.Identity { return c.me }

// Snapshot returns the session state.
func (c *Client) Snapshot() session.Snapshot {
	if c.session == nil {
		return session.Snapshot{}
	}
	return c.session.Snapshot()
}

// Subscriptions returns the subscription manager, nil before Start.
func (c *Client) Subscriptions() *subscription.Manager { return c.manager }

// Engine returns the event loop, nil before Start.
func (c *Client) Engine() *engine.Engine { return c.engine }

// Close releases every subscription, stops the loop and disconnects.
func (c *Client) Close(ctx context.Context) error {
	if c.engine == nil {
		return nil
	}
	var errs []error
	if err := c.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release subscriptions: %w", err))
	}
	c.engine.Stop()
	if err := c.rs.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	return errors.Join(errs...)
}
