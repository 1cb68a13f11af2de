package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tttsync/internal/ir"
)

// ErrRefused is returned by Detached for tables configured to fail.
var ErrRefused = errors.New("subscription refused")

// Detached is a Subscriber with no backing row store. It hands out handles
// and records their lifecycle, but never delivers rows. Replay and the
// scenario harness use it: their row events come from a journal or a script.
type Detached struct {
	mu     sync.Mutex
	fail   map[ir.Table]bool
	active map[string]ir.Query
	log    []LifecycleEvent
}

// LifecycleEvent records one subscribe or unsubscribe.
type LifecycleEvent struct {
	Subscribed bool
	ID         string
	Query      ir.Query
}

// NewDetached creates an empty Detached subscriber.
func NewDetached() *Detached {
	return &Detached{
		fail:   make(map[ir.Table]bool),
		active: make(map[string]ir.Query),
	}
}

// FailOn makes subsequent subscriptions to table fail (or succeed again when
// fail is false).
func (d *Detached) FailOn(table ir.Table, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[table] = fail
}

// Subscribe implements Subscriber.
func (d *Detached) Subscribe(ctx context.Context, id string, q ir.Query) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[q.Table] {
		return nil, ErrRefused
	}
	d.active[id] = q
	d.log = append(d.log, LifecycleEvent{Subscribed: true, ID: id, Query: q})
	return &detachedHandle{d: d, id: id, q: q}, nil
}

// Active returns the number of handles not yet unsubscribed.
func (d *Detached) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// ActiveQueries returns the queries of live handles.
func (d *Detached) ActiveQueries() []ir.Query {
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := make([]ir.Query, 0, len(d.active))
	for _, q := range d.active {
		qs = append(qs, q)
	}
	return qs
}

// Log returns every lifecycle event in order.
func (d *Detached) Log() []LifecycleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]LifecycleEvent, len(d.log))
	copy(out, d.log)
	return out
}

type detachedHandle struct {
	d  *Detached
	id string
	q  ir.Query
}

func (h *detachedHandle) ID() string      { return h.id }
func (h *detachedHandle) Query() ir.Query { return h.q }

// Unsubscribe is idempotent; only the first call is recorded.
func (h *detachedHandle) Unsubscribe() error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if _, ok := h.d.active[h.id]; !ok {
		return nil
	}
	delete(h.d.active, h.id)
	h.d.log = append(h.d.log, LifecycleEvent{Subscribed: false, ID: h.id, Query: h.q})
	return nil
}
