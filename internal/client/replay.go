package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/session"
	"github.com/roach88/tttsync/internal/store"
	"github.com/roach88/tttsync/internal/subscription"
)

// HandleLog receives every generated subscription id.
type HandleLog interface {
	AppendHandleID(ctx context.Context, id string) error
}

type recordingGenerator struct {
	inner subscription.IDGenerator
	log   HandleLog
}

// RecordIDs wraps g so every id it generates is also appended to log.
// A failed append is logged; the id is still used.
func RecordIDs(g subscription.IDGenerator, log HandleLog) subscription.IDGenerator {
	return &recordingGenerator{inner: g, log: log}
}

func (r *recordingGenerator) Generate() string {
	id := r.inner.Generate()
	if err := r.log.AppendHandleID(context.Background(), id); err != nil {
		slog.Warn("recording subscription id", "id", id, "error", err)
	}
	return id
}

// listGenerator hands out recorded ids, then falls back to numbered ones.
type listGenerator struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (g *listGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("replay-%d", g.n)
}

// Replay rebuilds the session of identity me from a journal, with no row
// store involved. Presenter notifications are re-emitted to p. It returns
// the final state and the number of events replayed.
//
// Subscriptions are re-issued against a detached subscriber using the
// journaled handle ids, so events dropped as stale in the original run are
// dropped again.
func Replay(ctx context.Context, j *store.Store, me ir.Identity, p session.Presenter) (session.Snapshot, int, error) {
	ids, err := j.HandleIDs(ctx)
	if err != nil {
		return session.Snapshot{}, 0, fmt.Errorf("replay: %w", err)
	}

	mgr := subscription.NewManager(subscription.NewDetached(),
		subscription.WithIDGenerator(&listGenerator{ids: ids}),
	)
	if p == nil {
		p = session.NopPresenter{}
	}
	sess := session.New(me, mgr, session.WithPresenter(p))

	if _, err := mgr.Connect(ctx, me); err != nil {
		return session.Snapshot{}, 0, fmt.Errorf("replay: %w", err)
	}

	n, err := j.Replay(ctx, func(rec store.Record) error {
		if err := sess.Handle(ctx, rec.Event); err != nil {
			// the original run logged and skipped it too
			slog.Warn("replayed event rejected", "seq", rec.Seq, "error", err)
		}
		return nil
	})
	if err != nil {
		return sess.Snapshot(), n, fmt.Errorf("replay: %w", err)
	}
	return sess.Snapshot(), n, nil
}
