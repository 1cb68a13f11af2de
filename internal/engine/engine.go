package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tttsync/internal/ir"
)

// Handler applies one row event to local state.
// Implemented by *session.Session.
type Handler interface {
	Handle(ctx context.Context, ev ir.RowEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev ir.RowEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev ir.RowEvent) error {
	return f(ctx, ev)
}

// Journal records processed events in processing order.
// Implemented by *store.Store.
type Journal interface {
	Append(ctx context.Context, seq int64, ev ir.RowEvent) error
}

// Engine is the single-writer event loop.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Flush(): must not be called while Run is active
//
// INVARIANTS:
//   - Events reach the handler in enqueue order
//   - Seq numbers are strictly increasing in processing order
//   - The handler is never invoked concurrently with itself
type Engine struct {
	handler Handler
	journal Journal
	clock   *Clock
	queue   *eventQueue

	processed atomic.Int64
	failed    atomic.Int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithJournal appends every event to j before it is handled.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock replaces the default clock.
// Used to resume seq numbering after an existing journal.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine delivering events to h.
func New(h Handler, opts ...EngineOption) *Engine {
	e := &Engine{
		handler: h,
		clock:   NewClock(),
		queue:   newEventQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue submits a row event for processing.
// Thread-safe: may be called from any goroutine, including from within
// the handler.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev ir.RowEvent) bool {
	return e.queue.Enqueue(Event{Row: ev})
}

// Run starts the event loop.
// Blocks until context is cancelled or Stop() is called.
//
// ERROR HANDLING: a failing event is logged with its context and the loop
// moves on to the next one.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.processEvent(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// signal channel closes with the queue
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Flush synchronously processes queued events until the queue is empty,
// including events enqueued by the handler while flushing. Returns the
// number of events processed.
//
// Used by tests and the simulator to step the loop deterministically.
func (e *Engine) Flush(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		event, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.processEvent(ctx, event)
		n++
	}
}

// Stop closes the queue. Run drains remaining events and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent stamps, journals and handles one event.
// CRITICAL: called only from the Run or Flush goroutine.
func (e *Engine) processEvent(ctx context.Context, event Event) {
	event.Seq = e.clock.Next()
	ev := event.Row

	if err := ev.Validate(); err != nil {
		e.failed.Add(1)
		logEventError(event, &RuntimeError{
			Code:    ErrCodeInvalidEvent,
			Message: "rejected before dispatch",
			Seq:     event.Seq,
			Table:   string(ev.Table),
			Err:     err,
		})
		return
	}

	slog.Debug("processing row event",
		"seq", event.Seq,
		"kind", ev.Kind,
		"table", ev.Table,
		"subscription", ev.SubscriptionID,
	)

	// A journal failure does not stop local state from following the store.
	if e.journal != nil {
		if err := e.journal.Append(ctx, event.Seq, ev); err != nil {
			e.failed.Add(1)
			logEventError(event, &RuntimeError{
				Code:    ErrCodeJournalFailed,
				Message: "append to journal",
				Seq:     event.Seq,
				Table:   string(ev.Table),
				Err:     err,
			})
		}
	}

	if err := e.handler.Handle(ctx, ev); err != nil {
		e.failed.Add(1)
		logEventError(event, &RuntimeError{
			Code:    ErrCodeHandlerFailed,
			Message: "handle row event",
			Seq:     event.Seq,
			Table:   string(ev.Table),
			Err:     err,
		})
		return
	}
	e.processed.Add(1)
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Processed returns the number of events handled without error.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// Failed returns the number of failures logged, counting journal and
// handler failures separately.
func (e *Engine) Failed() int64 {
	return e.failed.Load()
}

// logEventError logs an event processing failure with full context.
// This enables manual investigation and replay of failed events.
func logEventError(event Event, err error) {
	attrs := []any{
		"error", err,
		"seq", event.Seq,
		"kind", event.Row.Kind,
		"table", event.Row.Table,
	}
	if event.Row.SubscriptionID != "" {
		attrs = append(attrs, "subscription", event.Row.SubscriptionID)
	}
	if row := event.Row.Row(); row != nil {
		attrs = append(attrs, "key", row.Key())
	}
	slog.Error("row event processing failed", attrs...)
}
