package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/roach88/tttsync/internal/client"
	"github.com/roach88/tttsync/internal/engine"
	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/session"
	"github.com/roach88/tttsync/internal/store"
	"github.com/roach88/tttsync/internal/subscription"
	"github.com/roach88/tttsync/internal/testutil"
)

// untagged is the via value delivering an event without a subscription id.
const untagged = "-"

// recordingRemote is a RemoteInvoker that only records calls.
type recordingRemote struct {
	mu    sync.Mutex
	calls []RemoteCall
}

func (r *recordingRemote) InvokeRemoteAction(ctx context.Context, name string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RemoteCall{Name: name, Args: args})
	return nil
}

func (r *recordingRemote) since(n int) []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteCall(nil), r.calls[n:]...)
}

// harness holds the per-run wiring.
type harness struct {
	scenario *Scenario
	journal  *store.Store
	detached *subscription.Detached
	manager  *subscription.Manager
	recorder *session.Recorder
	remote   *recordingRemote
	session  *session.Session
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	result   *Result

	// cursors into the lifecycle log, notifications and remote calls
	lifecycle int
	notes     int
	calls     int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal. Subscription ids
// come from a sequence generator ("sub-1", "sub-2", ...) so traces are
// reproducible. Once the steps are done the journal is replayed into a new
// session, and any divergence from the live run fails the scenario.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	journal, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer journal.Close()

	h := &harness{
		scenario: scenario,
		journal:  journal,
		detached: subscription.NewDetached(),
		recorder: session.NewRecorder(),
		remote:   &recordingRemote{},
		clock:    testutil.NewDeterministicClock(),
		result:   NewResult(),
	}
	for _, table := range scenario.FailSubscriptions {
		h.detached.FailOn(table, true)
	}
	h.manager = subscription.NewManager(h.detached,
		subscription.WithIDGenerator(client.RecordIDs(testutil.NewSequenceGenerator("sub"), journal)),
	)
	h.session = session.New(scenario.Me, h.manager,
		session.WithPresenter(h.recorder),
		session.WithRemote(h.remote),
	)
	h.engine = engine.New(engine.HandlerFunc(h.session.Handle), engine.WithJournal(journal))

	h.result.addTrace(h.clock.Next(), TraceStep, "connect "+string(scenario.Me))
	if _, err := h.manager.Connect(ctx, scenario.Me); err != nil {
		h.result.addTrace(h.clock.Next(), TraceError, err.Error())
	}
	h.collect()

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.collect()
		if step.Expect != nil {
			for _, msg := range checkState(*step.Expect, h.session.Snapshot(), h.detached.Active()) {
				h.result.AddError(fmt.Sprintf("step %d: %s", i, msg))
			}
		}
	}

	final := h.session.Snapshot()
	h.result.Final = final
	h.result.Subscriptions = h.detached.Active()
	h.result.Notifications = h.recorder.Notifications()
	h.result.Remote = h.remote.since(0)
	h.result.addTrace(h.clock.Next(), TraceFinal, describeSnapshot(final, h.result.Subscriptions))

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}

	if len(scenario.FailSubscriptions) == 0 {
		if err := h.checkReplay(ctx); err != nil {
			return nil, err
		}
	}
	return h.result, nil
}

func (h *harness) runStep(ctx context.Context, index int, step Step) error {
	if step.Submit != nil {
		h.result.addTrace(h.clock.Next(), TraceStep, fmt.Sprintf("%d submit %d", index, *step.Submit))
		err := h.session.SubmitMove(ctx, *step.Submit)
		switch {
		case err != nil && step.ExpectError == "":
			h.result.addTrace(h.clock.Next(), TraceError, err.Error())
			h.result.AddError(fmt.Sprintf("step %d: unexpected submit error: %v", index, err))
		case err != nil:
			h.result.addTrace(h.clock.Next(), TraceError, err.Error())
			if !strings.Contains(err.Error(), step.ExpectError) {
				h.result.AddError(fmt.Sprintf("step %d: expected error containing %q, got %q", index, step.ExpectError, err))
			}
		case step.ExpectError != "":
			h.result.AddError(fmt.Sprintf("step %d: expected error containing %q, got none", index, step.ExpectError))
		}
		return nil
	}

	ev, err := step.event()
	if err != nil {
		return err
	}
	if ev == nil {
		h.result.addTrace(h.clock.Next(), TraceStep, fmt.Sprintf("%d check", index))
		return nil
	}

	switch step.Via {
	case "":
		ev.SubscriptionID = h.route(*ev)
	case untagged:
		ev.SubscriptionID = ""
	default:
		ev.SubscriptionID = step.Via
	}
	via := ev.SubscriptionID
	if via == "" {
		via = untagged
	}
	h.result.addTrace(h.clock.Next(), TraceStep,
		fmt.Sprintf("%d %s %s key=%s via %s", index, ev.Kind, ev.Table, ev.Row().Key(), via))

	failed := h.engine.Failed()
	if !h.engine.Enqueue(*ev) {
		return fmt.Errorf("engine stopped")
	}
	h.engine.Flush(ctx)
	if h.engine.Failed() > failed {
		h.result.addTrace(h.clock.Next(), TraceRejected, fmt.Sprintf("%s %s", ev.Kind, ev.Table))
	}
	return nil
}

// route picks the first live subscription whose query covers the event,
// connection scope first. Returns "" when none does.
func (h *harness) route(ev ir.RowEvent) string {
	handles := append(h.manager.Handles(subscription.ScopeConnection), h.manager.GameHandles()...)
	for _, hd := range handles {
		q := hd.Query()
		if q.Matches(ev.New) || q.Matches(ev.Old) {
			return hd.ID()
		}
	}
	return ""
}

// collect appends lifecycle events, notifications and remote calls that
// happened since the last call.
func (h *harness) collect() {
	log := h.detached.Log()
	for _, le := range log[h.lifecycle:] {
		typ := TraceSubscribe
		if !le.Subscribed {
			typ = TraceUnsubscribe
		}
		h.result.addTrace(h.clock.Next(), typ, le.ID+" "+le.Query.String())
	}
	h.lifecycle = len(log)

	notes := h.recorder.Notifications()
	for _, n := range notes[h.notes:] {
		h.result.addTrace(h.clock.Next(), TraceNotify, n.String())
	}
	h.notes = len(notes)

	calls := h.remote.since(h.calls)
	for _, c := range calls {
		h.result.addTrace(h.clock.Next(), TraceRemote, c.String())
	}
	h.calls += len(calls)
}

// checkReplay rebuilds the session from the journal and compares it with
// the live run.
func (h *harness) checkReplay(ctx context.Context) error {
	rec := session.NewRecorder()
	snap, n, err := client.Replay(ctx, h.journal, h.scenario.Me, rec)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	h.result.Replayed = n

	live := h.result.Final
	live.SubscribeErr, snap.SubscribeErr = 0, 0
	if live != snap {
		h.result.AddError(fmt.Sprintf("replay diverged: live %+v, replayed %+v", live, snap))
	}
	if !reflect.DeepEqual(h.result.Notifications, rec.Notifications()) {
		h.result.AddError(fmt.Sprintf("replay diverged: %d live notifications, %d replayed",
			len(h.result.Notifications), len(rec.Notifications())))
	}
	return nil
}

// describeSnapshot renders the state summary used in the final trace line.
func describeSnapshot(s session.Snapshot, subscriptions int) string {
	return fmt.Sprintf("state=%s game=%d board=%s next=%s playing_first=%t started=%t moves=%d anomalies=%d dropped=%d subscriptions=%d",
		s.State, s.GameID, s.Board, s.Next, s.PlayingFirst, s.Started,
		s.Moves, s.Anomalies, s.Dropped, subscriptions)
}

// checkState compares a snapshot against the fields set in want.
func checkState(want StateExpect, got session.Snapshot, subscriptions int) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expected %s=%v, got %v", field, want, got))
	}
	if want.State != nil && *want.State != got.State.String() {
		mismatch("state", *want.State, got.State)
	}
	if want.GameID != nil && *want.GameID != got.GameID {
		mismatch("game_id", *want.GameID, got.GameID)
	}
	if want.Board != nil && *want.Board != got.Board.String() {
		mismatch("board", *want.Board, got.Board)
	}
	if want.Next != nil && *want.Next != got.Next.String() {
		mismatch("next", *want.Next, got.Next)
	}
	if want.PlayingFirst != nil && *want.PlayingFirst != got.PlayingFirst {
		mismatch("playing_first", *want.PlayingFirst, got.PlayingFirst)
	}
	if want.Started != nil && *want.Started != got.Started {
		mismatch("started", *want.Started, got.Started)
	}
	if want.Moves != nil && *want.Moves != got.Moves {
		mismatch("moves", *want.Moves, got.Moves)
	}
	if want.Anomalies != nil && *want.Anomalies != got.Anomalies {
		mismatch("anomalies", *want.Anomalies, got.Anomalies)
	}
	if want.Dropped != nil && *want.Dropped != got.Dropped {
		mismatch("dropped", *want.Dropped, got.Dropped)
	}
	if want.Subscriptions != nil && *want.Subscriptions != subscriptions {
		mismatch("subscriptions", *want.Subscriptions, subscriptions)
	}
	return errs
}
