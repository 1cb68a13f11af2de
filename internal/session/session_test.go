package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/subscription"
	"github.com/roach88/tttsync/internal/testutil"
)

const (
	me  = ir.Identity("me")
	opp = ir.Identity("opponent")
)

type invocation struct {
	name string
	args []any
}

type fakeRemote struct {
	calls []invocation
	err   error
}

func (f *fakeRemote) InvokeRemoteAction(_ context.Context, name string, args ...any) error {
	f.calls = append(f.calls, invocation{name: name, args: args})
	return f.err
}

type fixture struct {
	s      *Session
	m      *subscription.Manager
	d      *subscription.Detached
	rec    *Recorder
	remote *fakeRemote
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := subscription.NewDetached()
	m := subscription.NewManager(d, subscription.WithIDGenerator(testutil.NewSequenceGenerator("sub")))
	rec := NewRecorder()
	remote := &fakeRemote{}
	s := New(me, m, WithPresenter(rec), WithRemote(remote))
	return &fixture{s: s, m: m, d: d, rec: rec, remote: remote}
}

func (f *fixture) handle(t *testing.T, ev ir.RowEvent) {
	t.Helper()
	require.NoError(t, f.s.Handle(context.Background(), ev))
}

func waitingGame(id uint32) ir.Game {
	return ir.Game{ID: id, P1: me, P2: ir.IdentityZero, Result: ir.ResultUnstarted, Ready1: true}
}

func startedGame(id uint32) ir.Game {
	g := waitingGame(id)
	g.P2 = opp
	g.Ready2 = true
	g.Result = ir.ResultOngoing
	return g
}

func move(gameID uint32, id uint32, pos uint8) ir.GameMove {
	return ir.GameMove{ID: id, GameID: gameID, Position: pos}
}

func TestSession_StartsUnbound(t *testing.T) {
	f := newFixture(t)
	snap := f.s.Snapshot()
	assert.Equal(t, Unbound, snap.State)
	assert.Equal(t, uint32(0), snap.GameID)
	assert.Equal(t, board.Board{}, snap.Board)
}

// Full lifecycle: bind, opponent joins, one move, delete.
func TestSession_Scenario(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(waitingGame(1)))
	snap := f.s.Snapshot()
	assert.Equal(t, Bound, snap.State)
	assert.Equal(t, uint32(1), snap.GameID)
	assert.True(t, snap.PlayingFirst)
	assert.Equal(t, 2, f.d.Active())
	assert.Equal(t, 0, f.rec.Count(NotifyStarted))

	f.handle(t, ir.Update(waitingGame(1), startedGame(1)))
	assert.Equal(t, 1, f.rec.Count(NotifyStarted))
	started, _ := f.rec.Last(NotifyStarted)
	assert.Equal(t, "Game started! You play first with the Xs!", started.Detail)

	f.handle(t, ir.Insert(move(1, 1, 4)))
	snap = f.s.Snapshot()
	assert.Equal(t, board.X, snap.Board[4])
	assert.Equal(t, board.O, snap.Next)
	turn, ok := f.rec.Last(NotifyTurn)
	require.True(t, ok)
	assert.Equal(t, "O", turn.Detail)

	f.handle(t, ir.Delete(startedGame(1)))
	snap = f.s.Snapshot()
	assert.Equal(t, Unbound, snap.State)
	assert.Equal(t, uint32(0), snap.GameID)
	assert.Equal(t, board.Board{}, snap.Board)
	assert.Equal(t, 0, f.d.Active())
	assert.Empty(t, f.m.GameHandles())
	assert.Equal(t, board.X, snap.Next)
	turn, ok = f.rec.Last(NotifyTurn)
	require.True(t, ok)
	assert.Equal(t, "X", turn.Detail, "turn resets with the board")

	assert.Equal(t, 1, f.rec.Count(NotifyStarted), "game started fires exactly once")
}

func TestSession_DuplicateInsertKeepsSubscriptionSet(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(waitingGame(1)))
	before := f.d.Log()
	f.handle(t, ir.Insert(waitingGame(1)))
	f.handle(t, ir.Insert(waitingGame(1)))

	assert.Equal(t, before, f.d.Log())
	assert.Equal(t, 2, f.d.Active())
}

func TestSession_SecondGameWhileBoundIgnored(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(waitingGame(1)))
	f.handle(t, ir.Insert(waitingGame(2)))

	assert.Equal(t, uint32(1), f.s.Snapshot().GameID)
	assert.Equal(t, 2, f.d.Active())
}

func TestSession_GameWithoutMeIgnored(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(ir.Game{ID: 9, P1: opp, P2: ir.IdentityZero}))

	assert.Equal(t, Unbound, f.s.Snapshot().State)
	assert.Equal(t, 0, f.d.Active())
}

func TestSession_UpdateWhileUnboundBindsWithNewRow(t *testing.T) {
	f := newFixture(t)

	old := ir.Game{ID: 5, P1: opp, P2: ir.IdentityZero, Result: ir.ResultUnstarted}
	joined := ir.Game{ID: 5, P1: opp, P2: me, Result: ir.ResultOngoing}
	f.handle(t, ir.Update(old, joined))

	snap := f.s.Snapshot()
	assert.Equal(t, Bound, snap.State)
	assert.Equal(t, uint32(5), snap.GameID)
	assert.False(t, snap.PlayingFirst)
	assert.Equal(t, 2, f.d.Active())

	started, ok := f.rec.Last(NotifyStarted)
	require.True(t, ok)
	assert.Equal(t, "Game started! Opponent plays first... You play Os.", started.Detail)
}

func TestSession_SecondPlayerInsertStartsOnce(t *testing.T) {
	f := newFixture(t)

	g := ir.Game{ID: 3, P1: opp, P2: me, Result: ir.ResultOngoing}
	f.handle(t, ir.Insert(g))
	f.handle(t, ir.Update(g, g))

	assert.Equal(t, 1, f.rec.Count(NotifyStarted))
	assert.False(t, f.s.Snapshot().PlayingFirst)
}

func TestSession_UpdateWhileBoundDoesNotRebind(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(waitingGame(1)))
	f.handle(t, ir.Update(waitingGame(1), startedGame(1)))
	f.handle(t, ir.Update(startedGame(1), startedGame(1)))

	assert.Len(t, f.d.Log(), 2)
	assert.Equal(t, 1, f.rec.Count(NotifyStarted))
}

func TestSession_GameResultNotifiedOnce(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(startedGame(1)))
	won := startedGame(1)
	won.Result = ir.ResultP2Won
	f.handle(t, ir.Update(startedGame(1), won))
	f.handle(t, ir.Update(won, won))

	assert.Equal(t, 1, f.rec.Count(NotifyResult))
	res, _ := f.rec.Last(NotifyResult)
	assert.Equal(t, "p2_won (lost)", res.Detail)
}

func TestSession_DeleteOfOtherGameIgnored(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(waitingGame(1)))
	f.handle(t, ir.Delete(waitingGame(2)))

	assert.Equal(t, Bound, f.s.Snapshot().State)
	assert.Equal(t, 2, f.d.Active())
}

func TestSession_DeleteWhileUnboundIsNoop(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Delete(waitingGame(1)))
	assert.Equal(t, Unbound, f.s.Snapshot().State)
	assert.Empty(t, f.d.Log())
}

func TestSession_RebindAfterDelete(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(startedGame(1)))
	f.handle(t, ir.Insert(move(1, 1, 0)))
	f.handle(t, ir.Delete(startedGame(1)))
	f.handle(t, ir.Insert(waitingGame(2)))

	snap := f.s.Snapshot()
	assert.Equal(t, uint32(2), snap.GameID)
	assert.Equal(t, 0, snap.Board.Filled())
	assert.Equal(t, 2, f.d.Active())
}

func TestSession_MarksFollowArrivalOrder(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Insert(startedGame(1)))

	for i, pos := range []uint8{4, 0, 8} {
		f.handle(t, ir.Insert(move(1, uint32(i+1), pos)))
	}

	snap := f.s.Snapshot()
	assert.Equal(t, board.X, snap.Board[4])
	assert.Equal(t, board.O, snap.Board[0])
	assert.Equal(t, board.X, snap.Board[8])
	assert.Equal(t, 3, snap.Board.Filled())
	assert.Equal(t, 3, snap.Moves)
	assert.Equal(t, board.O, snap.Next)
}

func TestSession_MoveBeforeBindDropped(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(move(1, 1, 4)))
	f.handle(t, ir.Insert(startedGame(1)))

	snap := f.s.Snapshot()
	assert.Equal(t, 0, snap.Board.Filled())
	assert.Equal(t, 1, snap.Dropped)
	assert.Equal(t, 0, f.rec.Count(NotifyBoard))
}

func TestSession_MoveForOtherGameDropped(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Insert(startedGame(1)))

	f.handle(t, ir.Insert(move(2, 1, 4)))

	assert.Equal(t, 0, f.s.Snapshot().Board.Filled())
}

// A duplicate insert is a defect of the store; it is counted and the cell is
// overwritten rather than masked.
func TestSession_DuplicateMoveIsAnomaly(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Insert(startedGame(1)))

	f.handle(t, ir.Insert(move(1, 1, 4)))
	f.handle(t, ir.Insert(move(1, 1, 4)))

	snap := f.s.Snapshot()
	assert.Equal(t, 1, snap.Anomalies)
	assert.Equal(t, board.O, snap.Board[4])
	assert.Equal(t, 2, snap.Moves)
	// O overwrote the cell, so X is shown to move
	assert.Equal(t, board.X, snap.Next)
	turn, ok := f.rec.Last(NotifyTurn)
	require.True(t, ok)
	assert.Equal(t, "X", turn.Detail)
}

func TestSession_OutOfRangeMoveIsAnomaly(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Insert(startedGame(1)))

	f.handle(t, ir.Insert(move(1, 1, 12)))

	snap := f.s.Snapshot()
	assert.Equal(t, 1, snap.Anomalies)
	assert.Equal(t, 0, snap.Board.Filled())
}

func TestSession_FeedbackScoping(t *testing.T) {
	f := newFixture(t)

	f.handle(t, ir.Insert(ir.Feedback{ID: 1, GameID: 1, PlayerID: me, Message: "too early"}))
	f.handle(t, ir.Insert(waitingGame(1)))
	f.handle(t, ir.Insert(ir.Feedback{ID: 2, GameID: 1, PlayerID: me, Message: "Waiting for an opponent to join..."}))
	f.handle(t, ir.Insert(ir.Feedback{ID: 3, GameID: 2, PlayerID: me, Message: "other game"}))
	f.handle(t, ir.Insert(ir.Feedback{ID: 4, GameID: 1, PlayerID: opp, Message: "not mine"}))

	var texts []string
	for _, n := range f.rec.Notifications() {
		if n.Kind == NotifyFeedback {
			texts = append(texts, n.Detail)
		}
	}
	assert.Equal(t, []string{"Waiting for an opponent to join..."}, texts)
}

func TestSession_PlayerStatsForwardedInAnyState(t *testing.T) {
	f := newFixture(t)

	st := ir.PlayerStats{ID: me, Wins: 2, Losses: 1}
	f.handle(t, ir.Insert(st))
	st.Ties = 1
	f.handle(t, ir.Update(ir.PlayerStats{ID: me, Wins: 2, Losses: 1}, st))

	assert.Equal(t, 2, f.rec.Count(NotifyStats))
	last, _ := f.rec.Last(NotifyStats)
	assert.Equal(t, "wins=2 losses=1 ties=1 abandoned=0", last.Detail)
	assert.Equal(t, Unbound, f.s.Snapshot().State)
}

func TestSession_EventsFromReleasedSubscriptionDropped(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ir.Insert(startedGame(1)))

	hs := f.m.GameHandles()
	require.Len(t, hs, 2)
	movesID := hs[0].ID()

	f.handle(t, ir.Insert(move(1, 1, 4)).Via(movesID))
	assert.Equal(t, 1, f.s.Snapshot().Board.Filled())

	f.handle(t, ir.Delete(startedGame(1)))
	f.handle(t, ir.Insert(startedGame(1)))
	// late delivery through the old handle
	f.handle(t, ir.Insert(move(1, 2, 0)).Via(movesID))

	snap := f.s.Snapshot()
	assert.Equal(t, 0, snap.Board.Filled())
	assert.Equal(t, 1, snap.Dropped)
}

func TestSession_SubscriptionFailureLeavesStateBound(t *testing.T) {
	f := newFixture(t)
	f.d.FailOn(ir.TableGameMove, true)

	f.handle(t, ir.Insert(startedGame(1)))

	snap := f.s.Snapshot()
	assert.Equal(t, Bound, snap.State)
	assert.Equal(t, uint32(1), snap.GameID)
	assert.Equal(t, 1, snap.SubscribeErr)
	assert.Equal(t, 1, f.d.Active())
}

func TestSession_InvalidEvent(t *testing.T) {
	f := newFixture(t)

	err := f.s.Handle(context.Background(), ir.RowEvent{Kind: ir.EventInsert, Table: ir.TableGame})
	assert.Error(t, err)

	err = f.s.Handle(context.Background(), ir.RowEvent{Kind: ir.EventInsert, Table: "nope", New: waitingGame(1)})
	assert.Error(t, err)
}

func TestSession_SubmitMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.s.SubmitMove(ctx, 4)
	require.ErrorIs(t, err, ErrNotBound)
	assert.Empty(t, f.remote.calls)

	f.handle(t, ir.Insert(startedGame(7)))
	require.NoError(t, f.s.SubmitMove(ctx, 4))
	require.Len(t, f.remote.calls, 1)
	assert.Equal(t, ActionPlay, f.remote.calls[0].name)
	assert.Equal(t, []any{uint32(7), uint8(4)}, f.remote.calls[0].args)

	// the board only changes when the move row arrives
	assert.Equal(t, 0, f.s.Snapshot().Board.Filled())

	err = f.s.SubmitMove(ctx, 9)
	assert.ErrorIs(t, err, board.ErrPositionOutOfRange)

	f.remote.err = errors.New("connection lost")
	err = f.s.SubmitMove(ctx, 0)
	assert.ErrorContains(t, err, "connection lost")
}

func TestSession_SubmitMoveWithoutRemote(t *testing.T) {
	d := subscription.NewDetached()
	s := New(me, subscription.NewManager(d))
	assert.ErrorIs(t, s.SubmitMove(context.Background(), 0), ErrNoRemote)
}
