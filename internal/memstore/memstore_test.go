package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tttsync/internal/ir"
)

// sink collects every event delivered to a connection.
type sink struct {
	mu     sync.Mutex
	events []ir.RowEvent
}

func (s *sink) add(ev ir.RowEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) take() []ir.RowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *sink) of(table ir.Table) []ir.RowEvent {
	var out []ir.RowEvent
	for _, ev := range s.take() {
		if ev.Table == table {
			out = append(out, ev)
		}
	}
	return out
}

func attach(c *Conn) *sink {
	s := &sink{}
	for _, t := range ir.Tables {
		c.OnInsert(t, s.add)
		c.OnUpdate(t, s.add)
		c.OnDelete(t, s.add)
	}
	return s
}

func connect(t *testing.T, st *Store, token string) (*Conn, ir.Identity, *sink) {
	t.Helper()
	c := st.Dial()
	sk := attach(c)
	me, _, err := c.Connect(context.Background(), token)
	require.NoError(t, err)
	return c, me, sk
}

func TestConnect_CreatesThenJoinsGame(t *testing.T) {
	st := New(WithManualDeletes())
	_, alice, _ := connect(t, st, "alice")
	assert.Equal(t, IdentityFor("alice"), alice)

	games := st.Games()
	require.Len(t, games, 1)
	assert.Equal(t, alice, games[0].P1)
	assert.Equal(t, ir.IdentityZero, games[0].P2)
	assert.Equal(t, ir.ResultUnstarted, games[0].Result)
	assert.Equal(t, []string{MsgWaiting}, st.Feedback(1, alice))

	_, bob, _ := connect(t, st, "bob")
	g, ok := st.Game(1)
	require.True(t, ok)
	assert.Equal(t, bob, g.P2)
	assert.Equal(t, ir.ResultOngoing, g.Result)
	assert.True(t, g.Ready2)
	assert.Equal(t, []string{MsgWaiting, MsgStartingP1}, st.Feedback(1, alice))
	assert.Equal(t, []string{MsgStartingP2}, st.Feedback(1, bob))

	_, carol, _ := connect(t, st, "carol")
	require.Len(t, st.Games(), 2)
	assert.Equal(t, carol, st.Games()[1].P1)
}

func TestConnect_GeneratesToken(t *testing.T) {
	st := New()
	c := st.Dial()
	me, token, err := c.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, IdentityFor(token), me)

	_, _, err = c.Connect(context.Background(), token)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestSubscribe_DeliversExistingRows(t *testing.T) {
	st := New()
	c, alice, sk := connect(t, st, "alice")
	assert.Empty(t, sk.take(), "nothing is delivered before a subscription")

	h, err := c.Subscribe(context.Background(), "s1", ir.GamesOf(alice))
	require.NoError(t, err)
	assert.Equal(t, "s1", h.ID())

	evs := sk.take()
	require.Len(t, evs, 1)
	assert.Equal(t, ir.EventInsert, evs[0].Kind)
	assert.Equal(t, "s1", evs[0].SubscriptionID)
	assert.Equal(t, uint32(1), evs[0].New.(ir.Game).ID)

	_, err = c.Subscribe(context.Background(), "s1", ir.StatsOf(alice))
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
}

func TestSubscribe_OverlappingQueryNotRedelivered(t *testing.T) {
	st := New()
	c, alice, sk := connect(t, st, "alice")
	ctx := context.Background()

	_, err := c.Subscribe(ctx, "broad", ir.Query{Table: ir.TableFeedback})
	require.NoError(t, err)
	require.Len(t, sk.take(), 1)

	_, err = c.Subscribe(ctx, "narrow", ir.FeedbackFor(1, alice))
	require.NoError(t, err)
	assert.Empty(t, sk.take())
}

func TestSubscribe_NotConnected(t *testing.T) {
	st := New()
	c := st.Dial()
	_, err := c.Subscribe(context.Background(), "s1", ir.MovesFor(1))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.InvokeRemoteAction(context.Background(), ActionReady), ErrNotConnected)
}

func TestDelivery_UpdateBecomesInsertForNewMatch(t *testing.T) {
	st := New()
	ctx := context.Background()
	// the observer opens game 1 and watches bob's games before bob shows up
	observer, _, sk := connect(t, st, "observer")
	_, err := observer.Subscribe(ctx, "bob-games", ir.GamesOf(IdentityFor("bob")))
	require.NoError(t, err)
	assert.Empty(t, sk.take())

	_, bob, _ := connect(t, st, "bob")
	evs := sk.of(ir.TableGame)
	require.Len(t, evs, 1)
	assert.Equal(t, ir.EventInsert, evs[0].Kind, "old row did not match the query")
	assert.Equal(t, bob, evs[0].New.(ir.Game).P2)
	assert.Equal(t, "bob-games", evs[0].SubscriptionID)
}

func TestDelivery_JoinSeenAsUpdateByCreator(t *testing.T) {
	st := New()
	ctx := context.Background()
	alice, me, sk := connect(t, st, "alice")
	_, err := alice.Subscribe(ctx, "g", ir.GamesOf(me))
	require.NoError(t, err)
	sk.take()

	connect(t, st, "bob")
	evs := sk.of(ir.TableGame)
	require.Len(t, evs, 1)
	assert.Equal(t, ir.EventUpdate, evs[0].Kind)
	assert.False(t, evs[0].Old.(ir.Game).OpponentJoined())
	assert.True(t, evs[0].New.(ir.Game).OpponentJoined())
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	st := New()
	ctx := context.Background()
	alice, _, sk := connect(t, st, "alice")
	bob, _, _ := connect(t, st, "bob")

	h, err := alice.Subscribe(ctx, "m", ir.MovesFor(1))
	require.NoError(t, err)
	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(4)))
	require.Len(t, sk.of(ir.TableGameMove), 1)

	require.NoError(t, h.Unsubscribe())
	require.NoError(t, h.Unsubscribe())
	assert.Empty(t, alice.Live())

	require.NoError(t, bob.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(0)))
	assert.Empty(t, sk.of(ir.TableGameMove))
	assert.Len(t, st.Moves(1), 2)
}

func TestPlay_Rules(t *testing.T) {
	st := New(WithManualDeletes())
	ctx := context.Background()
	alice, a, _ := connect(t, st, "alice")

	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(0)))
	assert.Equal(t, MsgWaiting, last(st.Feedback(1, a)), "no moves before an opponent joins")

	bob, b, _ := connect(t, st, "bob")

	require.NoError(t, bob.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(0)))
	assert.Equal(t, MsgNotYourTurn, last(st.Feedback(1, b)))

	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(4)))
	assert.Equal(t, MsgValidX, last(st.Feedback(1, a)))
	assert.Equal(t, MsgValidX, last(st.Feedback(1, b)))

	require.NoError(t, bob.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(4)))
	assert.Equal(t, MsgCellTaken, last(st.Feedback(1, b)))

	require.NoError(t, bob.InvokeRemoteAction(ctx, ActionPlay, uint32(1), uint8(9)))
	assert.Equal(t, MsgBadPosition, last(st.Feedback(1, b)))

	require.NoError(t, bob.InvokeRemoteAction(ctx, ActionPlay, uint32(9), uint8(0)))
	assert.Equal(t, MsgGameNotFound, last(st.Feedback(9, b)))

	assert.Len(t, st.Moves(1), 1)

	err := bob.InvokeRemoteAction(ctx, ActionPlay, "1", 0)
	assert.Error(t, err)
	err = bob.InvokeRemoteAction(ctx, "cheat")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestPlay_WinUpdatesResultAndStats(t *testing.T) {
	st := New(WithManualDeletes())
	ctx := context.Background()
	alice, a, _ := connect(t, st, "alice")
	bob, b, _ := connect(t, st, "bob")

	// X takes the top row
	for i, pos := range []int{0, 3, 1, 4, 2} {
		c := alice
		if i%2 == 1 {
			c = bob
		}
		require.NoError(t, c.InvokeRemoteAction(ctx, ActionPlay, uint32(1), pos))
	}

	g, ok := st.Game(1)
	require.True(t, ok)
	assert.Equal(t, ir.ResultP1Won, g.Result)
	assert.Equal(t, MsgYouWon, last(st.Feedback(1, a)))
	assert.Equal(t, MsgYouLost, last(st.Feedback(1, b)))

	sa, _ := st.Stats(a)
	sb, _ := st.Stats(b)
	assert.Equal(t, int64(1), sa.Wins)
	assert.Equal(t, int64(1), sb.Losses)
	assert.Equal(t, []uint32{1}, st.Pending())

	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionPlay, uint32(1), 5))
	assert.Equal(t, MsgGameOver, last(st.Feedback(1, a)))
}

func TestPlay_Tie(t *testing.T) {
	st := New(WithManualDeletes())
	ctx := context.Background()
	alice, a, _ := connect(t, st, "alice")
	bob, b, _ := connect(t, st, "bob")

	// X O X / X O O / O X X
	for i, pos := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
		c := alice
		if i%2 == 1 {
			c = bob
		}
		require.NoError(t, c.InvokeRemoteAction(ctx, ActionPlay, uint32(1), pos))
	}

	g, _ := st.Game(1)
	assert.Equal(t, ir.ResultTie, g.Result)
	sa, _ := st.Stats(a)
	sb, _ := st.Stats(b)
	assert.Equal(t, int64(1), sa.Ties)
	assert.Equal(t, int64(1), sb.Ties)
}

func TestDisconnect_AbandonsAndSchedulesDelete(t *testing.T) {
	st := New(WithManualDeletes())
	ctx := context.Background()
	alice, a, _ := connect(t, st, "alice")
	bob, b, bobSink := connect(t, st, "bob")
	_, err := bob.Subscribe(ctx, "g", ir.GamesOf(b))
	require.NoError(t, err)
	_, err = bob.Subscribe(ctx, "m", ir.MovesFor(1))
	require.NoError(t, err)
	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionPlay, uint32(1), 4))
	bobSink.take()

	require.NoError(t, alice.Close(ctx))
	require.NoError(t, alice.Close(ctx))

	g, _ := st.Game(1)
	assert.Equal(t, ir.ResultAbandoned, g.Result)
	assert.False(t, g.Ready1)
	assert.Equal(t, MsgOtherLeft, last(st.Feedback(1, b)))
	sa, _ := st.Stats(a)
	assert.Equal(t, int64(1), sa.Abandoned)

	assert.Equal(t, 1, st.FireScheduled())
	_, ok := st.Game(1)
	assert.False(t, ok)
	assert.Empty(t, st.Moves(1))
	assert.Empty(t, st.Feedback(1, b))

	var kinds []string
	for _, ev := range bobSink.take() {
		kinds = append(kinds, ev.Kind.String()+" "+string(ev.Table))
	}
	assert.Equal(t, []string{"update game", "delete game", "delete game_move"}, kinds)
}

func TestDeleteDelay_Timer(t *testing.T) {
	st := New(WithDeleteDelay(10 * time.Millisecond))
	defer st.Close()
	ctx := context.Background()
	alice, _, _ := connect(t, st, "alice")
	connect(t, st, "bob")

	require.NoError(t, alice.Close(ctx))
	require.Eventually(t, func() bool {
		_, ok := st.Game(1)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteDelay_Zero(t *testing.T) {
	st := New(WithDeleteDelay(0))
	alice, _, _ := connect(t, st, "alice")
	require.NoError(t, alice.Close(context.Background()))
	assert.Empty(t, st.Games())
}

func TestReady_NoChangeNoEvent(t *testing.T) {
	st := New()
	ctx := context.Background()
	alice, a, sk := connect(t, st, "alice")
	_, err := alice.Subscribe(ctx, "g", ir.GamesOf(a))
	require.NoError(t, err)
	sk.take()

	require.NoError(t, alice.InvokeRemoteAction(ctx, ActionReady))
	assert.Empty(t, sk.take(), "already ready")
}

func TestCallbackMayReenterStore(t *testing.T) {
	st := New()
	ctx := context.Background()
	c := st.Dial()
	var order []string
	c.OnInsert(ir.TableGame, func(ev ir.RowEvent) {
		order = append(order, "game")
		g := ev.New.(ir.Game)
		_, err := c.Subscribe(ctx, "fb", ir.FeedbackFor(g.ID, g.P1))
		assert.NoError(t, err)
		order = append(order, "subscribed")
	})
	c.OnInsert(ir.TableFeedback, func(ir.RowEvent) { order = append(order, "feedback") })

	me, _, err := c.Connect(ctx, "alice")
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, "g", ir.GamesOf(me))
	require.NoError(t, err)

	// the nested subscription's rows wait for the outer delivery to finish
	assert.Equal(t, []string{"game", "subscribed", "feedback"}, order)
}

func last(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}
