package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/subscription"
)

// State is the binding state of a Session.
type State int

const (
	Unbound State = iota
	Bound
)

func (s State) String() string {
	if s == Bound {
		return "bound"
	}
	return "unbound"
}

// Remote action names understood by the row store.
const (
	ActionPlay  = "play"
	ActionReady = "ready"
)

var (
	// ErrNotBound is returned by SubmitMove before a game is known.
	ErrNotBound = errors.New("no game bound")
	// ErrNoRemote is returned by SubmitMove when the session has no invoker.
	ErrNoRemote = errors.New("no remote invoker configured")
)

// Scopes is the part of subscription.Manager a Session drives.
type Scopes interface {
	Bind(ctx context.Context, gameID uint32, me ir.Identity) ([]subscription.Handle, error)
	Unbind(ctx context.Context) error
	Live(id string) bool
}

// RemoteInvoker fires a remote action. Success or failure is only observed
// through later row events.
type RemoteInvoker interface {
	InvokeRemoteAction(ctx context.Context, name string, args ...any) error
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	State        State
	GameID       uint32
	PlayingFirst bool
	Board        board.Board
	Next         board.Mark
	Started      bool
	Moves        int
	Anomalies    int
	Dropped      int
	SubscribeErr int
}

// Session is the authoritative local view of the current game.
type Session struct {
	me        ir.Identity
	scopes    Scopes
	presenter Presenter
	remote    RemoteInvoker

	mu           sync.Mutex
	state        State
	gameID       uint32
	playingFirst bool
	board        board.Board
	next         board.Mark
	started      bool
	finished     bool
	moves        int
	anomalies    int
	dropped      int
	subscribeErr int
}

// Option configures a Session.
type Option func(*Session)

// WithPresenter sets the presentation sink. Defaults to NopPresenter.
func WithPresenter(p Presenter) Option {
	return func(s *Session) {
		s.presenter = p
	}
}

// WithRemote sets the invoker used by SubmitMove.
func WithRemote(r RemoteInvoker) Option {
	return func(s *Session) {
		s.remote = r
	}
}

// New creates an unbound Session for the local identity me.
func New(me ir.Identity, scopes Scopes, opts ...Option) *Session {
	s := &Session{
		me:        me,
		scopes:    scopes,
		presenter: NopPresenter{},
		next:      board.X,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the local identity.
func (s *Session) Identity() ir.Identity {
	return s.me
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:        s.state,
		GameID:       s.gameID,
		PlayingFirst: s.playingFirst,
		Board:        s.board,
		Next:         s.next,
		Started:      s.started,
		Moves:        s.moves,
		Anomalies:    s.anomalies,
		Dropped:      s.dropped,
		SubscribeErr: s.subscribeErr,
	}
}

// Handle routes one row event. It returns an error only for malformed
// events; every other failure is logged and absorbed so the event loop
// keeps running.
func (s *Session) Handle(ctx context.Context, ev ir.RowEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid row event: %w", err)
	}

	if ev.SubscriptionID != "" && !s.scopes.Live(ev.SubscriptionID) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		slog.Debug("dropping event from released subscription",
			"subscription", ev.SubscriptionID,
			"kind", ev.Kind,
			"table", ev.Table,
		)
		return nil
	}

	switch ev.Table {
	case ir.TableGame:
		return s.handleGame(ctx, ev)
	case ir.TableGameMove:
		return s.handleMove(ev)
	case ir.TableFeedback:
		return s.handleFeedback(ev)
	case ir.TablePlayerStats:
		return s.handleStats(ev)
	default:
		return fmt.Errorf("no handler for table %q", ev.Table)
	}
}

func (s *Session) handleGame(ctx context.Context, ev ir.RowEvent) error {
	switch ev.Kind {
	case ir.EventInsert:
		g, ok := ev.New.(ir.Game)
		if !ok {
			return fmt.Errorf("game insert: unexpected row %T", ev.New)
		}
		return s.onGameAppeared(ctx, g)

	case ir.EventUpdate:
		old, ok1 := ev.Old.(ir.Game)
		g, ok2 := ev.New.(ir.Game)
		if !ok1 || !ok2 {
			return fmt.Errorf("game update: unexpected rows %T -> %T", ev.Old, ev.New)
		}
		s.mu.Lock()
		state, bound := s.state, s.gameID
		s.mu.Unlock()
		if state == Unbound {
			return s.onGameAppeared(ctx, g)
		}
		if g.ID != bound {
			slog.Debug("ignoring update for another game", "game_id", g.ID, "bound", bound)
			return nil
		}
		s.onBoundGameUpdated(old, g)
		return nil

	case ir.EventDelete:
		g, ok := ev.Old.(ir.Game)
		if !ok {
			return fmt.Errorf("game delete: unexpected row %T", ev.Old)
		}
		s.onGameDeleted(ctx, g)
		return nil
	}
	return nil
}

// onGameAppeared binds the first game row naming the local player.
func (s *Session) onGameAppeared(ctx context.Context, g ir.Game) error {
	if !g.Involves(s.me) {
		slog.Debug("ignoring game without local player", "game_id", g.ID)
		return nil
	}

	s.mu.Lock()
	if s.state == Bound {
		bound := s.gameID
		s.mu.Unlock()
		if g.ID == bound {
			slog.Debug("game already bound, ignoring duplicate", "game_id", g.ID)
		} else {
			slog.Debug("ignoring second game while bound", "game_id", g.ID, "bound", bound)
		}
		return nil
	}
	s.state = Bound
	s.gameID = g.ID
	s.playingFirst = g.P1 == s.me
	s.board = board.Board{}
	s.next = board.X
	s.moves = 0
	s.started = g.OpponentJoined()
	s.finished = g.Result.Finished()
	playingFirst, started := s.playingFirst, s.started
	s.mu.Unlock()

	slog.Info("game bound",
		"game_id", g.ID,
		"playing_first", playingFirst,
		"opponent_joined", started,
	)

	if _, err := s.scopes.Bind(ctx, g.ID, s.me); err != nil {
		s.mu.Lock()
		s.subscribeErr++
		s.mu.Unlock()
		// state stays bound; derived state stalls until a manual retry
		slog.Warn("game subscriptions incomplete",
			"game_id", g.ID,
			"error", err,
		)
	}

	if started {
		s.presenter.OnGameStarted(playingFirst)
	}
	return nil
}

// onBoundGameUpdated reacts to changes of the bound game row. It never rebinds.
func (s *Session) onBoundGameUpdated(old, g ir.Game) {
	s.mu.Lock()
	justStarted := !s.started && !old.OpponentJoined() && g.OpponentJoined()
	if justStarted {
		s.started = true
	}
	justFinished := !s.finished && g.Result.Finished()
	if justFinished {
		s.finished = true
	}
	playingFirst := s.playingFirst
	s.mu.Unlock()

	if justStarted {
		slog.Info("opponent joined", "game_id", g.ID, "playing_first", playingFirst)
		s.presenter.OnGameStarted(playingFirst)
	}
	if justFinished {
		outcome := outcomeFor(g.Result, playingFirst)
		slog.Info("game finished", "game_id", g.ID, "result", g.Result, "outcome", outcome)
		s.presenter.OnGameResult(g.Result, outcome)
	}
}

// onGameDeleted unbinds when the bound game row leaves the store.
func (s *Session) onGameDeleted(ctx context.Context, g ir.Game) {
	s.mu.Lock()
	if s.state != Bound || s.gameID != g.ID {
		s.mu.Unlock()
		slog.Debug("ignoring delete of unbound game", "game_id", g.ID)
		return
	}
	s.state = Unbound
	s.gameID = 0
	s.playingFirst = false
	s.board = board.Board{}
	s.next = board.X
	s.moves = 0
	s.started = false
	s.finished = false
	s.mu.Unlock()

	if err := s.scopes.Unbind(ctx); err != nil {
		slog.Warn("releasing game subscriptions", "game_id", g.ID, "error", err)
	}
	slog.Info("game unbound", "game_id", g.ID)
	s.presenter.OnBoardChanged(board.Board{})
	s.presenter.OnTurnChanged(board.X)
}

func (s *Session) handleMove(ev ir.RowEvent) error {
	if ev.Kind != ir.EventInsert {
		// moves only leave the store when their game is deleted
		return nil
	}
	mv, ok := ev.New.(ir.GameMove)
	if !ok {
		return fmt.Errorf("game_move insert: unexpected row %T", ev.New)
	}

	s.mu.Lock()
	if s.state != Bound || mv.GameID != s.gameID {
		s.dropped++
		bound := s.gameID
		s.mu.Unlock()
		slog.Debug("dropping move for unbound game", "game_id", mv.GameID, "bound", bound)
		return nil
	}
	res, err := board.Apply(s.board, int(mv.Position))
	if err != nil {
		s.anomalies++
		s.mu.Unlock()
		slog.Warn("move anomaly: position out of range",
			"game_id", mv.GameID,
			"move_id", mv.ID,
			"position", mv.Position,
		)
		return nil
	}
	if res.Overwrote {
		s.anomalies++
	}
	s.board = res.Board
	s.next = res.Next
	s.moves++
	moves := s.moves
	s.mu.Unlock()

	if res.Overwrote {
		// only a duplicate or reordered insert can land here
		slog.Warn("move anomaly: occupied cell overwritten",
			"game_id", mv.GameID,
			"move_id", mv.ID,
			"position", mv.Position,
			"previous", res.Previous.String(),
			"placed", res.Placed.String(),
		)
	}
	slog.Debug("move applied",
		"game_id", mv.GameID,
		"position", mv.Position,
		"mark", res.Placed.String(),
		"moves", moves,
	)

	s.presenter.OnBoardChanged(res.Board)
	s.presenter.OnTurnChanged(res.Next)
	return nil
}

func (s *Session) handleFeedback(ev ir.RowEvent) error {
	if ev.Kind != ir.EventInsert {
		return nil
	}
	fb, ok := ev.New.(ir.Feedback)
	if !ok {
		return fmt.Errorf("feedback insert: unexpected row %T", ev.New)
	}

	s.mu.Lock()
	deliver := s.state == Bound && fb.GameID == s.gameID && fb.PlayerID == s.me
	if !deliver {
		s.dropped++
	}
	s.mu.Unlock()

	if !deliver {
		slog.Debug("dropping feedback outside bound scope",
			"game_id", fb.GameID,
			"player", fb.PlayerID.Short(),
		)
		return nil
	}
	s.presenter.OnFeedbackMessage(fb.Message)
	return nil
}

func (s *Session) handleStats(ev ir.RowEvent) error {
	if ev.Kind == ir.EventDelete {
		return nil
	}
	st, ok := ev.New.(ir.PlayerStats)
	if !ok {
		return fmt.Errorf("player_stats %s: unexpected row %T", ev.Kind, ev.New)
	}
	s.presenter.OnPlayerStats(st)
	return nil
}

// SubmitMove asks the row store to play position in the bound game. The
// local board only changes once the resulting move row arrives.
func (s *Session) SubmitMove(ctx context.Context, position int) error {
	if position < 0 || position >= board.Size {
		return fmt.Errorf("submit move: %w: %d", board.ErrPositionOutOfRange, position)
	}
	if s.remote == nil {
		return ErrNoRemote
	}
	s.mu.Lock()
	state, gameID := s.state, s.gameID
	s.mu.Unlock()
	if state != Bound {
		return fmt.Errorf("submit move: %w", ErrNotBound)
	}

	slog.Debug("submitting move", "game_id", gameID, "position", position)
	if err := s.remote.InvokeRemoteAction(ctx, ActionPlay, gameID, uint8(position)); err != nil {
		return fmt.Errorf("submit move: %w", err)
	}
	return nil
}
