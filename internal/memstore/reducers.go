package memstore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/ir"
)

// Action names accepted by InvokeRemoteAction.
const (
	ActionPlay  = "play"
	ActionReady = "ready"
)

// Feedback texts written by the actions.
const (
	MsgWaiting      = "Waiting for an opponent to join..."
	MsgStartingP1   = "Game starting! You play first with the Xs."
	MsgStartingP2   = "Game starting! Opponent plays first. You play the Os."
	MsgOtherLeft    = "other player left"
	MsgGameNotFound = "Game not found! Must have ended?"
	MsgNotYourTurn  = "not your turn!"
	MsgBoardFull    = "trying to play on a full board!"
	MsgCellTaken    = "trying to play on a non-empty cell!"
	MsgBadPosition  = "position must be between 0 and 8!"
	MsgGameOver     = "the game is already over!"
	MsgValidX       = "Valid move from X!"
	MsgValidO       = "Valid move from O!"
	MsgYouWon       = "you won!"
	MsgYouLost      = "you lost!"
	MsgTie          = "the game is a tie."
)

// ErrUnknownAction is returned for action names the store does not define.
var ErrUnknownAction = errors.New("unknown action")

func (s *Store) invokeLocked(sender ir.Identity, name string, args []any) error {
	switch name {
	case ActionPlay:
		if len(args) != 2 {
			return fmt.Errorf("%s: want 2 arguments, got %d", name, len(args))
		}
		gameID, err := toUint(args[0], 1<<32-1)
		if err != nil {
			return fmt.Errorf("%s: game id: %w", name, err)
		}
		pos, err := toUint(args[1], 255)
		if err != nil {
			return fmt.Errorf("%s: position: %w", name, err)
		}
		s.playLocked(sender, uint32(gameID), uint8(pos))
		return nil
	case ActionReady:
		s.readyLocked(sender)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

func toUint(v any, limit uint64) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case uint:
		n = uint64(x)
	case int:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d", x)
		}
		n = uint64(x)
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d", x)
		}
		n = uint64(x)
	default:
		return 0, fmt.Errorf("unsupported argument type %T", v)
	}
	if n > limit {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return n, nil
}

// clientConnectedLocked joins the oldest unstarted game as second player,
// or opens a new game.
func (s *Store) clientConnectedLocked(me ir.Identity) {
	s.ensureStatsLocked(me)

	var open *ir.Game
	for _, g := range s.gamesLocked() {
		if g.Result == ir.ResultUnstarted && g.P1 != me {
			open = &g
			break
		}
	}

	if open != nil {
		before := *open
		after := before
		after.P2 = me
		after.Ready2 = true
		after.Result = ir.ResultOngoing
		s.games[after.ID] = after
		s.emitLocked(ir.TableGame, before, after)
		slog.Info("game starting", "game_id", after.ID, "p1", after.P1.Short(), "p2", me.Short())
		s.feedbackLocked(after.ID, after.P1, MsgStartingP1)
		s.feedbackLocked(after.ID, after.P2, MsgStartingP2)
		return
	}

	s.nextGame++
	g := ir.Game{
		ID:     s.nextGame,
		P1:     me,
		P2:     ir.IdentityZero,
		Result: ir.ResultUnstarted,
		Ready1: true,
	}
	s.games[g.ID] = g
	s.emitLocked(ir.TableGame, nil, g)
	slog.Info("game created", "game_id", g.ID, "p1", me.Short())
	s.feedbackLocked(g.ID, me, MsgWaiting)
}

// clientDisconnectedLocked abandons the game the identity is playing.
func (s *Store) clientDisconnectedLocked(me ir.Identity) {
	for _, g := range s.gamesLocked() {
		if !g.Involves(me) || g.Result.Finished() {
			continue
		}
		before := g
		after := g
		after.Result = ir.ResultAbandoned
		other := g.P2
		if g.P1 == me {
			after.Ready1 = false
		} else {
			after.Ready2 = false
			other = g.P1
		}
		s.games[g.ID] = after
		s.emitLocked(ir.TableGame, before, after)
		slog.Info("game abandoned", "game_id", g.ID, "by", me.Short())

		if before.Result == ir.ResultOngoing {
			s.bumpStatsLocked(me, func(st *ir.PlayerStats) { st.Abandoned++ })
		}
		if !other.IsZero() {
			s.feedbackLocked(g.ID, other, MsgOtherLeft)
		}
		s.scheduleDeleteLocked(g.ID)
		return
	}
}

// readyLocked marks the caller ready in the game it is playing.
func (s *Store) readyLocked(me ir.Identity) {
	for _, g := range s.gamesLocked() {
		if !g.Involves(me) || g.Result.Finished() {
			continue
		}
		after := g
		if g.P1 == me {
			after.Ready1 = true
		} else {
			after.Ready2 = true
		}
		if after != g {
			s.games[g.ID] = after
			s.emitLocked(ir.TableGame, g, after)
		}
		return
	}
}

// playLocked validates and records a move, then settles the game if it ended.
func (s *Store) playLocked(sender ir.Identity, gameID uint32, position uint8) {
	slog.Info("play requested", "player", sender.Short(), "game_id", gameID, "position", position)

	g, ok := s.games[gameID]
	if !ok {
		s.feedbackLocked(gameID, sender, MsgGameNotFound)
		return
	}
	if g.Result.Finished() {
		s.feedbackLocked(gameID, sender, MsgGameOver)
		return
	}
	if g.Result == ir.ResultUnstarted {
		s.feedbackLocked(gameID, sender, MsgWaiting)
		return
	}

	moves := s.movesLocked(gameID)
	positions := make([]int, len(moves))
	for i, m := range moves {
		positions[i] = int(m.Position)
	}
	b, err := board.Replay(positions...)
	if err != nil {
		slog.Error("stored moves do not replay", "game_id", gameID, "error", err)
		return
	}

	toPlay := g.P1
	if b.Filled()%2 == 1 {
		toPlay = g.P2
	}
	switch {
	case sender != toPlay:
		s.feedbackLocked(gameID, sender, MsgNotYourTurn)
		return
	case b.Full():
		s.feedbackLocked(gameID, sender, MsgBoardFull)
		return
	case int(position) >= board.Size:
		s.feedbackLocked(gameID, sender, MsgBadPosition)
		return
	case b[position] != board.Empty:
		s.feedbackLocked(gameID, sender, MsgCellTaken)
		return
	}

	mv, err := board.Apply(b, int(position))
	if err != nil {
		s.feedbackLocked(gameID, sender, MsgBadPosition)
		return
	}
	valid := MsgValidX
	if mv.Placed == board.O {
		valid = MsgValidO
	}
	s.feedbackLocked(gameID, g.P1, valid)
	s.feedbackLocked(gameID, g.P2, valid)

	s.nextMove++
	row := ir.GameMove{ID: s.nextMove, GameID: gameID, PlayerID: sender, Position: position}
	s.moves[row.ID] = row
	s.emitLocked(ir.TableGameMove, nil, row)

	after := g
	switch winner := board.Winner(mv.Board); {
	case winner != board.Empty:
		loser := g.P1
		after.Result = ir.ResultP2Won
		if winner == board.X {
			loser = g.P2
			after.Result = ir.ResultP1Won
		}
		slog.Info("game won", "game_id", gameID, "winner", sender.Short(), "loser", loser.Short())
		s.feedbackLocked(gameID, sender, MsgYouWon)
		s.feedbackLocked(gameID, loser, MsgYouLost)
		s.bumpStatsLocked(sender, func(st *ir.PlayerStats) { st.Wins++ })
		s.bumpStatsLocked(loser, func(st *ir.PlayerStats) { st.Losses++ })
	case mv.Board.Full():
		after.Result = ir.ResultTie
		slog.Info("game tied", "game_id", gameID)
		s.feedbackLocked(gameID, g.P1, MsgTie)
		s.feedbackLocked(gameID, g.P2, MsgTie)
		s.bumpStatsLocked(g.P1, func(st *ir.PlayerStats) { st.Ties++ })
		s.bumpStatsLocked(g.P2, func(st *ir.PlayerStats) { st.Ties++ })
	default:
		return
	}

	s.games[gameID] = after
	s.emitLocked(ir.TableGame, g, after)
	s.scheduleDeleteLocked(gameID)
}

func (s *Store) feedbackLocked(gameID uint32, player ir.Identity, msg string) {
	s.nextFeedback++
	f := ir.Feedback{
		ID:       s.nextFeedback,
		GameID:   gameID,
		PlayerID: player,
		When:     s.now().UTC(),
		Message:  msg,
	}
	s.feedback[f.ID] = f
	s.emitLocked(ir.TableFeedback, nil, f)
}

func (s *Store) ensureStatsLocked(id ir.Identity) {
	if _, ok := s.stats[id]; ok {
		return
	}
	st := ir.PlayerStats{ID: id}
	s.stats[id] = st
	s.emitLocked(ir.TablePlayerStats, nil, st)
}

func (s *Store) bumpStatsLocked(id ir.Identity, fn func(*ir.PlayerStats)) {
	if id.IsZero() {
		return
	}
	s.ensureStatsLocked(id)
	before := s.stats[id]
	after := before
	fn(&after)
	s.stats[id] = after
	s.emitLocked(ir.TablePlayerStats, before, after)
}
