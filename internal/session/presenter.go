package session

import (
	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/ir"
)

// Presenter receives everything the presentation layer shows.
// Implementations must not block; they run inside the event loop.
type Presenter interface {
	OnBoardChanged(b board.Board)
	OnTurnChanged(next board.Mark)
	OnFeedbackMessage(text string)
	OnGameStarted(playingFirst bool)
	OnGameResult(result ir.GameResult, outcome Outcome)
	OnPlayerStats(stats ir.PlayerStats)
}

// Outcome is a finished game seen from the local player.
type Outcome string

const (
	OutcomeWon       Outcome = "won"
	OutcomeLost      Outcome = "lost"
	OutcomeTie       Outcome = "tie"
	OutcomeAbandoned Outcome = "abandoned"
)

// outcomeFor maps a terminal result to the local player's view.
func outcomeFor(r ir.GameResult, playingFirst bool) Outcome {
	switch r {
	case ir.ResultP1Won:
		if playingFirst {
			return OutcomeWon
		}
		return OutcomeLost
	case ir.ResultP2Won:
		if playingFirst {
			return OutcomeLost
		}
		return OutcomeWon
	case ir.ResultTie:
		return OutcomeTie
	default:
		return OutcomeAbandoned
	}
}

// StartedMessage is the text shown when the opponent joins.
func StartedMessage(playingFirst bool) string {
	if playingFirst {
		return "Game started! You play first with the Xs!"
	}
	return "Game started! Opponent plays first... You play Os."
}

// NopPresenter discards every notification.
type NopPresenter struct{}

func (NopPresenter) OnBoardChanged(board.Board)          {}
func (NopPresenter) OnTurnChanged(board.Mark)            {}
func (NopPresenter) OnFeedbackMessage(string)            {}
func (NopPresenter) OnGameStarted(bool)                  {}
func (NopPresenter) OnGameResult(ir.GameResult, Outcome) {}
func (NopPresenter) OnPlayerStats(ir.PlayerStats)        {}
