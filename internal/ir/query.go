package ir

import (
	"fmt"
	"strings"
)

// Query is a live query predicate over a single table.
//
// Zero-valued filters are not applied. Participant matches game rows where
// the identity sits in either player slot; PlayerID matches feedback rows
// addressed to the identity and player_stats rows keyed by it.
type Query struct {
	Table       Table    `json:"table" yaml:"table"`
	GameID      uint32   `json:"game_id,omitempty" yaml:"game_id,omitempty"`
	PlayerID    Identity `json:"player_id,omitempty" yaml:"player_id,omitempty"`
	Participant Identity `json:"participant,omitempty" yaml:"participant,omitempty"`
}

// MovesFor selects the moves of one game.
func MovesFor(gameID uint32) Query {
	return Query{Table: TableGameMove, GameID: gameID}
}

// FeedbackFor selects the feedback of one game addressed to one player.
func FeedbackFor(gameID uint32, player Identity) Query {
	return Query{Table: TableFeedback, GameID: gameID, PlayerID: player}
}

// GamesOf selects every game the identity plays in.
func GamesOf(player Identity) Query {
	return Query{Table: TableGame, Participant: player}
}

// StatsOf selects the stats row of one identity.
func StatsOf(player Identity) Query {
	return Query{Table: TablePlayerStats, PlayerID: player}
}

// String renders the query as the SQL the row store accepts.
func (q Query) String() string {
	var conds []string
	switch q.Table {
	case TableGame:
		if q.GameID != 0 {
			conds = append(conds, fmt.Sprintf("id=%d", q.GameID))
		}
		if q.Participant != "" {
			conds = append(conds, fmt.Sprintf("(p1='%s' OR p2='%s')", q.Participant, q.Participant))
		}
	case TablePlayerStats:
		if q.PlayerID != "" {
			conds = append(conds, fmt.Sprintf("id='%s'", q.PlayerID))
		}
	default:
		if q.GameID != 0 {
			conds = append(conds, fmt.Sprintf("game_id=%d", q.GameID))
		}
		if q.PlayerID != "" {
			conds = append(conds, fmt.Sprintf("player_id='%s'", q.PlayerID))
		}
	}
	sql := "SELECT * FROM " + string(q.Table)
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	return sql
}

// Matches reports whether r belongs to the query's result set.
func (q Query) Matches(r Row) bool {
	if r == nil || r.Table() != q.Table {
		return false
	}
	switch row := r.(type) {
	case Game:
		if q.GameID != 0 && row.ID != q.GameID {
			return false
		}
		if q.Participant != "" && !row.Involves(q.Participant) {
			return false
		}
		return true
	case GameMove:
		if q.GameID != 0 && row.GameID != q.GameID {
			return false
		}
		return q.PlayerID == "" || row.PlayerID == q.PlayerID
	case Feedback:
		if q.GameID != 0 && row.GameID != q.GameID {
			return false
		}
		return q.PlayerID == "" || row.PlayerID == q.PlayerID
	case PlayerStats:
		return q.PlayerID == "" || row.ID == q.PlayerID
	default:
		return false
	}
}
