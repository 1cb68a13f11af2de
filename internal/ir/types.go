package ir

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the opaque hex identity the row store assigns to a client.
type Identity string

// IdentityZero is the sentinel stored in an unfilled player slot.
var IdentityZero = Identity(strings.Repeat("0", 64))

// IsZero reports whether id is the unset sentinel (or empty).
func (id Identity) IsZero() bool {
	return id == "" || id == IdentityZero
}

// Short returns the first 8 characters of the identity for log output.
func (id Identity) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// GameResult is the lifecycle/outcome column of a game row.
type GameResult uint8

const (
	ResultUnstarted GameResult = iota
	ResultOngoing
	ResultP1Won
	ResultTie
	ResultP2Won
	ResultAbandoned
)

var resultNames = [...]string{"unstarted", "ongoing", "p1_won", "tie", "p2_won", "abandoned"}

func (r GameResult) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Finished reports whether r is a terminal outcome.
func (r GameResult) Finished() bool {
	return r >= ResultP1Won && r <= ResultAbandoned
}

// MarshalText encodes the result by name.
func (r GameResult) MarshalText() ([]byte, error) {
	if int(r) >= len(resultNames) {
		return nil, fmt.Errorf("invalid game result %d", uint8(r))
	}
	return []byte(resultNames[r]), nil
}

// UnmarshalText decodes a result name.
func (r *GameResult) UnmarshalText(text []byte) error {
	for i, name := range resultNames {
		if name == string(text) {
			*r = GameResult(i)
			return nil
		}
	}
	return fmt.Errorf("unknown game result %q", string(text))
}

// Table names a row store table.
type Table string

const (
	TableGame        Table = "game"
	TableGameMove    Table = "game_move"
	TableFeedback    Table = "feedback"
	TablePlayerStats Table = "player_stats"
)

// Tables lists every table in declaration order.
var Tables = []Table{TableGame, TableGameMove, TableFeedback, TablePlayerStats}

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// Row is implemented by every table row type.
type Row interface {
	// Table returns the table the row belongs to.
	Table() Table
	// Key returns the primary key rendered as a string.
	Key() string
	// Fields returns the row as a map suitable for canonical JSON.
	Fields() map[string]any
}

// Game is one match between two players.
type Game struct {
	ID     uint32     `json:"id" yaml:"id"`
	P1     Identity   `json:"p1" yaml:"p1"`
	P2     Identity   `json:"p2" yaml:"p2"`
	Result GameResult `json:"result" yaml:"result"`
	Ready1 bool       `json:"ready1" yaml:"ready1"`
	Ready2 bool       `json:"ready2" yaml:"ready2"`
}

func (Game) Table() Table  { return TableGame }
func (g Game) Key() string { return fmt.Sprintf("%d", g.ID) }
func (g Game) Fields() map[string]any {
	return map[string]any{
		"id":     int64(g.ID),
		"p1":     string(g.P1),
		"p2":     string(g.P2),
		"result": g.Result.String(),
		"ready1": g.Ready1,
		"ready2": g.Ready2,
	}
}

// Involves reports whether id plays in the game.
func (g Game) Involves(id Identity) bool {
	return !id.IsZero() && (g.P1 == id || g.P2 == id)
}

// OpponentJoined reports whether the second player slot is filled.
func (g Game) OpponentJoined() bool {
	return !g.P2.IsZero()
}

// GameMove records a position played in a game. It does not carry the mark.
type GameMove struct {
	ID       uint32   `json:"id" yaml:"id"`
	GameID   uint32   `json:"game_id" yaml:"game_id"`
	PlayerID Identity `json:"player_id" yaml:"player_id"`
	Position uint8    `json:"position" yaml:"position"`
}

func (GameMove) Table() Table  { return TableGameMove }
func (m GameMove) Key() string { return fmt.Sprintf("%d", m.ID) }
func (m GameMove) Fields() map[string]any {
	return map[string]any{
		"id":        int64(m.ID),
		"game_id":   int64(m.GameID),
		"player_id": string(m.PlayerID),
		"position":  int64(m.Position),
	}
}

// Feedback is an advisory message addressed to one player of one game.
type Feedback struct {
	ID       uint32    `json:"id" yaml:"id"`
	GameID   uint32    `json:"game_id" yaml:"game_id"`
	PlayerID Identity  `json:"player_id" yaml:"player_id"`
	When     time.Time `json:"when" yaml:"when"`
	Message  string    `json:"message" yaml:"message"`
}

func (Feedback) Table() Table  { return TableFeedback }
func (f Feedback) Key() string { return fmt.Sprintf("%d", f.ID) }
func (f Feedback) Fields() map[string]any {
	return map[string]any{
		"id":        int64(f.ID),
		"game_id":   int64(f.GameID),
		"player_id": string(f.PlayerID),
		"when":      f.When.UnixMicro(),
		"message":   f.Message,
	}
}

// PlayerStats aggregates finished games per identity.
type PlayerStats struct {
	ID        Identity `json:"id" yaml:"id"`
	Wins      int64    `json:"wins" yaml:"wins"`
	Losses    int64    `json:"losses" yaml:"losses"`
	Ties      int64    `json:"ties" yaml:"ties"`
	Abandoned int64    `json:"abandoned" yaml:"abandoned"`
}

func (PlayerStats) Table() Table  { return TablePlayerStats }
func (s PlayerStats) Key() string { return string(s.ID) }
func (s PlayerStats) Fields() map[string]any {
	return map[string]any{
		"id":        string(s.ID),
		"wins":      s.Wins,
		"losses":    s.Losses,
		"ties":      s.Ties,
		"abandoned": s.Abandoned,
	}
}
