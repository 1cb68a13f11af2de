package memstore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/tttsync/internal/ir"
)

// DefaultDeleteDelay is how long a finished game stays visible before the
// scheduled delete_game removes it.
const DefaultDeleteDelay = 250 * time.Millisecond

// Store is the authoritative state shared by every connection.
type Store struct {
	mu sync.Mutex

	games    map[uint32]ir.Game
	moves    map[uint32]ir.GameMove
	feedback map[uint32]ir.Feedback
	stats    map[ir.Identity]ir.PlayerStats

	nextGame     uint32
	nextMove     uint32
	nextFeedback uint32

	conns  []*Conn
	outbox []delivery
	// true while some goroutine is draining the outbox
	draining bool

	deleteDelay time.Duration
	manual      bool
	scheduled   map[uint32]*time.Timer
	pending     []uint32
	closed      bool

	now func() time.Time
}

type delivery struct {
	conn *Conn
	ev   ir.RowEvent
}

// Option configures a Store.
type Option func(*Store)

// WithDeleteDelay sets the delay before finished games are deleted.
// Zero deletes them as soon as the finishing action completes.
func WithDeleteDelay(d time.Duration) Option {
	return func(s *Store) {
		s.deleteDelay = d
	}
}

// WithManualDeletes keeps scheduled deletions pending until
// FireScheduled is called.
func WithManualDeletes() Option {
	return func(s *Store) {
		s.manual = true
	}
}

// WithNow sets the timestamp source for feedback rows.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		games:       make(map[uint32]ir.Game),
		moves:       make(map[uint32]ir.GameMove),
		feedback:    make(map[uint32]ir.Feedback),
		stats:       make(map[ir.Identity]ir.PlayerStats),
		deleteDelay: DefaultDeleteDelay,
		scheduled:   make(map[uint32]*time.Timer),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial opens a new, not yet connected, client connection.
func (s *Store) Dial() *Conn {
	c := &Conn{
		store:     s,
		callbacks: make(map[callbackKey][]func(ir.RowEvent)),
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c
}

// Close cancels scheduled deletions. Connections stay usable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.scheduled {
		t.Stop()
		delete(s.scheduled, id)
	}
	s.pending = nil
}

// Game returns the game row with the given id.
func (s *Store) Game(id uint32) (ir.Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	return g, ok
}

// Games returns every game row ordered by id.
func (s *Store) Games() []ir.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamesLocked()
}

func (s *Store) gamesLocked() []ir.Game {
	out := make([]ir.Game, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Moves returns the moves of a game in commit order.
func (s *Store) Moves(gameID uint32) []ir.GameMove {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movesLocked(gameID)
}

// Feedback returns the messages addressed to player in a game, oldest first.
func (s *Store) Feedback(gameID uint32, player ir.Identity) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []ir.Feedback
	for _, f := range s.feedback {
		if f.GameID == gameID && f.PlayerID == player {
			rows = append(rows, f)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	out := make([]string, len(rows))
	for i, f := range rows {
		out[i] = f.Message
	}
	return out
}

// Stats returns the stats row of an identity.
func (s *Store) Stats(id ir.Identity) (ir.PlayerStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[id]
	return st, ok
}

// Pending returns the ids of games awaiting a manual delete.
func (s *Store) Pending() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.pending))
	copy(out, s.pending)
	return out
}

// FireScheduled runs every pending manual deletion and returns how many
// games were deleted.
func (s *Store) FireScheduled() int {
	s.mu.Lock()
	ids := s.pending
	s.pending = nil
	n := 0
	for _, id := range ids {
		if s.deleteGameLocked(id) {
			n++
		}
	}
	s.mu.Unlock()
	s.drain()
	return n
}

func (s *Store) movesLocked(gameID uint32) []ir.GameMove {
	var out []ir.GameMove
	for _, m := range s.moves {
		if m.GameID == gameID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// emitLocked queues a row change for every connection with a matching live
// query. before is nil for inserts, after is nil for deletes.
func (s *Store) emitLocked(table ir.Table, before, after ir.Row) {
	for _, c := range s.conns {
		ev, ok := c.route(table, before, after)
		if ok {
			s.outbox = append(s.outbox, delivery{conn: c, ev: ev})
		}
	}
}

// drain delivers queued changes. Only one goroutine drains at a time;
// callers that find a drain in progress return and leave their changes to it.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		d := s.outbox[0]
		s.outbox[0] = delivery{}
		s.outbox = s.outbox[1:]
		s.mu.Unlock()
		d.conn.deliver(d.ev)
		s.mu.Lock()
	}
	s.outbox = nil
	s.draining = false
	s.mu.Unlock()
}

// scheduleDeleteLocked arranges for delete_game to run for the game.
func (s *Store) scheduleDeleteLocked(gameID uint32) {
	if s.closed {
		return
	}
	slog.Info("scheduling game deletion", "game_id", gameID, "delay", s.deleteDelay, "manual", s.manual)
	switch {
	case s.manual:
		for _, id := range s.pending {
			if id == gameID {
				return
			}
		}
		s.pending = append(s.pending, gameID)
	case s.deleteDelay <= 0:
		s.deleteGameLocked(gameID)
	default:
		if _, ok := s.scheduled[gameID]; ok {
			return
		}
		s.scheduled[gameID] = time.AfterFunc(s.deleteDelay, func() {
			s.mu.Lock()
			delete(s.scheduled, gameID)
			s.deleteGameLocked(gameID)
			s.mu.Unlock()
			s.drain()
		})
	}
}

// deleteGameLocked removes a game with its moves and feedback.
func (s *Store) deleteGameLocked(gameID uint32) bool {
	g, ok := s.games[gameID]
	if !ok {
		return false
	}
	slog.Info("deleting game", "game_id", gameID)

	delete(s.games, gameID)
	s.emitLocked(ir.TableGame, g, nil)

	for _, m := range s.movesLocked(gameID) {
		delete(s.moves, m.ID)
		s.emitLocked(ir.TableGameMove, m, nil)
	}
	var fbIDs []uint32
	for id, f := range s.feedback {
		if f.GameID == gameID {
			fbIDs = append(fbIDs, id)
		}
	}
	sort.Slice(fbIDs, func(i, j int) bool { return fbIDs[i] < fbIDs[j] })
	for _, id := range fbIDs {
		f := s.feedback[id]
		delete(s.feedback, id)
		s.emitLocked(ir.TableFeedback, f, nil)
	}
	return true
}
