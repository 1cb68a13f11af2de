package session

import (
	"fmt"
	"sync"

	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/ir"
)

// Notification is one recorded Presenter call.
type Notification struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (n Notification) String() string {
	return n.Kind + " " + n.Detail
}

// Notification kinds.
const (
	NotifyBoard    = "board"
	NotifyTurn     = "turn"
	NotifyFeedback = "feedback"
	NotifyStarted  = "started"
	NotifyResult   = "result"
	NotifyStats    = "stats"
)

// Recorder is a Presenter that keeps every notification in order.
// The scenario harness and the replay command read from it.
type Recorder struct {
	mu    sync.Mutex
	notes []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, Notification{Kind: kind, Detail: detail})
}

func (r *Recorder) OnBoardChanged(b board.Board)  { r.add(NotifyBoard, b.String()) }
func (r *Recorder) OnTurnChanged(next board.Mark) { r.add(NotifyTurn, next.String()) }
func (r *Recorder) OnFeedbackMessage(text string) { r.add(NotifyFeedback, text) }

func (r *Recorder) OnGameStarted(playingFirst bool) {
	r.add(NotifyStarted, StartedMessage(playingFirst))
}

func (r *Recorder) OnGameResult(result ir.GameResult, outcome Outcome) {
	r.add(NotifyResult, fmt.Sprintf("%s (%s)", result, outcome))
}

func (r *Recorder) OnPlayerStats(s ir.PlayerStats) {
	r.add(NotifyStats, fmt.Sprintf("wins=%d losses=%d ties=%d abandoned=%d", s.Wins, s.Losses, s.Ties, s.Abandoned))
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

// Drain returns and clears everything recorded so far.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notes
	r.notes = nil
	return out
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent notification of kind.
func (r *Recorder) Last(kind string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].Kind == kind {
			return r.notes[i], true
		}
	}
	return Notification{}, false
}
