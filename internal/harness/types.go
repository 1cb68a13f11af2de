package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tttsync/internal/session"
)

// Trace event types.
const (
	TraceStep        = "step"
	TraceSubscribe   = "subscribe"
	TraceUnsubscribe = "unsubscribe"
	TraceNotify      = "notify"
	TraceRemote      = "remote"
	TraceRejected    = "rejected"
	TraceError       = "error"
	TraceFinal       = "final"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func (e TraceEvent) String() string {
	return fmt.Sprintf("%03d %s %s", e.Seq, e.Type, e.Detail)
}

// RemoteCall is one InvokeRemoteAction call made by the session.
type RemoteCall struct {
	Name string
	Args []any
}

func (c RemoteCall) String() string {
	parts := []string{c.Name}
	for _, a := range c.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the subscription lifecycle, notifications and remote
	// calls in order. Used for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Notifications []session.Notification `json:"notifications"`
	Remote        []RemoteCall           `json:"-"`

	// Final is the session state after the last step.
	Final session.Snapshot `json:"-"`

	// Subscriptions is the number of live subscriptions after the last step.
	Subscriptions int `json:"subscriptions"`

	// Replayed is the number of journaled events replayed, or -1 when the
	// replay check was skipped.
	Replayed int `json:"replayed"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Replayed: -1,
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(seq int64, typ, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Type: typ, Detail: detail})
}

// TraceText renders the trace one event per line.
func (r *Result) TraceText() string {
	var sb strings.Builder
	for _, e := range r.Trace {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
