package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tttsync/internal/board"
	"github.com/roach88/tttsync/internal/client"
	"github.com/roach88/tttsync/internal/memstore"
	"github.com/roach88/tttsync/internal/session"
	"github.com/roach88/tttsync/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Database string
	Moves    []int
	KeepGame bool // skip the scheduled game deletion
}

// PlayerReport is one client's view at the end of a simulation.
type PlayerReport struct {
	Name          string                 `json:"name"`
	Identity      string                 `json:"identity"`
	Mark          string                 `json:"mark"`
	Board         string                 `json:"board"`
	Outcome       string                 `json:"outcome,omitempty"`
	Feedback      []string               `json:"feedback"`
	Notifications []session.Notification `json:"notifications"`
	Anomalies     int                    `json:"anomalies"`
	FinalState    string                 `json:"final_state"`
}

// SimulateResult holds the simulate command output.
type SimulateResult struct {
	GameID  uint32         `json:"game_id"`
	Result  string         `json:"result"`
	Moves   int            `json:"moves"`
	Players []PlayerReport `json:"players"`
	Journal *JournalReport `json:"journal,omitempty"`
}

// JournalReport describes the journal written for the first player.
type JournalReport struct {
	Path   string `json:"path"`
	Events int64  `json:"events"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a scripted game between two clients",
		Long: `Play one game between two clients against the in-process reference store.

The first client creates the game and plays X; the second joins it. Moves
are submitted alternately by whichever side is to play, starting with X.
Rejected moves only produce feedback, exactly as a real store would.

With --db the first client's row events are journaled so the session can
be rebuilt later with "tttsync replay".

Examples:
  tttsync simulate
  tttsync simulate --moves 4,0,8,2,1,7,6,3,5
  tttsync simulate --db ./alice.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the first player's events to this SQLite file")
	cmd.Flags().IntSliceVar(&opts.Moves, "moves", []int{0, 1, 4, 2, 8}, "positions to play, alternating X and O")
	cmd.Flags().BoolVar(&opts.KeepGame, "keep-game", false, "leave the finished game in the store")

	return cmd
}

type simPlayer struct {
	name string
	c    *client.Client
	rec  *session.Recorder
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, pos := range opts.Moves {
		if pos < 0 || pos >= board.Size {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid move %d: must be between 0 and %d", pos, board.Size-1))
		}
	}

	rows := memstore.New(memstore.WithManualDeletes())
	defer rows.Close()

	var journal *store.Store
	if opts.Database != "" {
		var err error
		journal, err = openEmptyJournal(ctx, opts.Database)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	alice, err := startSimPlayer(ctx, rows, "alice", journal)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start alice", err)
	}
	flushAll(ctx, alice)
	bob, err := startSimPlayer(ctx, rows, "bob", nil)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start bob", err)
	}
	flushAll(ctx, alice, bob)

	if journal != nil {
		if err := journal.SetMeta(ctx, store.MetaIdentity, string(alice.c.Identity())); err != nil {
			return WrapExitError(ExitCommandError, "failed to record identity", err)
		}
	}

	players := []*simPlayer{alice, bob}
	if !alice.c.Snapshot().PlayingFirst {
		players = []*simPlayer{bob, alice}
	}
	for i, pos := range opts.Moves {
		p := players[i%2]
		if err := p.c.SubmitMove(ctx, pos); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("%s failed to submit move %d", p.name, pos), err)
		}
		flushAll(ctx, alice, bob)
	}

	gameID := alice.c.Snapshot().GameID
	result := SimulateResult{GameID: gameID, Moves: len(rows.Moves(gameID))}
	if g, ok := rows.Game(gameID); ok {
		result.Result = g.Result.String()
	}
	reports := []PlayerReport{report(alice), report(bob)}

	if !opts.KeepGame {
		rows.FireScheduled()
		flushAll(ctx, alice, bob)
	}
	reports[0].FinalState = alice.c.Snapshot().State.String()
	reports[1].FinalState = bob.c.Snapshot().State.String()
	result.Players = reports

	for _, p := range []*simPlayer{alice, bob} {
		if err := p.c.Close(ctx); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to close %s", p.name), err)
		}
	}

	if journal != nil {
		n, err := journal.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		result.Journal = &JournalReport{Path: opts.Database, Events: n}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(result)
	}
	outputSimulateText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// openEmptyJournal opens path and refuses journals that already hold a
// session.
func openEmptyJournal(ctx context.Context, path string) (*store.Store, error) {
	journal, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	last, err := journal.LastSeq(ctx)
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	ids, err := journal.HandleIDs(ctx)
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if last > 0 || len(ids) > 0 {
		journal.Close()
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal %s already holds a session", path))
	}
	return journal, nil
}

func startSimPlayer(ctx context.Context, rows *memstore.Store, name string, journal *store.Store) (*simPlayer, error) {
	rec := session.NewRecorder()
	opts := []client.Option{client.WithPresenter(rec)}
	if journal != nil {
		opts = append(opts, client.WithJournal(journal))
	}
	c := client.New(rows.Dial(), opts...)
	if _, _, err := c.Start(ctx); err != nil {
		return nil, err
	}
	return &simPlayer{name: name, c: c, rec: rec}, nil
}

// flushAll alternates between clients until no events are pending.
func flushAll(ctx context.Context, ps ...*simPlayer) {
	for {
		n := 0
		for _, p := range ps {
			n += p.c.Flush(ctx)
		}
		if n == 0 {
			return
		}
	}
}

func report(p *simPlayer) PlayerReport {
	snap := p.c.Snapshot()
	mark := board.O
	if snap.PlayingFirst {
		mark = board.X
	}
	r := PlayerReport{
		Name:          p.name,
		Identity:      p.c.Identity().Short(),
		Mark:          mark.String(),
		Board:         snap.Board.String(),
		Feedback:      []string{},
		Notifications: p.rec.Notifications(),
		Anomalies:     snap.Anomalies,
	}
	for _, n := range r.Notifications {
		if n.Kind == session.NotifyFeedback {
			r.Feedback = append(r.Feedback, n.Detail)
		}
	}
	if last, ok := p.rec.Last(session.NotifyResult); ok {
		r.Outcome = last.Detail
	}
	return r
}

func outputSimulateText(w io.Writer, result SimulateResult, verbose bool) {
	status := result.Result
	if status == "" {
		status = "deleted"
	}
	fmt.Fprintf(w, "Game %d: %s after %d moves\n", result.GameID, status, result.Moves)
	if len(result.Players) > 0 {
		if b, err := board.Parse(result.Players[0].Board); err == nil {
			fmt.Fprint(w, renderBoard(b))
		}
	}
	for _, p := range result.Players {
		outcome := p.Outcome
		if outcome == "" {
			outcome = "in progress"
		}
		fmt.Fprintf(w, "\n%s (%s, %s): %s\n", p.Name, p.Mark, p.Identity, outcome)
		for _, msg := range p.Feedback {
			fmt.Fprintf(w, "  feedback: %s\n", msg)
		}
		if p.Anomalies > 0 {
			fmt.Fprintf(w, "  anomalies: %d\n", p.Anomalies)
		}
		if verbose {
			for _, n := range p.Notifications {
				fmt.Fprintf(w, "  %s\n", n)
			}
		}
		fmt.Fprintf(w, "  final state: %s\n", p.FinalState)
	}
	if result.Journal != nil {
		fmt.Fprintf(w, "\nJournal: %s (%d events)\n", result.Journal.Path, result.Journal.Events)
	}
}

// renderBoard draws b as a 3x3 grid.
func renderBoard(b board.Board) string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			sb.WriteString("---+---+---\n")
		}
		for col := 0; col < 3; col++ {
			if col > 0 {
				sb.WriteByte('|')
			}
			fmt.Fprintf(&sb, " %s ", b[row*3+col])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
