package cli

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/tttsync/internal/client"
	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/session"
	"github.com/roach88/tttsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Identity string // overrides the identity recorded in the journal
}

// ReplayResult holds the replay command output.
type ReplayResult struct {
	Identity      string                 `json:"identity"`
	Events        int                    `json:"events"`
	State         string                 `json:"state"`
	GameID        uint32                 `json:"game_id"`
	Board         string                 `json:"board"`
	Next          string                 `json:"next"`
	PlayingFirst  bool                   `json:"playing_first"`
	Moves         int                    `json:"moves"`
	Anomalies     int                    `json:"anomalies"`
	Dropped       int                    `json:"dropped"`
	Notifications []session.Notification `json:"notifications"`
	Deterministic bool                   `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a session from its journal and verify determinism",
		Long: `Rebuild a client session from its event journal, without a row store.

The journal is replayed twice into fresh sessions; both runs must end in the
same state with the same presenter notifications.

Exit codes:
  0 - Replay is deterministic
  1 - The two replays diverged
  2 - Command error (journal not found, no identity recorded, etc.)

Examples:
  tttsync replay --db ./alice.db
  tttsync replay --db ./alice.db --verbose
  tttsync replay --db ./alice.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "local identity (default: recorded in the journal)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	journal, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer journal.Close()

	me, err := journalIdentity(ctx, journal, opts.Identity)
	if err != nil {
		return err
	}

	first := session.NewRecorder()
	snap, n, err := client.Replay(ctx, journal, me, first)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay journal", err)
	}
	second := session.NewRecorder()
	again, _, err := client.Replay(ctx, journal, me, second)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay journal", err)
	}

	result := ReplayResult{
		Identity:      string(me),
		Events:        n,
		State:         snap.State.String(),
		GameID:        snap.GameID,
		Board:         snap.Board.String(),
		Next:          snap.Next.String(),
		PlayingFirst:  snap.PlayingFirst,
		Moves:         snap.Moves,
		Anomalies:     snap.Anomalies,
		Dropped:       snap.Dropped,
		Notifications: first.Notifications(),
		Deterministic: snap == again && reflect.DeepEqual(first.Notifications(), second.Notifications()),
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if formatter.JSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// openExistingJournal opens a journal that must already exist.
func openExistingJournal(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path), err)
	}
	journal, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return journal, nil
}

// journalIdentity returns override if set, else the identity the journal
// was recorded for.
func journalIdentity(ctx context.Context, journal *store.Store, override string) (ir.Identity, error) {
	if override != "" {
		return ir.Identity(override), nil
	}
	value, ok, err := journal.Meta(ctx, store.MetaIdentity)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read journal identity", err)
	}
	if !ok {
		return "", NewExitError(ExitCommandError, "journal has no recorded identity (use --identity)")
	}
	return ir.Identity(value), nil
}

// outputReplayJSON outputs the replay result as JSON. A divergent replay
// still carries the result so the two runs can be compared.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	if result.Deterministic {
		return formatter.Success(result)
	}
	const msg = "determinism verification failed"
	if err := formatter.Error("E_DETERMINISM", msg, result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replayed %d event(s) for %s\n", result.Events, ir.Identity(result.Identity).Short())
	fmt.Fprintf(w, "State: %s", result.State)
	if result.State == session.Bound.String() {
		fmt.Fprintf(w, " (game %d, next %s)", result.GameID, result.Next)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Moves: %d, anomalies: %d, dropped: %d\n", result.Moves, result.Anomalies, result.Dropped)

	if verbose {
		fmt.Fprintln(w)
		for _, n := range result.Notifications {
			fmt.Fprintf(w, "  %s\n", n)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
