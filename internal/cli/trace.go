package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tttsync/internal/ir"
	"github.com/roach88/tttsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Table    string // optional - filter to one table
}

// TraceEvent is one journaled row event in the timeline.
type TraceEvent struct {
	Seq          int64          `json:"seq"`
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Table        string         `json:"table"`
	Key          string         `json:"key"`
	Subscription string         `json:"subscription,omitempty"`
	Old          map[string]any `json:"old,omitempty"`
	New          map[string]any `json:"new,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents   int            `json:"total_events"`
	ByTable       map[string]int `json:"by_table"`
	Subscriptions int            `json:"subscriptions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the row events recorded in a journal",
		Long: `Show the row events a client journaled, in processing order.

Each event lists its logical sequence number, change kind, table, row key
and the subscription it was delivered through.

Examples:
  tttsync trace --db ./alice.db
  tttsync trace --db ./alice.db --table game_move
  tttsync trace --db ./alice.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Table, "table", "", "filter to one table")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if opts.Table != "" && !ir.Table(opts.Table).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown table %q", opts.Table))
	}

	journal, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer journal.Close()

	var records []store.Record
	if opts.Table != "" {
		records, err = journal.ReadTable(ctx, ir.Table(opts.Table))
	} else {
		records, err = journal.ReadEvents(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	ids, err := journal.HandleIDs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		Timeline: buildTimeline(records),
		Stats: TraceStats{
			TotalEvents:   len(records),
			ByTable:       make(map[string]int),
			Subscriptions: len(ids),
		},
	}
	for _, rec := range records {
		result.Stats.ByTable[string(rec.Event.Table)]++
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTimeline converts journal records to timeline events.
func buildTimeline(records []store.Record) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(records))
	for _, rec := range records {
		ev := rec.Event
		te := TraceEvent{
			Seq:          rec.Seq,
			ID:           rec.ID,
			Kind:         ev.Kind.String(),
			Table:        string(ev.Table),
			Subscription: ev.SubscriptionID,
		}
		if r := ev.Row(); r != nil {
			te.Key = r.Key()
		}
		if ev.Old != nil {
			te.Old = ev.Old.Fields()
		}
		if ev.New != nil {
			te.New = ev.New.Fields()
		}
		timeline = append(timeline, te)
	}
	return timeline
}

// outputTraceText outputs the trace result as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events found in journal.")
		return nil
	}

	fmt.Fprintln(w, "=== Timeline ===")
	for _, event := range result.Timeline {
		via := event.Subscription
		if via == "" {
			via = "-"
		}
		fmt.Fprintf(w, "  [%d] %-6s %s #%s via %s\n", event.Seq, strings.ToUpper(event.Kind), event.Table, event.Key, via)
		if !verbose {
			continue
		}
		if event.Old != nil {
			fmt.Fprintf(w, "       old: %s\n", formatFields(event.Old))
		}
		if event.New != nil {
			fmt.Fprintf(w, "       new: %s\n", formatFields(event.New))
		}
		fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events:  %d\n", result.Stats.TotalEvents)
	tables := make([]string, 0, len(result.Stats.ByTable))
	for t := range result.Stats.ByTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(w, "  %-14s %d\n", t+":", result.Stats.ByTable[t])
	}
	fmt.Fprintf(w, "  Subscriptions: %d\n", result.Stats.Subscriptions)

	return nil
}

// formatFields formats a row for display.
// Uses sorted keys to ensure deterministic output.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(fields[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) == 64 {
			// identities
			return ir.Identity(val).Short()
		}
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprint(val)
	}
}

// truncateID shortens a content hash for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
