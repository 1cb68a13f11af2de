package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tttsync/internal/ir"
)

// ErrSeqConflict is returned when a different event is appended at a seq
// that is already journaled.
var ErrSeqConflict = errors.New("seq already journaled with a different event")

// Record is one journaled row event.
type Record struct {
	Seq   int64
	ID    string
	Event ir.RowEvent
}

// Append journals ev at seq. It satisfies engine.Journal.
//
// Appending the identical event at the same seq again is a no-op, which
// makes re-running a journaled session safe.
func (s *Store) Append(ctx context.Context, seq int64, ev ir.RowEvent) error {
	id, err := ir.EventID(seq, ev)
	if err != nil {
		return fmt.Errorf("append seq %d: %w", seq, err)
	}
	oldJSON, err := encodeRow(ev.Old)
	if err != nil {
		return fmt.Errorf("append seq %d: %w", seq, err)
	}
	newJSON, err := encodeRow(ev.New)
	if err != nil {
		return fmt.Errorf("append seq %d: %w", seq, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, event_id, kind, tbl, old_row, new_row, subscription_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, seq, id, ev.Kind.String(), string(ev.Table), oldJSON, newJSON, ev.SubscriptionID)
	if err != nil {
		return fmt.Errorf("append seq %d: %w", seq, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT event_id FROM events WHERE seq = ?`, seq).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		// the event id exists at another seq
		return fmt.Errorf("append seq %d: %w", seq, ErrSeqConflict)
	}
	if err != nil {
		return fmt.Errorf("append seq %d: %w", seq, err)
	}
	if existing != id {
		return fmt.Errorf("append seq %d: %w", seq, ErrSeqConflict)
	}
	return nil
}

// ReadEvents returns every journaled event ordered by seq.
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadEvents(ctx context.Context) ([]Record, error) {
	return s.readEvents(ctx, `
		SELECT seq, event_id, kind, tbl, old_row, new_row, subscription_id
		FROM events
		ORDER BY seq ASC
	`)
}

// ReadTable returns the journaled events of one table ordered by seq.
func (s *Store) ReadTable(ctx context.Context, table ir.Table) ([]Record, error) {
	return s.readEvents(ctx, `
		SELECT seq, event_id, kind, tbl, old_row, new_row, subscription_id
		FROM events
		WHERE tbl = ?
		ORDER BY seq ASC
	`, string(table))
}

// LastSeq returns the highest journaled seq, 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Replay calls fn for every journaled event in seq order and stops at the
// first error. It returns the number of events passed to fn.
func (s *Store) Replay(ctx context.Context, fn func(Record) error) (int, error) {
	records, err := s.ReadEvents(ctx)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := fn(rec); err != nil {
			return i, fmt.Errorf("replay seq %d: %w", rec.Seq, err)
		}
	}
	return len(records), nil
}

func (s *Store) readEvents(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec              Record
		kind, table      string
		oldJSON, newJSON sql.NullString
		subID            string
	)
	if err := rows.Scan(&rec.Seq, &rec.ID, &kind, &table, &oldJSON, &newJSON, &subID); err != nil {
		return Record{}, fmt.Errorf("scan event: %w", err)
	}

	k, err := ir.ParseEventKind(kind)
	if err != nil {
		return Record{}, fmt.Errorf("event seq %d: %w", rec.Seq, err)
	}
	ev := ir.RowEvent{Kind: k, Table: ir.Table(table), SubscriptionID: subID}
	if ev.Old, err = decodeRow(ev.Table, oldJSON); err != nil {
		return Record{}, fmt.Errorf("event seq %d old row: %w", rec.Seq, err)
	}
	if ev.New, err = decodeRow(ev.Table, newJSON); err != nil {
		return Record{}, fmt.Errorf("event seq %d new row: %w", rec.Seq, err)
	}
	rec.Event = ev
	return rec, nil
}

func encodeRow(r ir.Row) (sql.NullString, error) {
	data, err := ir.EncodeRow(r)
	if err != nil || data == nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeRow(table ir.Table, s sql.NullString) (ir.Row, error) {
	if !s.Valid {
		return nil, nil
	}
	return ir.DecodeRow(table, []byte(s.String))
}
