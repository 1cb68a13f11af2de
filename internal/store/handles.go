package store

import (
	"context"
	"fmt"
)

// AppendHandleID records a generated subscription handle id.
// Recording the same id twice is a no-op.
func (s *Store) AppendHandleID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handle_ids (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("append handle id %s: %w", id, err)
	}
	return nil
}

// HandleIDs returns recorded handle ids in generation order.
func (s *Store) HandleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM handle_ids ORDER BY n ASC`)
	if err != nil {
		return nil, fmt.Errorf("query handle ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan handle id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handle ids: %w", err)
	}
	return ids, nil
}
