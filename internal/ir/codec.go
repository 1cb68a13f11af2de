package ir

import (
	"encoding/json"
	"fmt"
)

// DecodeRow decodes a JSON row snapshot belonging to table.
func DecodeRow(table Table, data []byte) (Row, error) {
	switch table {
	case TableGame:
		var r Game
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		return r, nil
	case TableGameMove:
		var r GameMove
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		return r, nil
	case TableFeedback:
		var r Feedback
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		return r, nil
	case TablePlayerStats:
		var r PlayerStats
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("decode row: unknown table %q", table)
	}
}

// EncodeRow encodes a row snapshot as JSON. A nil row encodes as nil.
func EncodeRow(r Row) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", r.Table(), err)
	}
	return data, nil
}
