package ir

import "fmt"

// EventKind distinguishes row-change notifications.
type EventKind int

const (
	// EventInsert means a row entered a subscribed result set.
	EventInsert EventKind = iota + 1
	// EventUpdate means a row changed while staying in the result set.
	EventUpdate
	// EventDelete means a row left the result set.
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseEventKind converts a kind name back to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "insert":
		return EventInsert, nil
	case "update":
		return EventUpdate, nil
	case "delete":
		return EventDelete, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

// RowEvent is one row-change notification.
//
// Insert carries New, Delete carries Old, Update carries both. SubscriptionID
// names the live query the row was delivered through; it is empty when the
// event did not come from a tracked subscription (e.g. hand-built test events).
type RowEvent struct {
	Kind           EventKind
	Table          Table
	Old            Row
	New            Row
	SubscriptionID string
}

// Row returns the snapshot describing the row after the change, or the
// deleted snapshot for deletes.
func (e RowEvent) Row() Row {
	if e.Kind == EventDelete {
		return e.Old
	}
	return e.New
}

// Validate checks that the snapshots required by the kind are present and
// belong to the event's table.
func (e RowEvent) Validate() error {
	if !e.Table.Valid() {
		return fmt.Errorf("unknown table %q", e.Table)
	}
	switch e.Kind {
	case EventInsert:
		if e.New == nil {
			return fmt.Errorf("%s %s: missing new row", e.Kind, e.Table)
		}
	case EventUpdate:
		if e.Old == nil || e.New == nil {
			return fmt.Errorf("%s %s: update needs old and new rows", e.Kind, e.Table)
		}
	case EventDelete:
		if e.Old == nil {
			return fmt.Errorf("%s %s: missing old row", e.Kind, e.Table)
		}
	default:
		return fmt.Errorf("invalid event kind %d", int(e.Kind))
	}
	for _, r := range []Row{e.Old, e.New} {
		if r != nil && r.Table() != e.Table {
			return fmt.Errorf("%s %s: row belongs to %s", e.Kind, e.Table, r.Table())
		}
	}
	return nil
}

// Insert builds an insert notification for r.
func Insert(r Row) RowEvent {
	return RowEvent{Kind: EventInsert, Table: r.Table(), New: r}
}

// Update builds an update notification from before to after.
func Update(before, after Row) RowEvent {
	return RowEvent{Kind: EventUpdate, Table: after.Table(), Old: before, New: after}
}

// Delete builds a delete notification for r.
func Delete(r Row) RowEvent {
	return RowEvent{Kind: EventDelete, Table: r.Table(), Old: r}
}

// Via returns a copy of e tagged with the delivering subscription.
func (e RowEvent) Via(subscriptionID string) RowEvent {
	e.SubscriptionID = subscriptionID
	return e
}
