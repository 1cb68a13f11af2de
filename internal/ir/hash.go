package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRowEvent prefixes the hash input of journaled row events.
const DomainRowEvent = "tttsync/row-event/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of a row event observed at seq.
// The subscription id is excluded: the same change delivered through a
// different handle is the same logical event.
func EventID(seq int64, ev RowEvent) (string, error) {
	obj := map[string]any{
		"seq":   seq,
		"kind":  ev.Kind.String(),
		"table": string(ev.Table),
	}
	if ev.Old != nil {
		obj["old"] = ev.Old.Fields()
	}
	if ev.New != nil {
		obj["new"] = ev.New.Fields()
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRowEvent, canonical), nil
}
