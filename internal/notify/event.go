// Package notify receives row-change events from Postgres LISTEN/NOTIFY.
package notify

import (
	"encoding/json"
	"fmt"
)

// Operation is the row-level operation that fired the trigger.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeEvent is the trigger payload. It is transient: the channel is not a
// durable log, and the transport truncates oversized payloads, so consumers
// may only trust it for identity.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data"`
	OldData   json.RawMessage `json:"old_data"`
	Truncated bool            `json:"truncated,omitempty"`
}

// rowIdentity is the minimal shape we pull out of Data/OldData.
type rowIdentity struct {
	ID     string `json:"id"`
	NameID string `json:"name_id"`
	Owner  string `json:"owner"`
}

// ParseEvent decodes a raw notification payload.
func ParseEvent(payload string) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("malformed change event: %w", err)
	}
	if ev.Table == "" || ev.Operation == "" {
		return nil, fmt.Errorf("change event missing table or operation")
	}
	switch ev.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return nil, fmt.Errorf("unknown operation %q", ev.Operation)
	}
	return &ev, nil
}

// RowID returns the primary key of the changed row.
func (ev *ChangeEvent) RowID() (string, error) {
	var ident rowIdentity
	if err := json.Unmarshal(ev.Data, &ident); err != nil {
		return "", fmt.Errorf("change event data has no id: %w", err)
	}
	if ident.ID == "" {
		return "", fmt.Errorf("change event data has no id")
	}
	return ident.ID, nil
}

// NameID resolves the name the event affects: the row itself for the names
// table, the parent for listings and offers. Truncated payloads still carry
// name_id for child rows. Empty only when the payload lacks it entirely, in
// which case the consumer must resolve it from the store.
func (ev *ChangeEvent) NameID() string {
	var ident rowIdentity
	if err := json.Unmarshal(ev.Data, &ident); err != nil {
		return ""
	}
	if ev.Table == "names" {
		return ident.ID
	}
	return ident.NameID
}

// OldOwner returns the owner before an update on names, if present.
func (ev *ChangeEvent) OldOwner() string {
	if len(ev.OldData) == 0 {
		return ""
	}
	var ident rowIdentity
	if err := json.Unmarshal(ev.OldData, &ident); err != nil {
		return ""
	}
	return ident.Owner
}
