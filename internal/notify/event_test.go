package notify

import (
	"testing"
)

func TestParseEvent(t *testing.T) {
	payload := `{"table":"listings","operation":"UPDATE","data":{"id":"l1","name_id":"n1","status":"sold"},"old_data":{"id":"l1","name_id":"n1","status":"active"}}`

	ev, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.Table != "listings" || ev.Operation != OpUpdate {
		t.Errorf("got table=%q operation=%q", ev.Table, ev.Operation)
	}
	if ev.Truncated {
		t.Error("event unexpectedly marked truncated")
	}

	id, err := ev.RowID()
	if err != nil || id != "l1" {
		t.Errorf("RowID() = (%q, %v), want (l1, nil)", id, err)
	}
	if got := ev.NameID(); got != "n1" {
		t.Errorf("NameID() = %q, want n1", got)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"table":"names"}`,
		`{"table":"names","operation":"TRUNCATE","data":{"id":"n1"}}`,
	}
	for _, payload := range cases {
		if _, err := ParseEvent(payload); err == nil {
			t.Errorf("ParseEvent(%q) succeeded, want error", payload)
		}
	}
}

func TestParseEvent_Truncated(t *testing.T) {
	// oversized rows collapse to identity plus the truncated marker
	payload := `{"table":"names","operation":"UPDATE","data":{"id":"n1"},"truncated":true}`

	ev, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if !ev.Truncated {
		t.Error("truncated marker lost")
	}
	id, err := ev.RowID()
	if err != nil || id != "n1" {
		t.Errorf("RowID() = (%q, %v), want (n1, nil)", id, err)
	}
}

func TestNameID_NamesTableUsesRowID(t *testing.T) {
	ev, err := ParseEvent(`{"table":"names","operation":"INSERT","data":{"id":"n1","owner":"0xabc"}}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if got := ev.NameID(); got != "n1" {
		t.Errorf("NameID() = %q, want n1", got)
	}
}

func TestNameID_TruncatedChildRow(t *testing.T) {
	// the shrunk trigger payload keeps the parent id alongside the row id
	ev, err := ParseEvent(`{"table":"offers","operation":"DELETE","data":{"id":"o1","name_id":"n1"},"truncated":true}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if got := ev.NameID(); got != "n1" {
		t.Errorf("NameID() = %q, want n1 from the truncated payload", got)
	}

	// payloads without it force a store lookup
	ev, err = ParseEvent(`{"table":"offers","operation":"INSERT","data":{"id":"o1"},"truncated":true}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if got := ev.NameID(); got != "" {
		t.Errorf("NameID() = %q, want empty when the payload lacks a parent", got)
	}
}

func TestOldOwner(t *testing.T) {
	ev, err := ParseEvent(`{"table":"names","operation":"UPDATE","data":{"id":"n1","owner":"0xdef"},"old_data":{"id":"n1","owner":"0xabc"}}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if got := ev.OldOwner(); got != "0xabc" {
		t.Errorf("OldOwner() = %q, want 0xabc", got)
	}

	ev, _ = ParseEvent(`{"table":"names","operation":"INSERT","data":{"id":"n1"}}`)
	if got := ev.OldOwner(); got != "" {
		t.Errorf("OldOwner() = %q, want empty without old data", got)
	}
}
