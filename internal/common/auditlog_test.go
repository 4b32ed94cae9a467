package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "edits.jsonl")
	log := NewAuditLog(path)
	first, err := log.Append(EditEntry{File: "a.edf", Field: "patient_id", Before: "X", After: "X X X X"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID == "" || first.Ts.IsZero() {
		t.Fatalf("entry not stamped: %+v", first)
	}
	ts := time.Date(2024, 4, 9, 21, 46, 16, 0, time.UTC)
	if _, err := log.Append(EditEntry{File: "a.edf", Field: "units", After: "uV,mV", Ts: ts}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(EditEntry{File: "a.edf"}); err == nil {
		t.Fatalf("expected error for entry without field")
	}

	entries, err := ReadAuditLog(path)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != first.ID || entries[0].After != "X X X X" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if !entries[1].Ts.Equal(ts) || entries[1].Field != "units" {
		t.Fatalf("second entry = %+v", entries[1])
	}
}

func TestReadAuditLogRejectsBadID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.jsonl")
	line := `{"id":"nope","file":"a.edf","field":"rec_id","before":"","after":"","ts":"2024-01-01T00:00:00Z"}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadAuditLog(path); err == nil {
		t.Fatalf("expected an id error")
	}
}
