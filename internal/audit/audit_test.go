package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesEntries(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := Count(EventEmergencyReset)
	Record(EventEmergencyReset, "a1", "6 consecutive loop faults", "")
	Record(EventClaimDenied, "a1", "held by a2", "mine:0,0")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["event"] != EventEmergencyReset || first["agent_id"] != "a1" {
		t.Fatalf("unexpected entry: %#v", first)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Fatal("missing timestamp")
	}
	if got := Count(EventEmergencyReset); got != before+1 {
		t.Fatalf("count = %d, want %d", got, before+1)
	}
}

func TestRecordRedacts(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(EventFatalDisconnect, "a1", "dial ws://host/bridge?token=hunter2hunter2", "")
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Fatalf("secret written to audit log: %s", raw)
	}
}
