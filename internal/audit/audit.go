// Package audit keeps an append-only trail of the scheduler's drastic
// decisions: emergency resets, fatal disconnects, claim denials and
// operator commands.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/forager/internal/shared"
)

// Event names.
const (
	EventEmergencyReset  = "emergency_reset"
	EventFatalDisconnect = "fatal_disconnect"
	EventClaimDenied     = "claim_denied"
	EventCommand         = "command"
	EventGoalRejected    = "goal_rejected"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	AgentID   string `json:"agent_id,omitempty"`
	Reason    string `json:"reason"`
	Subject   string `json:"subject,omitempty"`
}

var (
	mu     sync.Mutex
	file   *os.File
	db     *sql.DB
	counts sync.Map // event -> *atomic.Int64
)

// Init opens logs/audit.jsonl under homeDir for appending.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB mirrors entries into the audit_log table.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Count returns how many entries of event were recorded since startup.
func Count(event string) int64 {
	v, ok := counts.Load(event)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Record appends one entry. Reason and subject are redacted first.
func Record(event, agentID, reason, subject string) {
	v, _ := counts.LoadOrStore(event, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)
	now := time.Now().UTC()

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(entry{
			Timestamp: now.Format(time.RFC3339Nano),
			Event:     event,
			AgentID:   agentID,
			Reason:    reason,
			Subject:   subject,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}
	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (agent_id, event, reason, subject, created_at)
			VALUES (?, ?, ?, ?, ?);
		`, agentID, event, reason, subject, now)
	}
}
