package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outcome values stored in task_history.outcome.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
)

// TaskRecord is one finished task as persisted.
type TaskRecord struct {
	ID             int64         `json:"id"`
	AgentID        string        `json:"agent_id"`
	TaskID         string        `json:"task_id"`
	GoalID         string        `json:"goal_id,omitempty"`
	Type           string        `json:"type"`
	Summary        string        `json:"summary"`
	Outcome        string        `json:"outcome"`
	Message        string        `json:"message,omitempty"`
	Prerequisite   bool          `json:"prerequisite,omitempty"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// RecordTask appends rec to task_history and folds it into skill_stats in
// the same transaction.
func (s *Store) RecordTask(ctx context.Context, rec TaskRecord) error {
	if rec.AgentID == "" || rec.Type == "" || rec.Outcome == "" {
		return fmt.Errorf("record task: agent, type and outcome are required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_history
				(agent_id, task_id, goal_id, type, summary, outcome, message,
				 prerequisite, fallback_reason, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.AgentID, rec.TaskID, rec.GoalID, rec.Type, rec.Summary, rec.Outcome, rec.Message,
			rec.Prerequisite, rec.FallbackReason, rec.Duration.Milliseconds(), rec.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert task_history: %w", err)
		}

		var succ, fail, tout int
		switch rec.Outcome {
		case OutcomeSuccess:
			succ = 1
		case OutcomeTimeout:
			tout = 1
		default:
			fail = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO skill_stats (agent_id, type, successes, failures, timeouts, total_ms, last_outcome, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id, type) DO UPDATE SET
				successes = successes + excluded.successes,
				failures = failures + excluded.failures,
				timeouts = timeouts + excluded.timeouts,
				total_ms = total_ms + excluded.total_ms,
				last_outcome = excluded.last_outcome,
				updated_at = excluded.updated_at;
		`, rec.AgentID, rec.Type, succ, fail, tout, rec.Duration.Milliseconds(), rec.Outcome, rec.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("upsert skill_stats: %w", err)
		}
		return tx.Commit()
	})
}

// ListTaskHistory returns up to limit records, newest first. An empty
// agentID lists every agent.
func (s *Store) ListTaskHistory(ctx context.Context, agentID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, agent_id, task_id, goal_id, type, summary, outcome, message,
		prerequisite, fallback_reason, duration_ms, created_at`
	if agentID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM task_history ORDER BY id DESC LIMIT ?;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM task_history WHERE agent_id = ? ORDER BY id DESC LIMIT ?;`, agentID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var (
			rec TaskRecord
			ms  int64
		)
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.TaskID, &rec.GoalID, &rec.Type, &rec.Summary,
			&rec.Outcome, &rec.Message, &rec.Prerequisite, &rec.FallbackReason, &ms, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task history: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
