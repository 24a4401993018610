package persistence

import (
	"context"
	"fmt"
	"time"
)

// SkillStat aggregates outcomes per agent and task type.
type SkillStat struct {
	AgentID     string        `json:"agent_id"`
	Type        string        `json:"type"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	Timeouts    int           `json:"timeouts"`
	Total       time.Duration `json:"total"`
	LastOutcome string        `json:"last_outcome"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (st SkillStat) Attempts() int { return st.Successes + st.Failures + st.Timeouts }

// SuccessRate is successes over attempts, 0 when there are none.
func (st SkillStat) SuccessRate() float64 {
	n := st.Attempts()
	if n == 0 {
		return 0
	}
	return float64(st.Successes) / float64(n)
}

// MeanDuration is the average execution time.
func (st SkillStat) MeanDuration() time.Duration {
	n := st.Attempts()
	if n == 0 {
		return 0
	}
	return st.Total / time.Duration(n)
}

// ListSkillStats returns the stats for agentID, or all agents when empty,
// ordered by agent then type.
func (s *Store) ListSkillStats(ctx context.Context, agentID string) ([]SkillStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, type, successes, failures, timeouts, total_ms, last_outcome, updated_at
		FROM skill_stats
		WHERE ? = '' OR agent_id = ?
		ORDER BY agent_id, type;
	`, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list skill stats: %w", err)
	}
	defer rows.Close()

	var out []SkillStat
	for rows.Next() {
		var (
			st SkillStat
			ms int64
		)
		if err := rows.Scan(&st.AgentID, &st.Type, &st.Successes, &st.Failures, &st.Timeouts, &ms, &st.LastOutcome, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill stats: %w", err)
		}
		st.Total = time.Duration(ms) * time.Millisecond
		out = append(out, st)
	}
	return out, rows.Err()
}
