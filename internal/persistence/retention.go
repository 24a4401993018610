package persistence

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult counts rows removed by one retention pass.
type RetentionResult struct {
	PurgedHistory   int64 `json:"purged_history"`
	PurgedAuditLogs int64 `json:"purged_audit_logs"`
}

// RunRetention deletes task history and audit rows older than their
// windows. A window of 0 keeps everything. Safe to run repeatedly.
func (s *Store) RunRetention(ctx context.Context, historyDays, auditDays int) (RetentionResult, error) {
	var result RetentionResult
	if historyDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -historyDays)
		res, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE created_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge task_history: %w", err)
		}
		result.PurgedHistory, _ = res.RowsAffected()
	}
	if auditDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -auditDays)
		res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge audit_log: %w", err)
		}
		result.PurgedAuditLogs, _ = res.RowsAffected()
	}
	return result, nil
}
