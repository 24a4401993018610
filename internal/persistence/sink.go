package persistence

import (
	"context"

	"github.com/basket/forager/internal/scheduler"
)

// Sink adapts a Store to scheduler.Sink.
type Sink struct {
	Store *Store
}

func (k Sink) RecordTask(ctx context.Context, agentID string, e scheduler.Entry) error {
	msg := e.Result.Message
	if !e.Result.Success && e.Result.Error != "" {
		msg = e.Result.Error
	}
	return k.Store.RecordTask(ctx, TaskRecord{
		AgentID:        agentID,
		TaskID:         e.Task.ID,
		GoalID:         e.Task.Context.GoalID,
		Type:           string(e.Task.Type),
		Summary:        e.Task.Describe(),
		Outcome:        e.Outcome(),
		Message:        msg,
		Prerequisite:   e.Task.Context.Prerequisite,
		FallbackReason: e.Task.Context.FallbackReason,
		Duration:       e.Duration,
		CreatedAt:      e.Timestamp,
	})
}
