package shared

import (
	"context"

	"github.com/google/uuid"
)

type (
	agentIDKey   struct{}
	taskIDKey    struct{}
	traceIDKey   struct{}
	iterationKey struct{}
)

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AgentID returns the agent in ctx, or "".
func AgentID(ctx context.Context) string {
	v, _ := ctx.Value(agentIDKey{}).(string)
	return v
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID returns the task in ctx, or "".
func TaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey{}).(string)
	return v
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace in ctx, or "-".
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

func NewTraceID() string {
	return uuid.NewString()
}

// WithIteration tags ctx with the scheduler loop iteration.
func WithIteration(ctx context.Context, n uint64) context.Context {
	return context.WithValue(ctx, iterationKey{}, n)
}

func Iteration(ctx context.Context) uint64 {
	v, _ := ctx.Value(iterationKey{}).(uint64)
	return v
}
