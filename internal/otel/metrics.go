package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the scheduler instruments. A nil *Metrics records nothing.
type Metrics struct {
	Iterations   metric.Int64Counter
	Faults       metric.Int64Counter
	Resets       metric.Int64Counter
	TaskDuration metric.Float64Histogram
	TaskOutcomes metric.Int64Counter
	Detached     metric.Int64Counter
	PacingDelay  metric.Int64Histogram
	QueueRejects metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Iterations, err = meter.Int64Counter("forager.loop.iterations",
		metric.WithDescription("Scheduler loop iterations")); err != nil {
		return nil, err
	}
	if m.Faults, err = meter.Int64Counter("forager.loop.faults",
		metric.WithDescription("Iterations that failed with a loop fault")); err != nil {
		return nil, err
	}
	if m.Resets, err = meter.Int64Counter("forager.loop.resets",
		metric.WithDescription("Emergency resets")); err != nil {
		return nil, err
	}
	if m.TaskDuration, err = meter.Float64Histogram("forager.task.duration",
		metric.WithDescription("Capability execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.TaskOutcomes, err = meter.Int64Counter("forager.task.outcomes",
		metric.WithDescription("Task results by type and outcome")); err != nil {
		return nil, err
	}
	if m.Detached, err = meter.Int64Counter("forager.task.detached",
		metric.WithDescription("Executions abandoned on timeout and left running")); err != nil {
		return nil, err
	}
	if m.PacingDelay, err = meter.Int64Histogram("forager.pacing.delay",
		metric.WithDescription("Delay chosen between iterations"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.QueueRejects, err = meter.Int64Counter("forager.ratequeue.rejects",
		metric.WithDescription("Rate-limited requests that failed for good")); err != nil {
		return nil, err
	}
	return m, nil
}

func agentAttr(agentID string) metric.MeasurementOption {
	return metric.WithAttributes(AttrAgentID.String(agentID))
}

func (m *Metrics) Iteration(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.Iterations.Add(ctx, 1, agentAttr(agentID))
}

func (m *Metrics) Fault(ctx context.Context, agentID string, reset bool) {
	if m == nil {
		return
	}
	m.Faults.Add(ctx, 1, agentAttr(agentID))
	if reset {
		m.Resets.Add(ctx, 1, agentAttr(agentID))
	}
}

// Outcome records one finished execution. outcome is "success" or a
// failure reason code.
func (m *Metrics) Outcome(ctx context.Context, agentID, taskType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrAgentID.String(agentID),
		AttrTaskType.String(taskType),
		attribute.String("outcome", outcome),
	)
	m.TaskOutcomes.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) DetachedExecution(ctx context.Context, agentID, taskType string) {
	if m == nil {
		return
	}
	m.Detached.Add(ctx, 1, metric.WithAttributes(AttrAgentID.String(agentID), AttrTaskType.String(taskType)))
}

func (m *Metrics) Pacing(ctx context.Context, agentID string, delay time.Duration) {
	if m == nil {
		return
	}
	m.PacingDelay.Record(ctx, delay.Milliseconds(), agentAttr(agentID))
}

func (m *Metrics) QueueReject(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.QueueRejects.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
