package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/shared"
	"github.com/basket/forager/internal/world"
)

// Execution time bounds, independent of the task's own deadline.
const (
	MinExecTimeout = 10 * time.Second
	MaxExecTimeout = 10 * time.Minute
)

// ExecutionTimeout bounds a single capability run. It grows with the size
// of the request and shrinks under danger or low health so the loop regains
// control sooner.
func ExecutionTimeout(t Tuning, task goal.Task, snap world.Snapshot) time.Duration {
	var d time.Duration
	switch p := task.Params.(type) {
	case goal.MoveParams:
		d = 20*time.Second + time.Duration(snap.Position.Distance(p.Target)*float64(time.Second)/2)
	case goal.GatherWoodParams:
		d = 30*time.Second + time.Duration(p.Amount)*6*time.Second
	case goal.MineParams:
		d = 30*time.Second + time.Duration(p.Amount)*5*time.Second
	case goal.CraftToolsParams:
		d = 20*time.Second + time.Duration(len(p.Tools))*15*time.Second
	case goal.WorkbenchParams:
		d = 30 * time.Second
	case goal.BuildParams:
		d = time.Minute + time.Duration(p.Size)*30*time.Second
	case goal.FollowParams:
		d = 2 * time.Minute
	case goal.FindFoodParams:
		d = 90 * time.Second
	case goal.ExploreParams:
		d = 30*time.Second + time.Duration(p.Radius)*time.Second
	default:
		d = 2 * time.Minute
	}
	if len(snap.Dangers) > 0 {
		d /= 2
	}
	if snap.Health < t.CriticalHealth {
		d /= 2
	}
	if d < MinExecTimeout {
		d = MinExecTimeout
	}
	if d > MaxExecTimeout {
		d = MaxExecTimeout
	}
	return d
}

// run executes c for task, racing it against limit. On timeout the
// capability keeps running detached: its context is not cancelled, the
// loop just stops waiting and any late result is discarded. A detached
// execution may still complete its side effects exactly once.
func (s *Scheduler) run(ctx context.Context, c capability.Capability, task goal.Task, limit time.Duration) capability.Result {
	done := make(chan capability.Result, 1)
	execCtx := shared.WithTaskID(context.WithoutCancel(ctx), task.ID)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- capability.Result{Error: fmt.Sprintf("capability panic: %v", r), Reason: capability.ReasonFailed}
			}
		}()
		done <- c.Execute(execCtx, s.handle, task.Params)
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case res := <-done:
		if !res.Success && res.Reason == "" {
			res.Reason = capability.ReasonFailed
		}
		return res
	case <-timer.C:
		s.detached.Add(1)
		s.metrics.DetachedExecution(ctx, s.agentID, string(task.Type))
		s.logger.Warn("execution timed out, detaching", "task_id", task.ID, "type", task.Type, "limit", limit)
		return capability.Result{
			Error:  fmt.Sprintf("%s did not finish within %s", task.Describe(), limit),
			Reason: capability.ReasonTimeout,
		}
	case <-ctx.Done():
		return capability.Result{Error: ctx.Err().Error(), Reason: capability.ReasonFailed, Err: ctx.Err()}
	}
}

// resolution is a capability synthesis running off the loop goroutine.
type resolution struct {
	started time.Time
	done    chan struct{}
	c       capability.Capability
	err     error
}

// resolveGrace is how long the loop waits inline for a fresh resolution.
// Declines without a synthesizer return well within it.
const resolveGrace = 20 * time.Millisecond

// capabilityFor returns the capability for task. Registered capabilities
// come straight from Lookup. Otherwise resolution runs in the background,
// bounded by SynthesisTimeout, and ready is false until it settles.
func (s *Scheduler) capabilityFor(ctx context.Context, task goal.Task, snap world.Snapshot) (c capability.Capability, ready bool, err error) {
	if c, ok := s.resolver.Lookup(task.Type); ok {
		return c, true, nil
	}
	r, ok := s.resolving[task.Type]
	if !ok {
		r = &resolution{started: s.now(), done: make(chan struct{})}
		s.resolving[task.Type] = r
		rctx, cancel := context.WithTimeout(ctx, s.tuning.SynthesisTimeout)
		go func() {
			defer close(r.done)
			defer cancel()
			defer func() {
				if p := recover(); p != nil {
					r.err = fmt.Errorf("resolve panic: %v", p)
				}
			}()
			r.c, r.err = s.resolver.Resolve(rctx, task, snap)
		}()
		select {
		case <-r.done:
		case <-time.After(resolveGrace):
		}
	}

	select {
	case <-r.done:
		delete(s.resolving, task.Type)
		if r.err == nil && r.c == nil {
			r.err = capability.ErrUnavailable
		}
		return r.c, true, r.err
	default:
	}
	if s.now().Sub(r.started) >= s.tuning.SynthesisTimeout {
		// The goroutine may still finish; the resolver caches what it
		// produces for the next task of this kind.
		delete(s.resolving, task.Type)
		return nil, true, fmt.Errorf("resolve %s: %w", task.Type, context.DeadlineExceeded)
	}
	return nil, false, nil
}

// execute resolves and runs one task, recording the span, metrics and
// history entry. ok is false while the capability is still being
// synthesized; nothing ran and nothing is recorded.
func (s *Scheduler) execute(ctx context.Context, task goal.Task, snap world.Snapshot) (e Entry, ok bool) {
	c, ready, err := s.capabilityFor(ctx, task, snap)
	if !ready {
		return Entry{}, false
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "scheduler.execute",
		otel.AttrAgentID.String(s.agentID),
		otel.AttrTaskID.String(task.ID),
		otel.AttrTaskType.String(string(task.Type)),
	)
	defer span.End()

	s.bus.Publish(bus.TopicTaskStarted, s.agentID, bus.TaskEvent{
		TaskID:  task.ID,
		Type:    string(task.Type),
		Summary: task.Describe(),
	})
	start := s.now()
	var res capability.Result
	if err != nil {
		res = capability.Result{
			Error:  fmt.Sprintf("no capability available for %s", task.Type),
			Reason: capability.ReasonUnavailable,
			Err:    err,
		}
	} else {
		res = s.run(ctx, c, task, s.execTimeout(s.tuning, task, snap))
	}
	e = Entry{Task: task, Result: res, Timestamp: s.now(), Duration: s.now().Sub(start)}

	span.SetAttributes(otel.AttrReason.String(e.Outcome()))
	s.metrics.Outcome(ctx, s.agentID, string(task.Type), e.Outcome(), e.Duration)
	return e, true
}

// fatal reports whether res means the world connection is gone.
func fatal(res capability.Result) bool {
	return errors.Is(res.Err, world.ErrDisconnected)
}
