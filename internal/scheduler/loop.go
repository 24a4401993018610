package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/forager/internal/audit"
	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/shared"
	"github.com/basket/forager/internal/world"
)

// Run drives the loop until ctx is cancelled or the world connection is
// lost. It returns nil on cancellation and an error wrapping
// world.ErrDisconnected on disconnect; every other failure is handled
// inside the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	ctx = shared.WithAgentID(ctx, s.agentID)
	s.logger.Info("scheduler started", "base_delay", s.tuning.BaseDelay)

	for {
		if ctx.Err() != nil {
			s.stop()
			return nil
		}
		delay, err := s.iterateSafe(ctx)
		if err != nil {
			if errors.Is(err, world.ErrDisconnected) {
				s.disconnect(err)
				return err
			}
			if ctx.Err() != nil {
				s.stop()
				return nil
			}
			delay = s.onLoopFault(ctx, err)
		}
		s.metrics.Pacing(ctx, s.agentID, delay)
		if err := s.sleep(ctx, delay); err != nil {
			s.stop()
			return nil
		}
	}
}

// iterateSafe runs one iteration and turns anything that escapes it,
// panics included, into a *LoopFault.
func (s *Scheduler) iterateSafe(ctx context.Context) (delay time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoopFault{Iteration: s.iteration, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	delay, err = s.iterate(ctx)
	if err == nil || errors.Is(err, world.ErrDisconnected) || ctx.Err() != nil {
		return delay, err
	}
	var lf *LoopFault
	if !errors.As(err, &lf) {
		err = &LoopFault{Iteration: s.iteration, Err: err}
	}
	return delay, err
}

func (s *Scheduler) iterate(ctx context.Context) (time.Duration, error) {
	s.iteration++
	ctx = shared.WithIteration(ctx, s.iteration)
	ctx, span := otel.StartSpan(ctx, s.tracer, "scheduler.iteration",
		otel.AttrAgentID.String(s.agentID),
		otel.AttrIteration.Int64(int64(s.iteration)),
	)
	defer span.End()
	s.metrics.Iteration(ctx, s.agentID)

	s.drainInbox()
	if !s.handle.Connected() {
		return 0, world.ErrDisconnected
	}
	snap := s.handle.Snapshot()
	now := s.now()

	// 1. retire an expired or already satisfied task
	s.retire(ctx, snap, now)

	// 2. threat preemption short-circuits the rest of the iteration
	if kind, d, ok := s.detectThreat(snap, now); ok {
		if err := s.handleThreat(ctx, kind, d, snap, now); err != nil {
			return 0, err
		}
		s.errCount = 0
		delay := s.pace(snap)
		s.publishStatus(StateThreat)
		return delay, nil
	}

	// 3. pick the next goal
	if s.active == nil {
		s.selectNext(snap, now)
	}

	// 4-6. execute and interpret
	if s.active != nil {
		if err := s.step(ctx, snap, now); err != nil {
			return 0, err
		}
	}

	// 8. maintenance
	if s.iteration%uint64(s.tuning.MaintenanceInterval) == 0 {
		if err := s.maintain(ctx); err != nil {
			return 0, fmt.Errorf("maintenance: %w", err)
		}
	}

	s.errCount = 0
	// 7. pacing
	delay := s.pace(s.handle.Snapshot())
	state := StateIdle
	if s.active != nil {
		state = StateRunning
	}
	s.publishStatus(state)
	return delay, nil
}

func (s *Scheduler) retire(ctx context.Context, snap world.Snapshot, now time.Time) {
	a := s.active
	if a == nil {
		return
	}
	switch {
	case HasPredicate(a.task.Type) && Satisfied(a.task, snap):
		s.logger.Info("task satisfied", "task_id", a.task.ID, "type", a.task.Type)
		s.complete(ctx, Entry{
			Task:      a.task,
			Result:    capability.Result{Success: true, Message: "already satisfied"},
			Timestamp: now,
			Duration:  elapsed(a.task, now),
		})
		s.active = nil
	case a.task.Expired(now):
		s.logger.Warn("task deadline passed", "task_id", a.task.ID, "type", a.task.Type, "deadline", a.task.Deadline)
		e := Entry{
			Task:      a.task,
			Result:    capability.Result{Error: "deadline passed", Reason: capability.ReasonTimeout},
			Timestamp: now,
			Duration:  elapsed(a.task, now),
		}
		s.record(ctx, e)
		s.bus.Publish(bus.TopicTaskTimeout, s.agentID, taskEvent(e))
		s.announce(ctx, failureText(e))
		s.active = nil
	}
}

func (s *Scheduler) selectNext(snap world.Snapshot, now time.Time) {
	for {
		g, ok := s.pop()
		if !ok {
			return
		}
		if err := g.Validate(); err != nil {
			s.drop(g, err.Error())
			continue
		}
		task := s.planner.Plan(g, snap)
		if task == nil {
			s.drop(g, goal.ErrPlanningMiss.Error())
			continue
		}
		s.active = &activeTask{task: *task, goal: g}
		s.logger.Info("task planned", "task_id", task.ID, "type", task.Type,
			"goal_id", g.ID, "prerequisites", len(task.Prerequisites), "deadline", task.Deadline)
		return
	}
}

func (s *Scheduler) drop(g goal.Goal, reason string) {
	s.logger.Warn("goal dropped", "goal_id", g.ID, "type", g.Type, "reason", reason)
	s.bus.Publish(bus.TopicGoalDropped, s.agentID, bus.GoalEvent{
		GoalID: g.ID,
		Type:   string(g.Type),
		Urgent: g.Urgent,
		Source: g.Source,
		Reason: reason,
	})
}

// step runs one execution for the active task: its next unsatisfied
// prerequisite if any, otherwise the task itself.
func (s *Scheduler) step(ctx context.Context, snap world.Snapshot, now time.Time) error {
	a := s.active
	if now.Before(a.holdUntil) {
		return nil
	}
	for a.next < len(a.task.Prerequisites) && Satisfied(a.task.Prerequisites[a.next], snap) {
		a.next++
	}

	target := &a.task
	prereq := a.next < len(a.task.Prerequisites)
	if prereq {
		target = &a.task.Prerequisites[a.next]
	}
	if target.StartTime.IsZero() {
		target.StartTime = now
	}
	if a.task.StartTime.IsZero() {
		a.task.StartTime = now
	}

	e, ok := s.execute(ctx, *target, snap)
	if !ok {
		s.logger.DebugContext(ctx, "capability still resolving, holding task", "task_id", target.ID, "type", target.Type)
		return nil
	}
	a.attempts++
	if fatal(e.Result) {
		return fmt.Errorf("execute %s: %w", target.Type, world.ErrDisconnected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fresh := s.handle.Snapshot()

	switch {
	case e.Result.Success && prereq:
		s.record(ctx, e)
		s.bus.Publish(bus.TopicTaskCompleted, s.agentID, taskEvent(e))
		a.next++
	case e.Result.Success:
		if HasPredicate(target.Type) && !Satisfied(*target, fresh) {
			// The snapshot may lag the capability's effects. Re-check after
			// one pacing delay before running the task again.
			e.Result.Message = progressMessage(e.Result.Message)
			s.record(ctx, e)
			s.bus.Publish(bus.TopicTaskProgress, s.agentID, taskEvent(e))
			a.holdUntil = s.now().Add(s.pace(fresh))
			s.logger.InfoContext(ctx, "task progressed, predicate not yet met", "task_id", target.ID, "type", target.Type, "attempt", a.attempts, "recheck", a.holdUntil)
			return nil
		}
		s.complete(ctx, e)
		s.active = nil
	case e.Result.Reason == capability.ReasonClaimDenied:
		wait := e.Result.Wait
		if wait < time.Second {
			wait = time.Second
		}
		a.holdUntil = now.Add(wait)
		s.logger.Info("claim denied, holding task", "task_id", target.ID, "type", target.Type, "wait", wait)
		audit.Record(audit.EventClaimDenied, s.agentID, e.Result.Error, string(target.Type))
	default:
		s.fail(ctx, e, fresh)
		if prereq {
			parent := Entry{
				Task: a.task,
				Result: capability.Result{
					Error:  fmt.Sprintf("prerequisite %s failed: %s", target.Type, e.Result.Error),
					Reason: capability.ReasonFailed,
				},
				Timestamp: e.Timestamp,
				Duration:  elapsed(a.task, e.Timestamp),
			}
			s.record(ctx, parent)
			s.bus.Publish(bus.TopicTaskFailed, s.agentID, taskEvent(parent))
		}
		s.active = nil
	}
	return nil
}

func (s *Scheduler) complete(ctx context.Context, e Entry) {
	s.record(ctx, e)
	s.bus.Publish(bus.TopicTaskCompleted, s.agentID, taskEvent(e))
	s.announce(ctx, successText(e.Task))
}

func (s *Scheduler) fail(ctx context.Context, e Entry, snap world.Snapshot) {
	s.record(ctx, e)
	topic := bus.TopicTaskFailed
	if e.Result.Reason == capability.ReasonTimeout {
		topic = bus.TopicTaskTimeout
	}
	s.bus.Publish(topic, s.agentID, taskEvent(e))
	s.logger.Warn("task failed", "task_id", e.Task.ID, "type", e.Task.Type, "reason", e.Result.Reason, "error", e.Result.Error)
	s.resolver.NoteFailure(e.Task.Type, e.Result.Error)
	s.announce(ctx, failureText(e))
	s.applyRecovery(e.Task, snap)
}

func (s *Scheduler) record(ctx context.Context, e Entry) {
	s.history.Add(e)
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordTask(ctx, s.agentID, e); err != nil {
		s.logger.Warn("persist task history failed", "task_id", e.Task.ID, "error", err)
	}
}

// maintain runs the registered maintainers. A clean pass clears the fault
// counter.
func (s *Scheduler) maintain(ctx context.Context) error {
	var errs []error
	for _, m := range s.maintainers {
		if err := m.Maintain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.errCount = 0
	s.logger.Debug("maintenance complete", "iteration", s.iteration, "history", s.history.Len())
	return nil
}

func (s *Scheduler) stop() {
	s.logger.Info("scheduler stopped", "iterations", s.iteration)
	s.publishStatus(StateStopped)
	s.bus.Publish(bus.TopicSchedulerStopped, s.agentID, bus.FaultEvent{})
}

// disconnect abandons the queue and active task for good.
func (s *Scheduler) disconnect(err error) {
	abandoned := len(s.queue)
	if s.active != nil {
		abandoned++
	}
	s.active = nil
	s.queue = nil
	s.logger.Error("world connection lost, scheduler halting", "error", err, "abandoned", abandoned)
	audit.Record(audit.EventFatalDisconnect, s.agentID, err.Error(), "")
	s.publishStatus(StateDisconnected)
	s.bus.Publish(bus.TopicSchedulerStopped, s.agentID, bus.FaultEvent{Error: err.Error()})
}

func elapsed(t goal.Task, now time.Time) time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	return now.Sub(t.StartTime)
}

func taskEvent(e Entry) bus.TaskEvent {
	msg := e.Result.Message
	if !e.Result.Success && e.Result.Error != "" {
		msg = e.Result.Error
	}
	return bus.TaskEvent{
		TaskID:   e.Task.ID,
		Type:     string(e.Task.Type),
		Summary:  e.Task.Describe(),
		Reason:   e.Result.Reason,
		Message:  msg,
		Duration: e.Duration,
	}
}

func progressMessage(msg string) string {
	if msg == "" {
		return "progress: goal not yet met"
	}
	return "progress: " + msg
}
