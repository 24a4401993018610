package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/basket/forager/internal/audit"
	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Goal sources.
const (
	SourceRecovery = "recovery"
	SourceReset    = "reset"
	SourceThreat   = "threat"
)

// LoopFault is an error that escaped an iteration, including a recovered
// panic. Task failures are not loop faults.
type LoopFault struct {
	Iteration uint64
	Err       error
}

func (e *LoopFault) Error() string {
	return fmt.Sprintf("loop fault at iteration %d: %v", e.Iteration, e.Err)
}

func (e *LoopFault) Unwrap() error { return e.Err }

// Backoff is the delay after the n-th consecutive fault (n from 0):
// BackoffBase × BackoffMultiplier^n, capped at BackoffMax.
func (t Tuning) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(t.BackoffBase) * math.Pow(t.BackoffMultiplier, float64(n))
	if d >= float64(t.BackoffMax) || math.IsInf(d, 0) {
		return t.BackoffMax
	}
	return time.Duration(d)
}

// RecoveryGoal maps a failed task to the urgent goal that addresses the
// likely cause. Kinds without an entry get no automatic recovery.
func RecoveryGoal(task goal.Task, snap world.Snapshot) (goal.Goal, bool) {
	var (
		kind   goal.Kind
		params goal.Params
	)
	switch task.Type {
	case goal.KindGatherWood:
		kind, params = goal.KindExplore, goal.ExploreParams{Radius: 48, Safe: true}
	case goal.KindMine:
		if snap.HasToolClass("pickaxe") {
			return goal.Goal{}, false
		}
		kind, params = goal.KindCraftTools, goal.CraftToolsParams{Tools: []string{"wooden_pickaxe"}}
	case goal.KindCraftTools, goal.KindCraftWorkbench:
		kind, params = goal.KindGatherWood, goal.GatherWoodParams{}
	default:
		return goal.Goal{}, false
	}
	g := goal.NewUrgent(kind, params, SourceRecovery)
	g.Description = fmt.Sprintf("recover from failed %s", task.Type)
	return g, true
}

// baselineGoals is the queue after an emergency reset, head first.
func baselineGoals() []goal.Goal {
	food := goal.NewUrgent(goal.KindFindFood, goal.FindFoodParams{}, SourceReset)
	explore := goal.New(goal.KindExplore, goal.ExploreParams{Radius: 32, Safe: true})
	explore.Source = SourceReset
	return []goal.Goal{food, explore}
}

// onLoopFault applies backoff to a faulted iteration and returns the delay
// to sleep before the next one.
func (s *Scheduler) onLoopFault(ctx context.Context, err error) time.Duration {
	delay := s.tuning.Backoff(s.errCount)
	s.errCount++
	reset := s.errCount > s.tuning.ErrorThreshold

	s.logger.Error("scheduler iteration failed", "error", err, "consecutive", s.errCount, "backoff", delay)
	s.bus.Publish(bus.TopicSchedulerFault, s.agentID, bus.FaultEvent{
		Error:       err.Error(),
		Consecutive: s.errCount,
		Backoff:     delay,
	})
	s.metrics.Fault(ctx, s.agentID, reset)

	if reset {
		s.emergencyReset(fmt.Sprintf("%d consecutive loop faults, last: %v", s.errCount, err))
	}
	s.publishStatus(StateBackoff)
	return delay
}

// emergencyReset drops all scheduler state and reseeds the survival goals.
func (s *Scheduler) emergencyReset(reason string) {
	dropped := len(s.queue)
	if s.active != nil {
		dropped++
	}
	s.active = nil
	s.queue = baselineGoals()
	faults := s.errCount
	s.errCount = 0
	s.resets++

	s.logger.Warn("emergency reset", "reason", reason, "dropped", dropped)
	audit.Record(audit.EventEmergencyReset, s.agentID, reason, "")
	s.bus.Publish(bus.TopicSchedulerReset, s.agentID, bus.FaultEvent{Error: reason, Consecutive: faults})
}

// applyRecovery queues the recovery goal for a failed task, if any.
func (s *Scheduler) applyRecovery(task goal.Task, snap world.Snapshot) {
	g, ok := RecoveryGoal(task, snap)
	if !ok {
		return
	}
	if s.push(g) {
		s.logger.Info("recovery goal queued", "failed", task.Type, "goal", g.Type)
	}
}
