package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Threat kinds.
const (
	ThreatHostile   = "hostile"
	ThreatLowHealth = "low_health"
)

const (
	evadeRadius  = 16
	evadeTimeout = 30 * time.Second
)

// detectThreat reports immediate danger: a hostile within HostileRadius or
// health under CriticalHealth. Nothing is reported before the first world
// snapshot arrives. Without an evade capability a preemption only queues a
// goal, so the next one waits for ThreatCooldown to let that goal run.
func (s *Scheduler) detectThreat(snap world.Snapshot, now time.Time) (string, world.Danger, bool) {
	if snap.Taken.IsZero() {
		return "", world.Danger{}, false
	}
	if s.evade == nil && !s.lastThreat.IsZero() && now.Sub(s.lastThreat) < s.tuning.ThreatCooldown {
		return "", world.Danger{}, false
	}
	seen := snap
	seen.Dangers = s.threats.Threats(snap)
	if d, ok := seen.NearestHostile(); ok && d.Distance <= s.tuning.HostileRadius {
		return ThreatHostile, d, true
	}
	if snap.Health < s.tuning.CriticalHealth {
		return ThreatLowHealth, world.Danger{}, true
	}
	return "", world.Danger{}, false
}

// handleThreat responds out-of-band: it runs the evade capability when one
// is configured, otherwise it queues an urgent response goal. The active
// task is left in place.
func (s *Scheduler) handleThreat(ctx context.Context, kind string, d world.Danger, snap world.Snapshot, now time.Time) error {
	s.lastThreat = now
	var action string
	if s.evade != nil {
		task := goal.NewTask(goal.ExploreParams{Radius: evadeRadius, Safe: true}, 0, now, goal.MinTaskTimeout)
		task.Context.Description = "evade " + kind
		res := s.run(ctx, s.evade, task, evadeTimeout)
		if fatal(res) {
			return fmt.Errorf("evade: %w", world.ErrDisconnected)
		}
		action = "evade"
		if !res.Success {
			action = "evade_failed"
			s.logger.WarnContext(ctx, "evasion failed", "threat", kind, "error", res.Error)
		}
	} else {
		var g goal.Goal
		if kind == ThreatHostile {
			g = goal.NewUrgent(goal.KindExplore, goal.ExploreParams{Radius: evadeRadius, Safe: true}, SourceThreat)
			g.Description = "get away from " + d.Kind
		} else {
			g = goal.NewUrgent(goal.KindFindFood, goal.FindFoodParams{}, SourceThreat)
			g.Description = "recover health"
		}
		action = "queued " + string(g.Type)
		if !s.push(g) {
			action = "already queued"
		}
	}

	s.logger.WarnContext(ctx, "threat preemption", "threat", kind, "mob", d.Kind, "distance", d.Distance, "health", snap.Health, "action", action)
	s.bus.Publish(bus.TopicSchedulerThreat, s.agentID, bus.ThreatEvent{
		Kind:     kind,
		Distance: d.Distance,
		Health:   snap.Health,
		Action:   action,
	})
	return nil
}
