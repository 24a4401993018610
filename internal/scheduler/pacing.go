package scheduler

import (
	"math"
	"time"

	"github.com/basket/forager/internal/world"
)

// Conditions are the pacing inputs for one iteration.
type Conditions struct {
	Idle         bool
	Night        bool
	UrgentQueued bool
	Danger       bool
	Critical     bool
}

// Multiplier picks the factor for c. Conditions are checked from least to
// most urgent and the last match wins; they never compound.
func (t Tuning) Multiplier(c Conditions) float64 {
	m := 1.0
	if c.Idle {
		m = t.IdleMultiplier
	}
	if c.Night && !c.UrgentQueued {
		m = t.NightMultiplier
	}
	if c.Danger {
		m = t.DangerMultiplier
	}
	if c.Critical {
		m = t.CriticalMultiplier
	}
	return m
}

// Delay is BaseDelay scaled by the winning multiplier, rounded to a whole,
// positive number of milliseconds.
func (t Tuning) Delay(c Conditions) time.Duration {
	ms := math.Round(float64(t.BaseDelay.Milliseconds()) * t.Multiplier(c))
	if ms < 1 {
		ms = 1
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

// Critical reports whether vitals are low enough for the fastest pacing.
// A snapshot that was never filled in has no vitals to judge.
func (t Tuning) Critical(snap world.Snapshot) bool {
	if snap.Taken.IsZero() {
		return false
	}
	return snap.Health < t.CriticalHealth || snap.Food < t.CriticalFood
}

func (s *Scheduler) conditions(snap world.Snapshot) Conditions {
	c := Conditions{
		Idle:     s.active == nil && len(s.queue) == 0,
		Night:    snap.IsNight(),
		Danger:   len(s.threats.Threats(snap)) > 0,
		Critical: s.tuning.Critical(snap),
	}
	for _, g := range s.queue {
		if g.Urgent {
			c.UrgentQueued = true
			break
		}
	}
	return c
}

func (s *Scheduler) pace(snap world.Snapshot) time.Duration {
	d := s.tuning.Delay(s.conditions(snap))
	s.lastDelay = d
	return d
}
