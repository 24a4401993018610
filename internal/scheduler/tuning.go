package scheduler

import "time"

// Tuning holds the loop's numeric policy. Zero fields take the defaults
// below; the daemon pushes a new Tuning through the inbox on config reload.
type Tuning struct {
	BaseDelay          time.Duration
	IdleMultiplier     float64
	NightMultiplier    float64
	DangerMultiplier   float64
	CriticalMultiplier float64

	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	// ErrorThreshold is the consecutive loop-fault count that, once
	// exceeded, triggers an emergency reset.
	ErrorThreshold int

	HistorySize         int
	MaintenanceInterval int

	CriticalHealth float64
	CriticalFood   float64
	HostileRadius  float64
	// ThreatCooldown is the minimum gap between two preemptions, so the
	// goals a preemption injects get a chance to run.
	ThreatCooldown time.Duration

	// SynthesisTimeout bounds a background capability synthesis. The task
	// waits in place meanwhile and the loop keeps iterating.
	SynthesisTimeout time.Duration
}

// DefaultTuning returns the stock policy.
func DefaultTuning() Tuning {
	return Tuning{
		BaseDelay:           time.Second,
		IdleMultiplier:      2.0,
		NightMultiplier:     1.5,
		DangerMultiplier:    0.5,
		CriticalMultiplier:  0.25,
		BackoffBase:         time.Second,
		BackoffMultiplier:   2,
		BackoffMax:          30 * time.Second,
		ErrorThreshold:      5,
		HistorySize:         100,
		MaintenanceInterval: 100,
		CriticalHealth:      6,
		CriticalFood:        6,
		HostileRadius:       5,
		ThreatCooldown:      10 * time.Second,
		SynthesisTimeout:    time.Minute,
	}
}

func (t Tuning) normalize() Tuning {
	d := DefaultTuning()
	if t.BaseDelay <= 0 {
		t.BaseDelay = d.BaseDelay
	}
	if t.IdleMultiplier <= 0 {
		t.IdleMultiplier = d.IdleMultiplier
	}
	if t.NightMultiplier <= 0 {
		t.NightMultiplier = d.NightMultiplier
	}
	if t.DangerMultiplier <= 0 {
		t.DangerMultiplier = d.DangerMultiplier
	}
	if t.CriticalMultiplier <= 0 {
		t.CriticalMultiplier = d.CriticalMultiplier
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = d.BackoffBase
	}
	if t.BackoffMultiplier <= 1 {
		t.BackoffMultiplier = d.BackoffMultiplier
	}
	if t.BackoffMax <= 0 {
		t.BackoffMax = d.BackoffMax
	}
	if t.BackoffMax < t.BackoffBase {
		t.BackoffMax = t.BackoffBase
	}
	if t.ErrorThreshold <= 0 {
		t.ErrorThreshold = d.ErrorThreshold
	}
	if t.HistorySize <= 0 {
		t.HistorySize = d.HistorySize
	}
	if t.MaintenanceInterval <= 0 {
		t.MaintenanceInterval = d.MaintenanceInterval
	}
	if t.CriticalHealth <= 0 {
		t.CriticalHealth = d.CriticalHealth
	}
	if t.CriticalFood <= 0 {
		t.CriticalFood = d.CriticalFood
	}
	if t.HostileRadius <= 0 {
		t.HostileRadius = d.HostileRadius
	}
	if t.ThreatCooldown < 0 {
		t.ThreatCooldown = 0
	} else if t.ThreatCooldown == 0 {
		t.ThreatCooldown = d.ThreatCooldown
	}
	if t.SynthesisTimeout <= 0 {
		t.SynthesisTimeout = d.SynthesisTimeout
	}
	return t
}
