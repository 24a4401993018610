// Package cron injects idle goals into agents that have nothing to do, on a
// cron schedule.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/scheduler"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// IdleKind is the free-text goal type injected into idle agents. The
// planner's fallback turns it into resource gathering or exploration.
const IdleKind goal.Kind = "idle"

// lastRunKey stores the last firing in the key/value table.
const lastRunKey = "cron.idle.last_run"

// Target is one agent loop that can receive idle goals.
type Target interface {
	AgentID() string
	Status() scheduler.Status
	Submit(ctx context.Context, g goal.Goal) error
}

// KV persists the last firing across restarts.
type KV interface {
	KVGet(ctx context.Context, key string) (string, error)
	KVSet(ctx context.Context, key, val string) error
}

// Config holds the dependencies for the idle scheduler.
type Config struct {
	Schedule string
	Targets  []Target
	KV       KV
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

// Scheduler checks the schedule every Interval and, when it is due, gives
// each idle target one idle goal.
type Scheduler struct {
	sched    cronlib.Schedule
	expr     string
	kv       KV
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	targets []Target
	nextRun time.Time
	fired   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses cfg.Schedule and returns a stopped Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		sched:    sched,
		expr:     cfg.Schedule,
		targets:  cfg.Targets,
		kv:       cfg.KV,
		logger:   logger.With("component", "cron"),
		interval: interval,
		now:      now,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	next := s.sched.Next(s.lastRun(ctx))
	s.mu.Lock()
	s.nextRun = next
	targets := s.targets
	s.mu.Unlock()
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("idle scheduler started", "schedule", s.expr, "interval", s.interval, "targets", len(targets))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("idle scheduler stopped")
}

// SetTargets replaces the agents that receive idle goals.
func (s *Scheduler) SetTargets(targets []Target) {
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

// NextRun reports when the schedule next fires.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Fired counts idle goals submitted so far.
func (s *Scheduler) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Scheduler) lastRun(ctx context.Context) time.Time {
	now := s.now()
	if s.kv == nil {
		return now
	}
	raw, err := s.kv.KVGet(ctx, lastRunKey)
	if err != nil || raw == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return now
	}
	return t
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires once if the schedule is due. Missed firings collapse into one.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.sched.Next(now)
	}
	next := s.nextRun
	s.mu.Unlock()
	if !due {
		return
	}

	n := s.fire(ctx)
	if s.kv != nil {
		if err := s.kv.KVSet(ctx, lastRunKey, now.UTC().Format(time.RFC3339)); err != nil {
			s.logger.Warn("persist idle schedule run failed", "error", err)
		}
	}
	s.logger.Info("idle schedule fired", "submitted", n, "next_run_at", next)
}

// fire submits an idle goal to every target with no active task and an
// empty queue. It returns the number of goals submitted.
func (s *Scheduler) fire(ctx context.Context) int {
	s.mu.Lock()
	targets := s.targets
	s.mu.Unlock()
	n := 0
	for _, t := range targets {
		st := t.Status()
		if st.State != scheduler.StateIdle || st.Active != nil || len(st.Queue) > 0 {
			continue
		}
		g := goal.New(IdleKind, goal.GenericParams{Type: IdleKind, Description: "idle: keep busy"})
		g.Source = "idle"
		if err := t.Submit(ctx, g); err != nil {
			s.logger.Warn("idle goal rejected", "agent_id", t.AgentID(), "error", err)
			continue
		}
		n++
	}
	s.mu.Lock()
	s.fired += n
	s.mu.Unlock()
	return n
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
