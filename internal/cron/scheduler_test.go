package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basket/forager/internal/cron"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/scheduler"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type fakeTarget struct {
	id     string
	status scheduler.Status
	err    error

	mu    sync.Mutex
	goals []goal.Goal
}

func (f *fakeTarget) AgentID() string          { return f.id }
func (f *fakeTarget) Status() scheduler.Status { return f.status }

func (f *fakeTarget) Submit(_ context.Context, g goal.Goal) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goals = append(f.goals, g)
	return nil
}

func (f *fakeTarget) submitted() []goal.Goal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]goal.Goal(nil), f.goals...)
}

type memKV struct {
	mu sync.Mutex
	m  map[string]string
}

func (k *memKV) KVGet(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m[key], nil
}

func (k *memKV) KVSet(_ context.Context, key, val string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = val
	return nil
}

func TestScheduler_FiresIdleGoalsOnlyForIdleAgents(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	kv := &memKV{m: map[string]string{"cron.idle.last_run": "2026-01-01T00:00:00Z"}}

	idle := &fakeTarget{id: "idle", status: scheduler.Status{State: scheduler.StateIdle}}
	busy := &fakeTarget{id: "busy", status: scheduler.Status{
		State:  scheduler.StateRunning,
		Active: &scheduler.ActiveStatus{TaskID: "t"},
	}}
	queued := &fakeTarget{id: "queued", status: scheduler.Status{
		State: scheduler.StateIdle,
		Queue: []scheduler.QueuedGoal{{GoalID: "g"}},
	}}

	s, err := cron.NewScheduler(cron.Config{
		Schedule: "*/5 * * * *",
		Targets:  []cron.Target{idle, busy, queued},
		KV:       kv,
		Interval: 20 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.Fired() == 1 })

	goals := idle.submitted()
	if len(goals) != 1 {
		t.Fatalf("expected one idle goal, got %d", len(goals))
	}
	if goals[0].Type != cron.IdleKind || goals[0].Validate() != nil {
		t.Fatalf("unexpected idle goal: %+v", goals[0])
	}
	if len(busy.submitted()) != 0 || len(queued.submitted()) != 0 {
		t.Fatal("busy or queued agents must not receive idle goals")
	}

	// The clock is frozen, so the schedule stays not-due after firing.
	time.Sleep(100 * time.Millisecond)
	if s.Fired() != 1 {
		t.Fatalf("expected a single firing with a frozen clock, got %d", s.Fired())
	}
	if got, _ := kv.KVGet(context.Background(), "cron.idle.last_run"); got != "2026-01-01T01:00:00Z" {
		t.Fatalf("expected last run persisted, got %q", got)
	}
	if want := time.Date(2026, 1, 1, 1, 5, 0, 0, time.UTC); !s.NextRun().Equal(want) {
		t.Fatalf("expected next run %s, got %s", want, s.NextRun())
	}
}

func TestScheduler_NotDueDoesNothing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	kv := &memKV{m: map[string]string{"cron.idle.last_run": "2026-01-01T00:00:00Z"}}
	idle := &fakeTarget{id: "idle", status: scheduler.Status{State: scheduler.StateIdle}}

	s, err := cron.NewScheduler(cron.Config{
		Schedule: "*/5 * * * *",
		Targets:  []cron.Target{idle},
		KV:       kv,
		Interval: 20 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if s.Fired() != 0 || len(idle.submitted()) != 0 {
		t.Fatal("schedule should not fire before its next run")
	}
}

func TestScheduler_SubmitErrorIsNotCounted(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	kv := &memKV{m: map[string]string{"cron.idle.last_run": "2026-01-01T00:00:00Z"}}
	full := &fakeTarget{id: "full", status: scheduler.Status{State: scheduler.StateIdle}, err: errors.New("inbox full")}

	s, err := cron.NewScheduler(cron.Config{
		Schedule: "*/5 * * * *",
		Targets:  []cron.Target{full},
		KV:       kv,
		Interval: 20 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		v, _ := kv.KVGet(context.Background(), "cron.idle.last_run")
		return v == "2026-01-01T01:00:00Z"
	})
	s.Stop()
	if s.Fired() != 0 {
		t.Fatalf("rejected submissions must not count, got %d", s.Fired())
	}
}

func TestNewScheduler_RejectsBadExpression(t *testing.T) {
	if _, err := cron.NewScheduler(cron.Config{Schedule: "not a cron"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNextRunTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	next, err := cron.NextRunTime("*/5 * * * *", base)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
	if _, err := cron.NextRunTime("bad", base); err == nil {
		t.Fatal("expected error for bad expression")
	}
}

func TestScheduler_SetTargetsBeforeFiring(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	kv := &memKV{m: map[string]string{"cron.idle.last_run": "2026-01-01T00:00:00Z"}}
	late := &fakeTarget{id: "late", status: scheduler.Status{State: scheduler.StateIdle}}

	s, err := cron.NewScheduler(cron.Config{
		Schedule: "*/5 * * * *",
		KV:       kv,
		Interval: 20 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.SetTargets([]cron.Target{late})
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.Fired() == 1 })
	if len(late.submitted()) != 1 {
		t.Fatalf("expected the late target to receive an idle goal")
	}
}
