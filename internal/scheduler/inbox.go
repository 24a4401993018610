package scheduler

import (
	"context"
	"time"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Loop states reported in Status.
const (
	StateIdle         = "idle"
	StateRunning      = "running"
	StateThreat       = "threat"
	StateBackoff      = "backoff"
	StateStopped      = "stopped"
	StateDisconnected = "disconnected"
)

// message is a mutation applied by the loop goroutine at the start of an
// iteration.
type message interface {
	apply(s *Scheduler)
}

type submitMsg struct{ g goal.Goal }

func (m submitMsg) apply(s *Scheduler) { s.push(m.g) }

type clearMsg struct{ reason string }

func (m clearMsg) apply(s *Scheduler) {
	if s.active != nil {
		s.logger.Info("active task dropped", "task_id", s.active.task.ID, "type", s.active.task.Type, "reason", m.reason)
	}
	s.active = nil
	s.queue = nil
}

type retuneMsg struct{ t Tuning }

func (m retuneMsg) apply(s *Scheduler) {
	s.tuning = m.t.normalize()
	s.history.Resize(s.tuning.HistorySize)
	s.logger.Info("scheduler tuning updated", "base_delay", s.tuning.BaseDelay, "error_threshold", s.tuning.ErrorThreshold)
}

func (s *Scheduler) send(ctx context.Context, m message) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrInboxFull
	}
}

// Submit queues g at the front of the goal queue. The goal is validated
// here so callers learn about malformed goals immediately.
func (s *Scheduler) Submit(ctx context.Context, g goal.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	return s.send(ctx, submitMsg{g: g})
}

// Clear abandons the active task and every queued goal.
func (s *Scheduler) Clear(ctx context.Context, reason string) error {
	return s.send(ctx, clearMsg{reason: reason})
}

// Retune replaces the loop's numeric policy.
func (s *Scheduler) Retune(ctx context.Context, t Tuning) error {
	return s.send(ctx, retuneMsg{t: t})
}

func (s *Scheduler) drainInbox() {
	for {
		select {
		case m := <-s.inbox:
			m.apply(s)
		default:
			return
		}
	}
}

// push inserts g at the queue head. Goals the scheduler generates itself
// are skipped when an identical one is already waiting.
func (s *Scheduler) push(g goal.Goal) bool {
	if g.Source == SourceRecovery || g.Source == SourceThreat {
		for _, q := range s.queue {
			if q.Type == g.Type && q.Source == g.Source {
				return false
			}
		}
	}
	s.queue = append([]goal.Goal{g}, s.queue...)
	s.bus.Publish(bus.TopicGoalQueued, s.agentID, bus.GoalEvent{
		GoalID: g.ID,
		Type:   string(g.Type),
		Urgent: g.Urgent,
		Source: g.Source,
	})
	return true
}

func (s *Scheduler) pop() (goal.Goal, bool) {
	if len(s.queue) == 0 {
		return goal.Goal{}, false
	}
	g := s.queue[0]
	s.queue = s.queue[1:]
	return g, true
}

// Status is a point-in-time copy of the loop state for observers.
type Status struct {
	AgentID           string        `json:"agent_id"`
	State             string        `json:"state"`
	Active            *ActiveStatus `json:"active"`
	Queue             []QueuedGoal  `json:"queue"`
	Iteration         uint64        `json:"iteration"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Resets            int           `json:"resets"`
	Detached          int64         `json:"detached"`
	LastDelay         time.Duration `json:"last_delay"`
	Health            float64       `json:"health"`
	Food              float64       `json:"food"`
	Position          world.Vec3    `json:"position"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ActiveStatus describes the active task.
type ActiveStatus struct {
	TaskID        string    `json:"task_id"`
	Type          goal.Kind `json:"type"`
	Summary       string    `json:"summary"`
	Deadline      time.Time `json:"deadline"`
	StartedAt     time.Time `json:"started_at"`
	Prerequisites int       `json:"prerequisites"`
	PendingPrereq int       `json:"pending_prereq"`
	Attempts      int       `json:"attempts"`
}

// QueuedGoal describes a waiting goal.
type QueuedGoal struct {
	GoalID string    `json:"goal_id"`
	Type   goal.Kind `json:"type"`
	Urgent bool      `json:"urgent"`
	Source string    `json:"source"`
}

// Status returns the most recently published state.
func (s *Scheduler) Status() Status {
	return *s.status.Load()
}

func (s *Scheduler) publishStatus(state string) {
	st := &Status{
		AgentID:           s.agentID,
		State:             state,
		Iteration:         s.iteration,
		ConsecutiveErrors: s.errCount,
		Resets:            s.resets,
		Detached:          s.detached.Load(),
		LastDelay:         s.lastDelay,
		UpdatedAt:         s.now(),
	}
	if s.handle != nil {
		snap := s.handle.Snapshot()
		st.Health, st.Food, st.Position = snap.Health, snap.Food, snap.Position
	}
	if a := s.active; a != nil {
		st.Active = &ActiveStatus{
			TaskID:        a.task.ID,
			Type:          a.task.Type,
			Summary:       a.task.Describe(),
			Deadline:      a.task.Deadline,
			StartedAt:     a.task.StartTime,
			Prerequisites: len(a.task.Prerequisites),
			PendingPrereq: len(a.task.Prerequisites) - a.next,
			Attempts:      a.attempts,
		}
	}
	st.Queue = make([]QueuedGoal, 0, len(s.queue))
	for _, g := range s.queue {
		st.Queue = append(st.Queue, QueuedGoal{GoalID: g.ID, Type: g.Type, Urgent: g.Urgent, Source: g.Source})
	}
	s.status.Store(st)
}
