// Package goal defines the goal and task records the planner compiles and
// the scheduler runs. Parameters are a closed tagged union: each Kind owns
// exactly one payload struct.
package goal

import (
	"errors"
	"fmt"
	"time"

	"github.com/basket/forager/internal/world"
	"github.com/google/uuid"
)

// Kind is the discriminant shared by goals and tasks.
type Kind string

const (
	KindMoveTo         Kind = "move_to"
	KindGatherWood     Kind = "gather_wood"
	KindCraftTools     Kind = "craft_tools"
	KindCraftWorkbench Kind = "craft_workbench"
	KindBuild          Kind = "build"
	KindMine           Kind = "mine"
	KindFollow         Kind = "follow"
	KindFindFood       Kind = "find_food"
	KindExplore        Kind = "explore"
)

// KnownKinds lists every kind with a dedicated planning rule.
var KnownKinds = []Kind{
	KindMoveTo, KindGatherWood, KindCraftTools, KindCraftWorkbench,
	KindBuild, KindMine, KindFollow, KindFindFood, KindExplore,
}

// Known reports whether k has a dedicated rule. Any other non-empty kind is
// free-text and goes to the generic fallback.
func (k Kind) Known() bool {
	for _, kk := range KnownKinds {
		if k == kk {
			return true
		}
	}
	return false
}

// Task deadlines are bounded to this window.
const (
	MinTaskTimeout = 2 * time.Minute
	MaxTaskTimeout = 15 * time.Minute
)

var (
	// ErrNestedPrerequisite is returned when a prerequisite carries its own
	// prerequisites. Dependency chains are exactly one level deep.
	ErrNestedPrerequisite = errors.New("prerequisite tasks cannot have prerequisites")

	// ErrPlanningMiss marks a goal the planner could not compile.
	ErrPlanningMiss = errors.New("no task planned for goal")
)

// ValidationError describes a malformed goal or task. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid goal: " + e.Reason
	}
	return fmt.Sprintf("invalid goal: %s: %s", e.Field, e.Reason)
}

// Goal is a declared intent waiting in a scheduler queue.
type Goal struct {
	ID   string
	Type Kind
	// Params is nil or the payload matching Type.
	Params Params
	// Priority follows the lower-is-more-urgent convention; 0 leaves it to
	// the planning rule.
	Priority    int
	Description string
	Urgent      bool
	Source      string
	CreatedAt   time.Time
}

// New returns a goal stamped with an ID and creation time.
func New(kind Kind, params Params) Goal {
	return Goal{
		ID:        uuid.NewString(),
		Type:      kind,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

// NewUrgent is New with Urgent set.
func NewUrgent(kind Kind, params Params, source string) Goal {
	g := New(kind, params)
	g.Urgent = true
	g.Source = source
	return g
}

// Validate checks that the goal has a type and a payload of the right shape.
func (g Goal) Validate() error {
	if g.Type == "" {
		return &ValidationError{Field: "type", Reason: "missing"}
	}
	if g.Params == nil {
		return nil
	}
	if !g.Type.Known() {
		if _, ok := g.Params.(GenericParams); !ok {
			return &ValidationError{Field: "params", Reason: fmt.Sprintf("free-text goal %q needs generic params", g.Type)}
		}
		return nil
	}
	if g.Params.Kind() != g.Type {
		return &ValidationError{Field: "params", Reason: fmt.Sprintf("payload for %q attached to %q goal", g.Params.Kind(), g.Type)}
	}
	return nil
}

// TaskContext is diagnostic metadata carried from the goal to history.
type TaskContext struct {
	GoalID         string `json:"goal_id,omitempty"`
	GoalType       Kind   `json:"goal_type,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Description    string `json:"description,omitempty"`
	Prerequisite   bool   `json:"prerequisite,omitempty"`
}

// Task is an executable unit compiled from one goal.
type Task struct {
	ID            string
	Type          Kind
	Params        Params
	Priority      int
	Deadline      time.Time
	Prerequisites []Task
	Context       TaskContext
	CreatedAt     time.Time
	StartTime     time.Time
}

// ClampTimeout bounds a per-type task duration into [MinTaskTimeout, MaxTaskTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinTaskTimeout {
		return MinTaskTimeout
	}
	if d > MaxTaskTimeout {
		return MaxTaskTimeout
	}
	return d
}

// NewTask builds a task whose deadline is now + the clamped duration, so it
// is always strictly in the future at creation.
func NewTask(params Params, priority int, now time.Time, timeout time.Duration) Task {
	return Task{
		ID:        uuid.NewString(),
		Type:      params.Kind(),
		Params:    params,
		Priority:  priority,
		Deadline:  now.Add(ClampTimeout(timeout)),
		CreatedAt: now,
	}
}

// AddPrerequisite appends p, rejecting nested chains.
func (t *Task) AddPrerequisite(p Task) error {
	if len(p.Prerequisites) > 0 {
		return ErrNestedPrerequisite
	}
	p.Context.Prerequisite = true
	t.Prerequisites = append(t.Prerequisites, p)
	return nil
}

// Expired reports whether the deadline has passed at now.
func (t Task) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && !now.Before(t.Deadline)
}

// Describe is a short human label for logs and announcements.
func (t Task) Describe() string {
	if t.Params == nil {
		return string(t.Type)
	}
	return fmt.Sprintf("%s %s", t.Type, t.Params.Summary())
}

// Target returns the movement target for move tasks.
func (t Task) Target() (world.Vec3, bool) {
	if p, ok := t.Params.(MoveParams); ok {
		return p.Target, true
	}
	return world.Vec3{}, false
}
