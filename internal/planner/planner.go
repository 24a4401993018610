// Package planner compiles goals into executable tasks. Planning is a pure
// function of the goal and the current snapshot: the planner holds no task
// state, only read-only recipe tables.
package planner

import (
	"log/slog"
	"time"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Planned durations per task kind before clamping into the goal package's
// timeout window.
var DefaultDurations = map[goal.Kind]time.Duration{
	goal.KindMoveTo:         5 * time.Minute,
	goal.KindGatherWood:     10 * time.Minute,
	goal.KindCraftTools:     5 * time.Minute,
	goal.KindCraftWorkbench: 3 * time.Minute,
	goal.KindBuild:          15 * time.Minute,
	goal.KindMine:           10 * time.Minute,
	goal.KindFollow:         15 * time.Minute,
	goal.KindFindFood:       8 * time.Minute,
	goal.KindExplore:        5 * time.Minute,
}

// Default priorities when the goal leaves Priority at 0. Lower is more urgent.
var defaultPriority = map[goal.Kind]int{
	goal.KindFindFood:       2,
	goal.KindMoveTo:         3,
	goal.KindFollow:         3,
	goal.KindCraftTools:     4,
	goal.KindCraftWorkbench: 4,
	goal.KindGatherWood:     5,
	goal.KindMine:           5,
	goal.KindBuild:          6,
	goal.KindExplore:        7,
}

const genericPriority = 8

// Config tunes a Planner. Zero values fall back to defaults.
type Config struct {
	// Now is the planning clock.
	Now func() time.Time
	// Durations overrides DefaultDurations per kind.
	Durations map[goal.Kind]time.Duration
	Logger    *slog.Logger
}

// Planner maps goals to tasks.
type Planner struct {
	now       func() time.Time
	durations map[goal.Kind]time.Duration
	logger    *slog.Logger
}

// New creates a Planner.
func New(cfg Config) *Planner {
	p := &Planner{
		now:       cfg.Now,
		durations: make(map[goal.Kind]time.Duration, len(DefaultDurations)),
		logger:    cfg.Logger,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for k, d := range DefaultDurations {
		p.durations[k] = d
	}
	for k, d := range cfg.Durations {
		if d > 0 {
			p.durations[k] = d
		}
	}
	return p
}

// Plan compiles g against snap. It returns nil when the goal is malformed;
// the caller drops such goals without retrying. Any well-formed goal yields
// a best-effort task even when resources are short.
func (p *Planner) Plan(g goal.Goal, snap world.Snapshot) *goal.Task {
	if err := g.Validate(); err != nil {
		p.logger.Warn("goal rejected", "goal_id", g.ID, "type", g.Type, "error", err)
		return nil
	}

	b := &builder{p: p, g: g, snap: snap, now: p.now()}
	var t goal.Task
	switch g.Type {
	case goal.KindMoveTo:
		t = b.move()
	case goal.KindGatherWood:
		t = b.gatherWood(paramsOr(g.Params, goal.GatherWoodParams{}))
	case goal.KindCraftTools:
		t = b.craftTools(paramsOr(g.Params, goal.CraftToolsParams{}))
	case goal.KindCraftWorkbench:
		t = b.workbench()
	case goal.KindBuild:
		t = b.build(paramsOr(g.Params, goal.BuildParams{}))
	case goal.KindMine:
		t = b.mine(paramsOr(g.Params, goal.MineParams{}))
	case goal.KindFollow:
		t = b.follow()
	case goal.KindFindFood:
		t = b.findFood(paramsOr(g.Params, goal.FindFoodParams{}))
	case goal.KindExplore:
		t = b.explore(paramsOr(g.Params, goal.ExploreParams{}), "")
	default:
		t = b.fallback()
	}
	if t.Params == nil {
		p.logger.Warn("goal produced no task", "goal_id", g.ID, "type", g.Type, "error", goal.ErrPlanningMiss)
		return nil
	}

	t.Context.GoalID = g.ID
	t.Context.GoalType = g.Type
	if t.Context.Description == "" {
		t.Context.Description = g.Description
	}
	return &t
}

// paramsOr returns the goal payload as T, or def when the goal carries none.
func paramsOr[T goal.Params](params goal.Params, def T) T {
	if v, ok := params.(T); ok {
		return v
	}
	return def
}

type builder struct {
	p    *Planner
	g    goal.Goal
	snap world.Snapshot
	now  time.Time
}

// task builds a task for params with the goal's priority or the kind default.
func (b *builder) task(params goal.Params) goal.Task {
	kind := params.Kind()
	prio := b.g.Priority
	if prio <= 0 {
		prio = defaultPriority[kind]
		if prio == 0 {
			prio = genericPriority
		}
	}
	return goal.NewTask(params, prio, b.now, b.p.durations[kind])
}

// prerequisite builds a task meant to run before the main one. The
// prerequisite inherits the parent's priority.
func (b *builder) prerequisite(parent *goal.Task, params goal.Params) {
	pre := goal.NewTask(params, parent.Priority, b.now, b.p.durations[params.Kind()])
	pre.Context.GoalID = b.g.ID
	pre.Context.GoalType = b.g.Type
	// A freshly built task has no prerequisites, so this cannot fail.
	_ = parent.AddPrerequisite(pre)
}
