// Package scheduler runs one agent: it owns the goal queue and the single
// active task, compiles goals through the planner, executes tasks through
// capabilities under a timeout, recovers from failures and paces itself on
// danger and vitals.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/world"
)

// ErrInboxFull is returned when a mutation cannot be queued without blocking.
var ErrInboxFull = errors.New("scheduler inbox full")

// ErrStopped is returned by mutations sent after Run returned.
var ErrStopped = errors.New("scheduler stopped")

// Planner compiles a goal into a task; nil means drop the goal.
type Planner interface {
	Plan(g goal.Goal, snap world.Snapshot) *goal.Task
}

// Resolver finds the capability for a task. Lookup must not block; Resolve
// may synthesize and is run off the loop goroutine.
type Resolver interface {
	Lookup(kind goal.Kind) (capability.Capability, bool)
	Resolve(ctx context.Context, task goal.Task, snap world.Snapshot) (capability.Capability, error)
	NoteFailure(kind goal.Kind, msg string)
}

// Sink persists finished history entries. Errors are logged, never fatal.
type Sink interface {
	RecordTask(ctx context.Context, agentID string, e Entry) error
}

// Announcer relays human-readable progress, usually as in-game chat.
type Announcer interface {
	Announce(ctx context.Context, agentID, text string)
}

// Maintainer runs during periodic maintenance.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// MaintainFunc adapts a function to Maintainer.
type MaintainFunc func(ctx context.Context) error

func (f MaintainFunc) Maintain(ctx context.Context) error { return f(ctx) }

// Config wires a Scheduler. Handle, Planner and Resolver are required.
type Config struct {
	AgentID  string
	Handle   world.Handle
	Planner  Planner
	Resolver Resolver
	Threats  world.ThreatMonitor
	// Evade, when set, runs out-of-band on immediate danger instead of
	// injecting an urgent goal.
	Evade       capability.Capability
	Tuning      Tuning
	Bus         *bus.Bus
	Metrics     *otel.Metrics
	Tracer      trace.Tracer
	Sink        Sink
	Announcer   Announcer
	Maintainers []Maintainer
	Logger      *slog.Logger

	// Now and Sleep are the loop's clock and suspension point.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	// ExecTimeout overrides ExecutionTimeout.
	ExecTimeout func(t Tuning, task goal.Task, snap world.Snapshot) time.Duration
}

// Scheduler is the per-agent loop. All fields below the config block are
// owned by the goroutine running Run; other goroutines go through the inbox
// or read the published Status.
type Scheduler struct {
	agentID     string
	handle      world.Handle
	planner     Planner
	resolver    Resolver
	threats     world.ThreatMonitor
	evade       capability.Capability
	bus         *bus.Bus
	metrics     *otel.Metrics
	tracer      trace.Tracer
	sink        Sink
	announcer   Announcer
	maintainers []Maintainer
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	execTimeout func(t Tuning, task goal.Task, snap world.Snapshot) time.Duration

	inbox   chan message
	done    chan struct{}
	status  atomic.Pointer[Status]
	history *History

	tuning     Tuning
	queue      []goal.Goal
	active     *activeTask
	iteration  uint64
	errCount   int
	resets     int
	lastDelay  time.Duration
	lastThreat time.Time
	detached   atomic.Int64
	// resolving tracks background synthesis by kind.
	resolving map[goal.Kind]*resolution
}

// activeTask is the single running slot.
type activeTask struct {
	task goal.Task
	goal goal.Goal
	// next indexes the first prerequisite not yet satisfied.
	next      int
	attempts  int
	holdUntil time.Time
}

// New creates a Scheduler. It does not start the loop.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		agentID:     cfg.AgentID,
		handle:      cfg.Handle,
		planner:     cfg.Planner,
		resolver:    cfg.Resolver,
		threats:     cfg.Threats,
		evade:       cfg.Evade,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		sink:        cfg.Sink,
		announcer:   cfg.Announcer,
		maintainers: cfg.Maintainers,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
		execTimeout: cfg.ExecTimeout,
		inbox:       make(chan message, 64),
		done:        make(chan struct{}),
		tuning:      cfg.Tuning.normalize(),
		resolving:   make(map[goal.Kind]*resolution),
	}
	if s.threats == nil {
		s.threats = world.SnapshotMonitor{}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler", "agent_id", s.agentID)
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.execTimeout == nil {
		s.execTimeout = ExecutionTimeout
	}
	s.history = NewHistory(s.tuning.HistorySize)
	s.publishStatus(StateIdle)
	return s
}

// AgentID returns the agent this scheduler drives.
func (s *Scheduler) AgentID() string { return s.agentID }

// History returns the bounded task history. It is safe for concurrent reads.
func (s *Scheduler) History() *History { return s.history }

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
