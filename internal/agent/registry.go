// Package agent owns the lifecycle of running foragers: one world
// connection and one scheduler per configured agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/pathcache"
	"github.com/basket/forager/internal/planner"
	"github.com/basket/forager/internal/scheduler"
	"github.com/basket/forager/internal/world"
)

// evadeAction is the bridge action used for out-of-band evasion.
const evadeAction = "evade"

// Conn is a live world connection.
type Conn interface {
	world.Handle
	Capabilities() []string
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens the world connection for one agent.
type DialFunc func(ctx context.Context, cfg config.AgentConfig) (Conn, error)

// Deps are shared by every agent the registry starts.
type Deps struct {
	Bus         *bus.Bus
	Sink        scheduler.Sink
	Paths       *pathcache.Cache
	PathMaxAge  time.Duration
	Claims      *coord.Coordinator
	ClaimTTL    time.Duration
	Synth       capability.Synthesizer
	Metrics     *otel.Metrics
	Tracer      trace.Tracer
	Tuning      scheduler.Tuning
	Maintainers []scheduler.Maintainer
	Dial        DialFunc
	Logger      *slog.Logger
}

// RunningAgent holds a running agent's connection, scheduler, and lifecycle
// state.
type RunningAgent struct {
	Config    config.AgentConfig
	Scheduler *scheduler.Scheduler
	Conn      Conn
	Skipped   []string
	cancel    context.CancelFunc
	startedAt time.Time
}

// StartedAt reports when the agent's loop was started.
func (a *RunningAgent) StartedAt() time.Time { return a.startedAt }

// Registry manages the lifecycle of multiple named agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*RunningAgent
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates a Registry. A nil Dial uses world.Dial.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dial == nil {
		deps.Dial = DialWorld(deps.Logger)
	}
	return &Registry{
		agents: make(map[string]*RunningAgent),
		deps:   deps,
		logger: deps.Logger.With("component", "agents"),
	}
}

// DialWorld returns a DialFunc backed by the websocket bridge client.
func DialWorld(logger *slog.Logger) DialFunc {
	return func(ctx context.Context, cfg config.AgentConfig) (Conn, error) {
		return world.Dial(ctx, world.DialConfig{
			Endpoint: cfg.Endpoint,
			AgentID:  cfg.ID,
			Token:    cfg.Token(),
			Logger:   logger,
		})
	}
}

// CreateAgent connects an agent to the world, wires its capabilities and
// starts its scheduler.
func (r *Registry) CreateAgent(ctx context.Context, cfg config.AgentConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("agent id must be non-empty")
	}

	r.mu.RLock()
	_, exists := r.agents[cfg.ID]
	deps := r.deps
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("agent %q already exists", cfg.ID)
	}

	conn, err := deps.Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect agent %q: %w", cfg.ID, err)
	}

	names := cfg.Capabilities
	if len(names) == 0 {
		names = conn.Capabilities()
	}
	logger := deps.Logger.With("agent_id", cfg.ID)
	tmpl := capability.Remote{
		AgentID:    cfg.ID,
		Paths:      deps.Paths,
		PathMaxAge: deps.PathMaxAge,
		ClaimTTL:   deps.ClaimTTL,
		Logger:     logger,
	}
	if deps.Claims != nil {
		tmpl.Claims = deps.Claims
	}
	reg := capability.NewRegistry()
	skipped := capability.RegisterRemote(reg, names, tmpl)

	var evade capability.Capability
	for _, name := range skipped {
		if name == evadeAction {
			e := tmpl
			e.Action = evadeAction
			evade = &e
		}
	}

	sched := scheduler.New(scheduler.Config{
		AgentID:     cfg.ID,
		Handle:      conn,
		Planner:     planner.New(planner.Config{Logger: logger}),
		Resolver:    capability.NewResolver(reg, deps.Synth, logger),
		Threats:     world.SnapshotMonitor{},
		Evade:       evade,
		Tuning:      deps.Tuning,
		Bus:         deps.Bus,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
		Sink:        deps.Sink,
		Announcer:   ChatAnnouncer{Handle: conn, Logger: logger},
		Maintainers: deps.Maintainers,
		Logger:      logger,
	})

	// Re-check under the write lock in case of a concurrent create.
	r.mu.Lock()
	if _, dup := r.agents[cfg.ID]; dup {
		r.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("agent %q already exists (concurrent create)", cfg.ID)
	}
	agentCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ra := &RunningAgent{
		Config:    cfg,
		Scheduler: sched,
		Conn:      conn,
		Skipped:   skipped,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	r.agents[cfg.ID] = ra
	r.mu.Unlock()

	go r.run(agentCtx, ra)

	r.logger.Info("agent created", "agent_id", cfg.ID, "capabilities", len(names)-len(skipped), "skipped", skipped, "evade", evade != nil)
	return nil
}

func (r *Registry) run(ctx context.Context, ra *RunningAgent) {
	err := ra.Scheduler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("agent halted", "agent_id", ra.Config.ID, "error", err)
	}
	if r.deps.Claims != nil {
		if n := r.deps.Claims.ReleaseAll(ra.Config.ID); n > 0 {
			r.logger.Info("released claims", "agent_id", ra.Config.ID, "count", n)
		}
	}
	_ = ra.Conn.Close()
}

// RemoveAgent stops an agent and waits up to drainTimeout for its loop to
// exit.
func (r *Registry) RemoveAgent(ctx context.Context, agentID string, drainTimeout time.Duration) error {
	r.mu.Lock()
	ra, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent %q not found", agentID)
	}
	delete(r.agents, agentID)
	r.mu.Unlock()

	drain(ctx, ra, drainTimeout)
	r.logger.Info("agent removed", "agent_id", agentID)
	return nil
}

func drain(ctx context.Context, ra *RunningAgent, timeout time.Duration) {
	ra.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ra.Scheduler.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
}

// GetAgent returns a running agent by ID, or nil if not found.
func (r *Registry) GetAgent(agentID string) *RunningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// ListRunningAgents returns all running agents ordered by ID.
func (r *Registry) ListRunningAgents() []*RunningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]*RunningAgent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Config.ID < agents[j].Config.ID })
	return agents
}

// Schedulers returns the running schedulers ordered by agent ID.
func (r *Registry) Schedulers() []*scheduler.Scheduler {
	agents := r.ListRunningAgents()
	out := make([]*scheduler.Scheduler, len(agents))
	for i, a := range agents {
		out[i] = a.Scheduler
	}
	return out
}

// Statuses snapshots every running agent's scheduler status.
func (r *Registry) Statuses() []scheduler.Status {
	agents := r.ListRunningAgents()
	out := make([]scheduler.Status, len(agents))
	for i, a := range agents {
		out[i] = a.Scheduler.Status()
	}
	return out
}

// DrainAll cancels all running agents in parallel and waits for their loops.
func (r *Registry) DrainAll(timeout time.Duration) {
	agents := r.ListRunningAgents()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(ra *RunningAgent) {
			defer wg.Done()
			drain(context.Background(), ra, timeout)
		}(a)
	}
	wg.Wait()
}

// ReconcileResult reports what a config reload changed.
type ReconcileResult struct {
	Retuned int
	Removed []string
	Started []string
	Failed  map[string]error
}

// Reconcile applies a reloaded config: running schedulers are retuned,
// agents no longer enabled are stopped and newly enabled agents started.
func (r *Registry) Reconcile(ctx context.Context, agents []config.AgentConfig, t scheduler.Tuning, drainTimeout time.Duration) ReconcileResult {
	res := ReconcileResult{Failed: make(map[string]error)}

	r.mu.Lock()
	r.deps.Tuning = t
	r.mu.Unlock()

	want := make(map[string]config.AgentConfig, len(agents))
	for _, a := range agents {
		want[a.ID] = a
	}

	for _, ra := range r.ListRunningAgents() {
		if _, keep := want[ra.Config.ID]; !keep {
			if err := r.RemoveAgent(ctx, ra.Config.ID, drainTimeout); err == nil {
				res.Removed = append(res.Removed, ra.Config.ID)
			}
			continue
		}
		if err := ra.Scheduler.Retune(ctx, t); err != nil {
			res.Failed[ra.Config.ID] = err
			continue
		}
		res.Retuned++
	}

	for _, a := range agents {
		if r.GetAgent(a.ID) != nil {
			continue
		}
		if err := r.CreateAgent(ctx, a); err != nil {
			res.Failed[a.ID] = err
			continue
		}
		res.Started = append(res.Started, a.ID)
	}
	return res
}

// ChatAnnouncer says announcements in world chat.
type ChatAnnouncer struct {
	Handle world.Handle
	Logger *slog.Logger
}

func (c ChatAnnouncer) Announce(ctx context.Context, agentID, text string) {
	if c.Handle == nil || !c.Handle.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.Handle.Do(ctx, world.Action{Name: "chat", Params: map[string]any{"message": text}})
	if err != nil && c.Logger != nil {
		c.Logger.Debug("chat announce failed", "agent_id", agentID, "error", err)
	}
}
