package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/basket/forager/internal/audit"
	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/persistence"
	"github.com/basket/forager/internal/scheduler"
)

// Agent is the part of a scheduler commands act on.
type Agent interface {
	AgentID() string
	Status() scheduler.Status
	Submit(ctx context.Context, g goal.Goal) error
	Clear(ctx context.Context, reason string) error
	History() *scheduler.History
}

// Store reads persisted history and stats. Optional.
type Store interface {
	ListTaskHistory(ctx context.Context, agentID string, limit int) ([]persistence.TaskRecord, error)
	ListSkillStats(ctx context.Context, agentID string) ([]persistence.SkillStat, error)
}

// Claims reports coordinator state. Optional.
type Claims interface {
	Status() coord.Status
}

// ErrUnknownAgent is returned when a command names an agent that is not
// running.
var ErrUnknownAgent = errors.New("unknown agent")

const defaultHistoryLimit = 10

// Handler executes commands against running agents.
type Handler struct {
	mu     sync.RWMutex
	agents map[string]Agent
	store  Store
	claims Claims
	logger *slog.Logger
}

func NewHandler(agents []Agent, store Store, claims Claims, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		agents: lo.KeyBy(agents, func(a Agent) string { return a.AgentID() }),
		store:  store,
		claims: claims,
		logger: logger.With("component", "commands"),
	}
}

// SetAgents replaces the agents the handler can address.
func (h *Handler) SetAgents(agents []Agent) {
	m := lo.KeyBy(agents, func(a Agent) string { return a.AgentID() })
	h.mu.Lock()
	h.agents = m
	h.mu.Unlock()
}

// AgentIDs lists the agents the handler can address, sorted.
func (h *Handler) AgentIDs() []string {
	h.mu.RLock()
	ids := lo.Keys(h.agents)
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Handle parses text and runs it for agentID, returning a reply for the
// caller. Goal-producing commands reply as soon as the goal is queued.
func (h *Handler) Handle(ctx context.Context, agentID, text string) (string, error) {
	h.mu.RLock()
	a, ok := h.agents[agentID]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	cmd, err := Parse(text)
	if err != nil {
		return "", err
	}
	audit.Record(audit.EventCommand, agentID, cmd.Verb, text)

	if cmd.Goal != nil {
		if err := a.Submit(ctx, *cmd.Goal); err != nil {
			return "", fmt.Errorf("queue %s: %w", cmd.Goal.Type, err)
		}
		h.logger.Info("command queued goal", "agent_id", agentID, "verb", cmd.Verb, "goal_id", cmd.Goal.ID)
		return fmt.Sprintf("Queued %s: %s", cmd.Goal.Type, cmd.Goal.Params.Summary()), nil
	}

	switch cmd.Verb {
	case VerbStop:
		if err := a.Clear(ctx, "stop command"); err != nil {
			return "", fmt.Errorf("stop: %w", err)
		}
		return "Stopping. Queue cleared.", nil
	case VerbStatus:
		return FormatStatus(a.Status()), nil
	case VerbHistory:
		limit := defaultHistoryLimit
		if len(cmd.Args) > 0 {
			limit, _ = strconv.Atoi(cmd.Args[0])
		}
		return h.history(ctx, a, limit)
	case VerbStats:
		return h.stats(ctx, agentID)
	case VerbCoord:
		return h.coord(), nil
	default:
		return Help(), nil
	}
}

// FormatStatus renders a one-agent summary.
func FormatStatus(st scheduler.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (hp %.0f, food %.0f) at (%.0f, %.0f, %.0f)\n",
		st.AgentID, st.State, st.Health, st.Food, st.Position.X, st.Position.Y, st.Position.Z)
	if st.Active != nil {
		fmt.Fprintf(&b, "doing: %s", st.Active.Summary)
		if st.Active.PendingPrereq > 0 {
			fmt.Fprintf(&b, " (%d prerequisite(s) left)", st.Active.PendingPrereq)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("doing: nothing\n")
	}
	if len(st.Queue) > 0 {
		names := lo.Map(st.Queue, func(q scheduler.QueuedGoal, _ int) string {
			if q.Urgent {
				return string(q.Type) + "!"
			}
			return string(q.Type)
		})
		fmt.Fprintf(&b, "queue: %s\n", strings.Join(names, ", "))
	}
	if st.ConsecutiveErrors > 0 || st.Resets > 0 {
		fmt.Fprintf(&b, "faults: %d in a row, %d reset(s)\n", st.ConsecutiveErrors, st.Resets)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) history(ctx context.Context, a Agent, limit int) (string, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var lines []string
	if h.store != nil {
		recs, err := h.store.ListTaskHistory(ctx, a.AgentID(), limit)
		if err != nil {
			return "", fmt.Errorf("history: %w", err)
		}
		lines = lo.Map(recs, func(r persistence.TaskRecord, _ int) string {
			return historyLine(r.CreatedAt, r.Summary, r.Outcome, r.Duration)
		})
	} else {
		lines = lo.Map(a.History().Recent(limit), func(e scheduler.Entry, _ int) string {
			return historyLine(e.Timestamp, e.Task.Describe(), e.Outcome(), e.Duration)
		})
	}
	if len(lines) == 0 {
		return "No tasks yet.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func historyLine(at time.Time, summary, outcome string, d time.Duration) string {
	return fmt.Sprintf("%s %-8s %s (%s)", at.Format("15:04:05"), outcome, summary, d.Round(100*time.Millisecond))
}

func (h *Handler) stats(ctx context.Context, agentID string) (string, error) {
	if h.store == nil {
		return "Stats are not being recorded.", nil
	}
	stats, err := h.store.ListSkillStats(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("stats: %w", err)
	}
	if len(stats) == 0 {
		return "No stats yet.", nil
	}
	lines := lo.Map(stats, func(s persistence.SkillStat, _ int) string {
		return fmt.Sprintf("%-16s %3.0f%% of %d (avg %s)", s.Type, s.SuccessRate()*100, s.Attempts(), s.MeanDuration().Round(100*time.Millisecond))
	})
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) coord() string {
	if h.claims == nil {
		return "No coordinator."
	}
	st := h.claims.Status()
	if len(st.Active) == 0 {
		return fmt.Sprintf("No active claims (%d denied so far).", st.Denied)
	}
	lines := lo.Map(st.Active, func(c coord.Claim, _ int) string {
		return fmt.Sprintf("%s held by %s until %s", c.Key, c.AgentID, c.ExpiresAt.Format("15:04:05"))
	})
	lines = append(lines, fmt.Sprintf("%d denied so far", st.Denied))
	return strings.Join(lines, "\n")
}
