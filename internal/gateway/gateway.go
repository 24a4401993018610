// Package gateway serves agent status and accepts goals and commands over
// HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/forager/internal/audit"
	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/commands"
	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/scheduler"
	"github.com/basket/forager/internal/shared"
)

const maxBodyBytes = 64 << 10

// Agent is the scheduler surface the gateway needs.
type Agent interface {
	AgentID() string
	Status() scheduler.Status
	Submit(ctx context.Context, g goal.Goal) error
}

// Commander runs a text command for an agent.
type Commander interface {
	Handle(ctx context.Context, agentID, text string) (string, error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Agents   []Agent
	Commands Commander
	DB       Pinger
	Bus      *bus.Bus

	// AuthToken guards POST routes and the event stream when set.
	AuthToken string
	RateLimit config.RateLimitConfig
	Tracer    trace.Tracer

	ConfigFingerprint string
	Logger            *slog.Logger
}

type Server struct {
	cfg Config

	mu     sync.RWMutex
	agents map[string]Agent
	order  []string

	limiter *RateLimiter
	tracer  trace.Tracer
	logger  *slog.Logger
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit),
		tracer:  cfg.Tracer,
		logger:  cfg.Logger,
	}
	s.SetAgents(cfg.Agents)
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "gateway")
	return s
}

// SetAgents replaces the set of agents the gateway serves.
func (s *Server) SetAgents(agents []Agent) {
	m := make(map[string]Agent, len(agents))
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		m[a.AgentID()] = a
		order = append(order, a.AgentID())
	}
	sort.Strings(order)
	s.mu.Lock()
	s.agents, s.order = m, order
	s.mu.Unlock()
}

// all returns the served agents ordered by ID.
func (s *Server) all() []Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agent, len(s.order))
	for i, id := range s.order {
		out[i] = s.agents[id]
	}
	return out
}

// Limiter exposes the rate limiter so the caller can start eviction.
func (s *Server) Limiter() *RateLimiter { return s.limiter }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/goals", s.handleGoals)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/events", s.handleEvents)
	return s.traced(s.limiter.Wrap(mux))
}

func (s *Server) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.StartServerSpan(r.Context(), s.tracer, r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()
		traceID := shared.NewTraceID()
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(shared.WithTraceID(ctx, traceID)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// agent resolves the ?agent= parameter. It may be omitted when only one
// agent runs.
func (s *Server) agent(id string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" && len(s.order) == 1 {
		return s.agents[s.order[0]], true
	}
	a, ok := s.agents[id]
	return a, ok
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.cfg.DB != nil {
		if err := s.cfg.DB.PingContext(r.Context()); err != nil {
			dbOK = false
		}
	}
	agents := s.all()
	running := 0
	for _, a := range agents {
		switch a.Status().State {
		case scheduler.StateStopped, scheduler.StateDisconnected:
		default:
			running++
		}
	}
	healthy := dbOK && (running > 0 || len(agents) == 0)
	payload := map[string]any{
		"healthy":        healthy,
		"db_ok":          dbOK,
		"agent_count":    len(agents),
		"agents_running": running,
		"config":         s.cfg.ConfigFingerprint,
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id := r.URL.Query().Get("agent"); id != "" {
		a, ok := s.agent(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown agent")
			return
		}
		writeJSON(w, http.StatusOK, a.Status())
		return
	}
	agents := s.all()
	out := make([]scheduler.Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID := r.URL.Query().Get("agent")
	a, ok := s.agent(agentID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	g, err := goal.DecodeJSON(body)
	if err != nil {
		audit.Record(audit.EventGoalRejected, a.AgentID(), err.Error(), "gateway")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if g.Source == "" {
		g.Source = "gateway"
	}
	if err := a.Submit(r.Context(), g); err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	s.logger.Info("goal accepted", "agent_id", a.AgentID(), "goal_id", g.ID, "type", g.Type)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"agent_id": a.AgentID(),
		"goal_id":  g.ID,
		"type":     g.Type,
	})
}

func submitStatus(err error) int {
	var verr *goal.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrInboxFull):
		return http.StatusTooManyRequests
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type commandRequest struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.cfg.Commands == nil {
		writeError(w, http.StatusServiceUnavailable, "commands not available")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a, ok := s.agent(req.Agent)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	reply, err := s.cfg.Commands.Handle(r.Context(), a.AgentID(), req.Text)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": a.AgentID(), "reply": reply})
}

// commandStatus maps a command failure to a status. Anything that is not a
// queueing failure is a parse error with usage text for the caller.
func commandStatus(err error) int {
	if errors.Is(err, commands.ErrUnknownAgent) {
		return http.StatusNotFound
	}
	if code := submitStatus(err); code != http.StatusInternalServerError {
		return code
	}
	return http.StatusBadRequest
}
