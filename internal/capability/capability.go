// Package capability binds task kinds to executable behaviour. A
// capability is opaque to the scheduler: it receives a world handle and the
// task payload and reports a uniform Result.
package capability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Result reason codes.
const (
	ReasonFailed      = "failed"
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "no_capability"
	ReasonClaimDenied = "claim_denied"
)

// Result is what a capability reports back.
type Result struct {
	Success bool
	Message string
	Error   string
	// Reason is empty on success and one of the Reason* codes otherwise.
	Reason string
	// Fields carries task-specific extras (gathered counts, final position).
	Fields map[string]any
	// Wait is a suggested back-off when the failure was a denied claim.
	Wait time.Duration
	// Err preserves the underlying error, if any, for classification.
	Err error
}

// Failure builds a failed Result with reason ReasonFailed.
func Failure(err error) Result {
	return Result{Error: err.Error(), Reason: ReasonFailed, Err: err}
}

// Capability executes one task kind.
type Capability interface {
	Execute(ctx context.Context, h world.Handle, params goal.Params) Result
}

// Func adapts a function to Capability.
type Func func(ctx context.Context, h world.Handle, params goal.Params) Result

func (f Func) Execute(ctx context.Context, h world.Handle, params goal.Params) Result {
	return f(ctx, h, params)
}

// Provider looks capabilities up by task kind. Absence is not an error.
type Provider interface {
	Lookup(kind goal.Kind) (Capability, bool)
}

// Registry is a Provider populated at startup.
type Registry struct {
	mu   sync.RWMutex
	caps map[goal.Kind]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[goal.Kind]Capability)}
}

// Register binds kind to c, replacing any earlier binding.
func (r *Registry) Register(kind goal.Kind, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[kind] = c
}

func (r *Registry) Lookup(kind goal.Kind) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[kind]
	return c, ok
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []goal.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]goal.Kind, 0, len(r.caps))
	for k := range r.caps {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
