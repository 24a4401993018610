package capability

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// ErrUnavailable means neither the provider nor synthesis produced a
// capability for the task.
var ErrUnavailable = errors.New("no capability available")

// SynthesisContext is what a Synthesizer may draw on.
type SynthesisContext struct {
	Snapshot world.Snapshot
	// Known lists the action names the world bridge accepts.
	Known []string
	// LastError is the most recent failure for this kind, if any.
	LastError string
}

// Synthesizer builds a capability for a kind nothing is registered for. A
// nil capability with a nil error means it declined.
type Synthesizer interface {
	Synthesize(ctx context.Context, task goal.Task, sc SynthesisContext) (Capability, error)
}

// Resolver looks capabilities up in a Provider and falls back to a
// Synthesizer, caching what it synthesizes by kind.
type Resolver struct {
	provider Provider
	synth    Synthesizer
	logger   *slog.Logger

	mu          sync.Mutex
	synthesized map[goal.Kind]Capability
	lastErr     map[goal.Kind]string
}

// NewResolver creates a Resolver. synth may be nil.
func NewResolver(p Provider, synth Synthesizer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider:    p,
		synth:       synth,
		logger:      logger,
		synthesized: make(map[goal.Kind]Capability),
		lastErr:     make(map[goal.Kind]string),
	}
}

// Lookup checks the provider, then previously synthesized capabilities.
func (r *Resolver) Lookup(kind goal.Kind) (Capability, bool) {
	if r.provider != nil {
		if c, ok := r.provider.Lookup(kind); ok {
			return c, true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.synthesized[kind]
	return c, ok
}

// Resolve returns the capability for task, synthesizing one when needed.
func (r *Resolver) Resolve(ctx context.Context, task goal.Task, snap world.Snapshot) (Capability, error) {
	if c, ok := r.Lookup(task.Type); ok {
		return c, nil
	}
	if r.synth == nil {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	sc := SynthesisContext{Snapshot: snap, Known: r.knownLocked(), LastError: r.lastErr[task.Type]}
	r.mu.Unlock()

	c, err := r.synth.Synthesize(ctx, task, sc)
	if err != nil {
		r.logger.WarnContext(ctx, "capability synthesis failed", "type", task.Type, "error", err)
		r.NoteFailure(task.Type, err.Error())
		return nil, ErrUnavailable
	}
	if c == nil {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	r.synthesized[task.Type] = c
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "capability synthesized", "type", task.Type)
	return c, nil
}

// NoteFailure records the latest failure for kind so the next synthesis
// attempt can see it.
func (r *Resolver) NoteFailure(kind goal.Kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr[kind] = msg
}

// Forget drops a synthesized capability so the next Resolve synthesizes
// afresh.
func (r *Resolver) Forget(kind goal.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.synthesized, kind)
}

func (r *Resolver) knownLocked() []string {
	k, ok := r.provider.(interface{ Kinds() []goal.Kind })
	if !ok {
		return nil
	}
	kinds := k.Kinds()
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, string(kind))
	}
	return out
}
