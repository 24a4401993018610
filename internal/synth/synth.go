// Package synth builds capabilities for task kinds nothing is registered
// for by asking a language model to compose the bridge's existing actions
// into a step list. It never produces executable code.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/ratequeue"
)

// MaxSteps bounds a synthesized plan.
const MaxSteps = 12

const planSchema = `{
	"type": "object",
	"required": ["steps"],
	"properties": {
		"name": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"maxItems": 12,
			"items": {
				"type": "object",
				"required": ["action"],
				"properties": {
					"action": {"type": "string", "minLength": 1},
					"params": {"type": "object"}
				}
			}
		}
	}
}`

var compiledPlanSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema: %w", err)
	}
	return c.Compile("plan.json")
})

const systemPrompt = `You plan actions for a game agent. Reply with JSON only:
{"name": "<short name>", "steps": [{"action": "<one of the allowed actions>", "params": {...}}]}
Use only the allowed actions. Keep plans short.`

// PlanError means the model's reply could not be turned into a plan.
type PlanError struct {
	Reason string
	Raw    string
}

func (e *PlanError) Error() string { return "invalid synthesized plan: " + e.Reason }

type plan struct {
	Name  string            `json:"name"`
	Steps []capability.Step `json:"steps"`
}

// Synthesizer implements capability.Synthesizer.
type Synthesizer struct {
	gen      Generator
	queue    *ratequeue.Queue
	priority int
	logger   *slog.Logger
}

// Config wires a Synthesizer. Gen may be nil, in which case every request
// is declined.
type Config struct {
	Gen   Generator
	Queue *ratequeue.Queue
	// Priority is the rate queue priority for synthesis requests.
	Priority int
	Logger   *slog.Logger
}

// New creates a Synthesizer.
func New(cfg Config) *Synthesizer {
	s := &Synthesizer{gen: cfg.Gen, queue: cfg.Queue, priority: cfg.Priority, logger: cfg.Logger}
	if s.queue == nil {
		s.queue = ratequeue.New(ratequeue.Config{})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Synthesizer) Synthesize(ctx context.Context, task goal.Task, sc capability.SynthesisContext) (capability.Capability, error) {
	if s.gen == nil {
		return nil, nil
	}
	prompt := buildPrompt(task, sc)

	var reply string
	err := s.queue.Do(ctx, s.priority, func(ctx context.Context) error {
		out, err := s.gen.Generate(ctx, systemPrompt, prompt)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", task.Type, err)
	}

	p, err := parsePlan(reply, sc.Known)
	if err != nil {
		s.logger.WarnContext(ctx, "synthesized plan rejected", "type", task.Type, "error", err)
		return nil, err
	}
	name := p.Name
	if name == "" {
		name = string(task.Type)
	}
	s.logger.InfoContext(ctx, "synthesized plan accepted", "type", task.Type, "name", name, "steps", len(p.Steps))
	return &capability.Sequence{Name: name, Steps: p.Steps}, nil
}

func buildPrompt(task goal.Task, sc capability.SynthesisContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Describe())
	if task.Context.Description != "" {
		fmt.Fprintf(&sb, "Intent: %s\n", task.Context.Description)
	}
	if task.Params != nil {
		if b, err := json.Marshal(task.Params.Fields()); err == nil {
			fmt.Fprintf(&sb, "Parameters: %s\n", b)
		}
	}
	fmt.Fprintf(&sb, "Allowed actions: %s\n", strings.Join(sc.Known, ", "))
	snap := sc.Snapshot
	fmt.Fprintf(&sb, "Agent: health %.0f/20, food %.0f/20, position (%.0f, %.0f, %.0f)\n",
		snap.Health, snap.Food, snap.Position.X, snap.Position.Y, snap.Position.Z)
	if len(snap.Inventory) > 0 {
		items := lo.MapToSlice(snap.Inventory, func(k string, v int) string { return fmt.Sprintf("%s x%d", k, v) })
		fmt.Fprintf(&sb, "Inventory: %s\n", strings.Join(sortedStrings(items), ", "))
	}
	if sc.LastError != "" {
		fmt.Fprintf(&sb, "Previous attempt failed: %s\n", sc.LastError)
	}
	return sb.String()
}

// parsePlan extracts, validates and decodes a plan from a model reply.
// When known is non-empty every step must name one of its actions.
func parsePlan(reply string, known []string) (plan, error) {
	raw := extractJSON(reply)
	if raw == "" {
		return plan{}, &PlanError{Reason: "no JSON object in reply", Raw: reply}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return plan{}, &PlanError{Reason: err.Error(), Raw: raw}
	}
	schema, err := compiledPlanSchema()
	if err != nil {
		return plan{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return plan{}, &PlanError{Reason: err.Error(), Raw: raw}
	}

	var p plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return plan{}, &PlanError{Reason: err.Error(), Raw: raw}
	}
	if len(known) > 0 {
		for _, st := range p.Steps {
			if !lo.Contains(known, st.Action) {
				return plan{}, &PlanError{Reason: fmt.Sprintf("unknown action %q", st.Action), Raw: raw}
			}
		}
	}
	return p, nil
}
