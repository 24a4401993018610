package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// Step is one bridge action in a Sequence.
type Step struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Sequence runs bridge actions in order and stops at the first failure.
// Task payload fields fill in any parameter a step leaves unset.
type Sequence struct {
	Name  string
	Steps []Step
}

func (s *Sequence) Execute(ctx context.Context, h world.Handle, params goal.Params) Result {
	if h == nil || !h.Connected() {
		return Failure(world.ErrDisconnected)
	}
	var base map[string]any
	if params != nil {
		base = params.Fields()
	}

	var messages []string
	fields := make(map[string]any)
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return Failure(err)
		}
		args := make(map[string]any, len(base)+len(step.Params))
		for k, v := range base {
			args[k] = v
		}
		for k, v := range step.Params {
			args[k] = v
		}
		reply, err := h.Do(ctx, world.Action{ID: uuid.NewString(), Name: step.Action, Params: args})
		if err != nil {
			return Failure(fmt.Errorf("%s step %d (%s): %w", s.Name, i+1, step.Action, err))
		}
		for k, v := range reply.Fields {
			fields[k] = v
		}
		if !reply.Success {
			msg := reply.Error
			if msg == "" {
				msg = reply.Message
			}
			return Result{
				Error:  fmt.Sprintf("%s step %d (%s): %s", s.Name, i+1, step.Action, msg),
				Reason: ReasonFailed,
				Fields: fields,
			}
		}
		if reply.Message != "" {
			messages = append(messages, reply.Message)
		}
	}
	return Result{Success: true, Message: strings.Join(messages, "; "), Fields: fields}
}
