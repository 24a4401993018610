package capability

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/pathcache"
	"github.com/basket/forager/internal/world"
)

// claimRegion is the side length, in blocks, of the square a resource
// claim covers.
const claimRegion = 16

// Claimer is the slice of the coordinator a capability needs.
type Claimer interface {
	Request(agentID, key string, ttl time.Duration) coord.Decision
	Release(agentID, key string) bool
}

// Remote forwards a task to the world bridge as a single action. Movement
// consults the path cache; resource kinds claim the surrounding region
// first.
type Remote struct {
	Action  string
	AgentID string

	Paths      *pathcache.Cache
	PathMaxAge time.Duration

	Claims   Claimer
	ClaimTTL time.Duration

	Logger *slog.Logger
}

func (r *Remote) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Remote) Execute(ctx context.Context, h world.Handle, params goal.Params) Result {
	if h == nil || !h.Connected() {
		return Failure(world.ErrDisconnected)
	}
	snap := h.Snapshot()
	action := world.Action{ID: uuid.NewString(), Name: r.Action}
	if params != nil {
		action.Params = params.Fields()
	}

	move, isMove := params.(goal.MoveParams)
	if isMove && r.Paths != nil {
		if path := r.Paths.Lookup(snap.Position, move.Target, r.PathMaxAge); path != nil {
			action.Path = path
			r.logger().Debug("path cache hit", "from", snap.Position, "to", move.Target, "points", len(path))
		}
	}

	if r.Claims != nil && claimed(params) {
		key := claimKey(params.Kind(), snap.Position)
		d := r.Claims.Request(r.AgentID, key, r.ClaimTTL)
		if !d.Granted {
			return Result{
				Error:  fmt.Sprintf("%s held by %s", key, d.Holder),
				Reason: ReasonClaimDenied,
				Wait:   d.Wait,
			}
		}
		defer r.Claims.Release(r.AgentID, key)
	}

	reply, err := h.Do(ctx, action)
	if err != nil {
		return Failure(err)
	}
	if isMove && r.Paths != nil && reply.Success && len(reply.Path) > 0 {
		r.Paths.Store(snap.Position, move.Target, reply.Path)
	}
	res := Result{Success: reply.Success, Message: reply.Message, Error: reply.Error, Fields: reply.Fields}
	if !reply.Success {
		res.Reason = ReasonFailed
	}
	return res
}

func claimed(params goal.Params) bool {
	switch params.(type) {
	case goal.GatherWoodParams, goal.MineParams:
		return true
	}
	return false
}

// claimKey names the region around pos for kind, e.g. "mine:2,-1".
func claimKey(kind goal.Kind, pos world.Vec3) string {
	rx := int(math.Floor(pos.X / claimRegion))
	rz := int(math.Floor(pos.Z / claimRegion))
	return fmt.Sprintf("%s:%d,%d", kind, rx, rz)
}

// RegisterRemote binds each named bridge action that matches a task kind to
// a Remote built from tmpl. Names that are not task kinds are skipped and
// returned.
func RegisterRemote(reg *Registry, names []string, tmpl Remote) (skipped []string) {
	for _, name := range names {
		kind := goal.Kind(name)
		if !kind.Known() {
			skipped = append(skipped, name)
			continue
		}
		r := tmpl
		r.Action = name
		reg.Register(kind, &r)
	}
	return skipped
}
