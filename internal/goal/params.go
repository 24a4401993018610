package goal

import (
	"fmt"
	"strings"

	"github.com/basket/forager/internal/world"
)

// Params is the per-kind payload. The set of implementations is closed.
type Params interface {
	Kind() Kind
	// Fields flattens the payload for the bridge wire format.
	Fields() map[string]any
	// Summary is a short human-readable rendering.
	Summary() string
	isParams()
}

type MoveParams struct {
	Target world.Vec3
}

type GatherWoodParams struct {
	Amount int
	Radius int
}

type CraftToolsParams struct {
	Tools []string
}

type WorkbenchParams struct{}

type BuildParams struct {
	Structure string
	Size      int
}

type MineParams struct {
	Block  string
	Amount int
	Radius int
}

type FollowParams struct {
	Player   string
	Distance float64
}

type FindFoodParams struct {
	MinFood int
	Radius  int
}

type ExploreParams struct {
	Radius int
	Safe   bool
}

// GenericParams carries free-text and AI-originated goals. Type holds the
// original kind string.
type GenericParams struct {
	Type        Kind
	Description string
	Extra       map[string]any
}

func (MoveParams) Kind() Kind       { return KindMoveTo }
func (GatherWoodParams) Kind() Kind { return KindGatherWood }
func (CraftToolsParams) Kind() Kind { return KindCraftTools }
func (WorkbenchParams) Kind() Kind  { return KindCraftWorkbench }
func (BuildParams) Kind() Kind      { return KindBuild }
func (MineParams) Kind() Kind       { return KindMine }
func (FollowParams) Kind() Kind     { return KindFollow }
func (FindFoodParams) Kind() Kind   { return KindFindFood }
func (ExploreParams) Kind() Kind    { return KindExplore }

func (p GenericParams) Kind() Kind {
	if p.Type == "" {
		return "generic"
	}
	return p.Type
}

func (MoveParams) isParams()       {}
func (GatherWoodParams) isParams() {}
func (CraftToolsParams) isParams() {}
func (WorkbenchParams) isParams()  {}
func (BuildParams) isParams()      {}
func (MineParams) isParams()       {}
func (FollowParams) isParams()     {}
func (FindFoodParams) isParams()   {}
func (ExploreParams) isParams()    {}
func (GenericParams) isParams()    {}

func (p MoveParams) Fields() map[string]any {
	return map[string]any{"x": p.Target.X, "y": p.Target.Y, "z": p.Target.Z}
}

func (p GatherWoodParams) Fields() map[string]any {
	return map[string]any{"amount": p.Amount, "radius": p.Radius}
}

func (p CraftToolsParams) Fields() map[string]any {
	return map[string]any{"tools": append([]string(nil), p.Tools...)}
}

func (WorkbenchParams) Fields() map[string]any {
	return map[string]any{}
}

func (p BuildParams) Fields() map[string]any {
	return map[string]any{"structure": p.Structure, "size": p.Size}
}

func (p MineParams) Fields() map[string]any {
	return map[string]any{"block": p.Block, "amount": p.Amount, "radius": p.Radius}
}

func (p FollowParams) Fields() map[string]any {
	return map[string]any{"player": p.Player, "distance": p.Distance}
}

func (p FindFoodParams) Fields() map[string]any {
	return map[string]any{"min_food": p.MinFood, "radius": p.Radius}
}

func (p ExploreParams) Fields() map[string]any {
	return map[string]any{"radius": p.Radius, "safe": p.Safe}
}

func (p GenericParams) Fields() map[string]any {
	out := make(map[string]any, len(p.Extra)+1)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["description"] = p.Description
	return out
}

func (p MoveParams) Summary() string {
	return fmt.Sprintf("to (%.0f, %.0f, %.0f)", p.Target.X, p.Target.Y, p.Target.Z)
}

func (p GatherWoodParams) Summary() string { return fmt.Sprintf("x%d", p.Amount) }

func (p CraftToolsParams) Summary() string { return strings.Join(p.Tools, ", ") }

func (WorkbenchParams) Summary() string { return "crafting_table" }

func (p BuildParams) Summary() string { return p.Structure }

func (p MineParams) Summary() string { return fmt.Sprintf("%s x%d", p.Block, p.Amount) }

func (p FollowParams) Summary() string { return p.Player }

func (p FindFoodParams) Summary() string { return fmt.Sprintf("until food >= %d", p.MinFood) }

func (p ExploreParams) Summary() string {
	if p.Safe {
		return fmt.Sprintf("radius %d (safe)", p.Radius)
	}
	return fmt.Sprintf("radius %d", p.Radius)
}

func (p GenericParams) Summary() string { return p.Description }
