package planner

import (
	"strings"

	"github.com/samber/lo"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

const (
	defaultWoodAmount    = 10
	defaultGatherRadius  = 32
	defaultMineBlock     = "stone"
	defaultMineAmount    = 8
	defaultMineRadius    = 32
	defaultFollowDist    = 3
	defaultFoodTarget    = 18
	defaultFoodRadius    = 48
	defaultExploreRadius = 64
	defaultBuildSize     = 5
	defaultStructure     = "shelter"

	// Planks consumed by a crafting table.
	workbenchPlanks = 4
)

// plankCost is the plank price of each craftable tool, including the plank
// turned into its sticks.
var plankCost = map[string]int{
	"wooden_pickaxe": 4,
	"wooden_axe":     4,
	"wooden_sword":   3,
	"wooden_shovel":  2,
	"wooden_hoe":     3,
	"stone_pickaxe":  1,
	"stone_axe":      1,
	"stone_sword":    1,
	"stone_shovel":   1,
	"stone_hoe":      1,
}

// stoneCost is the cobblestone price of each stone tool head.
var stoneCost = map[string]int{
	"stone_pickaxe": 3,
	"stone_axe":     3,
	"stone_sword":   2,
	"stone_shovel":  1,
	"stone_hoe":     2,
}

// logsFor converts a plank deficit into the logs needed to cover it.
func logsFor(planks int) int {
	if planks <= 0 {
		return 0
	}
	return (planks + world.PlanksPerLog - 1) / world.PlanksPerLog
}

// move needs an explicit target; without one there is nothing to plan.
func (b *builder) move() goal.Task {
	p, ok := b.g.Params.(goal.MoveParams)
	if !ok {
		return goal.Task{}
	}
	return b.task(p)
}

func (b *builder) gatherWood(p goal.GatherWoodParams) goal.Task {
	if p.Amount <= 0 {
		p.Amount = defaultWoodAmount
	}
	if p.Radius <= 0 {
		p.Radius = defaultGatherRadius
	}
	t := b.task(p)
	if !b.snap.HasToolClass("axe") {
		b.prerequisite(&t, goal.CraftToolsParams{Tools: []string{"wooden_axe"}})
	}
	return t
}

func (b *builder) craftTools(p goal.CraftToolsParams) goal.Task {
	tools := lo.Uniq(lo.Filter(p.Tools, func(s string, _ int) bool { return strings.TrimSpace(s) != "" }))
	if len(tools) == 0 {
		tools = []string{"wooden_pickaxe"}
	}
	t := b.task(goal.CraftToolsParams{Tools: tools})

	missing := lo.Filter(tools, func(tool string, _ int) bool { return b.snap.Count(tool) == 0 })
	planks := lo.SumBy(missing, func(tool string) int {
		if c, ok := plankCost[tool]; ok {
			return c
		}
		return plankCost["wooden_pickaxe"]
	})
	if len(missing) > 0 && b.snap.Count("crafting_table") == 0 {
		planks += workbenchPlanks
	}
	if deficit := planks - b.snap.AvailablePlanks(); deficit > 0 {
		b.prerequisite(&t, goal.GatherWoodParams{Amount: logsFor(deficit), Radius: defaultGatherRadius})
	}

	stone := lo.SumBy(missing, func(tool string) int { return stoneCost[tool] })
	if deficit := stone - b.snap.StoneCount(); deficit > 0 {
		b.prerequisite(&t, goal.MineParams{Block: defaultMineBlock, Amount: deficit, Radius: defaultMineRadius})
	}
	return t
}

func (b *builder) workbench() goal.Task {
	t := b.task(goal.WorkbenchParams{})
	if deficit := workbenchPlanks - b.snap.AvailablePlanks(); deficit > 0 {
		b.prerequisite(&t, goal.GatherWoodParams{Amount: logsFor(deficit), Radius: defaultGatherRadius})
	}
	return t
}

func (b *builder) build(p goal.BuildParams) goal.Task {
	if p.Structure == "" {
		p.Structure = defaultStructure
	}
	if p.Size <= 0 {
		p.Size = defaultBuildSize
	}
	t := b.task(p)
	// Walls of a size x size footprint, two blocks high.
	need := 4 * p.Size * 2
	if deficit := need - b.snap.AvailablePlanks(); deficit > 0 {
		b.prerequisite(&t, goal.GatherWoodParams{Amount: logsFor(deficit), Radius: defaultGatherRadius})
	}
	return t
}

func (b *builder) mine(p goal.MineParams) goal.Task {
	if p.Block == "" {
		p.Block = defaultMineBlock
	}
	if p.Amount <= 0 {
		p.Amount = defaultMineAmount
	}
	if p.Radius <= 0 {
		p.Radius = defaultMineRadius
	}
	t := b.task(p)
	if !b.snap.HasToolClass("pickaxe") {
		b.prerequisite(&t, goal.CraftToolsParams{Tools: []string{"wooden_pickaxe"}})
	}
	return t
}

func (b *builder) follow() goal.Task {
	p, ok := b.g.Params.(goal.FollowParams)
	if !ok || p.Player == "" {
		return goal.Task{}
	}
	if p.Distance <= 0 {
		p.Distance = defaultFollowDist
	}
	return b.task(p)
}

func (b *builder) findFood(p goal.FindFoodParams) goal.Task {
	if p.MinFood <= 0 {
		p.MinFood = defaultFoodTarget
	}
	if p.MinFood > world.MaxFood {
		p.MinFood = world.MaxFood
	}
	if p.Radius <= 0 {
		p.Radius = defaultFoodRadius
	}
	t := b.task(p)
	if !b.snap.HasToolClass("sword") {
		b.prerequisite(&t, goal.CraftToolsParams{Tools: []string{"wooden_sword"}})
	}
	return t
}

func (b *builder) explore(p goal.ExploreParams, reason string) goal.Task {
	if p.Radius <= 0 {
		p.Radius = defaultExploreRadius
	}
	t := b.task(p)
	t.Context.FallbackReason = reason
	return t
}
