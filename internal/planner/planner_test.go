package planner

import (
	"testing"
	"time"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPlanner() *Planner {
	return New(Config{Now: func() time.Time { return fixedNow }})
}

func snap(inv map[string]int) world.Snapshot {
	return world.Snapshot{Health: 20, Food: 20, Inventory: inv}
}

func TestPlan_RejectsMissingType(t *testing.T) {
	p := newTestPlanner()
	if task := p.Plan(goal.Goal{ID: "g1"}, snap(nil)); task != nil {
		t.Fatalf("expected nil task, got %+v", task)
	}
	mismatched := goal.New(goal.KindMine, goal.MoveParams{})
	if task := p.Plan(mismatched, snap(nil)); task != nil {
		t.Fatalf("expected nil task for mismatched payload, got %+v", task)
	}
}

func TestPlan_DeadlineWithinWindow(t *testing.T) {
	p := newTestPlanner()
	for _, kind := range goal.KnownKinds {
		var params goal.Params
		switch kind {
		case goal.KindMoveTo:
			params = goal.MoveParams{Target: world.Vec3{X: 1, Y: 64, Z: 1}}
		case goal.KindFollow:
			params = goal.FollowParams{Player: "steve"}
		}
		task := p.Plan(goal.New(kind, params), snap(nil))
		if task == nil {
			t.Fatalf("%s: nil task", kind)
		}
		d := task.Deadline.Sub(fixedNow)
		if d < goal.MinTaskTimeout || d > goal.MaxTaskTimeout {
			t.Fatalf("%s: deadline offset %v outside window", kind, d)
		}
		if task.Type != kind {
			t.Fatalf("%s: task type %s", kind, task.Type)
		}
		if task.Context.GoalType != kind {
			t.Fatalf("%s: context goal type %s", kind, task.Context.GoalType)
		}
	}
}

func TestPlan_GoalPriorityOverridesDefault(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindExplore, goal.ExploreParams{Radius: 10})
	if task := p.Plan(g, snap(nil)); task.Priority != defaultPriority[goal.KindExplore] {
		t.Fatalf("default priority = %d", task.Priority)
	}
	g.Priority = 1
	if task := p.Plan(g, snap(nil)); task.Priority != 1 {
		t.Fatalf("explicit priority = %d", task.Priority)
	}
}

func TestPlan_CraftToolsNeedsWood(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindCraftTools, goal.CraftToolsParams{Tools: []string{"wooden_pickaxe", "wooden_axe"}})

	task := p.Plan(g, snap(map[string]int{}))
	if task == nil {
		t.Fatal("nil task")
	}
	if len(task.Prerequisites) != 1 {
		t.Fatalf("prerequisites = %d, want 1", len(task.Prerequisites))
	}
	pre := task.Prerequisites[0]
	wood, ok := pre.Params.(goal.GatherWoodParams)
	if !ok {
		t.Fatalf("prerequisite params = %T", pre.Params)
	}
	if wood.Amount <= 0 {
		t.Fatalf("wood amount = %d, want > 0", wood.Amount)
	}
	if !pre.Context.Prerequisite || len(pre.Prerequisites) != 0 {
		t.Fatalf("prerequisite shape wrong: %+v", pre)
	}

	rich := p.Plan(g, snap(map[string]int{"oak_planks": 16}))
	if len(rich.Prerequisites) != 0 {
		t.Fatalf("rich inventory still got prerequisites: %+v", rich.Prerequisites)
	}
	// Logs count four planks each.
	logs := p.Plan(g, snap(map[string]int{"oak_log": 3}))
	if len(logs.Prerequisites) != 0 {
		t.Fatalf("3 logs (12 planks) should cover two tools and a table: %+v", logs.Prerequisites)
	}
}

func TestPlan_CraftStoneToolsNeedsStone(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindCraftTools, goal.CraftToolsParams{Tools: []string{"stone_pickaxe"}})
	task := p.Plan(g, snap(map[string]int{"oak_planks": 10, "crafting_table": 1}))
	if len(task.Prerequisites) != 1 {
		t.Fatalf("prerequisites = %+v", task.Prerequisites)
	}
	if m, ok := task.Prerequisites[0].Params.(goal.MineParams); !ok || m.Amount != 3 {
		t.Fatalf("stone prerequisite = %+v", task.Prerequisites[0].Params)
	}
}

func TestPlan_GatherWoodAxePrerequisite(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindGatherWood, goal.GatherWoodParams{Amount: 20})

	for _, inv := range []map[string]int{{}, {"oak_planks": 4}, {"oak_log": 1}} {
		task := p.Plan(g, snap(inv))
		if len(task.Prerequisites) != 1 {
			t.Fatalf("inventory %v: expected axe prerequisite, got %+v", inv, task.Prerequisites)
		}
		if c, ok := task.Prerequisites[0].Params.(goal.CraftToolsParams); !ok || c.Tools[0] != "wooden_axe" {
			t.Fatalf("prerequisite = %+v", task.Prerequisites[0].Params)
		}
	}
	if task := p.Plan(g, snap(map[string]int{"wooden_axe": 1})); len(task.Prerequisites) != 0 {
		t.Fatalf("axe present, got %+v", task.Prerequisites)
	}
}

func TestPlan_FindFoodSwordPrerequisite(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindFindFood, goal.FindFoodParams{})

	task := p.Plan(g, snap(nil))
	if len(task.Prerequisites) != 1 {
		t.Fatalf("expected sword prerequisite with no planks, got %+v", task.Prerequisites)
	}
	if c, ok := task.Prerequisites[0].Params.(goal.CraftToolsParams); !ok || c.Tools[0] != "wooden_sword" {
		t.Fatalf("prerequisite = %+v", task.Prerequisites[0].Params)
	}
	if task := p.Plan(g, snap(map[string]int{"stone_sword": 1})); len(task.Prerequisites) != 0 {
		t.Fatalf("sword present, got %+v", task.Prerequisites)
	}
}

func TestPlan_MinePickaxePrerequisite(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindMine, goal.MineParams{})
	task := p.Plan(g, snap(nil))
	if len(task.Prerequisites) != 1 {
		t.Fatalf("prerequisites = %+v", task.Prerequisites)
	}
	if c, ok := task.Prerequisites[0].Params.(goal.CraftToolsParams); !ok || c.Tools[0] != "wooden_pickaxe" {
		t.Fatalf("prerequisite = %+v", task.Prerequisites[0].Params)
	}
	mp := task.Params.(goal.MineParams)
	if mp.Block != "stone" || mp.Amount != defaultMineAmount {
		t.Fatalf("mine defaults = %+v", mp)
	}
	if task := p.Plan(g, snap(map[string]int{"stone_pickaxe": 1})); len(task.Prerequisites) != 0 {
		t.Fatalf("pickaxe present, got %+v", task.Prerequisites)
	}
}

func TestPlan_WorkbenchPlanks(t *testing.T) {
	p := newTestPlanner()
	g := goal.New(goal.KindCraftWorkbench, goal.WorkbenchParams{})
	if task := p.Plan(g, snap(map[string]int{"oak_log": 1})); len(task.Prerequisites) != 0 {
		t.Fatalf("one log is enough, got %+v", task.Prerequisites)
	}
	task := p.Plan(g, snap(map[string]int{"birch_planks": 1}))
	if len(task.Prerequisites) != 1 {
		t.Fatalf("prerequisites = %+v", task.Prerequisites)
	}
	if w := task.Prerequisites[0].Params.(goal.GatherWoodParams); w.Amount != 1 {
		t.Fatalf("wood amount = %d, want 1", w.Amount)
	}
}

func TestPlan_FindFoodClampsTarget(t *testing.T) {
	p := newTestPlanner()
	task := p.Plan(goal.New(goal.KindFindFood, goal.FindFoodParams{MinFood: 40}), snap(nil))
	if f := task.Params.(goal.FindFoodParams); f.MinFood != world.MaxFood {
		t.Fatalf("min food = %d", f.MinFood)
	}
}

func TestFallback_ResourceOrdering(t *testing.T) {
	p := newTestPlanner()
	idle := goal.New("idle", nil)

	cases := []struct {
		name   string
		inv    map[string]int
		kind   goal.Kind
		reason string
	}{
		{"low wood", map[string]int{"oak_log": 5, "cobblestone": 20}, goal.KindGatherWood, "need:wood"},
		{"low stone", map[string]int{"oak_log": 20, "cobblestone": 2}, goal.KindMine, "need:stone"},
		{"stocked", map[string]int{"oak_log": 20, "cobblestone": 20}, goal.KindExplore, "explore"},
	}
	for _, tc := range cases {
		task := p.Plan(idle, snap(tc.inv))
		if task == nil {
			t.Fatalf("%s: nil task", tc.name)
		}
		if task.Type != tc.kind {
			t.Fatalf("%s: type = %s, want %s", tc.name, task.Type, tc.kind)
		}
		if task.Context.FallbackReason != tc.reason {
			t.Fatalf("%s: reason = %q", tc.name, task.Context.FallbackReason)
		}
	}

	task := p.Plan(idle, snap(map[string]int{"oak_log": 20, "cobblestone": 20}))
	if e := task.Params.(goal.ExploreParams); e.Radius >= defaultExploreRadius || !e.Safe {
		t.Fatalf("fallback explore = %+v, want reduced safe radius", e)
	}
}

func TestFallback_Keywords(t *testing.T) {
	p := newTestPlanner()
	cases := map[string]goal.Kind{
		"craft a stone sword":         goal.KindCraftTools,
		"go mining for iron":          goal.KindMine,
		"build a small house":         goal.KindBuild,
		"collect some logs":           goal.KindGatherWood,
		"hunt for animals":            goal.KindFindFood,
		"explore the northern forest": goal.KindExplore,
	}
	inv := map[string]int{"oak_log": 20, "cobblestone": 20}
	for desc, want := range cases {
		g := goal.New("ai_suggestion", goal.GenericParams{Type: "ai_suggestion", Description: desc})
		task := p.Plan(g, snap(inv))
		if task == nil || task.Type != want {
			t.Fatalf("%q: got %+v, want %s", desc, task, want)
		}
	}

	g := goal.New("ai_suggestion", goal.GenericParams{Type: "ai_suggestion", Description: "mine some iron"})
	if m := p.Plan(g, snap(inv)).Params.(goal.MineParams); m.Block != "iron_ore" {
		t.Fatalf("block = %q", m.Block)
	}
	g = goal.New("ai_suggestion", goal.GenericParams{Type: "ai_suggestion", Description: "craft a stone sword"})
	if c := p.Plan(g, snap(inv)).Params.(goal.CraftToolsParams); len(c.Tools) != 1 || c.Tools[0] != "stone_sword" {
		t.Fatalf("tools = %v", c.Tools)
	}
}

func TestMatchCategory(t *testing.T) {
	if _, ok := MatchCategory("explore the area"); ok {
		t.Fatal("explore must not match the ore keyword")
	}
	cases := map[string]string{
		"Crafting table please":     "craft",
		"mine iron with a pickaxe":  "mine",
		"dig for coal with an axe":  "mine",
		"collect stone for a wall":  "collect",
		"a better sword":            "craft",
		"chop the tree by the lake": "collect",
	}
	for desc, want := range cases {
		if c, ok := MatchCategory(desc); !ok || c != want {
			t.Fatalf("%q: category = %q, want %q", desc, c, want)
		}
	}
}

func TestFallback_VerbBeatsToolNoun(t *testing.T) {
	p := newTestPlanner()
	inv := map[string]int{"oak_log": 20, "cobblestone": 20, "stone_pickaxe": 1}

	g := goal.New("ai_suggestion", goal.GenericParams{Type: "ai_suggestion", Description: "mine iron with a pickaxe"})
	task := p.Plan(g, snap(inv))
	if task.Type != goal.KindMine || task.Params.(goal.MineParams).Block != "iron_ore" {
		t.Fatalf("task = %s %+v", task.Type, task.Params)
	}

	g = goal.New("ai_suggestion", goal.GenericParams{Type: "ai_suggestion", Description: "collect some stone"})
	task = p.Plan(g, snap(inv))
	if task.Type != goal.KindMine || task.Context.FallbackReason != "keyword:collect" {
		t.Fatalf("task = %s reason %q", task.Type, task.Context.FallbackReason)
	}
}

func TestPlan_MoveWithoutTargetIsMiss(t *testing.T) {
	p := newTestPlanner()
	if task := p.Plan(goal.New(goal.KindMoveTo, nil), snap(nil)); task != nil {
		t.Fatalf("expected planning miss, got %+v", task)
	}
	if task := p.Plan(goal.New(goal.KindFollow, nil), snap(nil)); task != nil {
		t.Fatalf("expected planning miss, got %+v", task)
	}
}
