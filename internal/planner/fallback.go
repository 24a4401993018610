package planner

import (
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/basket/forager/internal/goal"
)

// Resource thresholds below which the fallback gathers instead of exploring.
const (
	FallbackWoodThreshold  = 15
	FallbackStoneThreshold = 8

	// Fallback exploration stays closer to home than a requested one.
	fallbackExploreRadius = defaultExploreRadius / 2
)

type category struct {
	name  string
	verbs []string
	nouns []string
}

// Categories are matched in order; the first hit wins. Every category's
// verbs are tried before any nouns, so "mine iron with a pickaxe" mines
// and "collect stone" reaches the collect rule.
var categories = []category{
	{"craft", []string{"craft", "make"}, []string{"tool", "pickaxe", "axe", "sword", "shovel"}},
	{"mine", []string{"mine", "mining", "dig"}, []string{"stone", "cobble", "ore", "iron", "coal"}},
	{"build", []string{"build", "construct"}, []string{"house", "shelter", "wall", "base"}},
	{"collect", []string{"collect", "gather", "chop"}, []string{"wood", "log", "tree"}},
	{"combat", []string{"fight", "attack", "kill", "hunt", "defend"}, []string{"combat"}},
}

// MatchCategory returns the keyword category description falls into.
// Keywords match whole words or word prefixes, so "crafting" hits "craft"
// but "explore" does not hit "ore".
func MatchCategory(description string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	hit := func(keywords []string) bool {
		return lo.ContainsBy(keywords, func(k string) bool {
			return lo.ContainsBy(words, func(w string) bool { return strings.HasPrefix(w, k) })
		})
	}
	for _, c := range categories {
		if hit(c.verbs) {
			return c.name, true
		}
	}
	for _, c := range categories {
		if hit(c.nouns) {
			return c.name, true
		}
	}
	return "", false
}

// fallback handles free-text and AI-originated goal kinds. Keyword
// categories come first, then resource needs; exploration is the last
// resort.
func (b *builder) fallback() goal.Task {
	desc := b.g.Description
	if gp, ok := b.g.Params.(goal.GenericParams); ok && gp.Description != "" {
		desc = gp.Description
	}
	if desc == "" {
		desc = string(b.g.Type)
	}

	var t goal.Task
	cat, matched := MatchCategory(desc)
	switch cat {
	case "craft":
		t = b.craftTools(goal.CraftToolsParams{Tools: toolsIn(desc)})
	case "mine":
		t = b.mine(goal.MineParams{Block: blockIn(desc)})
	case "build":
		t = b.build(goal.BuildParams{})
	case "collect":
		if strings.Contains(strings.ToLower(desc), "stone") {
			t = b.mine(goal.MineParams{})
		} else {
			t = b.gatherWood(goal.GatherWoodParams{})
		}
	case "combat":
		t = b.findFood(goal.FindFoodParams{})
	}
	if matched {
		t.Context.FallbackReason = "keyword:" + cat
		t.Context.Description = desc
		return t
	}

	switch {
	case b.snap.WoodEquivalent() < FallbackWoodThreshold:
		t = b.gatherWood(goal.GatherWoodParams{Amount: FallbackWoodThreshold})
		t.Context.FallbackReason = "need:wood"
	case b.snap.StoneCount() < FallbackStoneThreshold:
		t = b.mine(goal.MineParams{Amount: FallbackStoneThreshold})
		t.Context.FallbackReason = "need:stone"
	default:
		t = b.explore(goal.ExploreParams{Radius: fallbackExploreRadius, Safe: true}, "explore")
	}
	t.Context.Description = desc
	return t
}

// toolsIn picks known tool names mentioned in text, defaulting to a pickaxe.
func toolsIn(text string) []string {
	text = strings.ToLower(text)
	var tools []string
	for _, material := range []string{"stone", "wooden"} {
		for _, kind := range []string{"pickaxe", "sword", "shovel", "hoe"} {
			name := material + "_" + kind
			if strings.Contains(text, name) || strings.Contains(text, strings.ReplaceAll(name, "_", " ")) {
				tools = append(tools, name)
			}
		}
		axe := material + "_axe"
		if strings.Contains(text, axe) || strings.Contains(text, material+" axe") {
			tools = append(tools, axe)
		}
	}
	if len(tools) > 0 {
		return tools
	}
	for _, kind := range []string{"pickaxe", "sword", "shovel", "hoe"} {
		if strings.Contains(text, kind) {
			tools = append(tools, "wooden_"+kind)
		}
	}
	if strings.Contains(strings.ReplaceAll(text, "pickaxe", ""), "axe") {
		tools = append(tools, "wooden_axe")
	}
	if len(tools) == 0 {
		tools = []string{"wooden_pickaxe"}
	}
	return tools
}

// blockIn picks an ore mentioned in text, defaulting to stone.
func blockIn(text string) string {
	text = strings.ToLower(text)
	for _, ore := range []string{"iron", "coal", "copper", "gold", "diamond"} {
		if strings.Contains(text, ore) {
			return ore + "_ore"
		}
	}
	return defaultMineBlock
}
