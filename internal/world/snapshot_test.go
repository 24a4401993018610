package world

import (
	"math"
	"testing"
)

func TestAvailablePlanks_CountsLogsTimesFour(t *testing.T) {
	s := Snapshot{Inventory: map[string]int{"oak_planks": 2, "oak_log": 3}}
	if got := s.AvailablePlanks(); got != 14 {
		t.Fatalf("AvailablePlanks = %d, want 14", got)
	}
}

func TestAvailablePlanks_MixedVariants(t *testing.T) {
	s := Snapshot{Inventory: map[string]int{
		"oak_planks":   1,
		"birch_planks": 3,
		"spruce_log":   1,
		"birch_log":    2,
	}}
	if got := s.AvailablePlanks(); got != 4+12 {
		t.Fatalf("AvailablePlanks = %d, want 16", got)
	}
}

func TestWoodEquivalent(t *testing.T) {
	s := Snapshot{Inventory: map[string]int{"oak_log": 3, "oak_planks": 8}}
	if got := s.WoodEquivalent(); got != 5 {
		t.Fatalf("WoodEquivalent = %d, want 5", got)
	}
	s.Inventory["oak_log"] = 18
	if got := s.WoodEquivalent(); got != 20 {
		t.Fatalf("WoodEquivalent = %d, want 20", got)
	}
}

func TestHasToolClass_Substring(t *testing.T) {
	s := Snapshot{Inventory: map[string]int{"stone_sword": 1, "wooden_pickaxe": 0}}
	if !s.HasToolClass("sword") {
		t.Fatal("expected sword class present")
	}
	if s.HasToolClass("pickaxe") {
		t.Fatal("zero-count item must not count as present")
	}
}

func TestIsNight(t *testing.T) {
	cases := map[int64]bool{0: false, 6000: false, 13000: true, 18000: true, 23000: false, 24000 + 14000: true}
	for tod, want := range cases {
		if got := (Snapshot{TimeOfDay: tod}).IsNight(); got != want {
			t.Fatalf("IsNight(%d) = %v, want %v", tod, got, want)
		}
	}
}

func TestNearestHostile_UsesPositionWhenDistanceMissing(t *testing.T) {
	s := Snapshot{
		Position: Vec3{X: 0, Y: 64, Z: 0},
		Dangers: []Danger{
			{Kind: "zombie", Hostile: true, Position: Vec3{X: 10, Y: 64, Z: 0}},
			{Kind: "skeleton", Hostile: true, Distance: 4},
			{Kind: "lava", Hostile: false, Distance: 1},
		},
	}
	d, ok := s.NearestHostile()
	if !ok {
		t.Fatal("expected a hostile")
	}
	if d.Kind != "skeleton" || d.Distance != 4 {
		t.Fatalf("nearest = %+v", d)
	}
}

func TestVec3Distance(t *testing.T) {
	a := Vec3{X: 10, Y: 64, Z: 10}
	b := Vec3{X: 11, Y: 64, Z: 11}
	if d := a.Distance(b); math.Abs(d-math.Sqrt2) > 1e-9 {
		t.Fatalf("distance = %v", d)
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := Snapshot{Inventory: map[string]int{"oak_log": 1}}
	c := s.Clone()
	c.Inventory["oak_log"] = 9
	if s.Inventory["oak_log"] != 1 {
		t.Fatal("clone shares inventory map")
	}
}
