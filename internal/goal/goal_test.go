package goal

import (
	"errors"
	"testing"
	"time"
)

func TestFromMap_MissingType(t *testing.T) {
	for _, m := range []map[string]any{
		{},
		{"type": 42},
		{"type": ""},
		{"type": []string{"gather_wood"}},
	} {
		_, err := FromMap(m)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("FromMap(%v) err = %v, want ValidationError", m, err)
		}
		if ve.Field != "type" {
			t.Fatalf("field = %q, want type", ve.Field)
		}
	}
}

func TestFromMap_MoveTarget(t *testing.T) {
	g, err := FromMap(map[string]any{"type": "move_to", "params": map[string]any{"x": 10.0, "y": 70.0, "z": -4.0}, "priority": 2.0})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	p, ok := g.Params.(MoveParams)
	if !ok {
		t.Fatalf("params = %T", g.Params)
	}
	if p.Target.X != 10 || p.Target.Y != 70 || p.Target.Z != -4 {
		t.Fatalf("target = %+v", p.Target)
	}
	if g.Priority != 2 {
		t.Fatalf("priority = %d", g.Priority)
	}
}

func TestFromMap_MoveWithoutCoordinates(t *testing.T) {
	if _, err := FromMap(map[string]any{"type": "move_to"}); err == nil {
		t.Fatal("expected validation error for move goal without target")
	}
}

func TestFromMap_FreeTextGoesGeneric(t *testing.T) {
	g, err := FromMap(map[string]any{"type": "ai_suggestion", "description": "collect some flowers", "color": "red"})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	p, ok := g.Params.(GenericParams)
	if !ok {
		t.Fatalf("params = %T", g.Params)
	}
	if p.Description != "collect some flowers" || p.Extra["color"] != "red" {
		t.Fatalf("generic params = %+v", p)
	}
	if p.Kind() != "ai_suggestion" {
		t.Fatalf("kind = %q", p.Kind())
	}
}

func TestDecodeJSON(t *testing.T) {
	g, err := DecodeJSON([]byte(`{"type":"craft_tools","params":{"tools":["wooden_pickaxe","wooden_axe"]},"priority":3}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	p := g.Params.(CraftToolsParams)
	if len(p.Tools) != 2 || g.Priority != 3 {
		t.Fatalf("decoded = %+v", g)
	}

	if _, err := DecodeJSON([]byte(`{"type":"explore","priority":-1}`)); err == nil {
		t.Fatal("expected schema rejection for negative priority")
	}
	if _, err := DecodeJSON([]byte(`{"params":{}}`)); err == nil {
		t.Fatal("expected rejection for missing type")
	}
	if _, err := DecodeJSON([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected rejection for non-object")
	}
}

func TestGoalValidate_MismatchedPayload(t *testing.T) {
	g := New(KindMine, GatherWoodParams{Amount: 3})
	if err := g.Validate(); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := New(KindMine, MineParams{}).Validate(); err != nil {
		t.Fatalf("valid goal rejected: %v", err)
	}
	if err := (Goal{}).Validate(); err == nil {
		t.Fatal("expected missing type error")
	}
}

func TestAddPrerequisite_RejectsNesting(t *testing.T) {
	now := time.Now()
	parent := NewTask(CraftToolsParams{Tools: []string{"wooden_axe"}}, 3, now, 5*time.Minute)
	inner := NewTask(GatherWoodParams{Amount: 2}, 3, now, 5*time.Minute)
	middle := NewTask(WorkbenchParams{}, 3, now, 5*time.Minute)
	if err := middle.AddPrerequisite(inner); err != nil {
		t.Fatalf("one level must be allowed: %v", err)
	}
	if err := parent.AddPrerequisite(middle); !errors.Is(err, ErrNestedPrerequisite) {
		t.Fatalf("err = %v, want ErrNestedPrerequisite", err)
	}
	if !middle.Prerequisites[0].Context.Prerequisite {
		t.Fatal("prerequisite flag not set")
	}
}

func TestNewTask_DeadlineClamped(t *testing.T) {
	now := time.Now()
	short := NewTask(ExploreParams{Radius: 10}, 5, now, time.Second)
	if got := short.Deadline.Sub(now); got != MinTaskTimeout {
		t.Fatalf("short deadline = %v", got)
	}
	long := NewTask(ExploreParams{Radius: 10}, 5, now, time.Hour)
	if got := long.Deadline.Sub(now); got != MaxTaskTimeout {
		t.Fatalf("long deadline = %v", got)
	}
	if long.Expired(now) {
		t.Fatal("fresh task must not be expired")
	}
	if !long.Expired(now.Add(MaxTaskTimeout)) {
		t.Fatal("task must be expired at its deadline")
	}
}
