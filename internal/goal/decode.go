package goal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/forager/internal/world"
)

// goalSchema is the wire shape accepted from the gateway and from
// synthesized plans. Per-kind payload checks happen in FromMap.
const goalSchema = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"priority": {"type": "integer", "minimum": 0},
		"urgent": {"type": "boolean"},
		"description": {"type": "string"},
		"params": {"type": "object"}
	}
}`

var compiledGoalSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(goalSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal goal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("goal.json", doc); err != nil {
		return nil, fmt.Errorf("add goal schema: %w", err)
	}
	return c.Compile("goal.json")
})

// DecodeJSON parses and validates one goal document.
func DecodeJSON(data []byte) (Goal, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Goal{}, &ValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return Goal{}, &ValidationError{Reason: "goal must be a JSON object"}
	}
	if err := checkType(m); err != nil {
		return Goal{}, err
	}
	schema, err := compiledGoalSchema()
	if err != nil {
		return Goal{}, err
	}
	if err := schema.Validate(parsed); err != nil {
		return Goal{}, &ValidationError{Reason: fmt.Sprintf("schema: %v", err)}
	}
	return FromMap(m)
}

func checkType(m map[string]any) error {
	t, ok := m["type"].(string)
	if !ok || strings.TrimSpace(t) == "" {
		return &ValidationError{Field: "type", Reason: "missing or not a string"}
	}
	return nil
}

// FromMap builds a goal from a free-form bag. A missing or non-string
// "type" is a ValidationError; such goals are dropped, never retried.
func FromMap(m map[string]any) (Goal, error) {
	if err := checkType(m); err != nil {
		return Goal{}, err
	}
	kind := Kind(strings.TrimSpace(m["type"].(string)))

	p := m
	if inner, ok := m["params"].(map[string]any); ok {
		p = inner
	}

	g := New(kind, nil)
	g.Description, _ = m["description"].(string)
	g.Urgent, _ = m["urgent"].(bool)
	if n, ok := number(m["priority"]); ok {
		g.Priority = int(n)
	}

	params, err := paramsFor(kind, p, g.Description)
	if err != nil {
		return Goal{}, err
	}
	g.Params = params
	return g, nil
}

func paramsFor(kind Kind, p map[string]any, description string) (Params, error) {
	switch kind {
	case KindMoveTo:
		target, err := vec(p)
		if err != nil {
			return nil, err
		}
		return MoveParams{Target: target}, nil
	case KindGatherWood:
		return GatherWoodParams{Amount: intField(p, "amount"), Radius: intField(p, "radius")}, nil
	case KindCraftTools:
		tools := stringList(p["tools"])
		if s, ok := p["tool"].(string); ok && s != "" {
			tools = append(tools, s)
		}
		return CraftToolsParams{Tools: tools}, nil
	case KindCraftWorkbench:
		return WorkbenchParams{}, nil
	case KindBuild:
		s, _ := p["structure"].(string)
		return BuildParams{Structure: s, Size: intField(p, "size")}, nil
	case KindMine:
		b, _ := p["block"].(string)
		return MineParams{Block: b, Amount: intField(p, "amount"), Radius: intField(p, "radius")}, nil
	case KindFollow:
		player, _ := p["player"].(string)
		if strings.TrimSpace(player) == "" {
			return nil, &ValidationError{Field: "player", Reason: "follow goal needs a player"}
		}
		d, _ := number(p["distance"])
		return FollowParams{Player: player, Distance: d}, nil
	case KindFindFood:
		return FindFoodParams{MinFood: intField(p, "min_food"), Radius: intField(p, "radius")}, nil
	case KindExplore:
		safe, _ := p["safe"].(bool)
		return ExploreParams{Radius: intField(p, "radius"), Safe: safe}, nil
	default:
		desc := description
		if d, ok := p["description"].(string); ok && d != "" {
			desc = d
		}
		extra := make(map[string]any)
		for k, v := range p {
			switch k {
			case "type", "params", "priority", "urgent", "description":
				continue
			}
			extra[k] = v
		}
		return GenericParams{Type: kind, Description: desc, Extra: extra}, nil
	}
}

func vec(p map[string]any) (world.Vec3, error) {
	src := p
	if t, ok := p["target"].(map[string]any); ok {
		src = t
	}
	x, okX := number(src["x"])
	y, okY := number(src["y"])
	z, okZ := number(src["z"])
	if !okX || !okZ {
		return world.Vec3{}, &ValidationError{Field: "target", Reason: "move goal needs x and z"}
	}
	if !okY {
		y = 64
	}
	return world.Vec3{X: x, Y: y, Z: z}, nil
}

func intField(p map[string]any, key string) int {
	n, _ := number(p[key])
	return int(n)
}

// number accepts the numeric shapes produced by encoding/json and by the
// schema decoder (json.Number).
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...)
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
