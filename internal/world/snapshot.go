// Package world holds the read-only view of agent and world state that the
// planner and scheduler decide on, plus the connection to the simulation
// bridge that produces it.
package world

import (
	"math"
	"strings"
	"time"
)

// Vec3 is a position in world coordinates.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Add returns v translated by o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Cell rounds v to the integer block cell it lies in.
func (v Vec3) Cell() Vec3 {
	return Vec3{X: math.Round(v.X), Y: math.Round(v.Y), Z: math.Round(v.Z)}
}

// Danger is one threat reported by the world bridge.
type Danger struct {
	Kind     string  `json:"kind"`
	Hostile  bool    `json:"hostile"`
	Position Vec3    `json:"position"`
	Distance float64 `json:"distance"`
}

// Vitals bounds. Health and food are both on a 0..20 scale.
const (
	MaxHealth = 20
	MaxFood   = 20

	// PlanksPerLog is the crafting yield of one log.
	PlanksPerLog = 4

	dayLength  = 24000
	nightStart = 13000
	nightEnd   = 23000
)

// Snapshot is a point-in-time view of the agent. The core only reads it;
// mutation happens through capability execution on the bridge side.
type Snapshot struct {
	Health    float64        `json:"health"`
	Food      float64        `json:"food"`
	Position  Vec3           `json:"position"`
	Inventory map[string]int `json:"inventory"`
	Dangers   []Danger       `json:"dangers"`
	TimeOfDay int64          `json:"time_of_day"`
	Taken     time.Time      `json:"taken"`
}

// Count returns how many of the exact item name the inventory holds.
func (s Snapshot) Count(item string) int {
	return s.Inventory[item]
}

// CountMatching sums every inventory entry whose name contains substr.
func (s Snapshot) CountMatching(substr string) int {
	total := 0
	for name, n := range s.Inventory {
		if strings.Contains(name, substr) {
			total += n
		}
	}
	return total
}

// Logs counts every log variant (oak_log, birch_log, ...).
func (s Snapshot) Logs() int {
	return s.CountMatching("_log") + s.Count("log")
}

// Planks counts every plank variant.
func (s Snapshot) Planks() int {
	return s.CountMatching("planks")
}

// AvailablePlanks is raw planks plus the planks every held log would craft into.
func (s Snapshot) AvailablePlanks() int {
	return s.Planks() + PlanksPerLog*s.Logs()
}

// WoodEquivalent expresses held wood in logs: logs + planks/4.
func (s Snapshot) WoodEquivalent() int {
	return s.Logs() + s.Planks()/PlanksPerLog
}

// StoneCount counts cobblestone and plain stone.
func (s Snapshot) StoneCount() int {
	return s.Count("cobblestone") + s.Count("stone")
}

// HasToolClass reports whether any held item name contains class ("axe",
// "pickaxe", "sword").
func (s Snapshot) HasToolClass(class string) bool {
	for name, n := range s.Inventory {
		if n > 0 && strings.Contains(name, class) {
			return true
		}
	}
	return false
}

// IsNight reports whether the world clock is in the night window.
func (s Snapshot) IsNight() bool {
	t := s.TimeOfDay % dayLength
	if t < 0 {
		t += dayLength
	}
	return t >= nightStart && t < nightEnd
}

// NearestHostile returns the closest hostile danger, if any.
func (s Snapshot) NearestHostile() (Danger, bool) {
	var (
		best  Danger
		found bool
	)
	for _, d := range s.Dangers {
		if !d.Hostile {
			continue
		}
		dist := d.Distance
		if dist == 0 {
			dist = d.Position.Distance(s.Position)
		}
		if !found || dist < best.Distance {
			best = d
			best.Distance = dist
			found = true
		}
	}
	return best, found
}

// Clone returns a deep copy so callers can hold it across iterations.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Inventory != nil {
		out.Inventory = make(map[string]int, len(s.Inventory))
		for k, v := range s.Inventory {
			out.Inventory[k] = v
		}
	}
	if s.Dangers != nil {
		out.Dangers = append([]Danger(nil), s.Dangers...)
	}
	return out
}
