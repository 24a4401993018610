package scheduler

import (
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// ArrivalRadius is how close a move task must get to its target.
const ArrivalRadius = 2.0

// HasPredicate reports whether kind completes on world state rather than on
// the capability's result alone.
func HasPredicate(kind goal.Kind) bool {
	switch kind {
	case goal.KindGatherWood, goal.KindCraftTools, goal.KindFindFood, goal.KindMoveTo:
		return true
	}
	return false
}

// Satisfied evaluates the completion predicate for task against snap. Kinds
// without a predicate are never satisfied here.
func Satisfied(task goal.Task, snap world.Snapshot) bool {
	switch p := task.Params.(type) {
	case goal.GatherWoodParams:
		return snap.WoodEquivalent() >= p.Amount
	case goal.CraftToolsParams:
		if len(p.Tools) == 0 {
			return false
		}
		for _, tool := range p.Tools {
			if snap.Count(tool) == 0 {
				return false
			}
		}
		return true
	case goal.FindFoodParams:
		return snap.Food >= float64(p.MinFood)
	case goal.MoveParams:
		return snap.Position.Distance(p.Target) <= ArrivalRadius
	}
	return false
}
