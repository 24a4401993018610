package scheduler

import (
	"context"
	"fmt"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/goal"
)

var successTemplates = map[goal.Kind]string{
	goal.KindMoveTo:         "Arrived %s.",
	goal.KindGatherWood:     "Gathered wood (%s).",
	goal.KindCraftTools:     "Crafted %s.",
	goal.KindCraftWorkbench: "Placed a %s.",
	goal.KindBuild:          "Finished the %s.",
	goal.KindMine:           "Mined %s.",
	goal.KindFollow:         "Done following %s.",
	goal.KindFindFood:       "Ate %s.",
	goal.KindExplore:        "Finished exploring %s.",
}

func successText(t goal.Task) string {
	tmpl, ok := successTemplates[t.Type]
	if !ok || t.Params == nil {
		return fmt.Sprintf("Done: %s.", t.Describe())
	}
	return fmt.Sprintf(tmpl, t.Params.Summary())
}

func failureText(e Entry) string {
	reason := e.Result.Error
	if reason == "" {
		reason = e.Result.Message
	}
	if reason == "" {
		reason = e.Outcome()
	}
	return fmt.Sprintf("Could not %s: %s", e.Task.Describe(), reason)
}

func (s *Scheduler) announce(ctx context.Context, text string) {
	s.bus.Publish(bus.TopicAnnounce, s.agentID, text)
	if s.announcer != nil {
		s.announcer.Announce(ctx, s.agentID, text)
	}
}
