package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/scheduler"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		DBOK:   true,
		Claims: 2,
		Uptime: 90 * time.Second,
		Agents: []scheduler.Status{
			{
				AgentID: "alpha",
				State:   scheduler.StateRunning,
				Health:  18,
				Food:    12,
				Active:  &scheduler.ActiveStatus{TaskID: "t1", Summary: "gather 5 wood", PendingPrereq: 1},
				Queue:   []scheduler.QueuedGoal{{Type: goal.KindFindFood, Urgent: true}, {Type: goal.KindExplore}},
			},
			{AgentID: "beta", State: scheduler.StateBackoff, ConsecutiveErrors: 3},
		},
	}
}

func TestView_ShowsAgentsAndSelectedDetail(t *testing.T) {
	m := model{snap: sampleSnapshot(), feed: NewActivityFeed()}
	view := m.View()
	for _, want := range []string{
		"DB OK:", "true",
		"alpha", "beta",
		"queue 2", "errors 3",
		"gather 5 wood", "(1 prerequisite(s) left)",
		"1. find_food !", "2. explore",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestUpdate_KeysAndTicks(t *testing.T) {
	provider := func() Snapshot { return sampleSnapshot() }
	m := model{provider: provider, snap: Snapshot{}, feed: NewActivityFeed()}

	if m.Init() == nil {
		t.Fatal("expected Init to return a cmd")
	}

	updated, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected tick cmd after tick message")
	}
	m = updated.(model)
	if !m.snap.DBOK || len(m.snap.Agents) != 2 {
		t.Fatal("expected snapshot to be refreshed from provider")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(model)
	if st, _ := m.selectedAgent(); st.AgentID != "beta" {
		t.Fatalf("tab should select beta, got %q", st.AgentID)
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(model)
	if m.selected != 0 {
		t.Fatalf("selection should wrap, got %d", m.selected)
	}

	if _, quit := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); quit == nil {
		t.Fatal("expected quit command on 'q' key")
	}
}

func TestUpdate_EventFeedsActivity(t *testing.T) {
	ch := make(chan bus.Event, 1)
	m := model{provider: sampleSnapshot, feed: NewActivityFeed(), events: ch}
	updated, cmd := m.Update(eventMsg(bus.Event{Topic: bus.TopicAnnounce, AgentID: "alpha", At: time.Now(), Payload: "Arrived."}))
	if cmd == nil {
		t.Fatal("expected a follow-up wait on the event channel")
	}
	if updated.(model).feed.Len() != 1 {
		t.Fatal("announcement should land in the feed")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, sampleSnapshot, bus.New())
	if err != nil && err != context.Canceled {
		t.Fatalf("expected clean exit or context.Canceled, got: %v", err)
	}
}
