package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/forager/internal/bus"
)

// ActivityItem is one task or announcement in the feed.
type ActivityItem struct {
	ID        string
	AgentID   string
	Icon      string
	Message   string
	StartedAt time.Time
	DoneAt    *time.Time
}

// ActivityFeed keeps the most recent task activity across agents.
type ActivityFeed struct {
	mu        sync.Mutex
	items     []ActivityItem
	collapsed bool
	maxItems  int
}

func NewActivityFeed() *ActivityFeed {
	return &ActivityFeed{maxItems: 12}
}

func (f *ActivityFeed) Add(item ActivityItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	if len(f.items) > f.maxItems {
		f.items = f.items[1:]
	}
}

// Complete marks the item with id done. Unknown ids are ignored.
func (f *ActivityFeed) Complete(id, icon string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].DoneAt == nil {
			f.items[i].Icon = icon
			f.items[i].DoneAt = &at
			return
		}
	}
}

// Observe folds one bus event into the feed.
func (f *ActivityFeed) Observe(ev bus.Event) {
	switch p := ev.Payload.(type) {
	case bus.TaskEvent:
		switch ev.Topic {
		case bus.TopicTaskStarted:
			f.Add(ActivityItem{ID: p.TaskID, AgentID: ev.AgentID, Icon: "⏳", Message: p.Summary, StartedAt: ev.At})
		case bus.TopicTaskCompleted:
			f.Complete(p.TaskID, "✅", ev.At)
		case bus.TopicTaskFailed:
			f.Complete(p.TaskID, "❌", ev.At)
		case bus.TopicTaskTimeout:
			f.Complete(p.TaskID, "⌛", ev.At)
		case bus.TopicTaskProgress:
			f.Complete(p.TaskID, "🔁", ev.At)
		}
	case bus.ThreatEvent:
		at := ev.At
		f.Add(ActivityItem{AgentID: ev.AgentID, Icon: "⚠️", Message: p.Kind + ": " + p.Action, StartedAt: at, DoneAt: &at})
	case string:
		if ev.Topic == bus.TopicAnnounce {
			at := ev.At
			f.Add(ActivityItem{AgentID: ev.AgentID, Icon: "💬", Message: p, StartedAt: at, DoneAt: &at})
		}
	}
}

func (f *ActivityFeed) Toggle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collapsed = !f.collapsed
}

func (f *ActivityFeed) HasActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.DoneAt == nil {
			return true
		}
	}
	return false
}

func (f *ActivityFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *ActivityFeed) CleanupOld(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	kept := f.items[:0]
	removed := 0
	for _, it := range f.items {
		if it.DoneAt != nil && now.Sub(*it.DoneAt) >= maxAge {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	f.items = kept
	return removed
}

func (f *ActivityFeed) View() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if f.collapsed {
		return dim.Render(fmt.Sprintf("── %d activity items (a to expand) ──", len(f.items))) + "\n"
	}

	itemS := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	agentS := lipgloss.NewStyle().Foreground(lipgloss.Color("110"))

	var out strings.Builder
	out.WriteString(dim.Render("── Activity (a to collapse) ──") + "\n")
	for _, it := range f.items {
		line := fmt.Sprintf("%s %s", it.Icon, it.Message)
		switch {
		case it.DoneAt != nil && it.ID != "":
			line += fmt.Sprintf(" (%s)", it.DoneAt.Sub(it.StartedAt).Truncate(100*time.Millisecond))
		case it.DoneAt == nil:
			line += fmt.Sprintf(" (%s)", time.Since(it.StartedAt).Truncate(time.Second))
		}
		out.WriteString(agentS.Render("["+it.AgentID+"] ") + itemS.Render(line) + "\n")
	}
	return out.String()
}
