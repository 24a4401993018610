// Package tui renders a live terminal dashboard of running agents.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/scheduler"
)

type Snapshot struct {
	DBOK       bool
	Agents     []scheduler.Status
	Claims     int
	BusDropped int64
	Uptime     time.Duration
}

type StatusProvider func() Snapshot

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	selectStyle = lipgloss.NewStyle().Bold(true)
	stateStyles = map[string]lipgloss.Style{
		scheduler.StateIdle:         lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		scheduler.StateRunning:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		scheduler.StateThreat:       lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		scheduler.StateBackoff:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		scheduler.StateStopped:      lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		scheduler.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
	}
)

type model struct {
	provider StatusProvider
	snap     Snapshot
	feed     *ActivityFeed
	events   <-chan bus.Event
	selected int
}

type tickMsg time.Time

type eventMsg bus.Event

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(ch <-chan bus.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "down", "j":
			if n := len(m.snap.Agents); n > 0 {
				m.selected = (m.selected + 1) % n
			}
		case "shift+tab", "up", "k":
			if n := len(m.snap.Agents); n > 0 {
				m.selected = (m.selected + n - 1) % n
			}
		case "a":
			m.feed.Toggle()
		}
	case tickMsg:
		m.snap = m.provider()
		if m.selected >= len(m.snap.Agents) {
			m.selected = 0
		}
		m.feed.CleanupOld(10 * time.Minute)
		return m, tickCmd()
	case eventMsg:
		m.feed.Observe(bus.Event(msg))
		return m, waitEvent(m.events)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Forager") + "\n\n")
	fmt.Fprintf(&b, "%s %t   %s %d   %s %d   %s %s\n\n",
		labelStyle.Render("DB OK:"), m.snap.DBOK,
		labelStyle.Render("Claims:"), m.snap.Claims,
		labelStyle.Render("Dropped events:"), m.snap.BusDropped,
		labelStyle.Render("Uptime:"), m.snap.Uptime.Truncate(time.Second))

	if len(m.snap.Agents) == 0 {
		b.WriteString("No agents running.\n")
	}
	for i, st := range m.snap.Agents {
		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}
		state := st.State
		if style, ok := stateStyles[st.State]; ok {
			state = style.Render(st.State)
		}
		name := st.AgentID
		if i == m.selected {
			name = selectStyle.Render(name)
		}
		fmt.Fprintf(&b, "%s%-16s %s  hp %.0f  food %.0f  queue %d  errors %d  resets %d\n",
			cursor, name, state, st.Health, st.Food, len(st.Queue), st.ConsecutiveErrors, st.Resets)
	}
	if st, ok := m.selectedAgent(); ok {
		b.WriteString("\n" + agentDetail(st))
	}
	if feed := m.feed.View(); feed != "" {
		b.WriteString("\n" + feed)
	}
	b.WriteString("\n" + labelStyle.Render("tab: next agent  a: activity  q: quit") + "\n")
	return b.String()
}

func (m model) selectedAgent() (scheduler.Status, bool) {
	if m.selected < 0 || m.selected >= len(m.snap.Agents) {
		return scheduler.Status{}, false
	}
	return m.snap.Agents[m.selected], true
}

func agentDetail(st scheduler.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%.0f, %.0f, %.0f)  %s %d  %s %s\n",
		labelStyle.Render("Position:"), st.Position.X, st.Position.Y, st.Position.Z,
		labelStyle.Render("Iteration:"), st.Iteration,
		labelStyle.Render("Pacing:"), st.LastDelay)
	if st.Active != nil {
		fmt.Fprintf(&b, "%s %s", labelStyle.Render("Active:"), st.Active.Summary)
		if st.Active.PendingPrereq > 0 {
			fmt.Fprintf(&b, " (%d prerequisite(s) left)", st.Active.PendingPrereq)
		}
		b.WriteString("\n")
	} else {
		b.WriteString(labelStyle.Render("Active:") + " (none)\n")
	}
	for i, q := range st.Queue {
		mark := ""
		if q.Urgent {
			mark = " !"
		}
		fmt.Fprintf(&b, "  %d. %s%s\n", i+1, q.Type, mark)
	}
	return b.String()
}

// Run blocks until the user quits or ctx is done. b may be nil.
func Run(ctx context.Context, provider StatusProvider, b *bus.Bus) error {
	defer bestEffortResetTTY()

	m := model{provider: provider, snap: provider(), feed: NewActivityFeed()}
	if b != nil {
		sub := b.Subscribe("")
		defer b.Unsubscribe(sub)
		m.events = sub.Ch()
	}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
