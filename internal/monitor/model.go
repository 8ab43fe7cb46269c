// Package monitor renders a live terminal view of a campaign's phase
// pipeline: per-phase configuration and execution state, progress bars fed
// by the reconciliation engine, the guidance feed, and the subscription
// state. It is a read-only surface over reconcile.Snapshot values.
package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flowctl/internal/pipeline"
	"flowctl/internal/reconcile"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle   = lipgloss.NewStyle().Bold(true)
	phaseStyle    = lipgloss.NewStyle().Width(26)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pausedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	guidanceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).PaddingLeft(2)
)

// snapshotMsg delivers the next engine snapshot to the update loop.
type snapshotMsg reconcile.Snapshot

// Model is the bubbletea model for the pipeline monitor.
type Model struct {
	campaignID string
	updates    <-chan reconcile.Snapshot

	snap     reconcile.Snapshot
	bars     map[pipeline.PhaseKey]progress.Model
	width    int
	received bool
	quitting bool
}

// New creates a monitor fed by the engine's snapshot channel.
func New(campaignID string, updates <-chan reconcile.Snapshot) Model {
	return Model{
		campaignID: campaignID,
		updates:    updates,
		bars:       make(map[pipeline.PhaseKey]progress.Model),
	}
}

func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updates
		if !ok {
			return tea.QuitMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.waitForSnapshot()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.snap = reconcile.Snapshot(msg)
		m.received = true
		return m, m.waitForSnapshot()
	}
	return m, nil
}

func (m Model) bar(key pipeline.PhaseKey) progress.Model {
	if b, ok := m.bars[key]; ok {
		return b
	}
	b := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	m.bars[key] = b
	return b
}

func execGlyph(state pipeline.ExecState) string {
	switch state {
	case pipeline.ExecRunning:
		return runningStyle.Render("▶ running")
	case pipeline.ExecCompleted:
		return runningStyle.Render("✓ completed")
	case pipeline.ExecFailed:
		return failedStyle.Render("✗ failed")
	case pipeline.ExecPaused:
		return pausedStyle.Render("⏸ paused")
	default:
		return dimStyle.Render("· idle")
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.received {
		return dimStyle.Render(fmt.Sprintf("waiting for events for campaign %s...", m.campaignID)) + "\n"
	}

	var b strings.Builder
	c := m.snap.Campaign
	fmt.Fprintf(&b, "%s  %s\n",
		titleStyle.Render("Campaign "+c.ID),
		dimStyle.Render(fmt.Sprintf("status=%s stream=%s", c.Status, m.snap.Conn)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-26s %-14s %-12s %s", "PHASE", "EXEC", "CONFIG", "PROGRESS")))
	b.WriteString("\n")
	for _, p := range m.snap.Phases {
		rt := m.snap.Runtimes[p.Key]
		barView := dimStyle.Render("—")
		if rt.Total > 0 {
			barView = m.bar(p.Key).ViewAs(rt.Progress()) +
				dimStyle.Render(fmt.Sprintf(" %d/%d", rt.Processed, rt.Total))
		}
		fmt.Fprintf(&b, "%s %-14s %-12s %s\n",
			phaseStyle.Render(string(p.Key)),
			execGlyph(p.ExecState),
			string(p.ConfigState),
			barView)
	}

	if len(m.snap.Guidance) > 0 {
		b.WriteString("\n" + headerStyle.Render("Guidance") + "\n")
		for _, g := range m.snap.Guidance {
			b.WriteString(guidanceStyle.Render(fmt.Sprintf("[%s] %s", g.Phase, g.Message)) + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("q to quit") + "\n")
	return b.String()
}
