// Package dashboard renders a polling terminal view of the shared store.
// Each tick re-queries committed data; it never holds a transaction open,
// so concurrent writers are unaffected.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

type tickMsg struct{}

type snapshotMsg struct {
	stats   domain.Stats
	ready   []domain.WorkItem
	workers []domain.Worker
	audit   []domain.AuditEntry
	err     error
	at      time.Time
}

type Model struct {
	engine   engine.Engine
	interval time.Duration
	snap     snapshotMsg
	loaded   bool
}

func New(e engine.Engine, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{engine: e, interval: interval}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch, m.tick())
}

func (m Model) fetch() tea.Msg {
	ctx := context.Background()
	snap := snapshotMsg{at: time.Now()}
	snap.stats, snap.err = m.engine.Repo.Stats(ctx)
	if snap.err != nil {
		return snap
	}
	snap.ready, snap.err = m.engine.Graph.Ready(ctx)
	if snap.err != nil {
		return snap
	}
	snap.workers, snap.err = m.engine.Repo.ListWorkers(ctx)
	if snap.err != nil {
		return snap
	}
	snap.audit, snap.err = m.engine.Repo.LatestAudit(ctx, 8)
	return snap
}

// tick schedules the next poll. Exactly one tick chain exists: only Init and
// a delivered tickMsg schedule another, so manual refreshes cannot multiply
// the polling rate.
func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tickMsg:
		return m, tea.Batch(m.fetch, m.tick())
	case snapshotMsg:
		m.snap = msg
		m.loaded = true
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.loaded {
		return dimStyle.Render("loading...")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskctl dashboard"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  refreshed %s · q to quit\n\n", m.snap.at.Format("15:04:05"))))
	if m.snap.err != nil {
		b.WriteString(errStyle.Render("error: " + m.snap.err.Error()))
		return b.String()
	}

	var status []string
	for _, s := range domain.ItemStatuses() {
		if c := m.snap.stats.ByStatus[s]; c > 0 {
			status = append(status, fmt.Sprintf("%s %d", s, c))
		}
	}
	summary := fmt.Sprintf("%d items · %d ready", m.snap.stats.Total, m.snap.stats.ReadyCount)
	if len(status) > 0 {
		summary += "\n" + strings.Join(status, " · ")
	}
	b.WriteString(boxStyle.Render(summary))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Ready"))
	b.WriteString("\n")
	if len(m.snap.ready) == 0 {
		b.WriteString(dimStyle.Render("  nothing ready\n"))
	}
	for i, t := range m.snap.ready {
		if i >= 8 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... and %d more\n", len(m.snap.ready)-i)))
			break
		}
		b.WriteString(fmt.Sprintf("  %-6s [%s] %s\n", t.Ref(), t.Priority, t.Title))
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Workers"))
	b.WriteString("\n")
	if len(m.snap.workers) == 0 {
		b.WriteString(dimStyle.Render("  none registered\n"))
	}
	for _, w := range m.snap.workers {
		line := fmt.Sprintf("  %-6s %-16s %s", w.Ref(), w.Name, w.Status)
		if w.CurrentItemID != nil {
			line += dimStyle.Render(" · " + *w.CurrentItemID)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Recent activity"))
	b.WriteString("\n")
	for _, e := range m.snap.audit {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  %s\n", e.TS, e.Action)))
	}
	return b.String()
}

// Run starts the dashboard loop and blocks until quit.
func Run(e engine.Engine, interval time.Duration) error {
	_, err := tea.NewProgram(New(e, interval)).Run()
	return err
}
