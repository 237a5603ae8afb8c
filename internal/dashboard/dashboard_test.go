package dashboard

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/captaindev404/prd-tools-sub010/internal/db"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
	"github.com/captaindev404/prd-tools-sub010/internal/migrate"
)

func newModel(t *testing.T) Model {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(engine.New(conn), time.Second)
}

// Only a delivered tick schedules the next one; snapshot delivery and manual
// refresh must not, or each keypress would add a polling chain forever.
func TestSingleTickChain(t *testing.T) {
	m := newModel(t)

	_, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatalf("tick must fetch and reschedule")
	}
	updated, cmd := m.Update(snapshotMsg{at: time.Now()})
	if cmd != nil {
		t.Fatalf("snapshot delivery must not schedule anything")
	}
	m = updated.(Model)
	if !m.loaded {
		t.Fatalf("snapshot not applied")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatalf("manual refresh must fetch")
	}
	msg := cmd()
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("manual refresh produced %T, want snapshot", msg)
	}
}

func TestQuitKeys(t *testing.T) {
	m := newModel(t)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("key %s: expected quit command", key.String())
		}
	}
}

func TestViewRendersSnapshot(t *testing.T) {
	m := newModel(t)
	if !strings.Contains(m.View(), "loading") {
		t.Fatalf("expected loading state before first snapshot")
	}
	snap := snapshotMsg{
		at:    time.Now(),
		stats: domain.Stats{Total: 2, ReadyCount: 1, ByStatus: map[string]int{domain.StatusPending: 2}},
		ready: []domain.WorkItem{{DisplayID: 1, Title: "first", Priority: domain.PriorityHigh, Status: domain.StatusPending}},
	}
	updated, _ := m.Update(snap)
	view := updated.(Model).View()
	if !strings.Contains(view, "2 items") || !strings.Contains(view, "first") {
		t.Fatalf("view missing snapshot data:\n%s", view)
	}
}
