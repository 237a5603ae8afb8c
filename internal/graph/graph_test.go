package graph_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/captaindev404/prd-tools-sub010/internal/db"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
	"github.com/captaindev404/prd-tools-sub010/internal/migrate"
)

func newEngine(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return eng, context.Background()
}

func createItem(t *testing.T, e engine.Engine, ctx context.Context, title string, deps ...string) domain.WorkItem {
	t.Helper()
	item, err := e.CreateItem(ctx, engine.CreateItemOptions{Title: title, DependsOn: deps})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return item
}

func TestCycleRejectedAndGraphUnchanged(t *testing.T) {
	e, ctx := newEngine(t)
	a := createItem(t, e, ctx, "A")
	b := createItem(t, e, ctx, "B", a.ID)
	c := createItem(t, e, ctx, "C", b.ID)

	// A -> C would close A <- B <- C
	err := e.AddDependency(ctx, a.ID, c.ID, "")
	var ce domain.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if ce.ItemID != a.ID || ce.DependsOnID != c.ID {
		t.Fatalf("wrong edge in error: %+v", ce)
	}
	deps, err := e.Graph.ListDependencies(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps.DependsOn) != 0 {
		t.Fatalf("rejected edge was written: %v", deps.DependsOn)
	}

	// direct two-node cycle
	if err := e.AddDependency(ctx, a.ID, b.ID, ""); !errors.As(err, &ce) {
		t.Fatalf("expected CycleError for A->B, got %v", err)
	}
}

func TestEdgeValidation(t *testing.T) {
	e, ctx := newEngine(t)
	a := createItem(t, e, ctx, "A")
	b := createItem(t, e, ctx, "B")

	var ce domain.ConstraintError
	if err := e.AddDependency(ctx, a.ID, a.ID, ""); !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError for self edge, got %v", err)
	}
	if err := e.AddDependency(ctx, a.ID, b.ID, ""); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	if err := e.AddDependency(ctx, a.ID, b.ID, ""); !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError for duplicate, got %v", err)
	}
	var nf domain.NotFoundError
	if err := e.AddDependency(ctx, a.ID, "missing", ""); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListDependenciesBothDirections(t *testing.T) {
	e, ctx := newEngine(t)
	a := createItem(t, e, ctx, "A")
	b := createItem(t, e, ctx, "B", a.ID)

	aDeps, err := e.Graph.ListDependencies(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(aDeps.Blocks) != 1 || aDeps.Blocks[0] != b.ID {
		t.Fatalf("A blocks = %v, want [%s]", aDeps.Blocks, b.ID)
	}
	bDeps, err := e.Graph.ListDependencies(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bDeps.DependsOn) != 1 || bDeps.DependsOn[0] != a.ID {
		t.Fatalf("B depends_on = %v, want [%s]", bDeps.DependsOn, a.ID)
	}

	if err := e.RemoveDependency(ctx, b.ID, a.ID, ""); err != nil {
		t.Fatalf("remove: %v", err)
	}
	bDeps, err = e.Graph.ListDependencies(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bDeps.DependsOn) != 0 {
		t.Fatalf("edge survived removal: %v", bDeps.DependsOn)
	}
}

func TestReadyFrontier(t *testing.T) {
	e, ctx := newEngine(t)
	a := createItem(t, e, ctx, "A")
	b := createItem(t, e, ctx, "B", a.ID)

	ready, err := e.Graph.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != a.ID {
		t.Fatalf("frontier = %v, want just A", refs(ready))
	}

	if _, err := e.Complete(ctx, a.ID, ""); err != nil {
		t.Fatal(err)
	}
	ready, err = e.Graph.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Fatalf("frontier after completing A = %v, want just B", refs(ready))
	}
}

func TestReadyOrderedByPriority(t *testing.T) {
	e, ctx := newEngine(t)
	low, err := e.CreateItem(ctx, engine.CreateItemOptions{Title: "low", Priority: domain.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}
	crit, err := e.CreateItem(ctx, engine.CreateItemOptions{Title: "critical", Priority: domain.PriorityCritical})
	if err != nil {
		t.Fatal(err)
	}
	ready, err := e.Graph.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 || ready[0].ID != crit.ID || ready[1].ID != low.ID {
		t.Fatalf("frontier order = %v", refs(ready))
	}
}

func TestReadyIncludesBlockedWithSatisfiedDeps(t *testing.T) {
	e, ctx := newEngine(t)
	a := createItem(t, e, ctx, "A")
	b := createItem(t, e, ctx, "B", a.ID)
	if _, err := e.UpdateStatus(ctx, b.ID, domain.StatusBlocked, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Complete(ctx, a.ID, ""); err != nil {
		t.Fatal(err)
	}
	ready, err := e.Graph.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Fatalf("blocked item with completed deps missing from frontier: %v", refs(ready))
	}
	// in_progress items never appear
	if _, err := e.UpdateStatus(ctx, b.ID, domain.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	ready, err = e.Graph.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Fatalf("in_progress item in frontier: %v", refs(ready))
	}
}

func TestDeepChainCycleDetection(t *testing.T) {
	e, ctx := newEngine(t)
	head := createItem(t, e, ctx, "n0")
	prev := head
	var tail domain.WorkItem
	for i := 1; i < 60; i++ {
		tail = createItem(t, e, ctx, fmt.Sprintf("n%d", i), prev.ID)
		prev = tail
	}
	err := e.AddDependency(ctx, head.ID, tail.ID, "")
	var ce domain.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError closing 60-node chain, got %v", err)
	}
	// the reverse-direction edge between unrelated ends of a fork is fine
	side := createItem(t, e, ctx, "side")
	if err := e.AddDependency(ctx, side.ID, tail.ID, ""); err != nil {
		t.Fatalf("legal edge rejected: %v", err)
	}
}

// TestReadyOverRandomDAGs builds seeded random DAGs (edges only point at
// lower-numbered items, so acyclic by construction), completes a
// downward-closed subset in dependency order, and checks Ready against the
// set computed directly from the edge list.
func TestReadyOverRandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		e, ctx := newEngine(t)
		const n = 12
		items := make([]domain.WorkItem, n)
		deps := make([][]int, n)
		for i := 0; i < n; i++ {
			items[i] = createItem(t, e, ctx, fmt.Sprintf("n%d", i))
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					if err := e.AddDependency(ctx, items[i].ID, items[j].ID, ""); err != nil {
						t.Fatalf("trial %d add edge %d->%d: %v", trial, i, j, err)
					}
					deps[i] = append(deps[i], j)
				}
			}
		}
		completed := make([]bool, n)
		for i := 0; i < n; i++ {
			ok := rng.Intn(2) == 0
			for _, j := range deps[i] {
				if !completed[j] {
					ok = false
				}
			}
			if ok {
				if _, err := e.Complete(ctx, items[i].ID, ""); err != nil {
					t.Fatalf("trial %d complete %d: %v", trial, i, err)
				}
				completed[i] = true
			}
		}
		want := map[string]bool{}
		for i := 0; i < n; i++ {
			if completed[i] {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if !completed[j] {
					ready = false
				}
			}
			if ready {
				want[items[i].ID] = true
			}
		}
		got, err := e.Graph.Ready(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("trial %d frontier size %d, want %d", trial, len(got), len(want))
		}
		for _, item := range got {
			if !want[item.ID] {
				t.Fatalf("trial %d unexpected ready item %s", trial, item.Ref())
			}
		}
	}
}

func refs(items []domain.WorkItem) []string {
	out := make([]string, len(items))
	for i, t := range items {
		out[i] = t.Ref()
	}
	return out
}
