package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/captaindev404/prd-tools-sub010/internal/db"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
	"github.com/captaindev404/prd-tools-sub010/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createItem(t *testing.T, title string, deps ...string) domain.WorkItem {
	t.Helper()
	item, err := env.Engine.CreateItem(env.Ctx, engine.CreateItemOptions{Title: title, DependsOn: deps})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return item
}

func (env testEnv) registerWorker(t *testing.T, name string) domain.Worker {
	t.Helper()
	w, err := env.Engine.RegisterWorker(env.Ctx, name)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return w
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "work")

	item, err := env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusInProgress, "")
	if err != nil || item.Status != domain.StatusInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	item, err = env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusReview, "")
	if err != nil || item.Status != domain.StatusReview {
		t.Fatalf("to review: %v", err)
	}
	item, err = env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusCompleted, "")
	if err != nil || item.Status != domain.StatusCompleted {
		t.Fatalf("to completed: %v", err)
	}
	if item.CompletedAt == nil {
		t.Fatalf("expected completed_at stamp")
	}

	// terminal states admit nothing
	_, err = env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusPending, "")
	var te domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestBlockedRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "stuck")
	if _, err := env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusBlocked, ""); err != nil {
		t.Fatalf("to blocked: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusPending, ""); err != nil {
		t.Fatalf("back to pending: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusBlocked, ""); err != nil {
		t.Fatalf("to blocked again: %v", err)
	}
	// blocked can be claimed directly
	if _, err := env.Engine.UpdateStatus(env.Ctx, item.ID, domain.StatusInProgress, ""); err != nil {
		t.Fatalf("blocked to in_progress: %v", err)
	}
}

func TestCompleteGatedByDependencies(t *testing.T) {
	env := newTestEnv(t)
	a := env.createItem(t, "A")
	b := env.createItem(t, "B", a.ID)

	_, err := env.Engine.Complete(env.Ctx, b.ID, "")
	var te domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError completing B first, got %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, a.ID, ""); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, b.ID, ""); err != nil {
		t.Fatalf("complete B after A: %v", err)
	}
}

func TestSyncClaimsAtomically(t *testing.T) {
	env := newTestEnv(t)
	w1 := env.registerWorker(t, "alice")
	w2 := env.registerWorker(t, "bob")
	item := env.createItem(t, "claimed")

	got, err := env.Engine.Sync(env.Ctx, w1.ID, item.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got.Status != domain.StatusInProgress || got.AssignedWorkerID == nil || *got.AssignedWorkerID != w1.ID {
		t.Fatalf("item not claimed: %+v", got)
	}
	w1Now, err := env.Engine.Repo.GetWorker(env.Ctx, w1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w1Now.Status != domain.WorkerWorking || w1Now.CurrentItemID == nil || *w1Now.CurrentItemID != item.ID {
		t.Fatalf("worker not bound: %+v", w1Now)
	}

	// same worker re-syncing is idempotent
	if _, err := env.Engine.Sync(env.Ctx, w1.ID, item.ID); err != nil {
		t.Fatalf("re-sync: %v", err)
	}

	// another worker is rejected
	_, err = env.Engine.Sync(env.Ctx, w2.ID, item.ID)
	var ae domain.AlreadyAssignedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AlreadyAssignedError, got %v", err)
	}

	// a busy worker cannot claim a second item
	other := env.createItem(t, "other")
	_, err = env.Engine.Sync(env.Ctx, w1.ID, other.ID)
	var ce domain.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError for busy worker, got %v", err)
	}
}

func TestCompleteReleasesWorker(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")
	item := env.createItem(t, "release me")
	if _, err := env.Engine.Sync(env.Ctx, w.ID, item.ID); err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.Complete(env.Ctx, item.ID, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.AssignedWorkerID != nil {
		t.Fatalf("expected assignment cleared")
	}
	wNow, err := env.Engine.Repo.GetWorker(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if wNow.Status != domain.WorkerIdle || wNow.CurrentItemID != nil {
		t.Fatalf("worker not released: %+v", wNow)
	}
}

func TestCompleteRecordsReleaseOnlyForWorkingWorker(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")

	// assign-only: the worker never started, so nothing is released
	planned := env.createItem(t, "planned")
	if _, err := env.Engine.Assign(env.Ctx, planned.ID, w.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, planned.ID, ""); err != nil {
		t.Fatal(err)
	}
	entry := lastAuditAction(t, env, planned.ID, "item.completed")
	if strings.Contains(entry.Details, "released_worker") {
		t.Fatalf("assign-only completion recorded a release: %s", entry.Details)
	}

	// synced: the worker held the item, so the release is recorded
	active := env.createItem(t, "active")
	if _, err := env.Engine.Sync(env.Ctx, w.ID, active.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, active.ID, w.ID); err != nil {
		t.Fatal(err)
	}
	entry = lastAuditAction(t, env, active.ID, "item.completed")
	if !strings.Contains(entry.Details, "released_worker") {
		t.Fatalf("synced completion missing release record: %s", entry.Details)
	}
}

func lastAuditAction(t *testing.T, env testEnv, itemID, action string) domain.AuditEntry {
	t.Helper()
	entries, err := env.Engine.Repo.AuditForItem(env.Ctx, itemID)
	if err != nil {
		t.Fatal(err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == action {
			return entries[i]
		}
	}
	t.Fatalf("no %s entry for item", action)
	return domain.AuditEntry{}
}

func TestCancelReleasesWorkerAndIgnoresDependencies(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")
	dep := env.createItem(t, "dep")
	item := env.createItem(t, "doomed", dep.ID)
	if _, err := env.Engine.Sync(env.Ctx, w.ID, item.ID); err != nil {
		t.Fatal(err)
	}
	// dep is still open; cancel must not care
	got, err := env.Engine.Cancel(env.Ctx, item.ID, "scope cut", w.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	wNow, err := env.Engine.Repo.GetWorker(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if wNow.Status != domain.WorkerIdle || wNow.CurrentItemID != nil {
		t.Fatalf("worker not released: %+v", wNow)
	}
}

func TestAssignAndForceReassign(t *testing.T) {
	env := newTestEnv(t)
	w1 := env.registerWorker(t, "alice")
	w2 := env.registerWorker(t, "bob")
	item := env.createItem(t, "contested")

	if _, err := env.Engine.Assign(env.Ctx, item.ID, w1.ID, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// plain assign stays pending
	got, err := env.Engine.Repo.GetItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("assign changed status to %s", got.Status)
	}

	_, err = env.Engine.Assign(env.Ctx, item.ID, w2.ID, false)
	var ae domain.AlreadyAssignedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AlreadyAssignedError, got %v", err)
	}
	reassigned, err := env.Engine.Assign(env.Ctx, item.ID, w2.ID, true)
	if err != nil {
		t.Fatalf("force reassign: %v", err)
	}
	if reassigned.AssignedWorkerID == nil || *reassigned.AssignedWorkerID != w2.ID {
		t.Fatalf("expected w2 after force")
	}
}

func TestBatchUpdateAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.createItem(t, "A")
	b := env.createItem(t, "B")
	if _, err := env.Engine.Complete(env.Ctx, b.ID, ""); err != nil {
		t.Fatal(err)
	}

	// B is terminal, so the whole batch must fail
	_, err := env.Engine.BatchUpdateStatus(env.Ctx, []string{a.ID, b.ID}, domain.StatusInProgress, "")
	var be domain.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if be.Index != 1 || be.ID != b.ID {
		t.Fatalf("wrong offender: %+v", be)
	}
	got, err := env.Engine.Repo.GetItem(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("A mutated despite failed batch: %s", got.Status)
	}

	updated, err := env.Engine.BatchUpdateStatus(env.Ctx, []string{a.ID}, domain.StatusInProgress, "")
	if err != nil || len(updated) != 1 {
		t.Fatalf("valid batch: %v", err)
	}
}

func TestBatchCompleteGatedByDependency(t *testing.T) {
	env := newTestEnv(t)
	x := env.createItem(t, "X")
	dep := env.createItem(t, "dep")
	y := env.createItem(t, "Y", dep.ID)
	z := env.createItem(t, "Z")

	_, err := env.Engine.BatchUpdateStatus(env.Ctx, []string{x.ID, y.ID, z.ID}, domain.StatusCompleted, "")
	var be domain.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if be.Index != 1 || be.ID != y.ID {
		t.Fatalf("wrong offender: %+v", be)
	}
	for _, id := range []string{x.ID, y.ID, z.ID} {
		got, err := env.Engine.Repo.GetItem(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusPending {
			t.Fatalf("item %s mutated to %s despite failed batch", got.Ref(), got.Status)
		}
	}
}

func TestBatchAssignAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")
	a := env.createItem(t, "A")
	b := env.createItem(t, "B")
	if _, err := env.Engine.Cancel(env.Ctx, b.ID, "", ""); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.BatchAssign(env.Ctx, []string{a.ID, b.ID}, w.ID, false)
	var be domain.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	got, err := env.Engine.Repo.GetItem(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedWorkerID != nil {
		t.Fatalf("A assigned despite failed batch")
	}

	updated, err := env.Engine.BatchAssign(env.Ctx, []string{a.ID}, w.ID, false)
	if err != nil || len(updated) != 1 {
		t.Fatalf("valid batch: %v", err)
	}
}

func TestDisplayIDsSequentialAndNeverReused(t *testing.T) {
	env := newTestEnv(t)
	a := env.createItem(t, "one")
	b := env.createItem(t, "two")
	c := env.createItem(t, "three")
	if a.DisplayID != 1 || b.DisplayID != 2 || c.DisplayID != 3 {
		t.Fatalf("expected 1,2,3 got %d,%d,%d", a.DisplayID, b.DisplayID, c.DisplayID)
	}
	if _, err := env.Engine.Cancel(env.Ctx, b.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	d := env.createItem(t, "four")
	if d.DisplayID != 4 {
		t.Fatalf("display id reused: got %d", d.DisplayID)
	}
	if a.Ref() != "T-1" {
		t.Fatalf("ref = %s", a.Ref())
	}

	w := env.registerWorker(t, "alice")
	if w.DisplayID != 1 || w.Ref() != "W-1" {
		t.Fatalf("worker sequence independent of items: %+v", w)
	}
}

func TestWorkerNameUnique(t *testing.T) {
	env := newTestEnv(t)
	env.registerWorker(t, "alice")
	_, err := env.Engine.RegisterWorker(env.Ctx, "alice")
	var ce domain.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
}

func TestSetWorkerStatusRejectedWhileWorking(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")
	item := env.createItem(t, "busy")
	if _, err := env.Engine.Sync(env.Ctx, w.ID, item.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SetWorkerStatus(env.Ctx, w.ID, domain.WorkerOffline)
	var ce domain.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, item.ID, w.ID); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.SetWorkerStatus(env.Ctx, w.ID, domain.WorkerOffline)
	if err != nil || got.Status != domain.WorkerOffline {
		t.Fatalf("offline after release: %v", err)
	}
}

func TestAuditTrailAppended(t *testing.T) {
	env := newTestEnv(t)
	w := env.registerWorker(t, "alice")
	item := env.createItem(t, "tracked")
	if _, err := env.Engine.Sync(env.Ctx, w.ID, item.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, item.ID, w.ID); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.AuditForItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"item.created", "item.synced", "item.completed"}
	for i, entry := range entries {
		if entry.Action != want[i] {
			t.Fatalf("entry %d action = %s, want %s", i, entry.Action, want[i])
		}
	}
}

func TestNotFoundErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateStatus(env.Ctx, "no-such-id", domain.StatusInProgress, "")
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
