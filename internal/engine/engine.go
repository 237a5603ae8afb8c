// Package engine orchestrates worker lifecycle and work item state. Every
// mutation runs inside a single store transaction; SQLite's single-writer
// locking is the only concurrency primitive.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/captaindev404/prd-tools-sub010/internal/audit"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/graph"
	"github.com/captaindev404/prd-tools-sub010/internal/repo"
)

type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Graph graph.Graph
	Audit audit.Writer
	Now   func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:    db,
		Repo:  r,
		Graph: graph.Graph{Repo: r},
		Audit: audit.Writer{DB: db},
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateItemOptions are parameters for creating a work item.
type CreateItemOptions struct {
	Title            string
	Description      string
	Priority         string
	ParentID         string
	Epic             string
	EstimatedMinutes int
	DependsOn        []string
	Actor            string
}

func (e Engine) CreateItem(ctx context.Context, opts CreateItemOptions) (domain.WorkItem, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.WorkItem{}, domain.ConstraintError{Reason: "title is required"}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.WorkItem{}, domain.ConstraintError{Reason: "unknown priority " + opts.Priority}
	}
	now := e.nowStr()
	t := domain.WorkItem{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StatusPending,
		Priority:    opts.Priority,
		Epic:        opts.Epic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ParentID != "" {
		t.ParentID = &opts.ParentID
	}
	if opts.EstimatedMinutes > 0 {
		t.EstimatedMinutes = &opts.EstimatedMinutes
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	if opts.ParentID != "" {
		if _, err := e.Repo.GetItemTx(ctx, tx, opts.ParentID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindItem, Token: opts.ParentID}
			}
			return domain.WorkItem{}, err
		}
	}
	t.DisplayID, err = e.Repo.NextDisplayID(ctx, tx, domain.KindItem)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Repo.InsertItemTx(ctx, tx, t); err != nil {
		return domain.WorkItem{}, err
	}
	for _, dep := range opts.DependsOn {
		if err := e.Graph.AddDependency(ctx, tx, t.ID, dep); err != nil {
			return domain.WorkItem{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, "item.created", t.ID, opts.Actor, audit.Details{"title": t.Title, "display_id": t.Ref()}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	t.DependsOn = opts.DependsOn
	return t, nil
}

// RegisterWorker creates a worker with a unique name.
func (e Engine) RegisterWorker(ctx context.Context, name string) (domain.Worker, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Worker{}, domain.ConstraintError{Reason: "worker name is required"}
	}
	w := domain.Worker{
		ID:           uuid.New().String(),
		Name:         name,
		Status:       domain.WorkerIdle,
		LastActiveAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	// checked under the write lock, so a racing duplicate cannot slip past
	// to the UNIQUE constraint
	if _, err := e.Repo.GetWorkerByNameTx(ctx, tx, name); err == nil {
		return domain.Worker{}, domain.ConstraintError{Reason: "worker name " + name + " already registered"}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Worker{}, err
	}
	w.DisplayID, err = e.Repo.NextDisplayID(ctx, tx, domain.KindWorker)
	if err != nil {
		return domain.Worker{}, err
	}
	if err := e.Repo.InsertWorkerTx(ctx, tx, w); err != nil {
		return domain.Worker{}, err
	}
	if err := e.Audit.Append(ctx, tx, "worker.registered", "", w.ID, audit.Details{"name": w.Name, "display_id": w.Ref()}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// SetWorkerStatus moves a worker between idle, blocked and offline. Working
// is entered only through Sync.
func (e Engine) SetWorkerStatus(ctx context.Context, workerID, status string) (domain.Worker, error) {
	switch status {
	case domain.WorkerIdle, domain.WorkerBlocked, domain.WorkerOffline:
	default:
		return domain.Worker{}, domain.ConstraintError{Reason: "worker status must be idle, blocked or offline"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Worker{}, domain.NotFoundError{Kind: domain.KindWorker, Token: workerID}
		}
		return domain.Worker{}, err
	}
	if w.CurrentItemID != nil {
		return domain.Worker{}, domain.ConstraintError{Reason: "worker " + w.Ref() + " is working on an item; complete or cancel it first"}
	}
	w.Status = status
	w.LastActiveAt = e.nowStr()
	if err := e.Repo.UpdateWorkerTx(ctx, tx, w); err != nil {
		return domain.Worker{}, err
	}
	if err := e.Audit.Append(ctx, tx, "worker.status", "", w.ID, audit.Details{"status": status}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// transitionAllowed encodes the work item state machine:
// pending -> in_progress -> review -> completed, blocked reachable from
// pending/in_progress and returning to pending (or claimed directly),
// cancelled from any non-terminal state. Completion is additionally gated
// by CanComplete at the call sites.
func transitionAllowed(from, to string) bool {
	if from == to {
		return false
	}
	if to == domain.StatusCancelled {
		return !domain.TerminalStatus(from)
	}
	switch from {
	case domain.StatusPending:
		return to == domain.StatusInProgress || to == domain.StatusBlocked || to == domain.StatusCompleted
	case domain.StatusInProgress:
		return to == domain.StatusReview || to == domain.StatusBlocked || to == domain.StatusCompleted
	case domain.StatusBlocked:
		return to == domain.StatusPending || to == domain.StatusInProgress
	case domain.StatusReview:
		return to == domain.StatusCompleted
	}
	return false
}

// updateStatusTx is the single code path for status changes. Completion is
// gated on the dependency graph; completion and cancellation release the
// assigned worker in the same transaction.
func (e Engine) updateStatusTx(ctx context.Context, tx *sql.Tx, itemID, status, actor, reason string) (domain.WorkItem, error) {
	if !domain.ValidItemStatus(status) {
		return domain.WorkItem{}, domain.ConstraintError{Reason: "unknown status " + status}
	}
	t, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindItem, Token: itemID}
		}
		return domain.WorkItem{}, err
	}
	if !transitionAllowed(t.Status, status) {
		return domain.WorkItem{}, domain.TransitionError{From: t.Status, To: status}
	}
	if status == domain.StatusCompleted {
		ok, incomplete, err := e.Graph.CanComplete(ctx, tx, t.ID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if !ok {
			return domain.WorkItem{}, domain.TransitionError{
				From:   t.Status,
				To:     status,
				Reason: "dependencies not completed: " + strings.Join(incomplete, ", "),
			}
		}
	}
	from := t.Status
	now := e.nowStr()
	t.Status = status
	t.UpdatedAt = now
	if status == domain.StatusCompleted {
		t.CompletedAt = &now
	}
	released := ""
	if status == domain.StatusCompleted || status == domain.StatusCancelled {
		released, err = e.releaseWorkerTx(ctx, tx, &t)
		if err != nil {
			return domain.WorkItem{}, err
		}
	}
	if err := e.Repo.UpdateItemTx(ctx, tx, t); err != nil {
		return domain.WorkItem{}, err
	}
	details := audit.Details{"from": from, "to": status}
	if reason != "" {
		details["reason"] = reason
	}
	if released != "" {
		details["released_worker"] = released
	}
	action := "item.status"
	switch status {
	case domain.StatusCompleted:
		action = "item.completed"
	case domain.StatusCancelled:
		action = "item.cancelled"
	}
	if err := e.Audit.Append(ctx, tx, action, t.ID, actor, details); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// releaseWorkerTx clears the item/worker binding both ways. The returned id
// is set only when the worker was actually moved off this item; an
// assign-only worker never held it, so nothing is reported released.
func (e Engine) releaseWorkerTx(ctx context.Context, tx *sql.Tx, t *domain.WorkItem) (string, error) {
	if t.AssignedWorkerID == nil {
		return "", nil
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, *t.AssignedWorkerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.AssignedWorkerID = nil
			return "", nil
		}
		return "", err
	}
	released := ""
	if w.CurrentItemID != nil && *w.CurrentItemID == t.ID {
		w.CurrentItemID = nil
		w.Status = domain.WorkerIdle
		w.LastActiveAt = e.nowStr()
		if err := e.Repo.UpdateWorkerTx(ctx, tx, w); err != nil {
			return "", err
		}
		released = w.ID
	}
	t.AssignedWorkerID = nil
	return released, nil
}

// UpdateStatus applies one status transition inside its own transaction.
func (e Engine) UpdateStatus(ctx context.Context, itemID, status, actor string) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	t, err := e.updateStatusTx(ctx, tx, itemID, status, actor, "")
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// assignTx sets the item's assigned worker without touching status.
func (e Engine) assignTx(ctx context.Context, tx *sql.Tx, itemID, workerID string, force bool) (domain.WorkItem, error) {
	t, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindItem, Token: itemID}
		}
		return domain.WorkItem{}, err
	}
	if domain.TerminalStatus(t.Status) {
		return domain.WorkItem{}, domain.TransitionError{From: t.Status, To: t.Status, Reason: "cannot assign a " + t.Status + " item"}
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindWorker, Token: workerID}
		}
		return domain.WorkItem{}, err
	}
	if t.AssignedWorkerID != nil && *t.AssignedWorkerID != w.ID && !force {
		return domain.WorkItem{}, domain.AlreadyAssignedError{ItemID: t.ID, WorkerID: *t.AssignedWorkerID}
	}
	t.AssignedWorkerID = &w.ID
	t.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateItemTx(ctx, tx, t); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Audit.Append(ctx, tx, "item.assigned", t.ID, w.ID, audit.Details{"worker": w.Name}); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// Assign binds a worker to an item without starting it. An item already
// assigned to a different worker is rejected unless force reassigns it.
func (e Engine) Assign(ctx context.Context, itemID, workerID string, force bool) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	t, err := e.assignTx(ctx, tx, itemID, workerID, force)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// Sync is claim-and-start: in one transaction the item moves to
// in_progress assigned to the worker, and the worker moves to working with
// current_item set. Dependency state is not consulted here; gating happens
// at Complete.
func (e Engine) Sync(ctx context.Context, workerID, itemID string) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindItem, Token: itemID}
		}
		return domain.WorkItem{}, err
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WorkItem{}, domain.NotFoundError{Kind: domain.KindWorker, Token: workerID}
		}
		return domain.WorkItem{}, err
	}
	if t.AssignedWorkerID != nil && *t.AssignedWorkerID != w.ID {
		return domain.WorkItem{}, domain.AlreadyAssignedError{ItemID: t.ID, WorkerID: *t.AssignedWorkerID}
	}
	if w.CurrentItemID != nil && *w.CurrentItemID != t.ID {
		return domain.WorkItem{}, domain.ConstraintError{Reason: "worker " + w.Ref() + " is already working on another item"}
	}
	if t.Status != domain.StatusInProgress {
		if !transitionAllowed(t.Status, domain.StatusInProgress) {
			return domain.WorkItem{}, domain.TransitionError{From: t.Status, To: domain.StatusInProgress}
		}
		t.Status = domain.StatusInProgress
	}
	now := e.nowStr()
	t.AssignedWorkerID = &w.ID
	t.UpdatedAt = now
	w.Status = domain.WorkerWorking
	w.CurrentItemID = &t.ID
	w.LastActiveAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, t); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Repo.UpdateWorkerTx(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Audit.Append(ctx, tx, "item.synced", t.ID, w.ID, audit.Details{"worker": w.Name}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// Complete finishes an item. Fails with a TransitionError while any
// dependency is incomplete; otherwise stamps completed_at and releases the
// assigned worker to idle in the same transaction.
func (e Engine) Complete(ctx context.Context, itemID, actor string) (domain.WorkItem, error) {
	return e.UpdateStatus(ctx, itemID, domain.StatusCompleted, actor)
}

// Cancel aborts an item from any non-terminal state. Dependency state is
// never consulted; the reason lands in the audit log and any assigned
// worker is released atomically.
func (e Engine) Cancel(ctx context.Context, itemID, reason, actor string) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	t, err := e.updateStatusTx(ctx, tx, itemID, domain.StatusCancelled, actor, reason)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return t, nil
}

// AddDependency records "itemID depends on dependsOnID" after cycle
// detection. On rejection the graph is untouched.
func (e Engine) AddDependency(ctx context.Context, itemID, dependsOnID, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Graph.AddDependency(ctx, tx, itemID, dependsOnID); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, "dependency.added", itemID, actor, audit.Details{"depends_on": dependsOnID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveDependency deletes one depends-on edge.
func (e Engine) RemoveDependency(ctx context.Context, itemID, dependsOnID, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Graph.RemoveDependency(ctx, tx, itemID, dependsOnID); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, "dependency.removed", itemID, actor, audit.Details{"depends_on": dependsOnID}); err != nil {
		return err
	}
	return tx.Commit()
}

// BatchUpdateStatus applies one status to every item inside a single
// transaction. The first failure aborts the whole batch and is returned
// wrapped with the offending index and id.
func (e Engine) BatchUpdateStatus(ctx context.Context, itemIDs []string, status, actor string) ([]domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	updated := make([]domain.WorkItem, 0, len(itemIDs))
	for i, id := range itemIDs {
		t, err := e.updateStatusTx(ctx, tx, id, status, actor, "")
		if err != nil {
			return nil, domain.BatchError{Index: i, ID: id, Err: err}
		}
		updated = append(updated, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// BatchAssign assigns one worker to every item inside a single
// transaction, all-or-nothing.
func (e Engine) BatchAssign(ctx context.Context, itemIDs []string, workerID string, force bool) ([]domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	updated := make([]domain.WorkItem, 0, len(itemIDs))
	for i, id := range itemIDs {
		t, err := e.assignTx(ctx, tx, id, workerID, force)
		if err != nil {
			return nil, domain.BatchError{Index: i, ID: id, Err: err}
		}
		updated = append(updated, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}
