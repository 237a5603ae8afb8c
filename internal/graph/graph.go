// Package graph maintains the directed depends-on relation between work
// items and keeps it acyclic.
package graph

import (
	"context"
	"database/sql"
	"errors"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/repo"
)

type Graph struct {
	Repo repo.Repo
}

// Dependencies pairs the stored relation with its derived inverse.
type Dependencies struct {
	DependsOn []string `json:"depends_on"`
	Blocks    []string `json:"blocks"`
}

// AddDependency validates and inserts one edge inside the caller's
// transaction. It rejects self-edges, duplicates, edges to missing items,
// and edges that would close a cycle; on rejection nothing is written.
func (g Graph) AddDependency(ctx context.Context, tx *sql.Tx, itemID, dependsOnID string) error {
	if itemID == dependsOnID {
		return domain.ConstraintError{Reason: "item cannot depend on itself"}
	}
	if _, err := g.Repo.GetItemTx(ctx, tx, itemID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFoundError{Kind: domain.KindItem, Token: itemID}
		}
		return err
	}
	if _, err := g.Repo.GetItemTx(ctx, tx, dependsOnID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFoundError{Kind: domain.KindItem, Token: dependsOnID}
		}
		return err
	}
	exists, err := g.Repo.DependencyExistsTx(ctx, tx, itemID, dependsOnID)
	if err != nil {
		return err
	}
	if exists {
		return domain.ConstraintError{Reason: "dependency already exists"}
	}
	reachable, err := g.reachable(ctx, tx, dependsOnID, itemID)
	if err != nil {
		return err
	}
	if reachable {
		return domain.CycleError{ItemID: itemID, DependsOnID: dependsOnID}
	}
	return g.Repo.InsertDependencyTx(ctx, tx, itemID, dependsOnID)
}

// RemoveDependency deletes one edge inside the caller's transaction.
func (g Graph) RemoveDependency(ctx context.Context, tx *sql.Tx, itemID, dependsOnID string) error {
	return g.Repo.RemoveDependencyTx(ctx, tx, itemID, dependsOnID)
}

// reachable walks depends-on edges breadth-first from start looking for
// target. Explicit worklist + visited set: bounded to O(V+E) and immune to
// stack overflow on deep graphs.
func (g Graph) reachable(ctx context.Context, tx *sql.Tx, start, target string) (bool, error) {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true, nil
		}
		next, err := g.Repo.ListDependsOnTx(ctx, tx, cur)
		if err != nil {
			return false, err
		}
		for _, id := range next {
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	return false, nil
}

// ListDependencies returns an item's depends-on set and the derived blocks
// set (items that depend on it).
func (g Graph) ListDependencies(ctx context.Context, itemID string) (Dependencies, error) {
	dependsOn, err := g.Repo.ListDependsOn(ctx, itemID)
	if err != nil {
		return Dependencies{}, err
	}
	blocks, err := g.Repo.ListBlocks(ctx, itemID)
	if err != nil {
		return Dependencies{}, err
	}
	return Dependencies{DependsOn: dependsOn, Blocks: blocks}, nil
}

// Ready computes the ready frontier: pending (or deferred-blocked) items
// whose dependencies are all completed. Snapshot read, never cached.
func (g Graph) Ready(ctx context.Context) ([]domain.WorkItem, error) {
	return g.Repo.ReadyItems(ctx)
}

// CanComplete reports whether every dependency of the item is completed.
// Runs inside the completing transaction so the answer cannot go stale
// between check and commit.
func (g Graph) CanComplete(ctx context.Context, tx *sql.Tx, itemID string) (bool, []string, error) {
	incomplete, err := g.Repo.IncompleteDependenciesTx(ctx, tx, itemID)
	if err != nil {
		return false, nil, err
	}
	return len(incomplete) == 0, incomplete, nil
}
