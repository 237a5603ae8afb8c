package repo

import (
	"context"
	"database/sql"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

func (r Repo) ListDependsOn(ctx context.Context, itemID string) ([]string, error) {
	return queryIDs(ctx, r.DB.QueryContext, `SELECT depends_on_id FROM dependencies WHERE item_id=? ORDER BY depends_on_id`, itemID)
}

func (r Repo) ListDependsOnTx(ctx context.Context, tx *sql.Tx, itemID string) ([]string, error) {
	return queryIDs(ctx, tx.QueryContext, `SELECT depends_on_id FROM dependencies WHERE item_id=? ORDER BY depends_on_id`, itemID)
}

// ListBlocks is the inverse relation: items that depend on itemID. Derived
// by reverse lookup, never stored redundantly.
func (r Repo) ListBlocks(ctx context.Context, itemID string) ([]string, error) {
	return queryIDs(ctx, r.DB.QueryContext, `SELECT item_id FROM dependencies WHERE depends_on_id=? ORDER BY item_id`, itemID)
}

func (r Repo) ListBlocksTx(ctx context.Context, tx *sql.Tx, itemID string) ([]string, error) {
	return queryIDs(ctx, tx.QueryContext, `SELECT item_id FROM dependencies WHERE depends_on_id=? ORDER BY item_id`, itemID)
}

func (r Repo) DependencyExistsTx(ctx context.Context, tx *sql.Tx, itemID, dependsOnID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM dependencies WHERE item_id=? AND depends_on_id=? LIMIT 1`, itemID, dependsOnID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertDependencyTx(ctx context.Context, tx *sql.Tx, itemID, dependsOnID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(item_id, depends_on_id) VALUES (?,?)`, itemID, dependsOnID)
	return err
}

func (r Repo) RemoveDependencyTx(ctx context.Context, tx *sql.Tx, itemID, dependsOnID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE item_id=? AND depends_on_id=?`, itemID, dependsOnID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncompleteDependenciesTx returns the dependencies of itemID that are not
// yet completed. Empty means the item can complete.
func (r Repo) IncompleteDependenciesTx(ctx context.Context, tx *sql.Tx, itemID string) ([]string, error) {
	return queryIDs(ctx, tx.QueryContext, `SELECT d.depends_on_id FROM dependencies d
		JOIN work_items w ON w.id = d.depends_on_id
		WHERE d.item_id=? AND w.status <> ?
		ORDER BY d.depends_on_id`, itemID, domain.StatusCompleted)
}

// ReadyItems returns pending or deferred-blocked items whose depends-on set
// is empty or fully completed. Re-evaluated on demand against committed
// data; nothing is cached.
func (r Repo) ReadyItems(ctx context.Context) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items
		WHERE status IN (?,?)
		AND NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN work_items dep ON dep.id = d.depends_on_id
			WHERE d.item_id = work_items.id AND dep.status <> ?
		)
		ORDER BY
			CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
			display_id ASC`,
		domain.StatusPending, domain.StatusBlocked, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func queryIDs(ctx context.Context, query queryFunc, q string, args ...any) ([]string, error) {
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
