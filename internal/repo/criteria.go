package repo

import (
	"context"
	"database/sql"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

func scanCriterion(row rowScanner) (domain.AcceptanceCriterion, error) {
	var c domain.AcceptanceCriterion
	var completed int
	var completedAt sql.NullString
	err := row.Scan(&c.ItemID, &c.Position, &c.Text, &completed, &completedAt)
	if err == sql.ErrNoRows {
		return c, domain.ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Completed = completed != 0
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	return c, nil
}

// NextCriterionPositionTx returns the next ordinal position for an item's
// checklist (1-based).
func (r Repo) NextCriterionPositionTx(ctx context.Context, tx *sql.Tx, itemID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM acceptance_criteria WHERE item_id=?`, itemID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r Repo) InsertCriterionTx(ctx context.Context, tx *sql.Tx, c domain.AcceptanceCriterion) error {
	completed := 0
	if c.Completed {
		completed = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO acceptance_criteria(item_id,position,text,completed,completed_at) VALUES (?,?,?,?,?)`,
		c.ItemID, c.Position, c.Text, completed, nullableStringPtr(c.CompletedAt))
	return err
}

func (r Repo) GetCriterionTx(ctx context.Context, tx *sql.Tx, itemID string, position int) (domain.AcceptanceCriterion, error) {
	return scanCriterion(tx.QueryRowContext(ctx, `SELECT item_id,position,text,completed,completed_at FROM acceptance_criteria WHERE item_id=? AND position=?`, itemID, position))
}

func (r Repo) SetCriterionCompletedTx(ctx context.Context, tx *sql.Tx, itemID string, position int, completed bool, completedAt *string) error {
	v := 0
	if completed {
		v = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE acceptance_criteria SET completed=?, completed_at=? WHERE item_id=? AND position=?`,
		v, nullableStringPtr(completedAt), itemID, position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r Repo) ListCriteria(ctx context.Context, itemID string) ([]domain.AcceptanceCriterion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT item_id,position,text,completed,completed_at FROM acceptance_criteria WHERE item_id=? ORDER BY position ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AcceptanceCriterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CriteriaProgress returns (done, total) for an item's checklist.
func (r Repo) CriteriaProgress(ctx context.Context, itemID string) (int, int, error) {
	var done, total int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(completed),0), COUNT(*) FROM acceptance_criteria WHERE item_id=?`, itemID).Scan(&done, &total)
	return done, total, err
}
