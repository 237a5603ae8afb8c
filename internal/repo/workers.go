package repo

import (
	"context"
	"database/sql"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

const workerColumns = `id,display_id,name,status,current_item_id,last_active_at`

func scanWorker(row rowScanner) (domain.Worker, error) {
	var w domain.Worker
	var currentItem sql.NullString
	err := row.Scan(&w.ID, &w.DisplayID, &w.Name, &w.Status, &currentItem, &w.LastActiveAt)
	if err == sql.ErrNoRows {
		return w, domain.ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if currentItem.Valid {
		w.CurrentItemID = &currentItem.String
	}
	return w, nil
}

func (r Repo) InsertWorkerTx(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workers(`+workerColumns+`) VALUES (?,?,?,?,?,?)`,
		w.ID, w.DisplayID, w.Name, w.Status, nullableStringPtr(w.CurrentItemID), w.LastActiveAt)
	return err
}

func (r Repo) UpdateWorkerTx(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET name=?, status=?, current_item_id=?, last_active_at=? WHERE id=?`,
		w.Name, w.Status, nullableStringPtr(w.CurrentItemID), w.LastActiveAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	return scanWorker(tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

func (r Repo) GetWorkerByDisplayID(ctx context.Context, displayID int64) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE display_id=?`, displayID))
}

func (r Repo) GetWorkerByName(ctx context.Context, name string) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE name=?`, name))
}

func (r Repo) GetWorkerByNameTx(ctx context.Context, tx *sql.Tx, name string) (domain.Worker, error) {
	return scanWorker(tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE name=?`, name))
}

func (r Repo) WorkersByIDPrefix(ctx context.Context, prefix string) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id LIKE ? || '%' ORDER BY display_id LIMIT 10`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func (r Repo) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY display_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func collectWorkers(rows *sql.Rows) ([]domain.Worker, error) {
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
