package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

// Repo is the entity store. Methods ending in Tx run inside the caller's
// transaction; the rest are snapshot reads of committed data.
type Repo struct {
	DB *sql.DB
}

const itemColumns = `id,display_id,title,description,status,priority,parent_id,epic,assigned_worker_id,estimated_minutes,actual_minutes,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.WorkItem, error) {
	var t domain.WorkItem
	var description, parentID, epic, workerID, completedAt sql.NullString
	var estimated, actual sql.NullInt64
	err := row.Scan(&t.ID, &t.DisplayID, &t.Title, &description, &t.Status, &t.Priority,
		&parentID, &epic, &workerID, &estimated, &actual, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, domain.ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if epic.Valid {
		t.Epic = epic.String
	}
	if workerID.Valid {
		t.AssignedWorkerID = &workerID.String
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedMinutes = &v
	}
	if actual.Valid {
		v := int(actual.Int64)
		t.ActualMinutes = &v
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

// NextDisplayID allocates the next sequential display id for a kind. Runs
// inside the insert transaction so ids are unique, monotonic and never
// reused.
func (r Repo) NextDisplayID(ctx context.Context, tx *sql.Tx, kind domain.EntityKind) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT next_value FROM display_sequences WHERE kind=?`, string(kind)).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, domain.ConstraintError{Reason: fmt.Sprintf("no display sequence for kind %s", kind)}
	}
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE display_sequences SET next_value=? WHERE kind=?`, next+1, string(kind)); err != nil {
		return 0, err
	}
	return next, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, t domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.DisplayID, t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.ParentID), nullable(t.Epic), nullableStringPtr(t.AssignedWorkerID),
		nullableIntPtr(t.EstimatedMinutes), nullableIntPtr(t.ActualMinutes),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, t domain.WorkItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET title=?, description=?, status=?, priority=?, parent_id=?, epic=?, assigned_worker_id=?, estimated_minutes=?, actual_minutes=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.ParentID),
		nullable(t.Epic), nullableStringPtr(t.AssignedWorkerID), nullableIntPtr(t.EstimatedMinutes),
		nullableIntPtr(t.ActualMinutes), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	t, err := scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.DependsOn, err = r.ListDependsOn(ctx, t.ID)
	return t, err
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	t, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.DependsOn, err = r.ListDependsOnTx(ctx, tx, t.ID)
	return t, err
}

func (r Repo) GetItemByDisplayID(ctx context.Context, displayID int64) (domain.WorkItem, error) {
	return scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE display_id=?`, displayID))
}

// ItemsByIDPrefix matches internal ids by prefix, capped so an ambiguous
// one-character token cannot drag the whole table back.
func (r Repo) ItemsByIDPrefix(ctx context.Context, prefix string) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id LIKE ? || '%' ORDER BY display_id LIMIT 10`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ItemFilters narrows ListItems. Zero values mean "no filter".
type ItemFilters struct {
	Status   string
	Epic     string
	Priority string
	WorkerID string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Epic != "" {
		clauses = append(clauses, "epic=?")
		args = append(args, f.Epic)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "assigned_worker_id=?")
		args = append(args, f.WorkerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items `+where+` ORDER BY display_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.WorkItem, error) {
	var res []domain.WorkItem
	for rows.Next() {
		t, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
