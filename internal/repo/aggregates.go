package repo

import (
	"context"
	"database/sql"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

func (r Repo) CountItemsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
}

func (r Repo) CountItemsByPriority(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT priority, COUNT(*) FROM work_items GROUP BY priority`)
}

func (r Repo) CountWorkersByStatus(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT status, COUNT(*) FROM workers GROUP BY status`)
}

func (r Repo) countsBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		res[key] = count
	}
	return res, rows.Err()
}

// EpicSummaries aggregates item counts per epic label. Items without an
// epic are excluded.
func (r Repo) EpicSummaries(ctx context.Context) ([]domain.EpicSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT epic,
		COUNT(*),
		SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		SUM(CASE WHEN status=? THEN 1 ELSE 0 END)
		FROM work_items WHERE epic IS NOT NULL AND epic <> ''
		GROUP BY epic ORDER BY epic`,
		domain.StatusCompleted, domain.StatusInProgress, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EpicSummary
	for rows.Next() {
		var s domain.EpicSummary
		if err := rows.Scan(&s.Epic, &s.Total, &s.Completed, &s.InProgress, &s.Pending); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestAudit returns the most recent audit entries, newest first.
func (r Repo) LatestAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,worker_id,action,details,ts FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var itemID, workerID, details sql.NullString
		if err := rows.Scan(&e.ID, &itemID, &workerID, &e.Action, &details, &e.TS); err != nil {
			return nil, err
		}
		if itemID.Valid {
			e.ItemID = &itemID.String
		}
		if workerID.Valid {
			e.WorkerID = &workerID.String
		}
		if details.Valid {
			e.Details = details.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditForItem returns an item's audit trail, oldest first.
func (r Repo) AuditForItem(ctx context.Context, itemID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,worker_id,action,details,ts FROM audit_log WHERE item_id=? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var iID, wID, details sql.NullString
		if err := rows.Scan(&e.ID, &iID, &wID, &e.Action, &details, &e.TS); err != nil {
			return nil, err
		}
		if iID.Valid {
			e.ItemID = &iID.String
		}
		if wID.Valid {
			e.WorkerID = &wID.String
		}
		if details.Valid {
			e.Details = details.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Stats assembles the aggregate snapshot for the stats verb and the
// dashboard tick.
func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	byStatus, err := r.CountItemsByStatus(ctx)
	if err != nil {
		return s, err
	}
	byPriority, err := r.CountItemsByPriority(ctx)
	if err != nil {
		return s, err
	}
	workers, err := r.CountWorkersByStatus(ctx)
	if err != nil {
		return s, err
	}
	ready, err := r.ReadyItems(ctx)
	if err != nil {
		return s, err
	}
	for _, c := range byStatus {
		s.Total += c
	}
	s.ByStatus = byStatus
	s.ByPriority = byPriority
	s.WorkerCounts = workers
	s.ReadyCount = len(ready)
	return s, nil
}
