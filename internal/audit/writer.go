package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit entries inside the caller's transaction, so an
// aborted operation leaves no trace.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

// Append writes one audit_log row. itemID and workerID may be empty.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, itemID, workerID string, details Details) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(item_id,worker_id,action,details,ts) VALUES (?,?,?,?,?)`,
		nullable(itemID), nullable(workerID), action, string(data), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
