// Package history appends the audit trail. Entries are insert-only:
// nothing in this repository updates or deletes a row once written.
package history

import (
	"context"
	"database/sql"
	"time"

	"questline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records one mutation inside the caller's transaction, so an
// entry never exists without its state change and vice versa.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) error {
	ts := e.CreatedAt
	if ts == "" {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		ts = now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO project_history(project_id,user_id,action,previous_points,new_points,notes,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ProjectID, e.UserID, e.Action, e.PreviousPoints, e.NewPoints, nullable(e.Notes), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
