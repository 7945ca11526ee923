package repo

import (
	"context"
	"strings"

	"questline/internal/domain"
)

// History is insert-only. The insert lives in the history package so it
// always runs inside the mutation's transaction; this file holds reads.

type HistoryFilters struct {
	ProjectID string
	Action    string
	Limit     int
	Cursor    int64
}

func (r Repo) ListHistory(ctx context.Context, f HistoryFilters) ([]domain.HistoryEntry, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := `SELECT id,project_id,user_id,action,previous_points,new_points,COALESCE(notes,''),created_at FROM project_history WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.UserID, &h.Action, &h.PreviousPoints, &h.NewPoints, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HistoryAfter returns entries with IDs greater than the cursor in
// ascending order, for webhook delivery.
func (r Repo) HistoryAfter(ctx context.Context, limit int, cursor int64, campaignID string) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT h.id,h.project_id,h.user_id,h.action,h.previous_points,h.new_points,COALESCE(h.notes,''),h.created_at
FROM project_history h
JOIN projects p ON p.id=h.project_id
WHERE p.campaign_id=? AND h.id>? ORDER BY h.id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.UserID, &h.Action, &h.PreviousPoints, &h.NewPoints, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestHistoryID returns the most recent history ID for a campaign.
func (r Repo) LatestHistoryID(ctx context.Context, campaignID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(h.id),0) FROM project_history h JOIN projects p ON p.id=h.project_id WHERE p.campaign_id=?`, campaignID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CountHistory returns the number of entries recorded for a project.
func (r Repo) CountHistory(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM project_history WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}
