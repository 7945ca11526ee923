package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"questline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,campaign_id,parent_id,character_id,name,description,goal_points,current_points,display_order,is_completed,completed_at,is_deleted,created_by_user_id,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var parentID, description, completedAt sql.NullString
	var isCompleted, isDeleted int
	err := scan(&p.ID, &p.CampaignID, &parentID, &p.CharacterID, &p.Name, &description,
		&p.GoalPoints, &p.CurrentPoints, &p.DisplayOrder, &isCompleted, &completedAt,
		&isDeleted, &p.CreatedByUserID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	if description.Valid {
		p.Description = description.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	p.IsCompleted = isCompleted != 0
	p.IsDeleted = isDeleted != 0
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CampaignID, nullableStringPtr(p.ParentID), p.CharacterID, p.Name, nullable(p.Description),
		p.GoalPoints, p.CurrentPoints, p.DisplayOrder, boolInt(p.IsCompleted), nullableStringPtr(p.CompletedAt),
		boolInt(p.IsDeleted), p.CreatedByUserID, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject returns a non-deleted project.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? AND is_deleted=0`, id)
	return scanProject(row.Scan)
}

// GetProjectAny returns a project regardless of its deletion flag. Used
// by history reads, where audit continuity outlives the record.
func (r Repo) GetProjectAny(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? AND is_deleted=0`, id)
	return scanProject(row.Scan)
}

// GetProjectAnyTx ignores the deleted flag, for audit writes that run
// after a soft delete in the same transaction.
func (r Repo) GetProjectAnyTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

// UpdateProject writes all mutable fields. character_id and campaign_id
// are immutable and deliberately absent from the statement.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET parent_id=?, name=?, description=?, goal_points=?, current_points=?, display_order=?, is_completed=?, completed_at=?, updated_at=? WHERE id=? AND is_deleted=0`,
		nullableStringPtr(p.ParentID), p.Name, nullable(p.Description), p.GoalPoints, p.CurrentPoints,
		p.DisplayOrder, boolInt(p.IsCompleted), nullableStringPtr(p.CompletedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProgress is a bare field update. The goal invariant is enforced
// one layer up so it is checked exactly once per request.
func (r Repo) UpdateProgress(ctx context.Context, tx *sql.Tx, id string, newPoints int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET current_points=?, updated_at=? WHERE id=? AND is_deleted=0`,
		newPoints, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDisplayOrder(ctx context.Context, tx *sql.Tx, id string, order int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET display_order=?, updated_at=? WHERE id=? AND is_deleted=0`,
		order, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ProjectFilters struct {
	CampaignID       string
	CharacterID      string
	IncludeDeleted   bool
	IncludeCompleted bool
}

// ListProjects returns a flat list ordered for stable sibling display.
// Tree building is an engine concern.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"campaign_id=?"}
	args := []any{f.CampaignID}
	if f.CharacterID != "" {
		clauses = append(clauses, "character_id=?")
		args = append(args, f.CharacterID)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "is_deleted=0")
	}
	if !f.IncludeCompleted {
		clauses = append(clauses, "is_completed=0")
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY display_order ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Siblings returns the non-deleted projects sharing a parent (nil for
// roots) within a campaign, in display order.
func (r Repo) Siblings(ctx context.Context, campaignID string, parentID *string) ([]domain.Project, error) {
	clause := "parent_id IS NULL"
	args := []any{campaignID}
	if parentID != nil {
		clause = "parent_id=?"
		args = append(args, *parentID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE campaign_id=? AND ` + clause +
		` AND is_deleted=0 ORDER BY display_order ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Descendants returns the strict non-deleted descendants of a project,
// one bounded recursive query regardless of tree shape.
func (r Repo) Descendants(ctx context.Context, id string, maxDepth int) ([]domain.Project, error) {
	query := `WITH RECURSIVE subtree(id, lvl) AS (
    SELECT id, 0 FROM projects WHERE id=?
    UNION ALL
    SELECT p.id, s.lvl+1 FROM projects p
    JOIN subtree s ON p.parent_id=s.id
    WHERE p.is_deleted=0 AND s.lvl < ?
)
SELECT ` + projectColumns + ` FROM projects
WHERE id IN (SELECT id FROM subtree WHERE lvl > 0)
ORDER BY display_order ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, id, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Ancestors returns the parent chain of a project, nearest first.
func (r Repo) Ancestors(ctx context.Context, id string, maxDepth int) ([]domain.Project, error) {
	query := `WITH RECURSIVE chain(id, parent_id, lvl) AS (
    SELECT id, parent_id, 0 FROM projects WHERE id=?
    UNION ALL
    SELECT p.id, p.parent_id, c.lvl+1 FROM projects p
    JOIN chain c ON p.id=c.parent_id
    WHERE c.lvl < ?
)
SELECT ` + projectColumns + ` FROM projects
JOIN (SELECT id AS cid, lvl FROM chain WHERE lvl > 0) ON id=cid
ORDER BY lvl ASC`
	rows, err := r.DB.QueryContext(ctx, query, id, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Depth returns the number of parent links from a project to its root.
func (r Repo) Depth(ctx context.Context, id string, maxDepth int) (int, error) {
	ancestors, err := r.Ancestors(ctx, id, maxDepth)
	if err != nil {
		return 0, err
	}
	return len(ancestors), nil
}

// MaxSubtreeDepth returns the longest parent-link chain below a project
// (0 for a leaf), counting non-deleted descendants only.
func (r Repo) MaxSubtreeDepth(ctx context.Context, id string, maxDepth int) (int, error) {
	query := `WITH RECURSIVE subtree(id, lvl) AS (
    SELECT id, 0 FROM projects WHERE id=?
    UNION ALL
    SELECT p.id, s.lvl+1 FROM projects p
    JOIN subtree s ON p.parent_id=s.id
    WHERE p.is_deleted=0 AND s.lvl < ?
)
SELECT COALESCE(MAX(lvl), 0) FROM subtree`
	var depth int
	if err := r.DB.QueryRowContext(ctx, query, id, maxDepth).Scan(&depth); err != nil {
		return 0, err
	}
	return depth, nil
}

// SoftDeleteSubtree marks a project and every non-deleted descendant
// deleted in one statement. Callers own the transaction so the cascade
// and its history entries commit or roll back together.
func (r Repo) SoftDeleteSubtree(ctx context.Context, tx *sql.Tx, id string, maxDepth int, updatedAt string) ([]string, error) {
	cte := `WITH RECURSIVE subtree(id, lvl) AS (
    SELECT id, 0 FROM projects WHERE id=? AND is_deleted=0
    UNION ALL
    SELECT p.id, s.lvl+1 FROM projects p
    JOIN subtree s ON p.parent_id=s.id
    WHERE p.is_deleted=0 AND s.lvl < ?
)`
	rows, err := tx.QueryContext(ctx, cte+` SELECT id FROM subtree ORDER BY lvl ASC, id ASC`, id, maxDepth)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, pid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, cte+` UPDATE projects SET is_deleted=1, updated_at=? WHERE id IN (SELECT id FROM subtree)`,
		id, maxDepth, updatedAt)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); int(n) != len(ids) {
		return nil, fmt.Errorf("cascade delete touched %d rows, expected %d", n, len(ids))
	}
	return ids, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
