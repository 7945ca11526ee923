package repo

import (
	"context"
	"database/sql"
	"fmt"

	"questline/internal/domain"
)

func (r Repo) InsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO campaigns(id,name,description,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, nullable(c.Description), c.CreatedAt)
	return err
}

func (r Repo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM campaigns WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &desc, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if desc.Valid {
		c.Description = desc.String
	}
	return c, err
}

func (r Repo) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SingleCampaign resolves the implicit campaign for CLI use when the
// workspace holds exactly one.
func (r Repo) SingleCampaign(ctx context.Context) (domain.Campaign, error) {
	campaigns, err := r.ListCampaigns(ctx)
	if err != nil {
		return domain.Campaign{}, err
	}
	if len(campaigns) == 0 {
		return domain.Campaign{}, ErrNotFound
	}
	if len(campaigns) > 1 {
		return domain.Campaign{}, fmt.Errorf("multiple campaigns exist; specify --campaign")
	}
	return campaigns[0], nil
}

func (r Repo) InsertCharacter(ctx context.Context, tx *sql.Tx, c domain.Character) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO characters(id,campaign_id,owner_user_id,name,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.CampaignID, c.OwnerUserID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCharacter(ctx context.Context, id string) (domain.Character, error) {
	var c domain.Character
	err := r.DB.QueryRowContext(ctx, `SELECT id,campaign_id,owner_user_id,name,created_at FROM characters WHERE id=?`, id).
		Scan(&c.ID, &c.CampaignID, &c.OwnerUserID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCharacters(ctx context.Context, campaignID string) ([]domain.Character, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,campaign_id,owner_user_id,name,created_at FROM characters WHERE campaign_id=? ORDER BY created_at ASC, id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Character
	for rows.Next() {
		var c domain.Character
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.OwnerUserID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountLiveProjects returns how many non-deleted projects reference a
// character. A character with live projects may not be deleted.
func (r Repo) CountLiveProjects(ctx context.Context, characterID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE character_id=? AND is_deleted=0`, characterID).Scan(&n)
	return n, err
}

// DeleteCharacter removes a character unless live projects still
// reference it.
func (r Repo) DeleteCharacter(ctx context.Context, id string) error {
	n, err := r.CountLiveProjects(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("character %s has %d active projects and cannot be deleted", id, n)
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM characters WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO campaign_members(campaign_id,user_id,role,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(campaign_id,user_id) DO UPDATE SET role=excluded.role, updated_at=excluded.updated_at`,
		m.CampaignID, m.UserID, m.Role, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMembership(ctx context.Context, campaignID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT campaign_id,user_id,role,created_at,updated_at FROM campaign_members WHERE campaign_id=? AND user_id=?`,
		campaignID, userID).Scan(&m.CampaignID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, campaignID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT campaign_id,user_id,role,created_at,updated_at FROM campaign_members WHERE campaign_id=? ORDER BY created_at ASC, user_id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.CampaignID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) RemoveMembership(ctx context.Context, campaignID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaign_members WHERE campaign_id=? AND user_id=?`, campaignID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
