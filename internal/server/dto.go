package server

import (
	"questline/internal/domain"
)

// Request payloads

type CreateCampaignRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type CreateCharacterRequest struct {
	Name        string `json:"name"`
	OwnerUserID string `json:"owner_user_id"`
}

type UpsertMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"player,gamemaster"`
}

type CreateProjectRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	GoalPoints    int     `json:"goal_points"`
	CurrentPoints int     `json:"current_points,omitempty"`
	CharacterID   string  `json:"character_id"`
	ParentID      *string `json:"parent_id,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// UpdateProjectRequest deliberately has no character_id field: the
// originating character never changes after creation. parent_id set to
// null promotes the project to root.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	GoalPoints  *int    `json:"goal_points,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type ProgressRequest struct {
	CurrentPoints *int    `json:"current_points,omitempty"`
	IncrementBy   *int    `json:"increment_by,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type CompleteProjectRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type ReorderProjectRequest struct {
	NewOrder  *int    `json:"new_order,omitempty"`
	MoveAfter *string `json:"move_after,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin,omitempty"`
}

// Response payloads

type CampaignResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type CharacterResponse struct {
	ID          string `json:"id"`
	CampaignID  string `json:"campaign_id"`
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MembershipResponse struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role" enum:"player,gamemaster"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID            string  `json:"id"`
	CampaignID    string  `json:"campaign_id"`
	ParentID      *string `json:"parent_id,omitempty"`
	CharacterID   string  `json:"character_id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	GoalPoints    int     `json:"goal_points"`
	CurrentPoints int     `json:"current_points"`
	DisplayOrder  int     `json:"display_order"`
	IsCompleted   bool    `json:"is_completed"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type AggregateResponse struct {
	ProjectID    string  `json:"project_id"`
	TotalCurrent int     `json:"total_current"`
	TotalGoal    int     `json:"total_goal"`
	Percent      float64 `json:"percent"`
}

type HistoryEntryResponse struct {
	ID             int64  `json:"id"`
	ProjectID      string `json:"project_id"`
	UserID         string `json:"user_id"`
	Action         string `json:"action" enum:"created,updated-progress,updated-goal,completed,deleted"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type ProjectDetailResponse struct {
	Project ProjectResponse        `json:"project"`
	History []HistoryEntryResponse `json:"history,omitempty"`
}

type ProgressResponse struct {
	Project   ProjectResponse   `json:"project"`
	Aggregate AggregateResponse `json:"aggregate"`
}

type ProjectTreeNode struct {
	Project  ProjectResponse   `json:"project"`
	Children []ProjectTreeNode `json:"children"`
}

type CampaignStatusResponse struct {
	CampaignID        string  `json:"campaign_id"`
	Projects          int     `json:"projects"`
	CompletedProjects int     `json:"completed_projects"`
	TotalCurrent      int     `json:"total_current"`
	TotalGoal         int     `json:"total_goal"`
	Percent           float64 `json:"percent"`
}

type MeResponse struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
	Source string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedHistory struct {
	Items      []HistoryEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func campaignResponse(c domain.Campaign) CampaignResponse {
	return CampaignResponse(c)
}

func characterResponse(c domain.Character) CharacterResponse {
	return CharacterResponse(c)
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse{
		CampaignID: m.CampaignID,
		UserID:     m.UserID,
		Role:       m.Role,
		CreatedAt:  m.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:            p.ID,
		CampaignID:    p.CampaignID,
		ParentID:      p.ParentID,
		CharacterID:   p.CharacterID,
		Name:          p.Name,
		Description:   p.Description,
		GoalPoints:    p.GoalPoints,
		CurrentPoints: p.CurrentPoints,
		DisplayOrder:  p.DisplayOrder,
		IsCompleted:   p.IsCompleted,
		CompletedAt:   p.CompletedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func aggregateResponse(a domain.AggregateProgress) AggregateResponse {
	return AggregateResponse(a)
}

func historyResponse(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse(e)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapHistory(items []domain.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, historyResponse(e))
	}
	return res
}

func mapTree(nodes []*domain.ProjectNode) []ProjectTreeNode {
	res := make([]ProjectTreeNode, 0, len(nodes))
	for _, n := range nodes {
		res = append(res, ProjectTreeNode{
			Project:  projectResponse(n.Project),
			Children: mapTree(n.Children),
		})
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
