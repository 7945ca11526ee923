package domain

// Role names as stored in campaign_members. Admin is global and never
// stored per-campaign.
const (
	RolePlayer     = "player"
	RoleGamemaster = "gamemaster"
	RoleAdmin      = "admin"
)

type Campaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Character is the thin registry record the engine depends on for
// ownership checks. Full character sheets live outside this service.
type Character struct {
	ID          string `json:"id"`
	CampaignID  string `json:"campaign_id"`
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Membership struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role" enum:"player,gamemaster"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Project struct {
	ID              string  `json:"id"`
	CampaignID      string  `json:"campaign_id"`
	ParentID        *string `json:"parent_id,omitempty"`
	CharacterID     string  `json:"character_id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	GoalPoints      int     `json:"goal_points"`
	CurrentPoints   int     `json:"current_points"`
	DisplayOrder    int     `json:"display_order"`
	IsCompleted     bool    `json:"is_completed"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	IsDeleted       bool    `json:"is_deleted"`
	CreatedByUserID string  `json:"created_by_user_id"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// History actions. One entry per mutation, never updated or deleted.
const (
	ActionCreated         = "created"
	ActionUpdatedProgress = "updated-progress"
	ActionUpdatedGoal     = "updated-goal"
	ActionCompleted       = "completed"
	ActionDeleted         = "deleted"
)

type HistoryEntry struct {
	ID             int64  `json:"id"`
	ProjectID      string `json:"project_id"`
	UserID         string `json:"user_id"`
	Action         string `json:"action" enum:"created,updated-progress,updated-goal,completed,deleted"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// ProjectNode is a project with its children resolved, as produced by
// the engine's tree transform. Presentation only.
type ProjectNode struct {
	Project
	Children []*ProjectNode `json:"children,omitempty"`
}

// AggregateProgress sums a project and its non-deleted descendants.
type AggregateProgress struct {
	ProjectID    string  `json:"project_id"`
	TotalCurrent int     `json:"total_current"`
	TotalGoal    int     `json:"total_goal"`
	Percent      float64 `json:"percent"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
