package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"questline/internal/config"
	"questline/internal/domain"
	"questline/internal/engine/access"
	"questline/internal/engine/hierarchy"
	"questline/internal/history"
	"questline/internal/repo"
)

// Actor is the authenticated identity performing an operation. Role and
// campaign membership are resolved per request, never cached.
type Actor struct {
	UserID string
	Admin  bool
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	History   history.Writer
	Hierarchy hierarchy.Validator
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		History:   history.Writer{DB: db},
		Hierarchy: hierarchy.Validator{Repo: r, MaxDepth: cfg.MaxDepth()},
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) maxDepth() int {
	return e.Hierarchy.MaxDepth
}

// authorize resolves the actor's role, membership, and character
// ownership, then evaluates the access predicate. It runs before any
// hierarchy or progress logic so denial leaks nothing about the tree.
func (e Engine) authorize(ctx context.Context, actor Actor, campaignID, characterID string, op access.Operation) error {
	in := access.Input{UserID: actor.UserID}
	if actor.Admin {
		in.Role = domain.RoleAdmin
		return access.Allowed(in, op)
	}
	m, err := e.Repo.GetMembership(ctx, campaignID, actor.UserID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return storeErr(err)
	}
	if err == nil {
		in.Role = m.Role
		in.IsCampaignMember = true
	}
	if characterID != "" {
		ch, err := e.Repo.GetCharacter(ctx, characterID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return storeErr(err)
		}
		if err == nil && ch.OwnerUserID == actor.UserID {
			in.OwnsCharacter = true
		}
	}
	return access.Allowed(in, op)
}

// InitCampaign creates a campaign with its gamemaster membership.
func (e Engine) InitCampaign(ctx context.Context, id, name, description, gmUserID string) (domain.Campaign, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Campaign{ID: id, Name: name, Description: description, CreatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Campaign{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCampaign(ctx, tx, c); err != nil {
		return domain.Campaign{}, storeErr(err)
	}
	if gmUserID != "" {
		m := domain.Membership{CampaignID: id, UserID: gmUserID, Role: domain.RoleGamemaster, CreatedAt: now, UpdatedAt: now}
		if err := e.Repo.UpsertMembership(ctx, tx, m); err != nil {
			return domain.Campaign{}, storeErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Campaign{}, storeErr(err)
	}
	return c, nil
}

// AddCharacter registers a character in the thin registry.
func (e Engine) AddCharacter(ctx context.Context, campaignID, ownerUserID, name string) (domain.Character, error) {
	if name == "" {
		return domain.Character{}, ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetCampaign(ctx, campaignID); err != nil {
		return domain.Character{}, storeErr(err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Character{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		OwnerUserID: ownerUserID,
		Name:        name,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Character{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCharacter(ctx, tx, c); err != nil {
		return domain.Character{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Character{}, storeErr(err)
	}
	return c, nil
}

// AddMember upserts a campaign membership.
func (e Engine) AddMember(ctx context.Context, campaignID, userID, role string) (domain.Membership, error) {
	if role != domain.RolePlayer && role != domain.RoleGamemaster {
		return domain.Membership{}, ValidationError{Field: "role", Reason: "must be player or gamemaster"}
	}
	if _, err := e.Repo.GetCampaign(ctx, campaignID); err != nil {
		return domain.Membership{}, storeErr(err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Membership{CampaignID: campaignID, UserID: userID, Role: role, CreatedAt: now, UpdatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Membership{}, storeErr(err)
	}
	return m, nil
}

// ProjectCreateOptions are parameters for creating a project.
// CharacterID is required here and absent from the update options: the
// originating character is immutable for accountability.
type ProjectCreateOptions struct {
	CampaignID    string
	Name          string
	Description   string
	GoalPoints    int
	CurrentPoints int
	CharacterID   string
	ParentID      *string
	Notes         string
}

func (e Engine) CreateProject(ctx context.Context, actor Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if err := e.authorize(ctx, actor, opts.CampaignID, opts.CharacterID, access.OpCreate); err != nil {
		return domain.Project{}, err
	}
	if opts.Name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	if opts.CharacterID == "" {
		return domain.Project{}, ValidationError{Field: "character_id", Reason: "required"}
	}
	if opts.GoalPoints < 0 {
		return domain.Project{}, ValidationError{Field: "goal_points", Reason: "must not be negative"}
	}
	if opts.CurrentPoints < 0 {
		return domain.Project{}, NegativeProgressError{Attempted: opts.CurrentPoints}
	}
	if opts.CurrentPoints > opts.GoalPoints {
		return domain.Project{}, GoalExceededError{Goal: opts.GoalPoints, Attempted: opts.CurrentPoints}
	}
	ch, err := e.Repo.GetCharacter(ctx, opts.CharacterID)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	if ch.CampaignID != opts.CampaignID {
		return domain.Project{}, ValidationError{Field: "character_id", Reason: "character belongs to another campaign"}
	}
	if opts.ParentID != nil && *opts.ParentID == "" {
		opts.ParentID = nil
	}
	if err := e.Hierarchy.ValidateNew(ctx, opts.CampaignID, opts.ParentID); err != nil {
		return domain.Project{}, storeErr(err)
	}
	order, err := e.nextDisplayOrder(ctx, opts.CampaignID, opts.ParentID)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:              uuid.New().String(),
		CampaignID:      opts.CampaignID,
		ParentID:        opts.ParentID,
		CharacterID:     opts.CharacterID,
		Name:            opts.Name,
		Description:     opts.Description,
		GoalPoints:      opts.GoalPoints,
		CurrentPoints:   opts.CurrentPoints,
		DisplayOrder:    order,
		CreatedByUserID: actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:      p.ID,
		UserID:         actor.UserID,
		Action:         domain.ActionCreated,
		PreviousPoints: 0,
		NewPoints:      p.CurrentPoints,
		Notes:          opts.Notes,
		CreatedAt:      now,
	}); err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, storeErr(err)
	}
	return p, nil
}

func (e Engine) nextDisplayOrder(ctx context.Context, campaignID string, parentID *string) (int, error) {
	siblings, err := e.Repo.Siblings(ctx, campaignID, parentID)
	if err != nil {
		return 0, err
	}
	order := 0
	for _, s := range siblings {
		if s.DisplayOrder >= order {
			order = s.DisplayOrder + 1
		}
	}
	return order, nil
}

// GetProject returns a project, optionally with its history.
func (e Engine) GetProject(ctx context.Context, actor Actor, id string, includeHistory bool) (domain.Project, []domain.HistoryEntry, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, nil, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, "", access.OpView); err != nil {
		return domain.Project{}, nil, err
	}
	if !includeHistory {
		return p, nil, nil
	}
	entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{ProjectID: id})
	if err != nil {
		return domain.Project{}, nil, storeErr(err)
	}
	return p, entries, nil
}

// ListProjects returns the campaign's projects, flat and display-ordered.
func (e Engine) ListProjects(ctx context.Context, actor Actor, f repo.ProjectFilters) ([]domain.Project, error) {
	if err := e.authorize(ctx, actor, f.CampaignID, "", access.OpView); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListProjects(ctx, f)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// ProjectUpdateOptions encapsulates allowed updates. ParentID with an
// empty string promotes to root; nil leaves the parent unchanged.
type ProjectUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	GoalPoints  *int
	ParentID    *string
	Notes       string
}

func (e Engine) UpdateProject(ctx context.Context, actor Actor, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, p.CharacterID, access.OpUpdate); err != nil {
		return domain.Project{}, err
	}
	goalChanged := false
	previousGoal := p.GoalPoints
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.GoalPoints != nil {
		if *opts.GoalPoints < 0 {
			return domain.Project{}, ValidationError{Field: "goal_points", Reason: "must not be negative"}
		}
		if *opts.GoalPoints < p.CurrentPoints {
			return domain.Project{}, GoalBelowCurrentError{Goal: *opts.GoalPoints, Current: p.CurrentPoints}
		}
		goalChanged = *opts.GoalPoints != p.GoalPoints
		p.GoalPoints = *opts.GoalPoints
	}
	if opts.ParentID != nil {
		var candidate *string
		if *opts.ParentID != "" {
			candidate = opts.ParentID
		}
		if err := e.Hierarchy.ValidateParent(ctx, p, candidate); err != nil {
			return domain.Project{}, storeErr(err)
		}
		p.ParentID = candidate
	}
	now := e.now().UTC().Format(time.RFC3339)
	p.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, storeErr(err)
	}
	if goalChanged {
		if err := e.History.Append(ctx, tx, domain.HistoryEntry{
			ProjectID:      p.ID,
			UserID:         actor.UserID,
			Action:         domain.ActionUpdatedGoal,
			PreviousPoints: previousGoal,
			NewPoints:      p.GoalPoints,
			Notes:          opts.Notes,
			CreatedAt:      now,
		}); err != nil {
			return domain.Project{}, storeErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, storeErr(err)
	}
	return p, nil
}

// ProgressOptions supports both calling conventions: SetTo for absolute
// values, IncrementBy for deltas. Exactly one must be provided.
type ProgressOptions struct {
	ProjectID   string
	SetTo       *int
	IncrementBy *int
	Notes       string
}

// SetProgress writes a progress value and its history entry as one
// transaction. Values beyond the goal are rejected, never clamped.
func (e Engine) SetProgress(ctx context.Context, actor Actor, opts ProgressOptions) (domain.Project, domain.AggregateProgress, error) {
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, p.CharacterID, access.OpProgress); err != nil {
		return domain.Project{}, domain.AggregateProgress{}, err
	}
	if (opts.SetTo == nil) == (opts.IncrementBy == nil) {
		return domain.Project{}, domain.AggregateProgress{}, ValidationError{Field: "progress", Reason: "exactly one of current_points or increment_by required"}
	}
	target := p.CurrentPoints
	if opts.SetTo != nil {
		target = *opts.SetTo
	} else {
		target += *opts.IncrementBy
	}
	if target < 0 {
		return domain.Project{}, domain.AggregateProgress{}, NegativeProgressError{Attempted: target}
	}
	if target > p.GoalPoints {
		return domain.Project{}, domain.AggregateProgress{}, GoalExceededError{Goal: p.GoalPoints, Attempted: target}
	}
	previous := p.CurrentPoints
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProgress(ctx, tx, p.ID, target, now); err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	if err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:      p.ID,
		UserID:         actor.UserID,
		Action:         domain.ActionUpdatedProgress,
		PreviousPoints: previous,
		NewPoints:      target,
		Notes:          opts.Notes,
		CreatedAt:      now,
	}); err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	p.CurrentPoints = target
	p.UpdatedAt = now
	if e.autoCompleteDue(p) {
		p.IsCompleted = true
		p.CompletedAt = &now
		if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
			return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
		}
		if err := e.History.Append(ctx, tx, domain.HistoryEntry{
			ProjectID:      p.ID,
			UserID:         actor.UserID,
			Action:         domain.ActionCompleted,
			PreviousPoints: target,
			NewPoints:      target,
			Notes:          "goal reached",
			CreatedAt:      now,
		}); err != nil {
			return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	agg, err := e.aggregate(ctx, p)
	if err != nil {
		return domain.Project{}, domain.AggregateProgress{}, storeErr(err)
	}
	return p, agg, nil
}

// autoCompleteDue implements the configured goal-reached policy. The
// behavior is a flag on purpose; neither choice is hard-coded.
func (e Engine) autoCompleteDue(p domain.Project) bool {
	if e.Config == nil || !e.Config.Progress.AutoCompleteOnGoal {
		return false
	}
	return !p.IsCompleted && p.GoalPoints > 0 && p.CurrentPoints == p.GoalPoints
}

// CompleteProject marks a project completed. Completion neither locks
// nor deletes the record.
func (e Engine) CompleteProject(ctx context.Context, actor Actor, id, notes string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, p.CharacterID, access.OpComplete); err != nil {
		return domain.Project{}, err
	}
	if p.IsCompleted {
		return p, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	p.IsCompleted = true
	p.CompletedAt = &now
	p.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, storeErr(err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:      p.ID,
		UserID:         actor.UserID,
		Action:         domain.ActionCompleted,
		PreviousPoints: p.CurrentPoints,
		NewPoints:      p.CurrentPoints,
		Notes:          notes,
		CreatedAt:      now,
	}); err != nil {
		return domain.Project{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, storeErr(err)
	}
	return p, nil
}

// DeleteProject soft-deletes a project and its whole descendant
// subtree, with one history entry per affected record, atomically.
func (e Engine) DeleteProject(ctx context.Context, actor Actor, id string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, p.CharacterID, access.OpDelete); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()
	ids, err := e.Repo.SoftDeleteSubtree(ctx, tx, id, e.maxDepth(), now)
	if err != nil {
		return storeErr(err)
	}
	for _, pid := range ids {
		deleted, err := e.Repo.GetProjectAnyTx(ctx, tx, pid)
		if err != nil {
			return storeErr(err)
		}
		if err := e.History.Append(ctx, tx, domain.HistoryEntry{
			ProjectID:      pid,
			UserID:         actor.UserID,
			Action:         domain.ActionDeleted,
			PreviousPoints: deleted.CurrentPoints,
			NewPoints:      deleted.CurrentPoints,
			CreatedAt:      now,
		}); err != nil {
			return storeErr(err)
		}
	}
	return storeErr(tx.Commit())
}

// ReorderOptions positions a project among its siblings either at an
// absolute index or directly after another sibling.
type ReorderOptions struct {
	ProjectID string
	NewOrder  *int
	MoveAfter *string
}

// ReorderProject renumbers the sibling set and returns it in the new
// order.
func (e Engine) ReorderProject(ctx context.Context, actor Actor, opts ReorderOptions) ([]domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, p.CharacterID, access.OpReorder); err != nil {
		return nil, err
	}
	if (opts.NewOrder == nil) == (opts.MoveAfter == nil) {
		return nil, ValidationError{Field: "reorder", Reason: "exactly one of new_order or move_after required"}
	}
	siblings, err := e.Repo.Siblings(ctx, p.CampaignID, p.ParentID)
	if err != nil {
		return nil, storeErr(err)
	}
	rest := make([]domain.Project, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != p.ID {
			rest = append(rest, s)
		}
	}
	var position int
	if opts.NewOrder != nil {
		position = *opts.NewOrder
		if position < 0 {
			position = 0
		}
		if position > len(rest) {
			position = len(rest)
		}
	} else {
		position = -1
		for i, s := range rest {
			if s.ID == *opts.MoveAfter {
				position = i + 1
				break
			}
		}
		if position < 0 {
			return nil, ValidationError{Field: "move_after", Reason: "not a sibling of the project"}
		}
	}
	ordered := make([]domain.Project, 0, len(siblings))
	ordered = append(ordered, rest[:position]...)
	ordered = append(ordered, p)
	ordered = append(ordered, rest[position:]...)
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()
	for i := range ordered {
		if ordered[i].DisplayOrder == i && ordered[i].ID != p.ID {
			ordered[i].DisplayOrder = i
			continue
		}
		if err := e.Repo.UpdateDisplayOrder(ctx, tx, ordered[i].ID, i, now); err != nil {
			return nil, storeErr(err)
		}
		ordered[i].DisplayOrder = i
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return ordered, nil
}

// AggregateProgress sums current and goal points over a project and all
// of its non-deleted descendants. Pure read, never denormalized.
func (e Engine) AggregateProgress(ctx context.Context, actor Actor, id string) (domain.AggregateProgress, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.AggregateProgress{}, storeErr(err)
	}
	if err := e.authorize(ctx, actor, p.CampaignID, "", access.OpView); err != nil {
		return domain.AggregateProgress{}, err
	}
	agg, err := e.aggregate(ctx, p)
	if err != nil {
		return domain.AggregateProgress{}, storeErr(err)
	}
	return agg, nil
}

func (e Engine) aggregate(ctx context.Context, p domain.Project) (domain.AggregateProgress, error) {
	descendants, err := e.Repo.Descendants(ctx, p.ID, e.maxDepth())
	if err != nil {
		return domain.AggregateProgress{}, err
	}
	agg := domain.AggregateProgress{
		ProjectID:    p.ID,
		TotalCurrent: p.CurrentPoints,
		TotalGoal:    p.GoalPoints,
	}
	for _, d := range descendants {
		agg.TotalCurrent += d.CurrentPoints
		agg.TotalGoal += d.GoalPoints
	}
	if agg.TotalGoal > 0 {
		agg.Percent = float64(agg.TotalCurrent) / float64(agg.TotalGoal) * 100
	}
	return agg, nil
}

// BuildTree nests a flat project list by parent_id. Presentation only;
// structural rules live in the hierarchy validator.
func BuildTree(flat []domain.Project) []*domain.ProjectNode {
	nodes := make(map[string]*domain.ProjectNode, len(flat))
	for i := range flat {
		nodes[flat[i].ID] = &domain.ProjectNode{Project: flat[i]}
	}
	var roots []*domain.ProjectNode
	for _, n := range nodes {
		if n.ParentID != nil {
			if parent, ok := nodes[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

func sortNodes(nodes []*domain.ProjectNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].DisplayOrder != nodes[j].DisplayOrder {
			return nodes[i].DisplayOrder < nodes[j].DisplayOrder
		}
		if nodes[i].CreatedAt != nodes[j].CreatedAt {
			return nodes[i].CreatedAt < nodes[j].CreatedAt
		}
		return nodes[i].ID < nodes[j].ID
	})
}
