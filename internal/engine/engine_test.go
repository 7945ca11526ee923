package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/engine/access"
	"questline/internal/engine/hierarchy"
	"questline/internal/migrate"
	"questline/internal/repo"
)

const testCampaign = "camp-1"

// fixture is a migrated engine with one campaign, a gamemaster ("gm"),
// a player ("alice") and alice's character.
type fixture struct {
	Engine    Engine
	GM        Actor
	Player    Actor
	Character domain.Character
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithConfig(t, config.Default(testCampaign))
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) fixture {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, cfg)
	// deterministic, strictly increasing clock
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	e.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	if _, err := e.InitCampaign(ctx, testCampaign, "Test Campaign", "", "gm"); err != nil {
		t.Fatalf("init campaign: %v", err)
	}
	gm := Actor{UserID: "gm"}
	player := Actor{UserID: "alice"}
	if _, err := e.AddMember(ctx, testCampaign, "alice", domain.RolePlayer); err != nil {
		t.Fatalf("add member: %v", err)
	}
	ch, err := e.AddCharacter(ctx, testCampaign, "alice", "Riona")
	if err != nil {
		t.Fatalf("add character: %v", err)
	}
	return fixture{Engine: e, GM: gm, Player: player, Character: ch}
}

func (f fixture) create(t *testing.T, actor Actor, name string, goal, current int, parentID *string) domain.Project {
	t.Helper()
	p, err := f.Engine.CreateProject(context.Background(), actor, ProjectCreateOptions{
		CampaignID:    testCampaign,
		Name:          name,
		GoalPoints:    goal,
		CurrentPoints: current,
		CharacterID:   f.Character.ID,
		ParentID:      parentID,
	})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return p
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestCreateProjectRejectsPointsBeyondGoal(t *testing.T) {
	f := newFixture(t)
	_, err := f.Engine.CreateProject(context.Background(), f.GM, ProjectCreateOptions{
		CampaignID:    testCampaign,
		Name:          "Overfull",
		GoalPoints:    10,
		CurrentPoints: 11,
		CharacterID:   f.Character.ID,
	})
	var exceeded GoalExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected GoalExceededError, got %v", err)
	}
	if exceeded.Goal != 10 || exceeded.Attempted != 11 {
		t.Fatalf("unexpected error payload: %+v", exceeded)
	}
}

func TestProgressBudgetEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.GM, "Budgeted", 100, 0, nil)

	// boundary values are legal
	for _, v := range []int{0, 100} {
		if _, _, err := f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, SetTo: intp(v)}); err != nil {
			t.Fatalf("set %d: %v", v, err)
		}
	}
	_, _, err := f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, SetTo: intp(101)})
	var exceeded GoalExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected GoalExceededError, got %v", err)
	}
	_, _, err = f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, IncrementBy: intp(-101)})
	var negative NegativeProgressError
	if !errors.As(err, &negative) {
		t.Fatalf("expected NegativeProgressError, got %v", err)
	}
	// rejection never clamps
	got, _, err := f.Engine.GetProject(ctx, f.GM, p.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentPoints != 100 {
		t.Fatalf("current points changed by rejected writes: %d", got.CurrentPoints)
	}
}

func TestProgressRequiresExactlyOneMode(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, f.GM, "Ambiguous", 10, 0, nil)
	_, _, err := f.Engine.SetProgress(context.Background(), f.GM, ProgressOptions{
		ProjectID: p.ID, SetTo: intp(5), IncrementBy: intp(1),
	})
	var validation ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, _, err = f.Engine.SetProgress(context.Background(), f.GM, ProgressOptions{ProjectID: p.ID})
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for neither mode, got %v", err)
	}
}

func TestIncrementProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.GM, "Stepwise", 50, 10, nil)
	got, agg, err := f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, IncrementBy: intp(15)})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got.CurrentPoints != 25 {
		t.Fatalf("expected 25, got %d", got.CurrentPoints)
	}
	if agg.TotalCurrent != 25 || agg.TotalGoal != 50 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	got, _, err = f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, IncrementBy: intp(-5)})
	if err != nil {
		t.Fatalf("negative increment: %v", err)
	}
	if got.CurrentPoints != 20 {
		t.Fatalf("expected 20, got %d", got.CurrentPoints)
	}
}

func TestGoalShrinkBelowCurrentRejected(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, f.GM, "Shrinking", 100, 40, nil)
	_, err := f.Engine.UpdateProject(context.Background(), f.GM, ProjectUpdateOptions{
		ID: p.ID, GoalPoints: intp(30),
	})
	var below GoalBelowCurrentError
	if !errors.As(err, &below) {
		t.Fatalf("expected GoalBelowCurrentError, got %v", err)
	}
	if below.Goal != 30 || below.Current != 40 {
		t.Fatalf("unexpected payload: %+v", below)
	}
	// shrinking down to exactly the current value is allowed
	got, err := f.Engine.UpdateProject(context.Background(), f.GM, ProjectUpdateOptions{
		ID: p.ID, GoalPoints: intp(40),
	})
	if err != nil {
		t.Fatalf("shrink to current: %v", err)
	}
	if got.GoalPoints != 40 {
		t.Fatalf("expected goal 40, got %d", got.GoalPoints)
	}
}

func TestAggregateSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.create(t, f.GM, "Stronghold", 500, 100, nil)
	left := f.create(t, f.GM, "Walls", 1000, 200, &root.ID)
	f.create(t, f.GM, "Gatehouse", 400, 80, &left.ID)
	f.create(t, f.GM, "Towers", 600, 120, &left.ID)

	agg, err := f.Engine.AggregateProgress(ctx, f.GM, root.ID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCurrent != 500 || agg.TotalGoal != 2500 {
		t.Fatalf("expected 500/2500, got %d/%d", agg.TotalCurrent, agg.TotalGoal)
	}
	if agg.Percent != 20 {
		t.Fatalf("expected 20%%, got %v", agg.Percent)
	}

	// intermediate node sums only its own subtree
	agg, err = f.Engine.AggregateProgress(ctx, f.GM, left.ID)
	if err != nil {
		t.Fatalf("aggregate left: %v", err)
	}
	if agg.TotalCurrent != 400 || agg.TotalGoal != 2000 {
		t.Fatalf("expected 400/2000, got %d/%d", agg.TotalCurrent, agg.TotalGoal)
	}
}

func TestAggregateZeroGoal(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, f.GM, "Unscoped", 0, 0, nil)
	agg, err := f.Engine.AggregateProgress(context.Background(), f.GM, p.ID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Percent != 0 {
		t.Fatalf("zero goal must yield 0%%, got %v", agg.Percent)
	}
}

func TestReparentCycleRejected(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, f.GM, "A", 10, 0, nil)
	mid := f.create(t, f.GM, "B", 10, 0, &root.ID)
	leaf := f.create(t, f.GM, "C", 10, 0, &mid.ID)

	_, err := f.Engine.UpdateProject(context.Background(), f.GM, ProjectUpdateOptions{
		ID: root.ID, ParentID: &leaf.ID,
	})
	var circular hierarchy.CircularReferenceError
	if !errors.As(err, &circular) {
		t.Fatalf("expected CircularReferenceError, got %v", err)
	}
	_, err = f.Engine.UpdateProject(context.Background(), f.GM, ProjectUpdateOptions{
		ID: root.ID, ParentID: &root.ID,
	})
	if !errors.As(err, &circular) {
		t.Fatalf("expected self-parent rejection, got %v", err)
	}
}

func TestMaxDepthEnforced(t *testing.T) {
	cfg := config.Default(testCampaign)
	cfg.Hierarchy.MaxDepth = 3
	f := newFixtureWithConfig(t, cfg)

	a := f.create(t, f.GM, "Depth1", 10, 0, nil)
	b := f.create(t, f.GM, "Depth2", 10, 0, &a.ID)
	c := f.create(t, f.GM, "Depth3", 10, 0, &b.ID)

	_, err := f.Engine.CreateProject(context.Background(), f.GM, ProjectCreateOptions{
		CampaignID:  testCampaign,
		Name:        "Depth4",
		GoalPoints:  10,
		CharacterID: f.Character.ID,
		ParentID:    &c.ID,
	})
	var deep hierarchy.MaxDepthExceededError
	if !errors.As(err, &deep) {
		t.Fatalf("expected MaxDepthExceededError, got %v", err)
	}
}

func TestCrossCampaignParentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.Engine.InitCampaign(ctx, "camp-2", "Other", "", "gm"); err != nil {
		t.Fatalf("init second campaign: %v", err)
	}
	otherChar, err := f.Engine.AddCharacter(ctx, "camp-2", "gm", "Stranger")
	if err != nil {
		t.Fatalf("add character: %v", err)
	}
	otherRoot, err := f.Engine.CreateProject(ctx, f.GM, ProjectCreateOptions{
		CampaignID:  "camp-2",
		Name:        "Elsewhere",
		GoalPoints:  10,
		CharacterID: otherChar.ID,
	})
	if err != nil {
		t.Fatalf("create in second campaign: %v", err)
	}
	_, err = f.Engine.CreateProject(ctx, f.GM, ProjectCreateOptions{
		CampaignID:  testCampaign,
		Name:        "Bridged",
		GoalPoints:  10,
		CharacterID: f.Character.ID,
		ParentID:    &otherRoot.ID,
	})
	var cross hierarchy.CrossCampaignParentError
	if !errors.As(err, &cross) {
		t.Fatalf("expected CrossCampaignParentError, got %v", err)
	}
}

func TestDeleteCascadesWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.create(t, f.GM, "Root", 10, 0, nil)
	childA := f.create(t, f.GM, "ChildA", 10, 0, &root.ID)
	childB := f.create(t, f.GM, "ChildB", 10, 0, &root.ID)
	grand := f.create(t, f.GM, "Grand", 10, 0, &childA.ID)

	if err := f.Engine.DeleteProject(ctx, f.GM, root.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, id := range []string{root.ID, childA.ID, childB.ID, grand.ID} {
		if _, _, err := f.Engine.GetProject(ctx, f.GM, id, false); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("project %s still visible: %v", id, err)
		}
		entries, err := f.Engine.Repo.ListHistory(ctx, repo.HistoryFilters{ProjectID: id, Action: domain.ActionDeleted})
		if err != nil {
			t.Fatalf("history %s: %v", id, err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 deleted entry for %s, got %d", id, len(entries))
		}
	}
}

func TestPermissionBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.GM, "Guarded", 10, 0, nil)
	stranger := Actor{UserID: "mallory"}

	var denied access.PermissionDeniedError
	if _, _, err := f.Engine.GetProject(ctx, stranger, p.ID, false); !errors.As(err, &denied) {
		t.Fatalf("expected denial for non-member view, got %v", err)
	}
	if _, _, err := f.Engine.SetProgress(ctx, stranger, ProgressOptions{ProjectID: p.ID, SetTo: intp(5)}); !errors.As(err, &denied) {
		t.Fatalf("expected denial for non-member progress, got %v", err)
	}

	// alice owns the character, so she can record progress
	if _, _, err := f.Engine.SetProgress(ctx, f.Player, ProgressOptions{ProjectID: p.ID, SetTo: intp(5)}); err != nil {
		t.Fatalf("player progress on own character: %v", err)
	}
	// but a member who doesn't own the character cannot
	if _, err := f.Engine.AddMember(ctx, testCampaign, "bob", domain.RolePlayer); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	bob := Actor{UserID: "bob"}
	if _, _, err := f.Engine.SetProgress(ctx, bob, ProgressOptions{ProjectID: p.ID, SetTo: intp(6)}); !errors.As(err, &denied) {
		t.Fatalf("expected denial for non-owning player, got %v", err)
	}
	// members can still view
	if _, _, err := f.Engine.GetProject(ctx, bob, p.ID, false); err != nil {
		t.Fatalf("member view: %v", err)
	}
	// reorder is gamemaster-only
	if _, err := f.Engine.ReorderProject(ctx, f.Player, ReorderOptions{ProjectID: p.ID, NewOrder: intp(0)}); !errors.As(err, &denied) {
		t.Fatalf("expected reorder denial for player, got %v", err)
	}
	// a global admin bypasses membership entirely
	admin := Actor{UserID: "root", Admin: true}
	if _, _, err := f.Engine.SetProgress(ctx, admin, ProgressOptions{ProjectID: p.ID, SetTo: intp(7)}); err != nil {
		t.Fatalf("admin progress: %v", err)
	}
}

func TestAutoCompleteOnGoal(t *testing.T) {
	cfg := config.Default(testCampaign)
	cfg.Progress.AutoCompleteOnGoal = true
	f := newFixtureWithConfig(t, cfg)
	ctx := context.Background()
	p := f.create(t, f.GM, "Auto", 30, 0, nil)

	got, _, err := f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, SetTo: intp(30)})
	if err != nil {
		t.Fatalf("set to goal: %v", err)
	}
	if !got.IsCompleted || got.CompletedAt == nil {
		t.Fatalf("expected auto-completion, got %+v", got)
	}
	entries, err := f.Engine.Repo.ListHistory(ctx, repo.HistoryFilters{ProjectID: p.ID, Action: domain.ActionCompleted})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 completed entry, got %d", len(entries))
	}
}

func TestNoAutoCompleteByDefault(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, f.GM, "Manual", 30, 0, nil)
	got, _, err := f.Engine.SetProgress(context.Background(), f.GM, ProgressOptions{ProjectID: p.ID, SetTo: intp(30)})
	if err != nil {
		t.Fatalf("set to goal: %v", err)
	}
	if got.IsCompleted {
		t.Fatal("reaching the goal must not complete unless configured")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.GM, "Done", 10, 5, nil)
	first, err := f.Engine.CompleteProject(ctx, f.GM, p.ID, "called it")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := f.Engine.CompleteProject(ctx, f.GM, p.ID, "again")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if *first.CompletedAt != *second.CompletedAt {
		t.Fatalf("completion timestamp moved: %s -> %s", *first.CompletedAt, *second.CompletedAt)
	}
	entries, err := f.Engine.Repo.ListHistory(ctx, repo.HistoryFilters{ProjectID: p.ID, Action: domain.ActionCompleted})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single completed entry, got %d", len(entries))
	}
}

// Replaying the history deltas must reconstruct the final state.
func TestHistoryReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.GM, "Chronicle", 100, 10, nil)
	for _, v := range []int{25, 40, 35, 80} {
		if _, _, err := f.Engine.SetProgress(ctx, f.GM, ProgressOptions{ProjectID: p.ID, SetTo: intp(v)}); err != nil {
			t.Fatalf("set %d: %v", v, err)
		}
	}
	entries, err := f.Engine.Repo.ListHistory(ctx, repo.HistoryFilters{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	replayed := 0
	for i := len(entries) - 1; i >= 0; i-- { // entries are newest-first
		e := entries[i]
		switch e.Action {
		case domain.ActionCreated, domain.ActionUpdatedProgress:
			if e.PreviousPoints != replayed {
				t.Fatalf("entry %d: previous %d, replayed state %d", e.ID, e.PreviousPoints, replayed)
			}
			replayed = e.NewPoints
		}
	}
	got, _, err := f.Engine.GetProject(ctx, f.GM, p.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if replayed != got.CurrentPoints {
		t.Fatalf("replay ended at %d, project has %d", replayed, got.CurrentPoints)
	}
}

func TestReorderSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.GM, "First", 10, 0, nil)
	b := f.create(t, f.GM, "Second", 10, 0, nil)
	c := f.create(t, f.GM, "Third", 10, 0, nil)

	ordered, err := f.Engine.ReorderProject(ctx, f.GM, ReorderOptions{ProjectID: c.ID, NewOrder: intp(0)})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	wantIDs := []string{c.ID, a.ID, b.ID}
	for i, want := range wantIDs {
		if ordered[i].ID != want || ordered[i].DisplayOrder != i {
			t.Fatalf("position %d: got %s order %d", i, ordered[i].Name, ordered[i].DisplayOrder)
		}
	}

	ordered, err = f.Engine.ReorderProject(ctx, f.GM, ReorderOptions{ProjectID: c.ID, MoveAfter: &b.ID})
	if err != nil {
		t.Fatalf("move after: %v", err)
	}
	if ordered[len(ordered)-1].ID != c.ID {
		t.Fatalf("expected %s last, got %s", c.ID, ordered[len(ordered)-1].ID)
	}

	_, err = f.Engine.ReorderProject(ctx, f.GM, ReorderOptions{ProjectID: c.ID, MoveAfter: strp("no-such-sibling")})
	var validation ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for foreign sibling, got %v", err)
	}
}

func TestCharacterImmutableCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.Engine.InitCampaign(ctx, "camp-2", "Other", "", "gm"); err != nil {
		t.Fatalf("init second campaign: %v", err)
	}
	_, err := f.Engine.CreateProject(ctx, f.GM, ProjectCreateOptions{
		CampaignID:  "camp-2",
		Name:        "Misfiled",
		GoalPoints:  10,
		CharacterID: f.Character.ID,
	})
	var validation ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for cross-campaign character, got %v", err)
	}
}

func TestBuildTreeOrdersChildren(t *testing.T) {
	rootID := "r"
	flat := []domain.Project{
		{ID: "r", Name: "root", DisplayOrder: 0},
		{ID: "b", Name: "b", ParentID: &rootID, DisplayOrder: 1},
		{ID: "a", Name: "a", ParentID: &rootID, DisplayOrder: 0},
	}
	roots := BuildTree(flat)
	if len(roots) != 1 || roots[0].ID != "r" {
		t.Fatalf("unexpected roots: %+v", roots)
	}
	kids := roots[0].Children
	if len(kids) != 2 || kids[0].ID != "a" || kids[1].ID != "b" {
		t.Fatalf("children not display-ordered: %+v", kids)
	}
}

// An orphan whose parent is filtered out of the listing surfaces as a root.
func TestBuildTreeOrphanBecomesRoot(t *testing.T) {
	missing := "gone"
	flat := []domain.Project{
		{ID: "x", Name: "x", ParentID: &missing},
	}
	roots := BuildTree(flat)
	if len(roots) != 1 || roots[0].ID != "x" {
		t.Fatalf("orphan not promoted to root: %+v", roots)
	}
}
