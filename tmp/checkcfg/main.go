package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	questlinesdk "questline/sdk/go"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/server"
)

// Manual end-to-end check: boots an in-process server against a scratch
// workspace, drives it through the SDK, and prints the resulting tree.
func main() {
	workspace, err := os.MkdirTemp("", "questline-check")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(workspace)
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default("demo-campaign")
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.InitCampaign(ctx, cfg.Campaign.ID, "Demo Campaign", "", "gm"); err != nil {
		panic(err)
	}
	ch, err := e.AddCharacter(ctx, cfg.Campaign.ID, "gm", "Theren")
	if err != nil {
		panic(err)
	}

	jwtSecret := "test-secret"
	h, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token, err := server.SignDevToken(jwtSecret, "gm", false, time.Hour)
	if err != nil {
		panic(err)
	}

	sdk := questlinesdk.New(ts.URL, cfg.Campaign.ID)
	sdk.BearerToken = token

	root, err := sdk.CreateProject(ctx, questlinesdk.CreateProjectInput{
		Name:        "Build the keep",
		GoalPoints:  100,
		CharacterID: ch.ID,
	})
	if err != nil {
		panic(err)
	}
	child, err := sdk.CreateProject(ctx, questlinesdk.CreateProjectInput{
		Name:        "Quarry stone",
		GoalPoints:  40,
		CharacterID: ch.ID,
		ParentID:    &root.ID,
	})
	if err != nil {
		panic(err)
	}
	res, err := sdk.SetProgress(ctx, child.ID, 25, "first shipment")
	if err != nil {
		panic(err)
	}
	fmt.Printf("child=%d/%d subtree=%d/%d (%.1f%%)\n",
		res.Project.CurrentPoints, res.Project.GoalPoints,
		res.Aggregate.TotalCurrent, res.Aggregate.TotalGoal, res.Aggregate.Percent)

	agg, err := sdk.AggregateProgress(ctx, root.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("root subtree=%d/%d (%.1f%%)\n", agg.TotalCurrent, agg.TotalGoal, agg.Percent)
}
