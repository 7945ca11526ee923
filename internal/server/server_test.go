package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/engine"
	"questline/internal/migrate"
)

const (
	testCampaign  = "questline"
	testJWTSecret = "test-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testCampaign)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitCampaign(context.Background(), testCampaign, "Test Campaign", "", "gm"); err != nil {
		t.Fatalf("init campaign: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, userID string, admin bool) map[string]string {
	t.Helper()
	token, err := SignDevToken(testJWTSecret, userID, admin, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createCharacter(t *testing.T, srv *testServer, owner string) CharacterResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/campaigns/"+testCampaign+"/characters", map[string]any{
		"name":          "Riona",
		"owner_user_id": owner,
	}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create character: %d %s", res.StatusCode, string(data))
	}
	var ch CharacterResponse
	if err := json.Unmarshal(data, &ch); err != nil {
		t.Fatalf("unmarshal character: %v", err)
	}
	return ch
}

func createProject(t *testing.T, srv *testServer, body map[string]any) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/campaigns/"+testCampaign+"/projects", body, bearer(t, "gm", false))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func TestProjectLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	root := createProject(t, srv, map[string]any{
		"name":         "Build the keep",
		"goal_points":  100,
		"character_id": ch.ID,
	})
	child := createProject(t, srv, map[string]any{
		"name":         "Quarry stone",
		"goal_points":  40,
		"character_id": ch.ID,
		"parent_id":    root.ID,
	})

	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID+"/progress",
		map[string]any{"current_points": 25, "notes": "first shipment"}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d %s", res.StatusCode, string(data))
	}
	var progress ProgressResponse
	if err := json.Unmarshal(data, &progress); err != nil {
		t.Fatalf("unmarshal progress: %v", err)
	}
	if progress.Project.CurrentPoints != 25 {
		t.Fatalf("expected 25 current, got %d", progress.Project.CurrentPoints)
	}
	if progress.Aggregate.TotalCurrent != 25 || progress.Aggregate.TotalGoal != 40 {
		t.Fatalf("unexpected aggregate: %+v", progress.Aggregate)
	}

	// the budget invariant surfaces as 422
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID+"/progress",
		map[string]any{"current_points": 41}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if apiErr.Error.Code != "goal_exceeded" {
		t.Fatalf("expected goal_exceeded, got %q", apiErr.Error.Code)
	}

	// root subtree aggregate
	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+root.ID+"/aggregate", nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("aggregate: %d %s", res.StatusCode, string(data))
	}
	var agg AggregateResponse
	_ = json.Unmarshal(data, &agg)
	if agg.TotalCurrent != 25 || agg.TotalGoal != 140 {
		t.Fatalf("unexpected root aggregate: %+v", agg)
	}

	// complete, then delete the subtree
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID+"/complete",
		map[string]any{"notes": "done early"}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+root.ID, nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID, nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after cascade, got %d %s", res.StatusCode, string(data))
	}
	// history of a deleted project stays readable
	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID+"/history", nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history after delete: %d %s", res.StatusCode, string(data))
	}
	var page paginatedHistory
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatal("expected surviving history entries")
	}
	if page.Items[0].Action != "deleted" {
		t.Fatalf("newest entry should be the delete, got %s", page.Items[0].Action)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestDevLoginRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login",
		map[string]any{"user_id": "gm"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "gm" || me.Admin {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestPermissionDenied(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	p := createProject(t, srv, map[string]any{
		"name":         "Guarded",
		"goal_points":  10,
		"character_id": ch.ID,
	})
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+p.ID+"/progress",
		map[string]any{"current_points": 5}, bearer(t, "mallory", false))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %q", apiErr.Error.Code)
	}
}

func TestReparentCycleRejectedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	root := createProject(t, srv, map[string]any{
		"name": "A", "goal_points": 10, "character_id": ch.ID,
	})
	leaf := createProject(t, srv, map[string]any{
		"name": "B", "goal_points": 10, "character_id": ch.ID, "parent_id": root.ID,
	})
	res, data := doJSON(t, srv.Client(), http.MethodPatch,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+root.ID,
		map[string]any{"parent_id": leaf.ID}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "circular_reference" {
		t.Fatalf("expected circular_reference, got %q", apiErr.Error.Code)
	}
}

func TestCharacterIDImmutable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	p := createProject(t, srv, map[string]any{
		"name": "Fixed", "goal_points": 10, "character_id": ch.ID,
	})
	res, data := doJSON(t, srv.Client(), http.MethodPatch,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+p.ID,
		map[string]any{"character_id": "someone-else"}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestParentNullPromotesToRoot(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	root := createProject(t, srv, map[string]any{
		"name": "Root", "goal_points": 10, "character_id": ch.ID,
	})
	child := createProject(t, srv, map[string]any{
		"name": "Child", "goal_points": 10, "character_id": ch.ID, "parent_id": root.ID,
	})
	res, data := doJSON(t, srv.Client(), http.MethodPatch,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+child.ID,
		map[string]any{"parent_id": nil}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promote: %d %s", res.StatusCode, string(data))
	}
	var updated ProjectResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.ParentID != nil {
		t.Fatalf("expected root, still has parent %s", *updated.ParentID)
	}
	// an update without the key leaves the parent alone
	res, data = doJSON(t, srv.Client(), http.MethodPatch,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+root.ID,
		map[string]any{"name": "Renamed"}, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rename: %d %s", res.StatusCode, string(data))
	}
}

func TestProjectTreeEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	root := createProject(t, srv, map[string]any{
		"name": "Root", "goal_points": 10, "character_id": ch.ID,
	})
	createProject(t, srv, map[string]any{
		"name": "Child", "goal_points": 10, "character_id": ch.ID, "parent_id": root.ID,
	})
	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/tree", nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tree: %d %s", res.StatusCode, string(data))
	}
	var nodes []ProjectTreeNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	if len(nodes) != 1 || len(nodes[0].Children) != 1 {
		t.Fatalf("unexpected tree shape: %s", string(data))
	}
}

func TestHistoryPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ch := createCharacter(t, srv, "gm")
	p := createProject(t, srv, map[string]any{
		"name": "Busy", "goal_points": 100, "character_id": ch.ID,
	})
	for i := 1; i <= 5; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost,
			srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+p.ID+"/progress",
			map[string]any{"current_points": i * 10}, bearer(t, "gm", false))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("progress %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+p.ID+"/history?limit=3", nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var page paginatedHistory
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 3 || page.NextCursor == "" {
		t.Fatalf("expected 3 items with a cursor, got %d (%q)", len(page.Items), page.NextCursor)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/campaigns/"+testCampaign+"/projects/"+p.ID+"/history?limit=3&cursor="+page.NextCursor,
		nil, bearer(t, "gm", false))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res.StatusCode, string(data))
	}
	var second paginatedHistory
	_ = json.Unmarshal(data, &second)
	// 1 created + 5 progress entries total
	if len(page.Items)+len(second.Items) != 6 {
		t.Fatalf("expected 6 entries across pages, got %d", len(page.Items)+len(second.Items))
	}
}
