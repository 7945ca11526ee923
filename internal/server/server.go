package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"questline/internal/engine"
	"questline/internal/engine/access"
	"questline/internal/engine/hierarchy"
	"questline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"goal_exceeded"`
	Message string         `json:"message" example:"progress 120 exceeds goal 100"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"goal\":100}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Questline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 validation_error
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Questline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCampaigns(group, cfg.Engine)
	registerCharacters(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's typed errors onto the wire taxonomy.
// Every rejection keeps its machine-readable code so clients can branch
// without parsing messages.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pd access.PermissionDeniedError
	if errors.As(err, &pd) {
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), map[string]any{"operation": string(pd.Operation)})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var ge engine.GoalExceededError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusUnprocessableEntity, "goal_exceeded", err.Error(), map[string]any{"goal": ge.Goal, "attempted": ge.Attempted})
	}
	var ne engine.NegativeProgressError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusUnprocessableEntity, "negative_progress", err.Error(), map[string]any{"attempted": ne.Attempted})
	}
	var gb engine.GoalBelowCurrentError
	if errors.As(err, &gb) {
		return newAPIError(http.StatusUnprocessableEntity, "goal_below_current", err.Error(), map[string]any{"goal": gb.Goal, "current": gb.Current})
	}
	var ce hierarchy.CircularReferenceError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "circular_reference", err.Error(), map[string]any{"project_id": ce.ProjectID, "parent_id": ce.ParentID})
	}
	var de hierarchy.MaxDepthExceededError
	if errors.As(err, &de) {
		return newAPIError(http.StatusUnprocessableEntity, "max_depth_exceeded", err.Error(), map[string]any{"depth": de.Depth, "max_depth": de.MaxDepth})
	}
	var xe hierarchy.CrossCampaignParentError
	if errors.As(err, &xe) {
		return newAPIError(http.StatusUnprocessableEntity, "cross_campaign_parent", err.Error(), nil)
	}
	var se engine.StoreUnavailableError
	if errors.As(err, &se) {
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", "store unavailable", nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "validation_error", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireGamemaster gates campaign administration endpoints. Project
// operations go through the engine's own access predicate instead.
func requireGamemaster(ctx context.Context, e engine.Engine, campaignID string) (engine.Actor, huma.StatusError) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return engine.Actor{}, authErr
	}
	if actor.Admin {
		return actor, nil
	}
	m, err := e.Repo.GetMembership(ctx, campaignID, actor.UserID)
	if err != nil || m.Role != "gamemaster" {
		return engine.Actor{}, handleError(access.PermissionDeniedError{Operation: "manage-campaign"})
	}
	return actor, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Questline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCampaigns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-campaign",
		Method:        http.MethodPost,
		Path:          "/campaigns",
		Summary:       "Create campaign",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCampaignRequest `json:"body"`
	}) (*struct {
		Body CampaignResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "name is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := stringOrEmpty(input.Body.ID)
		c, err := e.InitCampaign(ctx, id, input.Body.Name, stringOrEmpty(input.Body.Description), actor.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignResponse `json:"body"`
		}{Body: campaignResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campaigns",
		Method:      http.MethodGet,
		Path:        "/campaigns",
		Summary:     "List campaigns",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CampaignResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCampaigns(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CampaignResponse, 0, len(items))
		for _, c := range items {
			res = append(res, campaignResponse(c))
		}
		return &struct {
			Body []CampaignResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}",
		Summary:     "Get campaign",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body CampaignResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCampaign(ctx, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignResponse `json:"body"`
		}{Body: campaignResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "campaign-status",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/status",
		Summary:     "Campaign status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body CampaignStatusResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCampaign(ctx, input.CampaignID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, actor, repo.ProjectFilters{CampaignID: input.CampaignID, IncludeCompleted: true})
		if err != nil {
			return nil, handleError(err)
		}
		status := CampaignStatusResponse{CampaignID: input.CampaignID}
		for _, p := range items {
			status.Projects++
			if p.IsCompleted {
				status.CompletedProjects++
			}
			status.TotalCurrent += p.CurrentPoints
			status.TotalGoal += p.GoalPoints
		}
		if status.TotalGoal > 0 {
			status.Percent = float64(status.TotalCurrent) / float64(status.TotalGoal) * 100
		}
		return &struct {
			Body CampaignStatusResponse `json:"body"`
		}{Body: status}, nil
	})
}

func registerCharacters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-character",
		Method:        http.MethodPost,
		Path:          "/campaigns/{campaign_id}/characters",
		Summary:       "Register character",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string                 `path:"campaign_id"`
		Body       CreateCharacterRequest `json:"body"`
	}) (*struct {
		Body CharacterResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := requireGamemaster(ctx, e, input.CampaignID)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.Body.OwnerUserID
		if owner == "" {
			owner = actor.UserID
		}
		c, err := e.AddCharacter(ctx, input.CampaignID, owner, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CharacterResponse `json:"body"`
		}{Body: characterResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-characters",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/characters",
		Summary:     "List characters",
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body []CharacterResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCharacters(ctx, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CharacterResponse, 0, len(items))
		for _, c := range items {
			res = append(res, characterResponse(c))
		}
		return &struct {
			Body []CharacterResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-character",
		Method:      http.MethodDelete,
		Path:        "/campaigns/{campaign_id}/characters/{id}",
		Summary:     "Remove character",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
		ID         string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := requireGamemaster(ctx, e, input.CampaignID); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteCharacter(ctx, input.ID); err != nil {
			if strings.Contains(err.Error(), "active projects") {
				return nil, newAPIError(http.StatusConflict, "character_in_use", err.Error(), nil)
			}
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-member",
		Method:      http.MethodPut,
		Path:        "/campaigns/{campaign_id}/members",
		Summary:     "Add or update member",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string              `path:"campaign_id"`
		Body       UpsertMemberRequest `json:"body"`
	}) (*struct {
		Body MembershipResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "user_id is required", nil)
		}
		if _, authErr := requireGamemaster(ctx, e, input.CampaignID); authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(ctx, input.CampaignID, input.Body.UserID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MembershipResponse `json:"body"`
		}{Body: membershipResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/members",
		Summary:     "List members",
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body []MembershipResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListMembers(ctx, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]MembershipResponse, 0, len(items))
		for _, m := range items {
			res = append(res, membershipResponse(m))
		}
		return &struct {
			Body []MembershipResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/campaigns/{campaign_id}/members/{user_id}",
		Summary:     "Remove member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
		UserID     string `path:"user_id"`
	}) (*struct{}, error) {
		if _, authErr := requireGamemaster(ctx, e, input.CampaignID); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.RemoveMembership(ctx, input.CampaignID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/campaigns/{campaign_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string               `path:"campaign_id"`
		Body       CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectCreateOptions{
			CampaignID:    input.CampaignID,
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			GoalPoints:    input.Body.GoalPoints,
			CurrentPoints: input.Body.CurrentPoints,
			CharacterID:   input.Body.CharacterID,
			ParentID:      input.Body.ParentID,
			Notes:         stringOrEmpty(input.Body.Notes),
		}
		p, err := e.CreateProject(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CampaignID       string `path:"campaign_id"`
		CharacterID      string `query:"character_id"`
		IncludeCompleted bool   `query:"include_completed" default:"true"`
		IncludeDeleted   bool   `query:"include_deleted"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, actor, repo.ProjectFilters{
			CampaignID:       input.CampaignID,
			CharacterID:      input.CharacterID,
			IncludeCompleted: input.IncludeCompleted,
			IncludeDeleted:   input.IncludeDeleted,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-tree",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/projects/tree",
		Summary:     "Project tree",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CampaignID       string `path:"campaign_id"`
		IncludeCompleted bool   `query:"include_completed" default:"true"`
	}) (*struct {
		Body []ProjectTreeNode `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, actor, repo.ProjectFilters{
			CampaignID:       input.CampaignID,
			IncludeCompleted: input.IncludeCompleted,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectTreeNode `json:"body"`
		}{Body: mapTree(engine.BuildTree(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID     string `path:"campaign_id"`
		ID             string `path:"id"`
		IncludeHistory bool   `query:"include_history"`
	}) (*struct {
		Body ProjectDetailResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, entries, err := e.GetProject(ctx, actor, input.ID, input.IncludeHistory)
		if err != nil {
			return nil, handleError(err)
		}
		if p.CampaignID != input.CampaignID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "project not found in campaign", nil)
		}
		res := ProjectDetailResponse{Project: projectResponse(p)}
		if input.IncludeHistory {
			res.History = mapHistory(entries)
		}
		return &struct {
			Body ProjectDetailResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/campaigns/{campaign_id}/projects/{id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string               `path:"campaign_id"`
		ID         string               `path:"id"`
		Body       UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		bodyMap := rawBodyMap(ctx)
		if _, ok := bodyMap["character_id"]; ok {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "character_id is immutable", map[string]any{"field": "character_id", "reason": "immutable"})
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectUpdateOptions{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			GoalPoints:  input.Body.GoalPoints,
			Notes:       stringOrEmpty(input.Body.Notes),
		}
		if raw, ok := bodyMap["parent_id"]; ok {
			if isNullRaw(raw) {
				root := ""
				opts.ParentID = &root
			} else {
				opts.ParentID = input.Body.ParentID
			}
		}
		p, err := e.UpdateProject(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if p.CampaignID != input.CampaignID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "project not found in campaign", nil)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/campaigns/{campaign_id}/projects/{id}",
		Summary:     "Delete project and descendants",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
		ID         string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-project",
		Method:      http.MethodPost,
		Path:        "/campaigns/{campaign_id}/projects/{id}/reorder",
		Summary:     "Reorder project among siblings",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string                `path:"campaign_id"`
		ID         string                `path:"id"`
		Body       ReorderProjectRequest `json:"body"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		siblings, err := e.ReorderProject(ctx, actor, engine.ReorderOptions{
			ProjectID: input.ID,
			NewOrder:  input.Body.NewOrder,
			MoveAfter: input.Body.MoveAfter,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(siblings)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-aggregate",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/projects/{id}/aggregate",
		Summary:     "Aggregate progress over the subtree",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agg, err := e.AggregateProgress(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg)}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-progress",
		Method:      http.MethodPost,
		Path:        "/campaigns/{campaign_id}/projects/{id}/progress",
		Summary:     "Record progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string          `path:"campaign_id"`
		ID         string          `path:"id"`
		Body       ProgressRequest `json:"body"`
	}) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, agg, err := e.SetProgress(ctx, actor, engine.ProgressOptions{
			ProjectID:   input.ID,
			SetTo:       input.Body.CurrentPoints,
			IncrementBy: input.Body.IncrementBy,
			Notes:       stringOrEmpty(input.Body.Notes),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: ProgressResponse{
			Project:   projectResponse(p),
			Aggregate: aggregateResponse(agg),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-project",
		Method:      http.MethodPost,
		Path:        "/campaigns/{campaign_id}/projects/{id}/complete",
		Summary:     "Complete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CampaignID string                 `path:"campaign_id"`
		ID         string                 `path:"id"`
		Body       CompleteProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CompleteProject(ctx, actor, input.ID, stringOrEmpty(input.Body.Notes))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/projects/{id}/history",
		Summary:     "Project history",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
		ID         string `path:"id"`
		Action     string `query:"action" enum:",created,updated-progress,updated-goal,completed,deleted"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedHistory `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Existence and view access are checked through the engine;
		// deleted projects keep their history readable.
		if _, _, err := e.GetProject(ctx, actor, input.ID, false); err != nil {
			st := handleError(err)
			if st.GetStatus() != http.StatusNotFound {
				return nil, st
			}
			p, anyErr := e.Repo.GetProjectAny(ctx, input.ID)
			if anyErr != nil {
				return nil, handleError(anyErr)
			}
			if p.CampaignID != input.CampaignID {
				return nil, newAPIError(http.StatusNotFound, "not_found", "project not found in campaign", nil)
			}
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
			ProjectID: input.ID,
			Action:    input.Action,
			Limit:     limit + 1,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedHistory{Items: []HistoryEntryResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = mapHistory(items)
		return &struct {
			Body paginatedHistory `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.UserID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{UserID: p.UserID, Admin: p.Admin, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "user_id is required", nil)
		}
		token, err := SignDevToken(authCfg.JWTSecret, user, input.Body.Admin, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
