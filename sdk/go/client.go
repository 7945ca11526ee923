package questlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is a minimal Questline HTTP API client.
type Client struct {
	BaseURL     string
	CampaignID  string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	// MaxRetryElapsed bounds how long a single call retries on 503
	// responses before giving up. Zero disables retries.
	MaxRetryElapsed time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, campaignID string) *Client {
	return &Client{
		BaseURL:         baseURL,
		CampaignID:      campaignID,
		Timeout:         10 * time.Second,
		MaxRetryElapsed: 15 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID            string  `json:"id"`
	CampaignID    string  `json:"campaign_id"`
	CharacterID   string  `json:"character_id"`
	ParentID      *string `json:"parent_id,omitempty"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	GoalPoints    int     `json:"goal_points"`
	CurrentPoints int     `json:"current_points"`
	IsCompleted   bool    `json:"is_completed"`
	DisplayOrder  int     `json:"display_order"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Aggregate represents summed subtree progress.
type Aggregate struct {
	ProjectID    string  `json:"project_id"`
	TotalCurrent int     `json:"total_current"`
	TotalGoal    int     `json:"total_goal"`
	Percent      float64 `json:"percent"`
}

// HistoryEntry represents one audit trail record.
type HistoryEntry struct {
	ID             int64  `json:"id"`
	ProjectID      string `json:"project_id"`
	UserID         string `json:"user_id"`
	Action         string `json:"action"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// ProgressResult pairs the updated project with its subtree aggregate.
type ProgressResult struct {
	Project   Project   `json:"project"`
	Aggregate Aggregate `json:"aggregate"`
}

// TreeNode is a project with its nested children.
type TreeNode struct {
	Project  Project    `json:"project"`
	Children []TreeNode `json:"children"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedHistory wraps history listings with cursors.
type PaginatedHistory struct {
	Items      []HistoryEntry `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// CreateProjectInput holds the fields for CreateProject.
type CreateProjectInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	GoalPoints    int     `json:"goal_points"`
	CurrentPoints int     `json:"current_points,omitempty"`
	CharacterID   string  `json:"character_id"`
	ParentID      *string `json:"parent_id,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// CreateProject creates a project in the campaign.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.campaignPath("projects"), in, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp struct {
		Project Project `json:"project"`
	}
	endpoint := c.campaignPath("projects/" + url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Project, err
}

// ListProjects returns the campaign's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, c.campaignPath("projects"), nil, &resp)
	return resp, err
}

// Tree returns the project hierarchy as nested nodes.
func (c *Client) Tree(ctx context.Context) ([]TreeNode, error) {
	var resp []TreeNode
	err := c.do(ctx, http.MethodGet, c.campaignPath("projects/tree"), nil, &resp)
	return resp, err
}

// SetProgress sets a project's current points to an absolute value.
func (c *Client) SetProgress(ctx context.Context, projectID string, points int, notes string) (ProgressResult, error) {
	body := map[string]any{"current_points": points}
	if notes != "" {
		body["notes"] = notes
	}
	return c.postProgress(ctx, projectID, body)
}

// IncrementProgress applies a delta to a project's current points.
func (c *Client) IncrementProgress(ctx context.Context, projectID string, delta int, notes string) (ProgressResult, error) {
	body := map[string]any{"increment_by": delta}
	if notes != "" {
		body["notes"] = notes
	}
	return c.postProgress(ctx, projectID, body)
}

func (c *Client) postProgress(ctx context.Context, projectID string, body map[string]any) (ProgressResult, error) {
	var resp ProgressResult
	endpoint := c.campaignPath(fmt.Sprintf("projects/%s/progress", url.PathEscape(projectID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CompleteProject marks a project completed.
func (c *Client) CompleteProject(ctx context.Context, projectID, notes string) (Project, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Project
	endpoint := c.campaignPath(fmt.Sprintf("projects/%s/complete", url.PathEscape(projectID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// DeleteProject soft-deletes a project and its subtree.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	endpoint := c.campaignPath("projects/" + url.PathEscape(projectID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// AggregateProgress returns summed progress for a subtree.
func (c *Client) AggregateProgress(ctx context.Context, projectID string) (Aggregate, error) {
	var resp Aggregate
	endpoint := c.campaignPath(fmt.Sprintf("projects/%s/aggregate", url.PathEscape(projectID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns recent history entries for a project.
func (c *Client) History(ctx context.Context, projectID string, limit int) ([]HistoryEntry, error) {
	page, err := c.HistoryPage(ctx, projectID, limit, "")
	return page.Items, err
}

// HistoryPage returns a paginated history listing.
func (c *Client) HistoryPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedHistory, error) {
	endpoint := c.campaignPath(fmt.Sprintf("projects/%s/history", url.PathEscape(projectID)))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedHistory
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempt := func() error {
		return c.doOnce(ctx, method, endpoint, payload, out)
	}
	if c.MaxRetryElapsed <= 0 {
		return attempt()
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.MaxRetryElapsed
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		// Only the store-unavailable status is transient enough to retry.
		if resp.StatusCode == http.StatusServiceUnavailable {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
	}
	return nil
}

func (c *Client) campaignPath(p string) string {
	campaign := url.PathEscape(c.CampaignID)
	return fmt.Sprintf("v0/campaigns/%s/%s", campaign, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
