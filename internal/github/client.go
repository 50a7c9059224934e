package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIEndpoint   = "https://api.github.com"
	maxProbeResponseSize = 1 << 20
	maxReadResponseSize  = 8 << 20
	issuesPerPage        = 100

	// maxIssuePages bounds pagination so a misbehaving filter cannot spin
	// forever against the API. 50 pages at 100 per page is 5000 issues.
	maxIssuePages = 50
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Owner       string
	Repo        string
	Token       string
	APIEndpoint string
	HTTPClient  HTTPClient
}

// Client is a thin surface over the GitHub Issues REST API. Every method
// returns a typed payload; unexpected statuses surface as *APIError.
type Client struct {
	owner       string
	repo        string
	token       string
	apiEndpoint string
	client      HTTPClient

	username string
}

// APIError carries the status and raw response of a failed tracker call so
// callers can distinguish benign statuses from real failures.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "github: unknown error"
	}
	return fmt.Sprintf("github: request failed with status %d: %s", e.StatusCode, e.Message)
}

func newAPIError(statusCode int, body []byte) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    firstAPIError(body),
		Body:       strings.TrimSpace(string(body)),
	}
}

type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type User struct {
	Login string `json:"login"`
}

type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	Labels      []Label   `json:"labels"`
	Assignee    *User     `json:"assignee"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `json:"user"`
}

// ListIssuesOptions filters ListIssues. Assignee semantics follow the API:
// empty means no filter, "none" means unassigned only.
type ListIssuesOptions struct {
	Labels   []string
	State    string
	Assignee string
	PerPage  int
	AllPages bool
}

// IssuePatch updates an issue. Nil fields are left untouched. A non-nil
// Assignee pointing at an empty string clears the assignee.
type IssuePatch struct {
	Title    *string
	Body     *string
	State    *string
	Assignee *string
	Labels   []string
}

func NewClient(cfg Config) (*Client, error) {
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, errors.New("github owner is required")
	}

	repo := strings.TrimSpace(cfg.Repo)
	if repo == "" {
		return nil, errors.New("github repository is required")
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("github auth token is required")
	}

	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	if err := probeRepository(context.Background(), client, endpoint, owner, repo, token); err != nil {
		return nil, fmt.Errorf("github auth validation failed: %w", err)
	}

	return &Client{
		owner:       owner,
		repo:        repo,
		token:       token,
		apiEndpoint: endpoint,
		client:      client,
	}, nil
}

// AuthenticatedUser returns the login of the token's user, cached after the
// first call.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	if c.username != "" {
		return c.username, nil
	}

	statusCode, body, err := c.do(ctx, http.MethodGet, c.apiEndpoint+"/user", nil)
	if err != nil {
		return "", fmt.Errorf("query authenticated user: %w", err)
	}
	if statusCode != http.StatusOK {
		return "", fmt.Errorf("query authenticated user: %w", newAPIError(statusCode, body))
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("query authenticated user: cannot parse response: %w", err)
	}
	if strings.TrimSpace(user.Login) == "" {
		return "", errors.New("query authenticated user: login missing in response")
	}
	c.username = user.Login
	return c.username, nil
}

func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	requestURL := c.repoURL("/labels") + "?per_page=100"
	statusCode, body, err := c.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("list labels: %w", newAPIError(statusCode, body))
	}

	var labels []Label
	if err := json.Unmarshal(body, &labels); err != nil {
		return nil, fmt.Errorf("list labels: cannot parse response: %w", err)
	}
	return labels, nil
}

// CreateLabel creates a repository label. A 422 means the label already
// exists and is treated as success.
func (c *Client) CreateLabel(ctx context.Context, label Label) error {
	statusCode, body, err := c.do(ctx, http.MethodPost, c.repoURL("/labels"), label)
	if err != nil {
		return fmt.Errorf("create label %q: %w", label.Name, err)
	}
	switch statusCode {
	case http.StatusOK, http.StatusCreated, http.StatusUnprocessableEntity:
		return nil
	default:
		return fmt.Errorf("create label %q: %w", label.Name, newAPIError(statusCode, body))
	}
}

func (c *Client) GetIssue(ctx context.Context, issueNumber int) (Issue, error) {
	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber))
	statusCode, body, err := c.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Issue{}, fmt.Errorf("get issue #%d: %w", issueNumber, err)
	}
	if statusCode != http.StatusOK {
		return Issue{}, fmt.Errorf("get issue #%d: %w", issueNumber, newAPIError(statusCode, body))
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return Issue{}, fmt.Errorf("get issue #%d: cannot parse response: %w", issueNumber, err)
	}
	if issue.Number <= 0 {
		issue.Number = issueNumber
	}
	return issue, nil
}

// ListIssues lists issues matching opts. Pull requests are filtered out:
// the issues endpoint returns them interleaved. With AllPages set the whole
// result set is fetched page by page until a short page arrives, capped at
// maxIssuePages.
func (c *Client) ListIssues(ctx context.Context, opts ListIssuesOptions) ([]Issue, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > issuesPerPage {
		perPage = issuesPerPage
	}
	state := strings.TrimSpace(opts.State)
	if state == "" {
		state = "open"
	}

	issues := []Issue{}
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("state", state)
		params.Set("per_page", strconv.Itoa(perPage))
		params.Set("page", strconv.Itoa(page))
		if len(opts.Labels) > 0 {
			params.Set("labels", strings.Join(opts.Labels, ","))
		}
		if strings.TrimSpace(opts.Assignee) != "" {
			params.Set("assignee", strings.TrimSpace(opts.Assignee))
		}

		requestURL := c.repoURL("/issues") + "?" + params.Encode()
		statusCode, body, err := c.do(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("list issues page %d: %w", page, err)
		}
		if statusCode != http.StatusOK {
			return nil, fmt.Errorf("list issues page %d: %w", page, newAPIError(statusCode, body))
		}

		pageIssues := []Issue{}
		if strings.TrimSpace(string(body)) != "" {
			if err := json.Unmarshal(body, &pageIssues); err != nil {
				return nil, fmt.Errorf("list issues page %d: cannot parse response: %w", page, err)
			}
		}

		for _, issue := range pageIssues {
			if issue.PullRequest != nil {
				continue
			}
			issues = append(issues, issue)
		}

		if !opts.AllPages || len(pageIssues) < perPage {
			break
		}
		if page >= maxIssuePages {
			break
		}
	}
	return issues, nil
}

func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error) {
	payload := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		payload["labels"] = labels
	}

	statusCode, respBody, err := c.do(ctx, http.MethodPost, c.repoURL("/issues"), payload)
	if err != nil {
		return Issue{}, fmt.Errorf("create issue %q: %w", title, err)
	}
	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return Issue{}, fmt.Errorf("create issue %q: %w", title, newAPIError(statusCode, respBody))
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return Issue{}, fmt.Errorf("create issue %q: cannot parse response: %w", title, err)
	}
	return issue, nil
}

func (c *Client) UpdateIssue(ctx context.Context, issueNumber int, patch IssuePatch) (Issue, error) {
	payload := map[string]interface{}{}
	if patch.Title != nil {
		payload["title"] = *patch.Title
	}
	if patch.Body != nil {
		payload["body"] = *patch.Body
	}
	if patch.State != nil {
		payload["state"] = *patch.State
	}
	if patch.Assignee != nil {
		// The API clears the assignee when given an explicit null.
		if strings.TrimSpace(*patch.Assignee) == "" {
			payload["assignee"] = nil
		} else {
			payload["assignee"] = *patch.Assignee
		}
	}
	if patch.Labels != nil {
		payload["labels"] = patch.Labels
	}

	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber))
	statusCode, body, err := c.do(ctx, http.MethodPatch, requestURL, payload)
	if err != nil {
		return Issue{}, fmt.Errorf("update issue #%d: %w", issueNumber, err)
	}
	if statusCode != http.StatusOK {
		return Issue{}, fmt.Errorf("update issue #%d: %w", issueNumber, newAPIError(statusCode, body))
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return Issue{}, fmt.Errorf("update issue #%d: cannot parse response: %w", issueNumber, err)
	}
	return issue, nil
}

func (c *Client) AddLabels(ctx context.Context, issueNumber int, labels []string) error {
	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber) + "/labels")
	payload := map[string]interface{}{"labels": labels}
	statusCode, body, err := c.do(ctx, http.MethodPost, requestURL, payload)
	if err != nil {
		return fmt.Errorf("add labels to #%d: %w", issueNumber, err)
	}
	if statusCode != http.StatusOK {
		return fmt.Errorf("add labels to #%d: %w", issueNumber, newAPIError(statusCode, body))
	}
	return nil
}

// RemoveLabel removes one label from an issue. A 404 means the label was not
// present, which is the desired end state and therefore success.
func (c *Client) RemoveLabel(ctx context.Context, issueNumber int, label string) error {
	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber) + "/labels/" + url.PathEscape(label))
	statusCode, body, err := c.do(ctx, http.MethodDelete, requestURL, nil)
	if err != nil {
		return fmt.Errorf("remove label %q from #%d: %w", label, issueNumber, err)
	}
	switch statusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("remove label %q from #%d: %w", label, issueNumber, newAPIError(statusCode, body))
	}
}

func (c *Client) ListComments(ctx context.Context, issueNumber int) ([]Comment, error) {
	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber) + "/comments?per_page=100")
	statusCode, body, err := c.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list comments on #%d: %w", issueNumber, err)
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("list comments on #%d: %w", issueNumber, newAPIError(statusCode, body))
	}

	var comments []Comment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, fmt.Errorf("list comments on #%d: cannot parse response: %w", issueNumber, err)
	}
	return comments, nil
}

func (c *Client) CreateComment(ctx context.Context, issueNumber int, body string) (Comment, error) {
	requestURL := c.repoURL("/issues/" + strconv.Itoa(issueNumber) + "/comments")
	payload := map[string]interface{}{"body": body}
	statusCode, respBody, err := c.do(ctx, http.MethodPost, requestURL, payload)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment on #%d: %w", issueNumber, err)
	}
	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return Comment{}, fmt.Errorf("create comment on #%d: %w", issueNumber, newAPIError(statusCode, respBody))
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return Comment{}, fmt.Errorf("create comment on #%d: cannot parse response: %w", issueNumber, err)
	}
	return comment, nil
}

func (c *Client) UpdateComment(ctx context.Context, commentID int64, body string) error {
	requestURL := c.repoURL("/issues/comments/" + strconv.FormatInt(commentID, 10))
	payload := map[string]interface{}{"body": body}
	statusCode, respBody, err := c.do(ctx, http.MethodPatch, requestURL, payload)
	if err != nil {
		return fmt.Errorf("update comment %d: %w", commentID, err)
	}
	if statusCode != http.StatusOK {
		return fmt.Errorf("update comment %d: %w", commentID, newAPIError(statusCode, respBody))
	}
	return nil
}

func (c *Client) Owner() string { return c.owner }
func (c *Client) Repo() string  { return c.repo }

func (c *Client) repoURL(suffix string) string {
	return strings.TrimRight(c.apiEndpoint, "/") + "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + suffix
}

func (c *Client) do(ctx context.Context, method, requestURL string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("cannot encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func firstAPIError(body []byte) string {
	bodyText := strings.TrimSpace(string(body))
	if bodyText == "" {
		return "unknown error"
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		return strings.TrimSpace(payload.Message)
	}
	return bodyText
}

func probeRepository(ctx context.Context, client HTTPClient, endpoint, owner, repo, token string) error {
	requestURL := strings.TrimRight(endpoint, "/") + "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("cannot build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeResponseSize))
	if err != nil {
		return fmt.Errorf("cannot read probe response: %w", err)
	}

	var probe struct {
		FullName string `json:"full_name"`
		Message  string `json:"message"`
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &probe); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("probe failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return fmt.Errorf("cannot parse probe response: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail := strings.TrimSpace(probe.Message)
		if detail == "" {
			detail = firstAPIError(body)
		}
		return fmt.Errorf("probe failed with status %d: %s", resp.StatusCode, detail)
	}
	if strings.TrimSpace(probe.FullName) == "" {
		return errors.New("probe failed: repository identity missing in response")
	}

	expected := strings.ToLower(owner + "/" + repo)
	if strings.ToLower(strings.TrimSpace(probe.FullName)) != expected {
		return fmt.Errorf("probe failed: expected repository %q, got %q", expected, strings.TrimSpace(probe.FullName))
	}

	return nil
}
