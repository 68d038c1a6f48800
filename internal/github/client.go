// ABOUTME: Thin GitHub REST API client used by the gateway tools
// ABOUTME: Token auth, single-attempt requests, typed errors carrying HTTP status

package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds configuration for the GitHub client.
type Config struct {
	Token   string
	APIBase string // defaults to https://api.github.com
	Logger  *slog.Logger
}

// Client is a thin wrapper over the GitHub REST API. Every call is attempted
// exactly once; failures surface immediately to the caller.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a GitHub client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		token:      cfg.Token,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "github"),
	}, nil
}

// APIError is returned when GitHub responds with an unexpected status code.
// The upstream status and response body are preserved for diagnostics.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

// PullRequest is the subset of the pull request resource the gateway uses.
// Mergeable is a pointer because GitHub reports null while the mergeability
// computation is still pending.
type PullRequest struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	State          string `json:"state"`
	Draft          bool   `json:"draft"`
	HTMLURL        string `json:"html_url"`
	Merged         bool   `json:"merged"`
	Mergeable      *bool  `json:"mergeable,omitempty"`
	MergeableState string `json:"mergeable_state,omitempty"`
	Base           struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

// CommitStatus is one status check attached to a commit.
type CommitStatus struct {
	State       string `json:"state"`
	Context     string `json:"context"`
	Description string `json:"description,omitempty"`
	TargetURL   string `json:"target_url,omitempty"`
}

// combinedStatus is the combined status response for a ref.
type combinedStatus struct {
	State    string         `json:"state"`
	Statuses []CommitStatus `json:"statuses"`
}

// Review is one review on a pull request.
type Review struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
	Body  string `json:"body,omitempty"`
	User  struct {
		Login string `json:"login"`
	} `json:"user"`
}

// ReviewInput describes a review to submit.
type ReviewInput struct {
	Event string `json:"event"`
	Body  string `json:"body,omitempty"`
}

// MergeResult is GitHub's answer to a merge attempt. Merged=false with a
// message is a negative result, not an error.
type MergeResult struct {
	SHA     string `json:"sha,omitempty"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// do issues a single request with auth headers. No retries.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// apiError drains the response body into an APIError.
func apiError(operation string, resp *http.Response) error {
	b, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("%s HTTP %d and read body failed: %w", operation, resp.StatusCode, readErr)
	}
	return &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// GetPullRequest fetches a pull request including its mergeability and head commit.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("get pull request", resp)
	}

	var pr PullRequest
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode pull request: %w", err)
	}
	return &pr, nil
}

// ListCommitStatuses fetches the status checks for a commit ref, in the order
// GitHub reports them.
func (c *Client) ListCommitStatuses(ctx context.Context, owner, repo, ref string) ([]CommitStatus, error) {
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/status", owner, repo, ref)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list commit statuses", resp)
	}

	var combined combinedStatus
	if err := json.NewDecoder(resp.Body).Decode(&combined); err != nil {
		return nil, fmt.Errorf("decode commit statuses: %w", err)
	}
	return combined.Statuses, nil
}

// ListReviews fetches all reviews for a pull request.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list reviews", resp)
	}

	var reviews []Review
	if err := json.NewDecoder(resp.Body).Decode(&reviews); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	return reviews, nil
}

// CreateReview submits a review on a pull request.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, number int, in ReviewInput) (*Review, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number)
	resp, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError("create review", resp)
	}

	var review Review
	if err := json.NewDecoder(resp.Body).Decode(&review); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	return &review, nil
}

// MergePullRequest merges a pull request with the given method.
// A 405/409 answer from GitHub (not mergeable, head changed) is reported as
// MergeResult{Merged:false} with GitHub's message, not as an error.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*MergeResult, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	payload := map[string]string{"merge_method": method}

	resp, err := c.do(ctx, http.MethodPut, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result MergeResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decode merge result: %w", err)
		}
		return &result, nil
	case http.StatusMethodNotAllowed, http.StatusConflict:
		var result MergeResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decode merge refusal: %w", err)
		}
		result.Merged = false
		return &result, nil
	default:
		return nil, apiError("merge pull request", resp)
	}
}

// DispatchWorkflow triggers a workflow_dispatch event for the given workflow
// file name or ID.
func (c *Client) DispatchWorkflow(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", owner, repo, workflow)
	payload := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		payload["inputs"] = inputs
	}

	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError("dispatch workflow", resp)
	}
	return nil
}

// RepositoryDispatch triggers a repository_dispatch event with the given
// event type and client payload.
func (c *Client) RepositoryDispatch(ctx context.Context, owner, repo, eventType string, payload map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/dispatches", owner, repo)
	body := map[string]any{"event_type": eventType}
	if len(payload) > 0 {
		body["client_payload"] = payload
	}

	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError("repository dispatch", resp)
	}
	return nil
}
