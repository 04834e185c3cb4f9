// Package tracker provides an HTTP client for the issue tracker's internal
// API. The engine uses it to carry out automation side effects.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/port/actions"
	"github.com/quarryhq/quarry/internal/resilience"
)

// Client talks to the tracker's internal automation API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ actions.Performer = (*Client)(nil)

// NewClient creates a new tracker client from configuration.
func NewClient(cfg config.Tracker) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// UpdateField sets a native or custom field on an issue.
func (c *Client) UpdateField(ctx context.Context, issueID, field string, value any) error {
	body, err := json.Marshal(map[string]any{"field": field, "value": value})
	if err != nil {
		return fmt.Errorf("marshal update field: %w", err)
	}

	path := fmt.Sprintf("/internal/issues/%s/fields", issueID)
	if _, err := c.doRequest(ctx, http.MethodPatch, path, body); err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	return nil
}

// AssignIssue assigns the issue to the referenced user and returns the
// resolved assignee's display name.
func (c *Client) AssignIssue(ctx context.Context, issueID, userRef string) (string, error) {
	body, err := json.Marshal(map[string]string{"assignee": userRef})
	if err != nil {
		return "", fmt.Errorf("marshal assign: %w", err)
	}

	path := fmt.Sprintf("/internal/issues/%s/assignee", issueID)
	resp, err := c.doRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return "", fmt.Errorf("assign issue: %w", err)
	}

	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal assignee: %w", err)
	}
	return result.DisplayName, nil
}

// TransitionIssue moves the issue to the given status and returns the status
// display name.
func (c *Client) TransitionIssue(ctx context.Context, issueID, statusID string) (string, error) {
	body, err := json.Marshal(map[string]string{"status_id": statusID})
	if err != nil {
		return "", fmt.Errorf("marshal transition: %w", err)
	}

	path := fmt.Sprintf("/internal/issues/%s/transition", issueID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("transition issue: %w", err)
	}

	var result struct {
		StatusName string `json:"status_name"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal transition: %w", err)
	}
	return result.StatusName, nil
}

// AddComment adds a comment authored by authorID and returns its ID.
func (c *Client) AddComment(ctx context.Context, issueID, authorID, commentBody string) (string, error) {
	body, err := json.Marshal(map[string]string{"author_id": authorID, "body": commentBody})
	if err != nil {
		return "", fmt.Errorf("marshal comment: %w", err)
	}

	path := fmt.Sprintf("/internal/issues/%s/comments", issueID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("add comment: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal comment: %w", err)
	}
	return result.ID, nil
}

// SendNotification delivers a message to the recipients.
func (c *Client) SendNotification(ctx context.Context, recipients []string, message string) error {
	body, err := json.Marshal(map[string]any{"recipients": recipients, "message": message})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/internal/notifications", body); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// CreateLinkedIssue creates a new issue linked to issueID and returns the new
// issue's key.
func (c *Client) CreateLinkedIssue(ctx context.Context, issueID string, req actions.LinkedIssueRequest) (string, error) {
	body, err := json.Marshal(map[string]string{
		"project_id":  req.ProjectID,
		"type_id":     req.TypeID,
		"summary":     req.Summary,
		"description": req.Description,
		"reporter_id": req.ReporterID,
		"link_type":   req.LinkType,
	})
	if err != nil {
		return "", fmt.Errorf("marshal linked issue: %w", err)
	}

	path := fmt.Sprintf("/internal/issues/%s/linked", issueID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("create linked issue: %w", err)
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal linked issue: %w", err)
	}
	return result.Key, nil
}

// Health checks if the tracker API is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/internal/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("tracker API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
