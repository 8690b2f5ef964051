package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Midnight API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTasks fetches tasks from the API
func (c *Client) ListTasks(status string) ([]TaskItem, error) {
	url := c.baseURL + "/tasks"
	if status != "" {
		url += "?status=" + status
	}

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var tasks []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Attempt     int    `json:"attempt"`
		LastScore   *int   `json:"last_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, err
	}

	items := make([]TaskItem, len(tasks))
	for i, t := range tasks {
		items[i] = TaskItem{
			ID:          t.ID,
			Description: t.Description,
			Status:      t.Status,
			Attempt:     t.Attempt,
			LastScore:   t.LastScore,
		}
	}
	return items, nil
}

// GetTask fetches a single task
func (c *Client) GetTask(id string) (*TaskDetail, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/tasks/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var t struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Scope       string `json:"scope"`
		Priority    int    `json:"priority"`
		Status      string `json:"status"`
		Attempt     int    `json:"attempt"`
		LastScore   *int   `json:"last_score"`
		LastNotes   string `json:"last_notes"`
		CreatedAt   string `json:"created_at"`
		UpdatedAt   string `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, err
	}

	return &TaskDetail{
		ID:          t.ID,
		Description: t.Description,
		Scope:       t.Scope,
		Priority:    t.Priority,
		Status:      t.Status,
		Attempt:     t.Attempt,
		LastScore:   t.LastScore,
		LastNotes:   t.LastNotes,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

// GetReviews fetches the review history for a task
func (c *Client) GetReviews(id string) ([]ReviewDetail, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/tasks/" + id + "/reviews")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var reviews []struct {
		Attempt  int    `json:"attempt"`
		Score    int    `json:"score"`
		Notes    string `json:"notes"`
		Reviewer string `json:"reviewer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reviews); err != nil {
		return nil, err
	}

	items := make([]ReviewDetail, len(reviews))
	for i, r := range reviews {
		items[i] = ReviewDetail{Attempt: r.Attempt, Score: r.Score, Notes: r.Notes, Reviewer: r.Reviewer}
	}
	return items, nil
}

// Health reports whether the daemon answers its health endpoint.
func (c *Client) Health() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
