// Package client is the observer side of the service: a REST client, the
// push and poll event sources, and the Supervisor that reconciles them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const defaultRequestTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the REST endpoints of one server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:5000.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{base: u, http: httpClient}, nil
}

// PushURL returns the websocket URL of a task's push channel.
func (c *Client) PushURL(taskID string) string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = c.base.Path + "/ws/" + url.PathEscape(taskID)
	return u.String()
}

// CreateTask submits a generation request and returns the new task id.
func (c *Client) CreateTask(ctx context.Context, req protocol.CreateTaskRequest) (string, error) {
	var resp protocol.CreateTaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: create response without task_id", protocol.ErrInvalidMessage)
	}
	return resp.TaskID, nil
}

// GetTask fetches a task snapshot and, once completed, its features.
func (c *Client) GetTask(ctx context.Context, taskID string) (*protocol.TaskResponse, error) {
	var resp protocol.TaskResponse
	if err := c.do(ctx, http.MethodGet, "/api/task/"+url.PathEscape(taskID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := protocol.ValidateTask(resp.Task); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks returns the newest tasks; limit <= 0 uses the server default.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp protocol.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Logs returns a task's log lines in append order.
func (c *Client) Logs(ctx context.Context, taskID string) ([]task.LogEntry, error) {
	var resp protocol.LogsResponse
	if err := c.do(ctx, http.MethodGet, "/api/task/"+url.PathEscape(taskID)+"/logs", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Workflow returns the per-stage view of a task.
func (c *Client) Workflow(ctx context.Context, taskID string) (*protocol.WorkflowResponse, error) {
	var resp protocol.WorkflowResponse
	if err := c.do(ctx, http.MethodGet, "/api/task/"+url.PathEscape(taskID)+"/workflow", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Config returns the server's model catalog and defaults.
func (c *Client) Config(ctx context.Context) (*protocol.ConfigResponse, error) {
	var resp protocol.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download is a fetched feature file.
type Download struct {
	FileName string
	Content  []byte
}

// Download fetches the Gherkin text generated for kind.
func (c *Client) Download(ctx context.Context, taskID string, kind task.FeatureKind) (*Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download/"+url.PathEscape(taskID)+"/"+string(kind), nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", taskID, kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feature %s/%s: %w", taskID, kind, err)
	}

	name := fmt.Sprintf("%s_tests_%s.feature", kind, taskID)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return &Download{FileName: name, Content: content}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", protocol.ErrInvalidMessage, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body protocol.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Message}
}
