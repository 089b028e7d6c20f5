package protocol

import (
	"fmt"
	"time"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CreateTaskRequest is the body of POST /api/generate.
type CreateTaskRequest struct {
	URL         string   `json:"url"`
	LLMProvider string   `json:"llm_provider,omitempty"`
	LLMModel    string   `json:"llm_model,omitempty"`
	Headless    *bool    `json:"headless,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Timeout     *int     `json:"timeout,omitempty"`
	SlowMo      *int     `json:"slow_mo,omitempty"`
}

// ToCreateRequest maps the wire request to the task manager's request.
func (r CreateTaskRequest) ToCreateRequest() task.CreateRequest {
	return task.CreateRequest{
		URL:           r.URL,
		LLMProvider:   r.LLMProvider,
		LLMModel:      r.LLMModel,
		Headless:      r.Headless,
		Temperature:   r.Temperature,
		MaxTokens:     r.MaxTokens,
		TimeoutMillis: r.Timeout,
		SlowMoMillis:  r.SlowMo,
	}
}

// ErrorResponse is returned by every failing endpoint.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateTaskResponse is returned by POST /api/generate.
type CreateTaskResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

// TaskResponse is returned by GET /api/task/{id}. Features are only
// present for completed tasks.
type TaskResponse struct {
	Status   string         `json:"status"`
	Task     *task.Task     `json:"task"`
	Features []task.Feature `json:"features"`
}

// TaskListResponse is returned by GET /api/tasks, newest first.
type TaskListResponse struct {
	Status string       `json:"status"`
	Tasks  []*task.Task `json:"tasks"`
}

// LogsResponse is returned by GET /api/task/{id}/logs in append order.
type LogsResponse struct {
	Status string          `json:"status"`
	Logs   []task.LogEntry `json:"logs"`
}

// AnalysisResponse is returned by GET /api/task/{id}/analysis.
type AnalysisResponse struct {
	Status   string         `json:"status"`
	Analysis *task.Analysis `json:"analysis"`
}

// WorkflowStage is one pipeline stage as shown to observers.
type WorkflowStage struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Checkpoint int    `json:"checkpoint"`
	Status     string `json:"status"`
}

// WorkflowResponse is returned by GET /api/task/{id}/workflow.
type WorkflowResponse struct {
	Status   string          `json:"status"`
	TaskID   string          `json:"task_id"`
	Progress int             `json:"progress"`
	Stages   []WorkflowStage `json:"stages"`
}

// ProviderInfo describes one provider of the model catalog.
type ProviderInfo struct {
	Name      string   `json:"name"`
	Available bool     `json:"available"`
	Models    []string `json:"models"`
}

// ConfigResponse is returned by GET /api/config.
type ConfigResponse struct {
	Status          string         `json:"status"`
	DefaultProvider string         `json:"default_provider"`
	Providers       []ProviderInfo `json:"providers"`
	Defaults        task.Params    `json:"defaults"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	ActiveTasks int       `json:"active_tasks"`
	QueuedTasks int       `json:"queued_tasks"`
}

// ValidateTask rejects task payloads that no server state could produce.
func ValidateTask(t *task.Task) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: missing task", ErrInvalidMessage)
	case t.ID == "":
		return fmt.Errorf("%w: task without id", ErrInvalidMessage)
	case !t.Status.Valid():
		return fmt.Errorf("%w: task status %q", ErrInvalidMessage, t.Status)
	case t.Progress < 0 || t.Progress > 100:
		return fmt.Errorf("%w: task progress %d", ErrInvalidMessage, t.Progress)
	case t.Status == task.StatusFailed && t.ErrorMessage == "":
		return fmt.Errorf("%w: failed task without error message", ErrInvalidMessage)
	}
	return nil
}
