package task

import (
	"encoding/json"
	"time"
)

// Status represents the status of a task
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params are the generation parameters a task was created with.
type Params struct {
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	Headless      bool    `json:"headless"`
	TimeoutMillis int     `json:"timeout"`
	SlowMoMillis  int     `json:"slow_mo"`
}

// DefaultParams are applied to requests that omit generation parameters.
func DefaultParams() Params {
	return Params{
		Temperature:   0.3,
		MaxTokens:     4096,
		Headless:      true,
		TimeoutMillis: 30000,
		SlowMoMillis:  100,
	}
}

// Task represents a Gherkin generation task
type Task struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	LLMProvider  string     `json:"llm_provider"`
	LLMModel     string     `json:"llm_model"`
	Params       Params     `json:"params"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"current_step"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	return t.Status.Terminal()
}

// FeatureKind is the interaction family a feature covers.
type FeatureKind string

const (
	FeatureHover FeatureKind = "hover"
	FeaturePopup FeatureKind = "popup"
)

// ParseFeatureKind validates a feature_type value.
func ParseFeatureKind(s string) (FeatureKind, bool) {
	switch FeatureKind(s) {
	case FeatureHover, FeaturePopup:
		return FeatureKind(s), true
	}
	return "", false
}

// Feature is one generated Gherkin document.
type Feature struct {
	TaskID    string      `json:"task_id"`
	Kind      FeatureKind `json:"feature_type"`
	Content   string      `json:"feature_content"`
	FilePath  string      `json:"file_path,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// LogLevel is the severity of a persisted task log line.
type LogLevel string

const (
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// LogEntry is one append-only diagnostic line for a task. Seq is the
// append position.
type LogEntry struct {
	Seq       int64     `json:"-"`
	TaskID    string    `json:"task_id"`
	Level     LogLevel  `json:"log_level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Analysis is the element-detection output recorded for a task.
type Analysis struct {
	TaskID        string          `json:"task_id"`
	PageStructure json.RawMessage `json:"page_structure"`
	HoverElements json.RawMessage `json:"hover_elements"`
	PopupElements json.RawMessage `json:"popup_elements"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Outcome is the terminal result of a task's pipeline.
type Outcome struct {
	Status   Status
	Step     string
	Features []Feature
	Error    string
}

// Completed builds a successful outcome.
func Completed(step string, features []Feature) Outcome {
	return Outcome{Status: StatusCompleted, Step: step, Features: features}
}

// Failed builds a failed outcome.
func Failed(message string) Outcome {
	return Outcome{Status: StatusFailed, Error: message}
}
