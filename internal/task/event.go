package task

import "strings"

// EventKind tags a task event.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// FeatureSummary describes a generated feature without its content.
type FeatureSummary struct {
	Kind      FeatureKind `json:"feature_type"`
	FilePath  string      `json:"file_path,omitempty"`
	Scenarios int         `json:"scenarios"`
}

// Event is a tagged task notification: status, complete or error.
type Event struct {
	Kind        EventKind
	TaskID      string
	Status      Status
	Progress    int
	CurrentStep string
	Features    []FeatureSummary
	Error       string
}

// Terminal reports whether e is a complete or error event.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// StatusEvent snapshots t as a status event.
func StatusEvent(t *Task) Event {
	return Event{
		Kind:        EventStatus,
		TaskID:      t.ID,
		Status:      t.Status,
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		Error:       t.ErrorMessage,
	}
}

// Summarize reduces features to summaries.
func Summarize(features []Feature) []FeatureSummary {
	out := make([]FeatureSummary, 0, len(features))
	for _, f := range features {
		out = append(out, FeatureSummary{
			Kind:      f.Kind,
			FilePath:  f.FilePath,
			Scenarios: CountScenarios(f.Content),
		})
	}
	return out
}

// CountScenarios counts "Scenario:" lines in Gherkin text.
func CountScenarios(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Scenario:") || strings.HasPrefix(trimmed, "Scenario Outline:") {
			n++
		}
	}
	return n
}
