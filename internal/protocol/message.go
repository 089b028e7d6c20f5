// Package protocol defines the tagged messages exchanged over the push
// channels and the REST payloads, and validates them at ingress.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// Message types.
const (
	TypeStatus         = "status"
	TypeComplete       = "complete"
	TypeError          = "error"
	TypeGetStatus      = "get_status"
	TypeInvalidRequest = "invalid_request"
)

// ErrInvalidMessage wraps every decode and validation failure.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a server-to-client push message.
type Message struct {
	Type         string                `json:"type"`
	TaskID       string                `json:"task_id,omitempty"`
	Status       task.Status           `json:"status,omitempty"`
	Progress     int                   `json:"progress"`
	CurrentStep  string                `json:"current_step,omitempty"`
	Features     []task.FeatureSummary `json:"features,omitempty"`
	Error        string                `json:"error,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

// FromEvent converts a task event into its wire form.
func FromEvent(ev task.Event) Message {
	msg := Message{
		Type:        string(ev.Kind),
		TaskID:      ev.TaskID,
		Status:      ev.Status,
		Progress:    ev.Progress,
		CurrentStep: ev.CurrentStep,
		Features:    ev.Features,
	}
	if ev.Error != "" {
		msg.Error = ev.Error
		msg.ErrorMessage = ev.Error
	}
	return msg
}

// InvalidRequest builds the reply to a client message that was not understood.
func InvalidRequest(taskID, reason string) Message {
	return Message{Type: TypeInvalidRequest, TaskID: taskID, Error: reason}
}

// Decode parses and validates a server message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks the fields required by msg.Type.
func (m *Message) Validate() error {
	if m.Progress < 0 || m.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidMessage, m.Progress)
	}
	switch m.Type {
	case TypeStatus:
		if !m.Status.Valid() {
			return fmt.Errorf("%w: status %q", ErrInvalidMessage, m.Status)
		}
	case TypeComplete:
		if m.Status == "" {
			m.Status = task.StatusCompleted
		}
		if m.Status != task.StatusCompleted {
			return fmt.Errorf("%w: complete message with status %q", ErrInvalidMessage, m.Status)
		}
	case TypeError:
		if m.Status == "" {
			m.Status = task.StatusFailed
		}
		if m.Status != task.StatusFailed {
			return fmt.Errorf("%w: error message with status %q", ErrInvalidMessage, m.Status)
		}
		if m.Text() == "" {
			return fmt.Errorf("%w: error message without text", ErrInvalidMessage)
		}
	case TypeInvalidRequest:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// Text returns the error text, preferring error_message.
func (m Message) Text() string {
	if m.ErrorMessage != "" {
		return m.ErrorMessage
	}
	return m.Error
}

// Event converts a validated task message back into a task event. It fails
// for message types that carry no task state.
func (m Message) Event() (task.Event, error) {
	switch m.Type {
	case TypeStatus, TypeComplete, TypeError:
	default:
		return task.Event{}, fmt.Errorf("%w: %q carries no task state", ErrInvalidMessage, m.Type)
	}
	return task.Event{
		Kind:        task.EventKind(m.Type),
		TaskID:      m.TaskID,
		Status:      m.Status,
		Progress:    m.Progress,
		CurrentStep: m.CurrentStep,
		Features:    m.Features,
		Error:       m.Text(),
	}, nil
}

// ClientRequest is a client-to-server push channel message.
type ClientRequest struct {
	Type string `json:"type"`
}

// ParseClientRequest accepts "get_status" as plain text or as
// {"type":"get_status"}.
func ParseClientRequest(data []byte) (ClientRequest, error) {
	text := strings.TrimSpace(string(data))
	if text == TypeGetStatus {
		return ClientRequest{Type: TypeGetStatus}, nil
	}
	var req ClientRequest
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return ClientRequest{}, fmt.Errorf("%w: %q", ErrInvalidMessage, truncate(text, 64))
	}
	if req.Type != TypeGetStatus {
		return ClientRequest{}, fmt.Errorf("%w: unsupported request %q", ErrInvalidMessage, req.Type)
	}
	return req, nil
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
