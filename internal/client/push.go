package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// ErrPushClosed means the server closed the push channel before a terminal
// event arrived.
var ErrPushClosed = errors.New("push channel closed before a terminal event")

// Source streams one task's events. Stream sends events to out until it
// has sent a terminal event or a terminal status (returning nil), ctx ends,
// or the underlying channel fails.
type Source interface {
	Stream(ctx context.Context, taskID string, out chan<- task.Event) error
}

// PushSource reads a task's events from its websocket channel.
type PushSource struct {
	dialer *websocket.Dialer
	urlFor func(taskID string) string
	logger logging.Logger
}

// NewPushSource creates a push source for the client's server.
func NewPushSource(c *Client, logger logging.Logger) *PushSource {
	return &PushSource{
		dialer: websocket.DefaultDialer,
		urlFor: c.PushURL,
		logger: logging.OrNop(logger),
	}
}

func (p *PushSource) Stream(ctx context.Context, taskID string, out chan<- task.Event) error {
	conn, resp, err := p.dialer.DialContext(ctx, p.urlFor(taskID), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "Task not found"}
		}
		return fmt.Errorf("connect push channel: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.TypeGetStatus)); err != nil {
		return fmt.Errorf("request status: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrPushClosed
			}
			return fmt.Errorf("push channel: %w", err)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			p.logger.Warn("Task %s: dropping push frame: %v", taskID, err)
			continue
		}
		ev, err := msg.Event()
		if err != nil {
			p.logger.Warn("Task %s: server rejected a request: %s", taskID, msg.Text())
			continue
		}
		if ev.TaskID == "" {
			ev.TaskID = taskID
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ev.Terminal() || ev.Status.Terminal() {
			return nil
		}
	}
}
