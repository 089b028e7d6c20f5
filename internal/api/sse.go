package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/broadcast"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const streamBuffer = 32

// HandleStatus streams a task's events as server-sent events. The first
// event is the current snapshot; the stream ends after a terminal event, or
// right after the snapshot when the task is already terminal.
func (h *Handler) HandleStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	ctx := c.Request.Context()

	if _, err := h.tasks.GetTask(ctx, taskID); err != nil {
		h.respondError(c, err)
		return
	}

	handle := broadcast.NewChannelHandle(streamBuffer)
	if err := h.broadcaster.Subscribe(ctx, taskID, handle); err != nil {
		h.respondError(c, err)
		return
	}
	defer h.broadcaster.Unsubscribe(taskID, handle)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-handle.Events():
			if !ok {
				return
			}
			if err := writeSSE(c.Writer, ev); err != nil {
				h.logger.Debug("SSE write for task %s failed: %v", taskID, err)
				return
			}
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}

// writeSSE writes one event frame named after the message type.
func writeSSE(w io.Writer, ev task.Event) error {
	msg := protocol.FromEvent(ev)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
	return err
}
