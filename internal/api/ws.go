package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/broadcast"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 4096
)

// clientFrame is a parsed client message handed from the read loop to the
// write loop. Only the write loop touches the connection's writer.
type clientFrame struct {
	statusRequest bool
	reason        string
}

// HandleWebSocket upgrades to the push channel for one task. The server
// sends the current snapshot on connect and again for every get_status
// request, followed by the task's events. After a terminal event the
// connection is closed.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	if _, err := h.tasks.GetTask(c.Request.Context(), taskID); err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade for task %s failed: %v", taskID, err)
		return
	}

	// The pipeline does not depend on this connection; only the session does.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle := broadcast.NewChannelHandle(streamBuffer)
	if err := h.broadcaster.Subscribe(ctx, taskID, handle); err != nil {
		h.logger.Warn("Subscribe to task %s failed: %v", taskID, err)
		closeConn(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer h.broadcaster.Unsubscribe(taskID, handle)

	frames := make(chan clientFrame, 8)
	go h.readLoop(ctx, cancel, conn, frames)
	h.writeLoop(ctx, conn, taskID, handle, frames)
}

func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, frames chan<- clientFrame) {
	defer cancel()
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame := clientFrame{statusRequest: true}
		if _, err := protocol.ParseClientRequest(data); err != nil {
			frame = clientFrame{reason: err.Error()}
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the connection's only writer. It never sends a status
// message whose progress is behind one already sent, so a snapshot taken
// for get_status cannot be followed by an older buffered event.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, taskID string, handle *broadcast.ChannelHandle, frames <-chan clientFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sent := -1
	send := func(ev task.Event) bool {
		if !ev.Terminal() && ev.Progress < sent {
			return true
		}
		if ev.Progress > sent {
			sent = ev.Progress
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(protocol.FromEvent(ev)); err != nil {
			h.logger.Debug("WebSocket write for task %s failed: %v", taskID, err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return

		case ev, ok := <-handle.Events():
			if !ok {
				closeConn(conn, websocket.CloseNormalClosure, "")
				return
			}
			if !send(ev) {
				_ = conn.Close()
				return
			}

		case frame := <-frames:
			if !frame.statusRequest {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(protocol.InvalidRequest(taskID, frame.reason)); err != nil {
					_ = conn.Close()
					return
				}
				continue
			}
			ev, err := h.tasks.Snapshot(ctx, taskID)
			if err != nil {
				h.logger.Warn("Snapshot for task %s failed: %v", taskID, err)
				continue
			}
			if !send(ev) {
				_ = conn.Close()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = conn.Close()
}
