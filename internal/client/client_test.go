package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	return c
}

func TestNewRejectsNonHTTPURL(t *testing.T) {
	_, err := New("ftp://example.com", nil)
	assert.Error(t, err)
}

func TestPushURL(t *testing.T) {
	c, err := New("http://localhost:5000/", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5000/ws/T1", c.PushURL("T1"))

	c, err = New("https://gen.example.com/bdd", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://gen.example.com/bdd/ws/T1", c.PushURL("T1"))
}

func TestCreateTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Status: "error", Message: "validation error: url: is required"})
			return
		}
		writeJSON(w, http.StatusOK, protocol.CreateTaskResponse{Status: "success", TaskID: "T1"})
	})
	c := newClient(t, mux)

	id, err := c.CreateTask(context.Background(), protocol.CreateTaskRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "T1", id)

	_, err = c.CreateTask(context.Background(), protocol.CreateTaskRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "validation error: url: is required", apiErr.Message)
}

func TestGetTaskValidatesPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "bad":
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "task": map[string]any{"id": "bad", "status": "running", "progress": 140}})
		case "ok":
			writeJSON(w, http.StatusOK, protocol.TaskResponse{Status: "success", Task: &task.Task{ID: "ok", Status: task.StatusRunning, Progress: 30}})
		default:
			writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: "error", Message: "Task not found"})
		}
	})
	c := newClient(t, mux)

	resp, err := c.GetTask(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 30, resp.Task.Progress)

	_, err = c.GetTask(context.Background(), "bad")
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)

	_, err = c.GetTask(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestDownloadUsesServerFileName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/download/T1/hover", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="hover_tests_20260101_120000.feature"`)
		_, _ = w.Write([]byte("Feature: Hover"))
	})
	c := newClient(t, mux)

	d, err := c.Download(context.Background(), "T1", task.FeatureHover)
	require.NoError(t, err)
	assert.Equal(t, "hover_tests_20260101_120000.feature", d.FileName)
	assert.Equal(t, "Feature: Hover", string(d.Content))

	_, err = c.Download(context.Background(), "T1", task.FeaturePopup)
	assert.True(t, IsNotFound(err))
}

// pushServer upgrades /ws/{id} and hands the connection to script.
func pushServer(mux *http.ServeMux, script func(conn *websocket.Conn)) {
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("GET /ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, data, err := conn.ReadMessage(); err != nil || string(data) != protocol.TypeGetStatus {
			return
		}
		script(conn)
	})
}

func drainSource(t *testing.T, src Source, taskID string) ([]task.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan task.Event, 16)
	err := src.Stream(ctx, taskID, out)
	close(out)
	var events []task.Event
	for ev := range out {
		events = append(events, ev)
	}
	return events, err
}

func TestPushSourceStopsAtTerminal(t *testing.T) {
	mux := http.NewServeMux()
	pushServer(mux, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeStatus, TaskID: "T1", Status: task.StatusRunning, Progress: 30})
		_ = conn.WriteJSON(protocol.InvalidRequest("T1", "unsupported request"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress"}`))
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeComplete, TaskID: "T1", Status: task.StatusCompleted, Progress: 100})
		_, _, _ = conn.ReadMessage()
	})
	c := newClient(t, mux)

	events, err := drainSource(t, NewPushSource(c, nil), "T1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 30, events[0].Progress)
	assert.Equal(t, task.EventComplete, events[1].Kind)
}

func TestPushSourceReportsEarlyClose(t *testing.T) {
	mux := http.NewServeMux()
	pushServer(mux, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeStatus, TaskID: "T1", Status: task.StatusRunning, Progress: 30})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	})
	c := newClient(t, mux)

	events, err := drainSource(t, NewPushSource(c, nil), "T1")
	assert.ErrorIs(t, err, ErrPushClosed)
	assert.Len(t, events, 1)
}

func TestPushSourceUnknownTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: "error", Message: "Task not found"})
	})
	c := newClient(t, mux)

	_, err := drainSource(t, NewPushSource(c, nil), "T1")
	assert.True(t, IsNotFound(err))
}

func TestPollSourceStopsOnNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/task/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: "error", Message: "Task not found"})
	})
	c := newClient(t, mux)

	_, err := drainSource(t, NewPollSource(c, 10*time.Millisecond, nil), "T1")
	assert.True(t, IsNotFound(err))
}

func TestPushDropFallsBackToPollingUntilTerminal(t *testing.T) {
	var polls atomic.Int64
	mux := http.NewServeMux()
	pushServer(mux, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeStatus, TaskID: "T3", Status: task.StatusRunning, Progress: 30})
		// drop without a close frame
		_ = conn.UnderlyingConn().Close()
	})
	mux.HandleFunc("GET /api/task/{id}", func(w http.ResponseWriter, _ *http.Request) {
		n := polls.Add(1)
		resp := protocol.TaskResponse{Status: "success", Task: &task.Task{ID: "T3", Status: task.StatusRunning, Progress: 60}}
		if n >= 2 {
			resp.Task.Status = task.StatusCompleted
			resp.Task.Progress = 100
			resp.Features = []task.Feature{
				{TaskID: "T3", Kind: task.FeatureHover, Content: "Feature: x\nScenario: a"},
				{TaskID: "T3", Kind: task.FeaturePopup, Content: "Feature: y\nScenario: b"},
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})
	c := newClient(t, mux)

	s, err := NewSupervisor(SupervisorOptions{
		Push: NewPushSource(c, nil),
		Poll: NewPollSource(c, 20*time.Millisecond, nil),
	})
	require.NoError(t, err)

	o := s.Observe(context.Background(), "T3")
	events := collect(t, o)
	require.NoError(t, o.Err())
	assert.Equal(t, ModePoll, o.Mode())
	assert.Equal(t, []int{30, 60, 100}, progressOf(events))
	assert.Equal(t, 1, terminalCount(events))
	last := events[len(events)-1]
	assert.Equal(t, task.EventComplete, last.Kind)
	assert.Len(t, last.Features, 2)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), polls.Load(), "polling stops at the terminal status")
}
