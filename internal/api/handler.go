// Package api exposes the task engine over HTTP: REST endpoints, a
// websocket and an SSE push channel, and the metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/broadcast"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/generator"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/pipeline"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const defaultHeartbeat = 30 * time.Second

// Launcher starts pipelines for created tasks.
type Launcher interface {
	ProcessTask(t *task.Task) error
	ActiveTasks() int
	QueuedTasks() int
}

// Options wires a Handler.
type Options struct {
	Config      *config.Config
	Tasks       *task.Manager
	Launcher    Launcher
	Broadcaster *broadcast.Broadcaster
	// Stages drive the workflow view.
	Stages   []pipeline.Stage
	Defaults task.Params
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Handler handles HTTP requests
type Handler struct {
	cfg         *config.Config
	tasks       *task.Manager
	launcher    Launcher
	broadcaster *broadcast.Broadcaster
	stages      []pipeline.Stage
	defaults    task.Params
	gatherer    prometheus.Gatherer
	upgrader    websocket.Upgrader
	heartbeat   time.Duration
	logger      logging.Logger
}

// NewHandler creates a new handler
func NewHandler(opts Options) (*Handler, error) {
	if opts.Config == nil || opts.Tasks == nil || opts.Launcher == nil || opts.Broadcaster == nil {
		return nil, errors.New("api handler requires config, tasks, launcher and broadcaster")
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	defaults := opts.Defaults
	if defaults == (task.Params{}) {
		defaults = task.DefaultParams()
	}
	return &Handler{
		cfg:         opts.Config,
		tasks:       opts.Tasks,
		launcher:    opts.Launcher,
		broadcaster: opts.Broadcaster,
		stages:      opts.Stages,
		defaults:    defaults,
		gatherer:    gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		heartbeat: heartbeat,
		logger:    logging.OrNop(opts.Logger),
	}, nil
}

// SetupRouter sets up the Gin router
func SetupRouter(h *Handler) *gin.Engine {
	if !h.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.AllowWebSockets = true
	r.Use(cors.New(corsConfig))

	api := r.Group("/api")
	{
		api.GET("/config", h.HandleConfig)
		api.GET("/health", h.HandleHealth)
		api.POST("/generate", h.HandleGenerate)
		api.GET("/tasks", h.HandleListTasks)
		api.GET("/task/:task_id", h.HandleGetTask)
		api.GET("/task/:task_id/logs", h.HandleLogs)
		api.GET("/task/:task_id/workflow", h.HandleWorkflow)
		api.GET("/task/:task_id/analysis", h.HandleAnalysis)
		api.GET("/status/:task_id", h.HandleStatus)
		api.GET("/download/:task_id/:feature_type", h.HandleDownload)
	}
	r.GET("/ws/:task_id", h.HandleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	return r
}

// HandleGenerate validates the request, persists a pending task and hands
// it to the launcher without waiting for the pipeline.
func (h *Handler) HandleGenerate(c *gin.Context) {
	var req protocol.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	t, err := h.tasks.CreateTask(c.Request.Context(), req.ToCreateRequest())
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.launcher.ProcessTask(t); err != nil {
		h.logger.Warn("Task %s not started: %v", t.ID, err)
		h.failUnstarted(c.Request.Context(), t.ID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, generator.ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		errorResponse(c, status, err.Error())
		return
	}

	h.logger.Info("Task %s created for %s (%s/%s)", t.ID, t.URL, t.LLMProvider, t.LLMModel)
	c.JSON(http.StatusOK, protocol.CreateTaskResponse{Status: protocol.StatusSuccess, TaskID: t.ID})
}

// failUnstarted records a task the launcher refused. It passes through
// running so the status still moves pending, running, failed.
func (h *Handler) failUnstarted(ctx context.Context, id string, cause error) {
	if err := h.tasks.MarkRunning(ctx, id, "Not started"); err != nil {
		h.logger.Error("Task %s: mark running: %v", id, err)
		return
	}
	if err := h.tasks.RecordTerminal(ctx, id, task.Failed(cause.Error())); err != nil {
		h.logger.Error("Task %s: record failure: %v", id, err)
	}
}

// HandleGetTask handles the get task request
func (h *Handler) HandleGetTask(c *gin.Context) {
	ctx := c.Request.Context()
	t, err := h.tasks.GetTask(ctx, c.Param("task_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var features []task.Feature
	if t.Status == task.StatusCompleted {
		features, err = h.tasks.Features(ctx, t.ID)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	if features == nil {
		features = []task.Feature{}
	}
	c.JSON(http.StatusOK, protocol.TaskResponse{Status: protocol.StatusSuccess, Task: t, Features: features})
}

// HandleListTasks returns the newest tasks, bounded by ?limit=.
func (h *Handler) HandleListTasks(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	tasks, err := h.tasks.ListTasks(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	c.JSON(http.StatusOK, protocol.TaskListResponse{Status: protocol.StatusSuccess, Tasks: tasks})
}

// HandleLogs returns a task's log lines in append order.
func (h *Handler) HandleLogs(c *gin.Context) {
	logs, err := h.tasks.Logs(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if logs == nil {
		logs = []task.LogEntry{}
	}
	c.JSON(http.StatusOK, protocol.LogsResponse{Status: protocol.StatusSuccess, Logs: logs})
}

// HandleWorkflow reports each pipeline stage's state for a task.
func (h *Handler) HandleWorkflow(c *gin.Context) {
	t, err := h.tasks.GetTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.WorkflowResponse{
		Status:   protocol.StatusSuccess,
		TaskID:   t.ID,
		Progress: t.Progress,
		Stages:   workflow(t, h.stages),
	})
}

// HandleAnalysis returns the element-detection record for a task.
func (h *Handler) HandleAnalysis(c *gin.Context) {
	a, err := h.tasks.Analysis(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.AnalysisResponse{Status: protocol.StatusSuccess, Analysis: a})
}

// HandleDownload serves a completed task's feature file.
func (h *Handler) HandleDownload(c *gin.Context) {
	kind, ok := task.ParseFeatureKind(c.Param("feature_type"))
	if !ok {
		errorResponse(c, http.StatusBadRequest, "feature_type must be hover or popup")
		return
	}
	f, err := h.tasks.Feature(c.Request.Context(), c.Param("task_id"), kind)
	if err != nil {
		h.respondError(c, err)
		return
	}

	name := filepath.Base(f.FilePath)
	if f.FilePath == "" {
		name = fmt.Sprintf("%s_tests_%s.feature", kind, f.TaskID)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(f.Content))
}

// HandleConfig returns the model catalog and generation defaults.
func (h *Handler) HandleConfig(c *gin.Context) {
	available := h.cfg.AvailableProviders()
	providers := make([]protocol.ProviderInfo, 0, len(h.cfg.Catalog.Providers))
	for _, p := range h.cfg.Catalog.Providers {
		providers = append(providers, protocol.ProviderInfo{
			Name:      p.Name,
			Available: available[p.Name],
			Models:    append([]string(nil), p.Models...),
		})
	}
	c.JSON(http.StatusOK, protocol.ConfigResponse{
		Status:          protocol.StatusSuccess,
		DefaultProvider: h.cfg.LLM.DefaultProvider,
		Providers:       providers,
		Defaults:        h.defaults,
	})
}

// HandleHealth handles health check
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, protocol.HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		ActiveTasks: h.launcher.ActiveTasks(),
		QueuedTasks: h.launcher.QueuedTasks(),
	})
}

// respondError maps the task error taxonomy onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		errorResponse(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, task.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "Task not found")
	case errors.Is(err, task.ErrFeatureUnavailable):
		errorResponse(c, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		errorResponse(c, http.StatusInternalServerError, "internal error")
	}
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, protocol.ErrorResponse{Status: protocol.StatusError, Message: message})
}

// workflow derives stage states from the task's progress. A stage is
// completed once progress reaches its checkpoint; the first stage past the
// progress is running or failed depending on the task status.
func workflow(t *task.Task, stages []pipeline.Stage) []protocol.WorkflowStage {
	out := make([]protocol.WorkflowStage, 0, len(stages))
	prev := 0
	for _, s := range stages {
		state := "pending"
		switch {
		case t.Progress >= s.Checkpoint:
			state = "completed"
		case t.Progress >= prev && t.Status == task.StatusRunning:
			state = "running"
		case t.Progress >= prev && t.Status == task.StatusFailed:
			state = "failed"
		}
		out = append(out, protocol.WorkflowStage{
			Name:       s.Name,
			Label:      s.Label,
			Checkpoint: s.Checkpoint,
			Status:     state,
		})
		prev = s.Checkpoint
	}
	return out
}
