package task

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
)

const (
	defaultListLimit        = 50
	maxListLimit            = 200
	defaultFeatureCacheSize = 256
)

// Publisher receives every event the manager emits after persisting it.
type Publisher interface {
	Publish(taskID string, ev Event)
}

// Options configures a Manager.
type Options struct {
	Catalog         config.Catalog
	DefaultProvider string
	Defaults        Params
	ListLimit       int
	// FeatureCacheSize bounds the in-memory cache of downloaded features.
	FeatureCacheSize int
	Logger           logging.Logger
	Now              func() time.Time
}

// CreateRequest carries the caller-supplied fields for a new task. Nil
// pointers take the manager defaults.
type CreateRequest struct {
	URL           string
	LLMProvider   string
	LLMModel      string
	Headless      *bool
	Temperature   *float64
	MaxTokens     *int
	TimeoutMillis *int
	SlowMoMillis  *int
}

type featureKey struct {
	taskID string
	kind   FeatureKind
}

// Manager owns task identity and is the single writer of task state.
// Reads go straight to the store; writes are conditional store updates
// followed by a publish.
type Manager struct {
	store     Store
	catalog   config.Catalog
	provider  string
	defaults  Params
	listLimit int
	features  *lru.Cache[featureKey, Feature]
	publisher Publisher
	logger    logging.Logger
	now       func() time.Time
}

// NewManager creates a new task manager
func NewManager(store Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("task manager requires a store")
	}
	size := opts.FeatureCacheSize
	if size <= 0 {
		size = defaultFeatureCacheSize
	}
	cache, err := lru.New[featureKey, Feature](size)
	if err != nil {
		return nil, fmt.Errorf("create feature cache: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	defaults := opts.Defaults
	if defaults == (Params{}) {
		defaults = DefaultParams()
	}
	limit := opts.ListLimit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return &Manager{
		store:     store,
		catalog:   opts.Catalog,
		provider:  strings.ToLower(opts.DefaultProvider),
		defaults:  defaults,
		listLimit: limit,
		features:  cache,
		logger:    logging.OrNop(opts.Logger),
		now:       now,
	}, nil
}

// SetPublisher attaches the event fan-out. It must be called before any
// pipeline runs.
func (m *Manager) SetPublisher(p Publisher) {
	m.publisher = p
}

func (m *Manager) publish(taskID string, ev Event) {
	if m.publisher != nil {
		m.publisher.Publish(taskID, ev)
	}
}

// CreateTask validates req and persists a pending task. It does not start
// the pipeline.
func (m *Manager) CreateTask(ctx context.Context, req CreateRequest) (*Task, error) {
	t, err := m.build(req)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	m.logger.Info("Created task %s for %s (%s/%s)", t.ID, t.URL, t.LLMProvider, t.LLMModel)
	m.Log(ctx, t.ID, LogInfo, "Task created for %s", t.URL)
	return t, nil
}

func (m *Manager) build(req CreateRequest) (*Task, error) {
	target, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(strings.TrimSpace(req.LLMProvider))
	if provider == "" {
		provider = m.provider
	}
	if !m.catalog.HasProvider(provider) {
		return nil, invalid("llm_provider", "unknown provider %q", provider)
	}
	model := strings.TrimSpace(req.LLMModel)
	if model == "" {
		model, _ = m.catalog.DefaultModel(provider)
	}
	if !m.catalog.Has(provider, model) {
		return nil, invalid("llm_model", "model %q is not available for provider %q", model, provider)
	}

	params := m.defaults
	if req.Headless != nil {
		params.Headless = *req.Headless
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.TimeoutMillis != nil {
		params.TimeoutMillis = *req.TimeoutMillis
	}
	if req.SlowMoMillis != nil {
		params.SlowMoMillis = *req.SlowMoMillis
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Task{
		ID:          uuid.New().String(),
		URL:         target,
		LLMProvider: provider,
		LLMModel:    model,
		Params:      params,
		Status:      StatusPending,
		Progress:    0,
		CreatedAt:   m.now(),
	}, nil
}

// Validate checks generation parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return invalid("temperature", "must be between 0.0 and 2.0, got %g", p.Temperature)
	case p.MaxTokens < 100 || p.MaxTokens > 32000:
		return invalid("max_tokens", "must be between 100 and 32000, got %d", p.MaxTokens)
	case p.TimeoutMillis < 5000 || p.TimeoutMillis > 120000:
		return invalid("timeout", "must be between 5000 and 120000 ms, got %d", p.TimeoutMillis)
	case p.SlowMoMillis < 0 || p.SlowMoMillis > 1000:
		return invalid("slow_mo", "must be between 0 and 1000 ms, got %d", p.SlowMoMillis)
	}
	return nil
}

// NormalizeURL trims raw, prepends https:// when no scheme is given and
// requires an http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("url", "is required")
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		if strings.Contains(raw, "://") {
			return "", invalid("url", "unsupported scheme in %q", raw)
		}
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid("url", "malformed: %v", err)
	}
	if u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return "", invalid("url", "missing host in %q", raw)
	}
	return u.String(), nil
}

// GetTask retrieves a task by ID
func (m *Manager) GetTask(ctx context.Context, id string) (*Task, error) {
	return m.store.GetTask(ctx, id)
}

// ListTasks returns the newest tasks first, at most limit of them.
func (m *Manager) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = m.listLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return m.store.ListTasks(ctx, limit)
}

// Unfinished returns tasks that have not reached a terminal status.
func (m *Manager) Unfinished(ctx context.Context) ([]*Task, error) {
	return m.store.Unfinished(ctx)
}

// Snapshot returns the task's current persisted state as a status event.
func (m *Manager) Snapshot(ctx context.Context, id string) (Event, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return Event{}, err
	}
	return StatusEvent(t), nil
}

// MarkRunning moves a pending task to running at 0%.
func (m *Manager) MarkRunning(ctx context.Context, id, step string) error {
	ok, err := m.store.MarkRunning(ctx, id, step, m.now())
	if err != nil {
		return fmt.Errorf("mark running %s: %w", id, err)
	}
	if !ok {
		m.logger.Warn("Task %s: ignored start, task is not pending", id)
		return nil
	}
	m.publish(id, Event{Kind: EventStatus, TaskID: id, Status: StatusRunning, CurrentStep: step})
	return nil
}

// RecordStageProgress stores a stage checkpoint. Regressions and calls after
// a terminal status are logged and dropped.
func (m *Manager) RecordStageProgress(ctx context.Context, id string, progress int, step string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	ok, err := m.store.AdvanceProgress(ctx, id, progress, step)
	if err != nil {
		return fmt.Errorf("record progress %s: %w", id, err)
	}
	if !ok {
		current, err := m.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		m.logger.Warn("Task %s: ignored progress %d (%q), stored %d/%s", id, progress, step, current.Progress, current.Status)
		return nil
	}
	m.publish(id, Event{Kind: EventStatus, TaskID: id, Status: StatusRunning, Progress: progress, CurrentStep: step})
	return nil
}

// RecordTerminal completes or fails a running task. A second terminal call
// is a logged no-op; a call for a task that is still pending is rejected
// with ErrNotRunning.
func (m *Manager) RecordTerminal(ctx context.Context, id string, outcome Outcome) error {
	switch outcome.Status {
	case StatusCompleted:
		if outcome.Error != "" {
			return fmt.Errorf("completed outcome for %s carries an error", id)
		}
		if len(outcome.Features) == 0 {
			return fmt.Errorf("completed outcome for %s carries no features", id)
		}
	case StatusFailed:
		if len(outcome.Features) > 0 {
			return fmt.Errorf("failed outcome for %s carries features", id)
		}
		if outcome.Error == "" {
			outcome.Error = "unknown error"
		}
	default:
		return fmt.Errorf("status %q is not terminal", outcome.Status)
	}
	for i := range outcome.Features {
		outcome.Features[i].TaskID = id
		if outcome.Features[i].CreatedAt.IsZero() {
			outcome.Features[i].CreatedAt = m.now()
		}
	}

	ok, err := m.store.Finish(ctx, id, outcome, m.now())
	if err != nil {
		return fmt.Errorf("record terminal %s: %w", id, err)
	}
	if !ok {
		current, err := m.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == StatusPending {
			m.logger.Warn("Task %s: ignored %s outcome, task never started", id, outcome.Status)
			return fmt.Errorf("record terminal %s: %w", id, ErrNotRunning)
		}
		m.logger.Warn("Task %s: %v (stored %s, ignored %s)", id, ErrDuplicateTerminal, current.Status, outcome.Status)
		return nil
	}

	if outcome.Status == StatusCompleted {
		m.Log(ctx, id, LogInfo, "Test generation completed successfully")
		m.publish(id, Event{
			Kind:        EventComplete,
			TaskID:      id,
			Status:      StatusCompleted,
			Progress:    100,
			CurrentStep: outcome.Step,
			Features:    Summarize(outcome.Features),
		})
		return nil
	}
	m.Log(ctx, id, LogError, "%s", outcome.Error)
	current, err := m.store.GetTask(ctx, id)
	progress := 0
	if err == nil {
		progress = current.Progress
	}
	m.publish(id, Event{Kind: EventError, TaskID: id, Status: StatusFailed, Progress: progress, Error: outcome.Error})
	return nil
}

// Features returns the generated features of a completed task; none otherwise.
func (m *Manager) Features(ctx context.Context, id string) ([]Feature, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCompleted {
		return nil, nil
	}
	return m.store.Features(ctx, id)
}

// Feature returns the content generated for kind. Features are immutable
// once their task completed, so hits are served from cache.
func (m *Manager) Feature(ctx context.Context, id string, kind FeatureKind) (*Feature, error) {
	key := featureKey{taskID: id, kind: kind}
	if f, ok := m.features.Get(key); ok {
		return &f, nil
	}
	features, err := m.Features(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		if f.Kind == kind {
			m.features.Add(key, f)
			return &f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s for task %s", ErrFeatureUnavailable, kind, id)
}

// Log appends a diagnostic line to the task's log and mirrors it to the
// process logger. Failures are logged only.
func (m *Manager) Log(ctx context.Context, id string, level LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LogError:
		m.logger.Error("Task %s: %s", id, msg)
	case LogWarning:
		m.logger.Warn("Task %s: %s", id, msg)
	default:
		m.logger.Debug("Task %s: %s", id, msg)
	}
	entry := &LogEntry{TaskID: id, Level: level, Message: msg, CreatedAt: m.now()}
	if err := m.store.AppendLog(ctx, entry); err != nil {
		m.logger.Warn("Task %s: append log: %v", id, err)
	}
}

// Logs returns the task's log lines in append order.
func (m *Manager) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	if _, err := m.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return m.store.Logs(ctx, id)
}

// SaveAnalysis records the element detection result for a task.
func (m *Manager) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	return m.store.SaveAnalysis(ctx, a)
}

// Analysis returns the recorded element detection result.
func (m *Manager) Analysis(ctx context.Context, id string) (*Analysis, error) {
	if _, err := m.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return m.store.Analysis(ctx, id)
}
