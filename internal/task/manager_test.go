package task_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/store"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

type eventLog struct {
	mu     sync.Mutex
	events []task.Event
}

func (l *eventLog) Publish(_ string, ev task.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []task.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]task.Event(nil), l.events...)
}

func newManager(t *testing.T) (*task.Manager, *eventLog) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := task.NewManager(db, task.Options{
		Catalog:         config.DefaultCatalog(),
		DefaultProvider: "groq",
	})
	require.NoError(t, err)
	events := &eventLog{}
	m.SetPublisher(events)
	return m, events
}

func createTask(t *testing.T, m *task.Manager) *task.Task {
	t.Helper()
	created, err := m.CreateTask(context.Background(), task.CreateRequest{
		URL:         "https://example.com",
		LLMProvider: "groq",
		LLMModel:    "llama-3.1-8b-instant",
	})
	require.NoError(t, err)
	return created
}

func TestCreateTaskPersistsPending(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	created := createTask(t, m)
	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, task.DefaultParams(), got.Params)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateTaskDefaultsAndNormalization(t *testing.T) {
	m, _ := newManager(t)
	headless := false
	created, err := m.CreateTask(context.Background(), task.CreateRequest{
		URL:      "  example.org/path ",
		Headless: &headless,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/path", created.URL)
	assert.Equal(t, "groq", created.LLMProvider)
	assert.Equal(t, "openai/gpt-oss-20b", created.LLMModel)
	assert.False(t, created.Params.Headless)
}

func TestCreateTaskValidation(t *testing.T) {
	m, _ := newManager(t)
	tokens := 10
	timeout := 1000

	tests := []struct {
		name  string
		req   task.CreateRequest
		field string
	}{
		{"empty url", task.CreateRequest{}, "url"},
		{"bad scheme", task.CreateRequest{URL: "ftp://example.com"}, "url"},
		{"unknown provider", task.CreateRequest{URL: "example.com", LLMProvider: "mystery"}, "llm_provider"},
		{"unknown model", task.CreateRequest{URL: "example.com", LLMProvider: "openai", LLMModel: "m1"}, "llm_model"},
		{"tokens too low", task.CreateRequest{URL: "example.com", MaxTokens: &tokens}, "max_tokens"},
		{"timeout too low", task.CreateRequest{URL: "example.com", TimeoutMillis: &timeout}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateTask(context.Background(), tt.req)
			var verr *task.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	tasks, err := m.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, tasks, "validation failures must not create tasks")
}

func TestGetTaskNotFound(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)

	_, err = m.Logs(context.Background(), "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestListTasksNewestFirst(t *testing.T) {
	m, _ := newManager(t)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createTask(t, m).ID)
	}

	tasks, err := m.ListTasks(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, ids[2], tasks[0].ID)
	assert.Equal(t, ids[1], tasks[1].ID)
}

func TestProgressIsMonotonic(t *testing.T) {
	m, events := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)

	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 30, "Elements detected"))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 10, "stale"))

	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, "Elements detected", got.CurrentStep)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	var progress []int
	for _, ev := range events.snapshot() {
		progress = append(progress, ev.Progress)
	}
	assert.Equal(t, []int{0, 30}, progress, "rejected progress is not published")
}

func TestRecordTerminalCompletedIsIdempotent(t *testing.T) {
	m, events := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)
	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 90, "Popup scenarios generated"))

	features := []task.Feature{
		{Kind: task.FeatureHover, Content: "Feature: Hover\n\nScenario: One\nScenario: Two"},
		{Kind: task.FeaturePopup, Content: "Feature: Popup\n\nScenario: One"},
	}
	require.NoError(t, m.RecordTerminal(ctx, created.ID, task.Completed("done", features)))
	require.NoError(t, m.RecordTerminal(ctx, created.ID, task.Failed("late failure")))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 95, "after terminal"))

	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	var terminal []task.Event
	for _, ev := range events.snapshot() {
		if ev.Terminal() {
			terminal = append(terminal, ev)
		}
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, task.EventComplete, terminal[0].Kind)
	require.Len(t, terminal[0].Features, 2)
	assert.Equal(t, 2, terminal[0].Features[0].Scenarios)

	stored, err := m.Features(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	hover, err := m.Feature(ctx, created.ID, task.FeatureHover)
	require.NoError(t, err)
	assert.Equal(t, features[0].Content, hover.Content)
}

func TestRecordTerminalFailed(t *testing.T) {
	m, events := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)
	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 10, "Page loaded"))
	require.NoError(t, m.RecordTerminal(ctx, created.ID, task.Failed("stage detect_elements timed out after 5s")))

	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 10, got.Progress)
	assert.Contains(t, got.ErrorMessage, "timed out")

	features, err := m.Features(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, features)

	_, err = m.Feature(ctx, created.ID, task.FeatureHover)
	assert.ErrorIs(t, err, task.ErrFeatureUnavailable)

	all := events.snapshot()
	last := all[len(all)-1]
	assert.Equal(t, task.EventError, last.Kind)
	assert.Equal(t, 10, last.Progress)

	logs, err := m.Logs(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, task.LogError, logs[len(logs)-1].Level)
}

func TestRecordTerminalRejectsPendingTask(t *testing.T) {
	m, events := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)

	features := []task.Feature{{Kind: task.FeatureHover, Content: "Feature: Hover"}}
	err := m.RecordTerminal(ctx, created.ID, task.Completed("done", features))
	assert.ErrorIs(t, err, task.ErrNotRunning)
	err = m.RecordTerminal(ctx, created.ID, task.Failed("boom"))
	assert.ErrorIs(t, err, task.ErrNotRunning)

	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	for _, ev := range events.snapshot() {
		assert.False(t, ev.Terminal(), "no terminal event for a task that never ran")
	}

	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))
	require.NoError(t, m.RecordTerminal(ctx, created.ID, task.Failed("boom")))
	got, err = m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestRecordTerminalCompletedRequiresFeatures(t *testing.T) {
	m, events := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)
	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))

	assert.Error(t, m.RecordTerminal(ctx, created.ID, task.Completed("done", nil)))

	got, err := m.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	for _, ev := range events.snapshot() {
		assert.False(t, ev.Terminal())
	}
}

func TestFeatureUnavailableBeforeCompletion(t *testing.T) {
	m, _ := newManager(t)
	created := createTask(t, m)
	_, err := m.Feature(context.Background(), created.ID, task.FeaturePopup)
	assert.True(t, errors.Is(err, task.ErrFeatureUnavailable))
}

func TestSnapshotReflectsStoredState(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)
	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))
	require.NoError(t, m.RecordStageProgress(ctx, created.ID, 60, "Hover scenarios generated"))

	ev, err := m.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.EventStatus, ev.Kind)
	assert.Equal(t, 60, ev.Progress)
	assert.Equal(t, "Hover scenarios generated", ev.CurrentStep)
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	created := createTask(t, m)
	require.NoError(t, m.MarkRunning(ctx, created.ID, "Starting pipeline"))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var violations int
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := m.GetTask(ctx, created.ID)
				if err != nil {
					continue
				}
				bad := got.Progress < last ||
					(got.Status == task.StatusCompleted && (got.Progress != 100 || got.ErrorMessage != ""))
				if bad {
					mu.Lock()
					violations++
					mu.Unlock()
				}
				last = got.Progress
				time.Sleep(time.Millisecond)
			}
		}()
	}

	for _, p := range []int{10, 30, 60, 90, 100} {
		require.NoError(t, m.RecordStageProgress(ctx, created.ID, p, "step"))
	}
	require.NoError(t, m.RecordTerminal(ctx, created.ID, task.Completed("done", []task.Feature{
		{Kind: task.FeatureHover, Content: "Feature: Hover"},
	})))
	close(stop)
	wg.Wait()
	assert.Zero(t, violations)
}
