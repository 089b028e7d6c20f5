package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/archive"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/gherkin"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/llm"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

type staticNavigator struct {
	html string
	opts browser.Options
}

func (n *staticNavigator) Navigate(_ context.Context, url string, opts browser.Options) (*browser.Page, error) {
	n.opts = opts
	return browser.NewPage(url, n.html)
}

type scriptedClient struct{ reply string }

func (c scriptedClient) Generate(context.Context, string, string) (string, error) {
	return c.reply, nil
}

func (c scriptedClient) GetModelName() string {
	return "scripted"
}

type clientFactory struct {
	client llm.Client
	err    error
	calls  int
}

func (f *clientFactory) ForTask(*task.Task) (llm.Client, error) {
	f.calls++
	return f.client, f.err
}

type memoryRecorder struct {
	mu       sync.Mutex
	analysis *task.Analysis
}

func (r *memoryRecorder) SaveAnalysis(_ context.Context, a *task.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis = a
	return nil
}

func (r *memoryRecorder) Log(context.Context, string, task.LogLevel, string, ...any) {}

type memoryArchive struct{ saved []task.Feature }

func (a *memoryArchive) Save(_ context.Context, taskID string, features []task.Feature, _ time.Time) ([]task.Feature, error) {
	out := make([]task.Feature, len(features))
	for i, f := range features {
		f.FilePath = "/archive/" + taskID + "/" + string(f.Kind) + ".feature"
		out[i] = f
	}
	a.saved = out
	return out, nil
}

const menuPage = `<html><head><title>Shop</title></head><body>
<nav><ul><li><a href="/store">Store</a><ul><li><a href="/latest">Shop the Latest</a></li></ul></li></ul></nav>
</body></html>`

func pipelineTask() *task.Task {
	return &task.Task{
		ID:          "T1",
		URL:         "https://shop.test",
		LLMProvider: "groq",
		LLMModel:    "m1",
		Params:      task.Params{Headless: true, TimeoutMillis: 5000, SlowMoMillis: 100},
	}
}

func TestDefaultStagesEndToEnd(t *testing.T) {
	nav := &staticNavigator{html: menuPage}
	factory := &clientFactory{client: scriptedClient{reply: "Feature: Store menu\nScenario: Verify Store menu appears on hover\n  Given the user is on the \"https://shop.test\" page"}}
	recorder := &memoryRecorder{}
	archive := &memoryArchive{}
	reporter := &recordingReporter{}

	stages := DefaultStages(Dependencies{
		Navigator:  nav,
		Detector:   browser.NewDetector(20, 10),
		Writer:     gherkin.NewWriter(nil),
		Clients:    factory,
		Recorder:   recorder,
		Archive:    archive,
		LLMTimeout: time.Second,
	})
	exec, err := NewExecutor(reporter, stages, Options{})
	require.NoError(t, err)

	require.NoError(t, exec.Execute(context.Background(), pipelineTask()))

	assert.Equal(t, []int{10, 30, 60, 90, 100}, reporter.progress)
	assert.Equal(t, []string{"Page loaded", "Elements detected", "Hover scenarios generated", "Popup scenarios generated", "Features saved"}, reporter.steps)
	assert.True(t, nav.opts.Headless)
	assert.Equal(t, 5*time.Second, nav.opts.Timeout)
	assert.Equal(t, 1, factory.calls, "popup stage has no elements and needs no client")

	require.NotNil(t, recorder.analysis)
	var hover []browser.Element
	require.NoError(t, json.Unmarshal(recorder.analysis.HoverElements, &hover))
	require.Len(t, hover, 1)
	assert.Equal(t, "Store", hover[0].Text)
	assert.JSONEq(t, `[]`, string(recorder.analysis.PopupElements))

	outcome := reporter.terminals[0]
	require.Len(t, outcome.Features, 2)
	assert.Contains(t, outcome.Features[0].Content, "Feature: Store menu")
	assert.Equal(t, gherkin.GenericPopup("https://shop.test"), outcome.Features[1].Content)
	assert.Equal(t, "/archive/T1/popup.feature", outcome.Features[1].FilePath)
}

func TestDefaultStagesMissingClientFailsGeneration(t *testing.T) {
	reporter := &recordingReporter{}
	stages := DefaultStages(Dependencies{
		Navigator: &staticNavigator{html: menuPage},
		Detector:  browser.NewDetector(20, 10),
		Writer:    gherkin.NewWriter(nil),
		Clients:   &clientFactory{err: errors.New("missing API key")},
		Recorder:  &memoryRecorder{},
	})
	exec, err := NewExecutor(reporter, stages, Options{})
	require.NoError(t, err)

	err = exec.Execute(context.Background(), pipelineTask())
	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageGenerateHover, failure.Stage)
	assert.Equal(t, []int{10, 30}, reporter.progress)
	assert.Contains(t, reporter.terminals[0].Error, "missing API key")
}

func TestDefaultStagesOverrideTimeout(t *testing.T) {
	stages := DefaultStages(Dependencies{Override: 3 * time.Second, LLMTimeout: time.Minute})
	for _, s := range stages {
		assert.Equal(t, 3*time.Second, s.timeout(pipelineTask()), s.Name)
	}

	stages = DefaultStages(Dependencies{LLMTimeout: time.Minute})
	assert.Equal(t, 5*time.Second, stages[0].timeout(pipelineTask()))
	assert.Equal(t, time.Minute, stages[2].timeout(pipelineTask()))
	assert.Equal(t, persistTimeout, stages[4].timeout(pipelineTask()))
}

func TestPersistCompletesWhileArchivePushHangs(t *testing.T) {
	gate := make(chan struct{})
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer remote.Close()

	featureArchive, err := archive.Open(t.TempDir(), config.ArchiveConfig{
		Remote:      remote.URL + "/features.git",
		AuthorName:  "Test",
		AuthorEmail: "test@example.com",
		PushTimeout: 10 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer func() {
		close(gate)
		require.NoError(t, featureArchive.Wait(context.Background()))
	}()

	reporter := &recordingReporter{}
	stages := DefaultStages(Dependencies{
		Navigator: &staticNavigator{html: menuPage},
		Detector:  browser.NewDetector(20, 10),
		Writer:    gherkin.NewWriter(nil),
		Clients:   &clientFactory{client: scriptedClient{reply: "Feature: Store menu\nScenario: Hover"}},
		Recorder:  &memoryRecorder{},
		Archive:   featureArchive,
		Override:  time.Second,
	})
	exec, err := NewExecutor(reporter, stages, Options{})
	require.NoError(t, err)

	require.NoError(t, exec.Execute(context.Background(), pipelineTask()))
	assert.Equal(t, []int{10, 30, 60, 90, 100}, reporter.progress)
	require.Len(t, reporter.terminals, 1)
	assert.Equal(t, task.StatusCompleted, reporter.terminals[0].Status)
	for _, f := range reporter.terminals[0].Features {
		assert.FileExists(t, f.FilePath)
	}
}
