package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/llm"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// Stage names.
const (
	StageNavigate      = "navigate"
	StageDetect        = "detect_elements"
	StageGenerateHover = "generate_hover"
	StageGeneratePopup = "generate_popup"
	StagePersist       = "persist"
)

const persistTimeout = 30 * time.Second

// Navigator loads a task's page.
type Navigator interface {
	Navigate(ctx context.Context, url string, opts browser.Options) (*browser.Page, error)
}

// Detector finds interactive elements on a loaded page.
type Detector interface {
	Detect(ctx context.Context, page *browser.Page) (*browser.Analysis, error)
}

// ScenarioWriter turns detected elements into feature text.
type ScenarioWriter interface {
	Hover(ctx context.Context, client llm.Client, url string, elements []browser.Element, structure browser.Structure) (string, error)
	Popup(ctx context.Context, client llm.Client, url string, elements []browser.Element, structure browser.Structure) (string, error)
}

// ClientFactory builds the LLM client a task asked for.
type ClientFactory interface {
	ForTask(t *task.Task) (llm.Client, error)
}

// FeatureArchive persists generated features outside the task store.
type FeatureArchive interface {
	Save(ctx context.Context, taskID string, features []task.Feature, at time.Time) ([]task.Feature, error)
}

// AnalysisRecorder stores the element detection result of a task.
type AnalysisRecorder interface {
	SaveAnalysis(ctx context.Context, a *task.Analysis) error
	Log(ctx context.Context, id string, level task.LogLevel, format string, args ...any)
}

// Dependencies are the collaborators behind the default stages.
type Dependencies struct {
	Navigator Navigator
	Detector  Detector
	Writer    ScenarioWriter
	Clients   ClientFactory
	Recorder  AnalysisRecorder
	// Archive is optional; without it features are stored without a file path.
	Archive FeatureArchive

	// LLMTimeout bounds each generation stage.
	LLMTimeout time.Duration
	// Override, when positive, replaces every stage timeout.
	Override time.Duration
	Now      func() time.Time
}

// DefaultStages returns navigate, detect_elements, generate_hover,
// generate_popup and persist with checkpoints 10, 30, 60, 90 and 100.
func DefaultStages(deps Dependencies) []Stage {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	timeout := func(d func(*task.Task) time.Duration) func(*task.Task) time.Duration {
		if deps.Override > 0 {
			return func(*task.Task) time.Duration { return deps.Override }
		}
		return d
	}
	pageTimeout := func(t *task.Task) time.Duration {
		return time.Duration(t.Params.TimeoutMillis) * time.Millisecond
	}
	llmTimeout := func(*task.Task) time.Duration { return deps.LLMTimeout }

	return []Stage{
		{
			Name:       StageNavigate,
			Checkpoint: 10,
			Label:      "Page loaded",
			Timeout:    timeout(pageTimeout),
			Run: func(ctx context.Context, run *Run) error {
				t := run.Task
				page, err := deps.Navigator.Navigate(ctx, t.URL, browser.Options{
					Headless: t.Params.Headless,
					SlowMo:   time.Duration(t.Params.SlowMoMillis) * time.Millisecond,
					Timeout:  pageTimeout(t),
				})
				if err != nil {
					return err
				}
				run.Page = page
				return nil
			},
		},
		{
			Name:       StageDetect,
			Checkpoint: 30,
			Label:      "Elements detected",
			Timeout:    timeout(pageTimeout),
			Run: func(ctx context.Context, run *Run) error {
				analysis, err := deps.Detector.Detect(ctx, run.Page)
				if err != nil {
					return err
				}
				run.Analysis = analysis
				deps.Recorder.Log(ctx, run.Task.ID, task.LogInfo, "Found %d hover elements and %d popup elements",
					len(analysis.Hover), len(analysis.Popup))
				record, err := analysisRecord(run.Task.ID, analysis)
				if err != nil {
					return err
				}
				if err := deps.Recorder.SaveAnalysis(ctx, record); err != nil {
					deps.Recorder.Log(ctx, run.Task.ID, task.LogWarning, "Could not store page analysis: %v", err)
				}
				return nil
			},
		},
		{
			Name:       StageGenerateHover,
			Checkpoint: 60,
			Label:      "Hover scenarios generated",
			Timeout:    timeout(llmTimeout),
			Run: func(ctx context.Context, run *Run) error {
				client, err := run.client(deps.Clients, run.Analysis.Hover)
				if err != nil {
					return err
				}
				content, err := deps.Writer.Hover(ctx, client, run.Task.URL, run.Analysis.Hover, run.Analysis.Structure)
				if err != nil {
					return err
				}
				run.SetFeature(task.FeatureHover, content)
				return nil
			},
		},
		{
			Name:       StageGeneratePopup,
			Checkpoint: 90,
			Label:      "Popup scenarios generated",
			Timeout:    timeout(llmTimeout),
			Run: func(ctx context.Context, run *Run) error {
				client, err := run.client(deps.Clients, run.Analysis.Popup)
				if err != nil {
					return err
				}
				content, err := deps.Writer.Popup(ctx, client, run.Task.URL, run.Analysis.Popup, run.Analysis.Structure)
				if err != nil {
					return err
				}
				run.SetFeature(task.FeaturePopup, content)
				return nil
			},
		},
		{
			Name:       StagePersist,
			Checkpoint: 100,
			Label:      "Features saved",
			Timeout:    timeout(func(*task.Task) time.Duration { return persistTimeout }),
			Run: func(ctx context.Context, run *Run) error {
				if deps.Archive == nil {
					return nil
				}
				saved, err := deps.Archive.Save(ctx, run.Task.ID, run.Features(), now())
				if err != nil {
					return err
				}
				run.SetSaved(saved)
				return nil
			},
		},
	}
}

// client returns the task's LLM client, creating it on first use. Stages
// with no elements fall back to generic features and need no client.
func (r *Run) client(factory ClientFactory, elements []browser.Element) (llm.Client, error) {
	if len(elements) == 0 || r.Client != nil {
		return r.Client, nil
	}
	client, err := factory.ForTask(r.Task)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", r.Task.LLMProvider, err)
	}
	r.Client = client
	return client, nil
}

func analysisRecord(taskID string, a *browser.Analysis) (*task.Analysis, error) {
	structure, err := json.Marshal(a.Structure)
	if err != nil {
		return nil, fmt.Errorf("encode page structure: %w", err)
	}
	hover, err := json.Marshal(nonNil(a.Hover))
	if err != nil {
		return nil, fmt.Errorf("encode hover elements: %w", err)
	}
	popup, err := json.Marshal(nonNil(a.Popup))
	if err != nil {
		return nil, fmt.Errorf("encode popup elements: %w", err)
	}
	return &task.Analysis{
		TaskID:        taskID,
		PageStructure: structure,
		HoverElements: hover,
		PopupElements: popup,
	}, nil
}

func nonNil(elements []browser.Element) []browser.Element {
	if elements == nil {
		return []browser.Element{}
	}
	return elements
}
