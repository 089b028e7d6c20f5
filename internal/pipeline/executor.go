// Package pipeline runs a task's stages in order and reports each boundary
// through the task manager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/llm"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const (
	defaultStageTimeout = 2 * time.Minute
	startStep           = "Starting pipeline"
	completedStep       = "Test generation completed"
)

// Reporter persists task transitions. task.Manager implements it.
type Reporter interface {
	MarkRunning(ctx context.Context, id, step string) error
	RecordStageProgress(ctx context.Context, id string, progress int, step string) error
	RecordTerminal(ctx context.Context, id string, outcome task.Outcome) error
	Log(ctx context.Context, id string, level task.LogLevel, format string, args ...any)
}

// Run carries one task's intermediate results between stages.
type Run struct {
	Task     *task.Task
	Page     *browser.Page
	Analysis *browser.Analysis
	Client   llm.Client

	features map[task.FeatureKind]task.Feature
	saved    []task.Feature
}

func newRun(t *task.Task) *Run {
	return &Run{Task: t, features: make(map[task.FeatureKind]task.Feature)}
}

// SetFeature records generated content for kind, replacing earlier content.
func (r *Run) SetFeature(kind task.FeatureKind, content string) {
	r.features[kind] = task.Feature{TaskID: r.Task.ID, Kind: kind, Content: content}
}

// SetSaved replaces the generated features with their persisted form.
func (r *Run) SetSaved(features []task.Feature) {
	r.saved = features
}

// Features returns the generated features, hover first.
func (r *Run) Features() []task.Feature {
	if r.saved != nil {
		return r.saved
	}
	out := make([]task.Feature, 0, len(r.features))
	for _, kind := range []task.FeatureKind{task.FeatureHover, task.FeaturePopup} {
		if f, ok := r.features[kind]; ok {
			out = append(out, f)
		}
	}
	return out
}

// StageFunc performs one unit of work for a task.
type StageFunc func(ctx context.Context, run *Run) error

// Stage is one step of the pipeline. After Run succeeds the task's progress
// becomes Checkpoint and its current step becomes Label.
type Stage struct {
	Name       string
	Checkpoint int
	Label      string
	// Timeout bounds Run for a given task. Nil or non-positive results use
	// the default stage timeout.
	Timeout func(t *task.Task) time.Duration
	Run     StageFunc
}

func (s Stage) timeout(t *task.Task) time.Duration {
	if s.Timeout != nil {
		if d := s.Timeout(t); d > 0 {
			return d
		}
	}
	return defaultStageTimeout
}

// StageFailure describes why a stage did not complete.
type StageFailure struct {
	Stage    string
	Err      error
	TimedOut bool
	Timeout  time.Duration
	Panicked bool
}

func (f *StageFailure) Error() string {
	if f.TimedOut {
		return fmt.Sprintf("stage %s timed out after %s", f.Stage, f.Timeout)
	}
	return fmt.Sprintf("stage %s failed: %v", f.Stage, f.Err)
}

func (f *StageFailure) Unwrap() error {
	return f.Err
}

func (f *StageFailure) reason() string {
	switch {
	case f.TimedOut:
		return "timeout"
	case f.Panicked:
		return "panic"
	}
	return "error"
}

// Options configures an Executor.
type Options struct {
	Metrics *Metrics
	Logger  logging.Logger
}

// Executor runs the stage sequence for one task at a time per call.
// Execute may be called concurrently for different tasks.
type Executor struct {
	reporter Reporter
	stages   []Stage
	metrics  *Metrics
	logger   logging.Logger
}

// NewExecutor validates stages and creates an executor. Checkpoints must be
// strictly increasing within 1..100.
func NewExecutor(reporter Reporter, stages []Stage, opts Options) (*Executor, error) {
	if reporter == nil {
		return nil, fmt.Errorf("executor requires a reporter")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("executor requires at least one stage")
	}
	last := 0
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		switch {
		case s.Name == "":
			return nil, fmt.Errorf("stage without a name")
		case seen[s.Name]:
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		case s.Run == nil:
			return nil, fmt.Errorf("stage %q has no runner", s.Name)
		case s.Checkpoint <= last || s.Checkpoint > 100:
			return nil, fmt.Errorf("stage %q checkpoint %d must be in (%d, 100]", s.Name, s.Checkpoint, last)
		}
		seen[s.Name] = true
		last = s.Checkpoint
	}
	return &Executor{
		reporter: reporter,
		stages:   stages,
		metrics:  opts.Metrics,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// Stages returns the configured stage sequence.
func (e *Executor) Stages() []Stage {
	return e.stages
}

// Execute drives t through every stage until completion or the first
// failure, and records the terminal outcome. The returned error is the
// StageFailure that ended the run, or a reporter error; the task's state is
// already recorded either way.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	defer e.metrics.trackActive()()

	if err := e.reporter.MarkRunning(ctx, t.ID, startStep); err != nil {
		return e.fail(ctx, t.ID, &StageFailure{Stage: "start", Err: err})
	}
	e.logger.Info("Started pipeline for task %s (%s)", t.ID, t.URL)

	run := newRun(t)
	for _, stage := range e.stages {
		e.reporter.Log(ctx, t.ID, task.LogInfo, "Stage %s started", stage.Name)
		started := time.Now()

		if failure := e.runStage(ctx, stage, run); failure != nil {
			e.metrics.observeStage(stage.Name, "failed", time.Since(started))
			e.metrics.incStageFailure(stage.Name, failure.reason())
			return e.fail(ctx, t.ID, failure)
		}
		e.metrics.observeStage(stage.Name, "ok", time.Since(started))
		e.reporter.Log(ctx, t.ID, task.LogInfo, "Stage %s finished in %s", stage.Name, time.Since(started).Round(time.Millisecond))

		if err := e.reporter.RecordStageProgress(ctx, t.ID, stage.Checkpoint, stage.Label); err != nil {
			return e.fail(ctx, t.ID, &StageFailure{Stage: stage.Name, Err: fmt.Errorf("record progress: %w", err)})
		}
	}

	if err := e.reporter.RecordTerminal(ctx, t.ID, task.Completed(completedStep, run.Features())); err != nil {
		e.logger.Error("Task %s: record completion: %v", t.ID, err)
		e.metrics.incFinished("error")
		return err
	}
	e.metrics.incFinished(string(task.StatusCompleted))
	e.logger.Info("Completed pipeline for task %s", t.ID)
	return nil
}

func (e *Executor) fail(ctx context.Context, id string, failure *StageFailure) error {
	e.logger.Warn("Task %s: %v", id, failure)
	e.metrics.incFinished(string(task.StatusFailed))
	if err := e.reporter.RecordTerminal(ctx, id, task.Failed(failure.Error())); err != nil {
		e.logger.Error("Task %s: record failure: %v", id, err)
		return errors.Join(failure, err)
	}
	return failure
}

// runStage runs stage under its timeout. A runner that ignores its context
// is abandoned once the deadline passes.
func (e *Executor) runStage(ctx context.Context, stage Stage, run *Run) *StageFailure {
	timeout := stage.timeout(run.Task)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *StageFailure, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Stage %s panicked: %v\n%s", stage.Name, r, debug.Stack())
				done <- &StageFailure{Stage: stage.Name, Err: fmt.Errorf("panic: %v", r), Panicked: true}
			}
		}()
		if err := stage.Run(stageCtx, run); err != nil {
			done <- &StageFailure{
				Stage:    stage.Name,
				Err:      err,
				TimedOut: errors.Is(err, context.DeadlineExceeded),
				Timeout:  timeout,
			}
			return
		}
		done <- nil
	}()

	select {
	case failure := <-done:
		return failure
	case <-stageCtx.Done():
		select {
		case failure := <-done:
			return failure
		default:
		}
		return &StageFailure{
			Stage:    stage.Name,
			Err:      stageCtx.Err(),
			TimedOut: errors.Is(stageCtx.Err(), context.DeadlineExceeded),
			Timeout:  timeout,
		}
	}
}
