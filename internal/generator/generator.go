// Package generator launches pipelines for created tasks, detached from the
// request that created them, under a process-wide concurrency limit.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const interruptedMessage = "interrupted: the server stopped before the pipeline finished"

// ErrShuttingDown is returned for tasks submitted after Shutdown began.
var ErrShuttingDown = errors.New("generator is shutting down")

// Executor runs one task's pipeline to a terminal state.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) error
}

// Tasks is the task manager surface needed for restart recovery.
type Tasks interface {
	Unfinished(ctx context.Context) ([]*task.Task, error)
	MarkRunning(ctx context.Context, id, step string) error
	RecordTerminal(ctx context.Context, id string, outcome task.Outcome) error
}

// Generator handles pipeline scheduling
type Generator struct {
	executor Executor
	tasks    Tasks
	sem      *semaphore.Weighted
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	active   atomic.Int64
	queued   atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logging.Logger
}

// NewGenerator creates a new generator running at most maxConcurrent
// pipelines at once.
func NewGenerator(executor Executor, tasks Tasks, maxConcurrent int, logger logging.Logger) *Generator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Generator{
		executor: executor,
		tasks:    tasks,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.OrNop(logger),
	}
}

// ProcessTask runs the task's pipeline asynchronously. The pipeline is not
// tied to any request context and always runs to a terminal state once it
// has started.
func (g *Generator) ProcessTask(t *task.Task) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrShuttingDown
	}
	g.wg.Add(1)
	g.mu.Unlock()

	g.queued.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.run(t); err != nil && !errors.Is(err, ErrShuttingDown) {
			g.logger.Warn("Task %s finished with error: %v", t.ID, err)
		}
	}()
	return nil
}

func (g *Generator) run(t *task.Task) error {
	err := g.sem.Acquire(g.ctx, 1)
	g.queued.Add(-1)
	if err != nil {
		g.logger.Info("Task %s left pending: %v", t.ID, ErrShuttingDown)
		return ErrShuttingDown
	}
	defer g.sem.Release(1)

	g.active.Add(1)
	defer g.active.Add(-1)
	return g.executor.Execute(context.Background(), t)
}

// ActiveTasks reports how many pipelines are executing.
func (g *Generator) ActiveTasks() int {
	return int(g.active.Load())
}

// QueuedTasks reports how many tasks wait for a free slot.
func (g *Generator) QueuedTasks() int {
	return int(g.queued.Load())
}

// Shutdown stops accepting tasks, releases queued ones (they stay pending)
// and waits for running pipelines until ctx is done.
func (g *Generator) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d pipelines still running: %w", g.ActiveTasks(), ctx.Err())
	}
}

// RecoverInterrupted fails tasks left pending or running by a previous
// process. It must run before new tasks are accepted.
func (g *Generator) RecoverInterrupted(ctx context.Context) (int, error) {
	tasks, err := g.tasks.Unfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status == task.StatusPending {
			if err := g.tasks.MarkRunning(ctx, t.ID, "Recovering"); err != nil {
				return 0, err
			}
		}
		if err := g.tasks.RecordTerminal(ctx, t.ID, task.Failed(interruptedMessage)); err != nil {
			return 0, err
		}
		g.logger.Warn("Task %s marked failed after restart", t.ID)
	}
	return len(tasks), nil
}
