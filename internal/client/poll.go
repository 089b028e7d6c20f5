package client

import (
	"context"
	"fmt"
	"time"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const (
	// DefaultPollInterval is the fallback polling period.
	DefaultPollInterval = 2 * time.Second
	defaultMaxFailures  = 5
)

// TaskGetter reads task snapshots. *Client implements it.
type TaskGetter interface {
	GetTask(ctx context.Context, taskID string) (*protocol.TaskResponse, error)
}

// PollSource polls a task's snapshot at a fixed interval. It polls once
// immediately and stops at the first terminal status.
type PollSource struct {
	tasks       TaskGetter
	interval    time.Duration
	maxFailures int
	logger      logging.Logger
}

// NewPollSource creates a poll source; interval <= 0 uses DefaultPollInterval.
func NewPollSource(tasks TaskGetter, interval time.Duration, logger logging.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{
		tasks:       tasks,
		interval:    interval,
		maxFailures: defaultMaxFailures,
		logger:      logging.OrNop(logger),
	}
}

func (p *PollSource) Stream(ctx context.Context, taskID string, out chan<- task.Event) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		resp, err := p.tasks.GetTask(ctx, taskID)
		switch {
		case err == nil:
			failures = 0
			ev := task.StatusEvent(resp.Task)
			ev.Features = task.Summarize(resp.Features)
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			if resp.Task.Status.Terminal() {
				return nil
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case IsNotFound(err):
			return err
		default:
			failures++
			if failures >= p.maxFailures {
				return fmt.Errorf("poll task %s: %d consecutive failures: %w", taskID, failures, err)
			}
			p.logger.Warn("Task %s: poll failed (%d/%d): %v", taskID, failures, p.maxFailures, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
