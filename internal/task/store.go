package task

import (
	"context"
	"time"
)

// Store is durable storage for tasks, features, logs and analysis records.
//
// Transition methods are conditional: they report false, with a nil error,
// when the row exists but the guard did not hold. Every write is applied
// atomically so readers never observe a partial transition.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
	// Unfinished returns pending and running tasks, oldest first.
	Unfinished(ctx context.Context) ([]*Task, error)

	// MarkRunning moves a pending task to running.
	MarkRunning(ctx context.Context, id, step string, at time.Time) (bool, error)
	// AdvanceProgress stores progress and step for a non-terminal task whose
	// stored progress is not greater than progress.
	AdvanceProgress(ctx context.Context, id string, progress int, step string) (bool, error)
	// Finish applies outcome to a non-terminal task. Features are inserted in
	// the same transaction as the status change.
	Finish(ctx context.Context, id string, outcome Outcome, at time.Time) (bool, error)

	Features(ctx context.Context, id string) ([]Feature, error)
	AppendLog(ctx context.Context, entry *LogEntry) error
	Logs(ctx context.Context, id string) ([]LogEntry, error)
	SaveAnalysis(ctx context.Context, a *Analysis) error
	Analysis(ctx context.Context, id string) (*Analysis, error)

	Close() error
}
