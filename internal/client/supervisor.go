package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// Delivery modes reported by Observation.Mode.
const (
	ModePush = "push"
	ModePoll = "poll"
)

// ErrNoTerminal means every source ended without a terminal outcome.
var ErrNoTerminal = errors.New("observation ended before the task finished")

// Supervisor observes tasks through push delivery, falling back to
// polling when the push channel cannot be opened or fails.
type Supervisor struct {
	push   Source
	poll   Source
	logger logging.Logger
}

// SupervisorOptions wires a Supervisor. Push is optional.
type SupervisorOptions struct {
	Push   Source
	Poll   Source
	Logger logging.Logger
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Poll == nil {
		return nil, errors.New("supervisor requires a poll source")
	}
	return &Supervisor{push: opts.Push, poll: opts.Poll, logger: logging.OrNop(opts.Logger)}, nil
}

// Observation is the state of one task observation. Concurrent
// observations share nothing.
type Observation struct {
	taskID string
	events chan task.Event
	done   chan struct{}
	logger logging.Logger

	// owned by the dispatch loop
	last   int
	status task.Status
	// terminal is set once; later terminal events for the task are dropped.
	terminal *task.Event

	mu   sync.Mutex
	mode string
	err  error
}

// Observe starts observing taskID. The observation ends after exactly one
// terminal event, or when ctx ends or every source has failed.
func (s *Supervisor) Observe(ctx context.Context, taskID string) *Observation {
	o := &Observation{
		taskID: taskID,
		events: make(chan task.Event),
		done:   make(chan struct{}),
		logger: s.logger,
		last:   -1,
	}
	go o.run(ctx, s.push, s.poll)
	return o
}

// TaskID returns the observed task.
func (o *Observation) TaskID() string { return o.taskID }

// Events yields progress events in non-decreasing order followed by at
// most one terminal event. It is closed when the observation ends.
func (o *Observation) Events() <-chan task.Event { return o.events }

// Done is closed once the observation has ended.
func (o *Observation) Done() <-chan struct{} { return o.done }

// Mode returns the delivery mode currently in use.
func (o *Observation) Mode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Err returns why the observation ended without a terminal event, or nil.
// It is only meaningful after Done is closed.
func (o *Observation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait drains the observation and returns its terminal event.
func (o *Observation) Wait() (task.Event, error) {
	var last task.Event
	for ev := range o.events {
		last = ev
	}
	<-o.done
	if err := o.Err(); err != nil {
		return task.Event{}, err
	}
	return last, nil
}

func (o *Observation) setMode(mode string) {
	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()
}

func (o *Observation) finish(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	close(o.events)
	close(o.done)
}

func (o *Observation) run(ctx context.Context, push, poll Source) {
	if push != nil {
		o.setMode(ModePush)
		err := o.stream(ctx, push)
		switch {
		case o.terminal != nil:
			o.finish(nil)
			return
		case ctx.Err() != nil:
			o.finish(ctx.Err())
			return
		case IsNotFound(err):
			o.finish(err)
			return
		}
		o.logger.Warn("Task %s: push delivery failed, polling instead: %v", o.taskID, err)
	}

	o.setMode(ModePoll)
	err := o.stream(ctx, poll)
	switch {
	case o.terminal != nil:
		o.finish(nil)
	case ctx.Err() != nil:
		o.finish(ctx.Err())
	case err != nil:
		o.finish(err)
	default:
		o.finish(ErrNoTerminal)
	}
}

// stream runs src and dispatches its events until src returns or a
// terminal event has been emitted.
func (o *Observation) stream(ctx context.Context, src Source) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw := make(chan task.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(raw)
		errc <- src.Stream(sctx, o.taskID, raw)
	}()

	for ev := range raw {
		if o.terminal != nil {
			continue
		}
		if !o.dispatch(ctx, ev) {
			cancel()
		}
	}
	err := <-errc
	if o.terminal != nil {
		return nil
	}
	return err
}

// dispatch applies one source event and reports whether the observation
// continues.
func (o *Observation) dispatch(ctx context.Context, ev task.Event) bool {
	if ev.TaskID != "" && ev.TaskID != o.taskID {
		o.logger.Warn("Task %s: dropping event for task %s", o.taskID, ev.TaskID)
		return true
	}
	ev.TaskID = o.taskID
	ev = normalize(ev)

	if ev.Terminal() {
		o.terminal = &ev
		o.emit(ctx, ev)
		return false
	}

	if ev.Progress < o.last || statusRank(ev.Status) < statusRank(o.status) {
		o.logger.Debug("Task %s: dropping stale event %d/%s", o.taskID, ev.Progress, ev.Status)
		return true
	}
	o.last = ev.Progress
	o.status = ev.Status
	return o.emit(ctx, ev)
}

func (o *Observation) emit(ctx context.Context, ev task.Event) bool {
	select {
	case o.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// normalize turns a status snapshot of a terminal task into the matching
// terminal event, so both delivery paths end the same way.
func normalize(ev task.Event) task.Event {
	if ev.Terminal() || !ev.Status.Terminal() {
		return ev
	}
	switch ev.Status {
	case task.StatusCompleted:
		ev.Kind = task.EventComplete
		ev.Progress = 100
	case task.StatusFailed:
		ev.Kind = task.EventError
		if ev.Error == "" {
			ev.Error = fmt.Sprintf("task %s failed", ev.TaskID)
		}
	}
	return ev
}

func statusRank(s task.Status) int {
	switch s {
	case task.StatusPending:
		return 1
	case task.StatusRunning:
		return 2
	case task.StatusCompleted, task.StatusFailed:
		return 3
	}
	return 0
}
