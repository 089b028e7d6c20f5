package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// scriptSource sends a fixed list of events and then returns err.
type scriptSource struct {
	events []task.Event
	err    error
	calls  int
}

func (s *scriptSource) Stream(ctx context.Context, _ string, out chan<- task.Event) error {
	s.calls++
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func status(progress int) task.Event {
	return task.Event{Kind: task.EventStatus, TaskID: "T1", Status: task.StatusRunning, Progress: progress}
}

func collect(t *testing.T, o *Observation) []task.Event {
	t.Helper()
	var out []task.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-o.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("observation did not end")
		}
	}
}

func progressOf(events []task.Event) []int {
	out := make([]int, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Progress)
	}
	return out
}

func terminalCount(events []task.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

func TestSupervisorPushDeliversInOrderWithOneTerminal(t *testing.T) {
	push := &scriptSource{events: []task.Event{
		status(10),
		status(5),
		status(60),
		{Kind: task.EventComplete, TaskID: "T1", Status: task.StatusCompleted, Progress: 100},
		{Kind: task.EventError, TaskID: "T1", Status: task.StatusFailed, Error: "late"},
	}}
	poll := &scriptSource{}
	s, err := NewSupervisor(SupervisorOptions{Push: push, Poll: poll})
	require.NoError(t, err)

	o := s.Observe(context.Background(), "T1")
	events := collect(t, o)

	assert.Equal(t, []int{10, 60, 100}, progressOf(events), "regressions are dropped")
	assert.Equal(t, 1, terminalCount(events))
	assert.Equal(t, task.EventComplete, events[len(events)-1].Kind)
	assert.NoError(t, o.Err())
	assert.Equal(t, ModePush, o.Mode())
	assert.Zero(t, poll.calls)
}

func TestSupervisorFallsBackToPollOnPushFailure(t *testing.T) {
	push := &scriptSource{events: []task.Event{status(30)}, err: errors.New("connection reset")}
	poll := &scriptSource{events: []task.Event{
		status(10),
		status(60),
		{Kind: task.EventStatus, TaskID: "T1", Status: task.StatusFailed, Progress: 60, Error: "stage generate_popup failed: boom"},
	}}
	s, err := NewSupervisor(SupervisorOptions{Push: push, Poll: poll})
	require.NoError(t, err)

	o := s.Observe(context.Background(), "T1")
	events := collect(t, o)

	assert.Equal(t, []int{30, 60, 60}, progressOf(events))
	last := events[len(events)-1]
	assert.Equal(t, task.EventError, last.Kind, "terminal snapshot becomes a terminal event")
	assert.Equal(t, "stage generate_popup failed: boom", last.Error)
	assert.Equal(t, 1, terminalCount(events))
	assert.Equal(t, ModePoll, o.Mode())
	assert.NoError(t, o.Err())
}

func TestSupervisorNormalizesCompletedSnapshot(t *testing.T) {
	push := &scriptSource{events: []task.Event{
		{Kind: task.EventStatus, TaskID: "T1", Status: task.StatusCompleted, Progress: 100,
			Features: []task.FeatureSummary{{Kind: task.FeatureHover, Scenarios: 3}}},
	}}
	s, err := NewSupervisor(SupervisorOptions{Push: push, Poll: &scriptSource{}})
	require.NoError(t, err)

	ev, err := s.Observe(context.Background(), "T1").Wait()
	require.NoError(t, err)
	assert.Equal(t, task.EventComplete, ev.Kind)
	require.Len(t, ev.Features, 1)
	assert.Equal(t, 3, ev.Features[0].Scenarios)
}

func TestSupervisorStopsOnUnknownTask(t *testing.T) {
	notFound := &APIError{StatusCode: 404, Message: "Task not found"}
	poll := &scriptSource{}
	s, err := NewSupervisor(SupervisorOptions{Push: &scriptSource{err: notFound}, Poll: poll})
	require.NoError(t, err)

	_, err = s.Observe(context.Background(), "T1").Wait()
	assert.True(t, IsNotFound(err))
	assert.Zero(t, poll.calls)
}

func TestSupervisorReportsMissingTerminal(t *testing.T) {
	s, err := NewSupervisor(SupervisorOptions{Poll: &scriptSource{events: []task.Event{status(10)}}})
	require.NoError(t, err)

	o := s.Observe(context.Background(), "T1")
	events := collect(t, o)
	assert.Len(t, events, 1)
	assert.ErrorIs(t, o.Err(), ErrNoTerminal)
}

func TestSupervisorDropsForeignEvents(t *testing.T) {
	poll := &scriptSource{events: []task.Event{
		{Kind: task.EventComplete, TaskID: "other", Status: task.StatusCompleted, Progress: 100},
		{Kind: task.EventComplete, TaskID: "T1", Status: task.StatusCompleted, Progress: 100},
	}}
	s, err := NewSupervisor(SupervisorOptions{Poll: poll})
	require.NoError(t, err)

	events := collect(t, s.Observe(context.Background(), "T1"))
	require.Len(t, events, 1)
	assert.Equal(t, "T1", events[0].TaskID)
}

func TestSupervisorCancel(t *testing.T) {
	block := sourceFunc(func(ctx context.Context, _ string, _ chan<- task.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s, err := NewSupervisor(SupervisorOptions{Push: block, Poll: block})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	o := s.Observe(ctx, "T1")
	cancel()
	collect(t, o)
	assert.ErrorIs(t, o.Err(), context.Canceled)
}

func TestConcurrentObservationsAreIndependent(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, id string, out chan<- task.Event) error {
		for _, p := range []int{10, 30, 60, 90} {
			select {
			case out <- task.Event{Kind: task.EventStatus, TaskID: id, Status: task.StatusRunning, Progress: p}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case out <- task.Event{Kind: task.EventComplete, TaskID: id, Status: task.StatusCompleted, Progress: 100}:
		case <-ctx.Done():
		}
		return nil
	})
	s, err := NewSupervisor(SupervisorOptions{Push: src, Poll: src})
	require.NoError(t, err)

	a := s.Observe(context.Background(), "A")
	b := s.Observe(context.Background(), "B")
	evA, errA := a.Wait()
	evB, errB := b.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, "A", evA.TaskID)
	assert.Equal(t, "B", evB.TaskID)
	assert.Equal(t, task.EventComplete, evA.Kind)
	assert.Equal(t, task.EventComplete, evB.Kind)
}

type sourceFunc func(ctx context.Context, taskID string, out chan<- task.Event) error

func (f sourceFunc) Stream(ctx context.Context, taskID string, out chan<- task.Event) error {
	return f(ctx, taskID, out)
}
