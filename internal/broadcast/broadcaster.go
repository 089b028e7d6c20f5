package broadcast

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const defaultFinishedCacheSize = 4096

// SnapshotFunc reads the current persisted state of a task as a status event.
type SnapshotFunc func(ctx context.Context, taskID string) (task.Event, error)

type subscribeReq struct {
	ctx    context.Context
	taskID string
	handle Handle
	reply  chan error
}

type unsubscribeReq struct {
	taskID string
	handle Handle
	done   chan struct{}
}

type publishReq struct {
	taskID string
	event  task.Event
	done   chan struct{}
}

// Broadcaster fans task events out to registered handles. A single event
// loop owns the subscriber table, so registration, snapshot and delivery
// are serialized per process and an observer never sees a snapshot older
// than an event it already received.
type Broadcaster struct {
	snapshot    SnapshotFunc
	subscribers map[string][]Handle
	finished    *lru.Cache[string, struct{}]
	register    chan subscribeReq
	unregister  chan unsubscribeReq
	broadcast   chan publishReq
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     chan struct{}
	metrics     *Metrics
	logger      logging.Logger
}

// Options configures a Broadcaster.
type Options struct {
	Metrics *Metrics
	Logger  logging.Logger
	// FinishedCacheSize bounds how many terminated task ids are remembered
	// for dropping late publishes.
	FinishedCacheSize int
}

// New creates a broadcaster and starts its event loop.
func New(snapshot SnapshotFunc, opts Options) (*Broadcaster, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("broadcaster requires a snapshot source")
	}
	size := opts.FinishedCacheSize
	if size <= 0 {
		size = defaultFinishedCacheSize
	}
	finished, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create finished-task cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		snapshot:    snapshot,
		subscribers: make(map[string][]Handle),
		finished:    finished,
		register:    make(chan subscribeReq),
		unregister:  make(chan unsubscribeReq),
		broadcast:   make(chan publishReq),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		metrics:     opts.Metrics,
		logger:      logging.OrNop(opts.Logger),
	}
	go b.run()
	return b, nil
}

// run starts the broadcaster event loop
func (b *Broadcaster) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.ctx.Done():
			b.closeAll()
			return

		case req := <-b.register:
			req.reply <- b.subscribe(req.ctx, req.taskID, req.handle)

		case req := <-b.unregister:
			b.remove(req.taskID, req.handle)
			close(req.done)

		case req := <-b.broadcast:
			b.publish(req.taskID, req.event)
			close(req.done)
		}
	}
}

func (b *Broadcaster) subscribe(ctx context.Context, taskID string, h Handle) error {
	ev, err := b.snapshot(ctx, taskID)
	if err != nil {
		return err
	}
	if err := h.Deliver(ev); err != nil {
		b.metrics.incDeliveryFailure()
		h.Close()
		return fmt.Errorf("%w: initial snapshot for %s: %v", ErrDeliveryFailed, taskID, err)
	}
	if ev.Status.Terminal() || b.finished.Contains(taskID) {
		// Nothing else will ever be published for this task.
		h.Close()
		return nil
	}
	b.subscribers[taskID] = append(b.subscribers[taskID], h)
	b.metrics.addSubscribers(1)
	b.logger.Debug("Subscribed observer to task %s (%d registered)", taskID, len(b.subscribers[taskID]))
	return nil
}

func (b *Broadcaster) remove(taskID string, h Handle) {
	handles := b.subscribers[taskID]
	for i, existing := range handles {
		if existing == h {
			b.subscribers[taskID] = append(handles[:i:i], handles[i+1:]...)
			h.Close()
			b.metrics.addSubscribers(-1)
			break
		}
	}
	if len(b.subscribers[taskID]) == 0 {
		delete(b.subscribers, taskID)
	}
}

func (b *Broadcaster) publish(taskID string, ev task.Event) {
	if b.finished.Contains(taskID) {
		b.logger.Debug("Dropped %s event for finished task %s", ev.Kind, taskID)
		return
	}
	b.metrics.incPublished(string(ev.Kind))

	handles := b.subscribers[taskID]
	kept := handles[:0:0]
	for _, h := range handles {
		if err := h.Deliver(ev); err != nil {
			b.logger.Warn("Dropping observer of task %s: %v", taskID, err)
			b.metrics.incDeliveryFailure()
			b.metrics.addSubscribers(-1)
			h.Close()
			continue
		}
		kept = append(kept, h)
	}

	if ev.Terminal() {
		for _, h := range kept {
			h.Close()
		}
		b.metrics.addSubscribers(-len(kept))
		delete(b.subscribers, taskID)
		b.finished.Add(taskID, struct{}{})
		return
	}
	if len(kept) == 0 {
		delete(b.subscribers, taskID)
		return
	}
	b.subscribers[taskID] = kept
}

func (b *Broadcaster) closeAll() {
	for taskID, handles := range b.subscribers {
		for _, h := range handles {
			h.Close()
		}
		b.metrics.addSubscribers(-len(handles))
		delete(b.subscribers, taskID)
	}
}

// Subscribe registers h for taskID and immediately delivers the task's
// current snapshot to it. For a task that is already terminal the handle
// receives the snapshot and is closed without being registered.
func (b *Broadcaster) Subscribe(ctx context.Context, taskID string, h Handle) error {
	reply := make(chan error, 1)
	select {
	case b.register <- subscribeReq{ctx: ctx, taskID: taskID, handle: h, reply: reply}:
	case <-b.ctx.Done():
		return ErrBroadcasterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// Unsubscribe removes and closes h. Unknown handles are ignored.
func (b *Broadcaster) Unsubscribe(taskID string, h Handle) {
	done := make(chan struct{})
	select {
	case b.unregister <- unsubscribeReq{taskID: taskID, handle: h, done: done}:
		<-done
	case <-b.ctx.Done():
		h.Close()
	}
}

// Publish delivers ev to every handle registered for taskID, in
// registration order, and returns once delivery has been attempted. After a
// terminal event the task's handles are closed and later publishes for it
// are dropped.
func (b *Broadcaster) Publish(taskID string, ev task.Event) {
	done := make(chan struct{})
	select {
	case b.broadcast <- publishReq{taskID: taskID, event: ev, done: done}:
		<-done
	case <-b.ctx.Done():
	}
}

// Shutdown stops the event loop and closes every handle.
func (b *Broadcaster) Shutdown() {
	b.cancel()
	<-b.stopped
}
