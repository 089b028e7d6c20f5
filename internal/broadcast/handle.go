package broadcast

import (
	"errors"
	"sync"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

var (
	// ErrDeliveryFailed means a handle could not accept an event. The
	// broadcaster drops the handle; the task is unaffected.
	ErrDeliveryFailed = errors.New("event delivery failed")
	// ErrHandleClosed is returned when delivering to a closed handle.
	ErrHandleClosed = errors.New("handle closed")
	// ErrBroadcasterClosed is returned after Shutdown.
	ErrBroadcasterClosed = errors.New("broadcaster closed")
)

// Handle is a push sink for one observer of one task.
type Handle interface {
	// Deliver must not block on a slow consumer.
	Deliver(ev task.Event) error
	// Close is idempotent.
	Close()
}

// ChannelHandle buffers events for a transport goroutine to drain.
// Deliver fails instead of blocking when the buffer is full.
type ChannelHandle struct {
	mu     sync.Mutex
	events chan task.Event
	closed bool
}

// NewChannelHandle creates a handle with room for buffer pending events.
func NewChannelHandle(buffer int) *ChannelHandle {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelHandle{events: make(chan task.Event, buffer)}
}

// Events yields delivered events and is closed once the handle closes.
// Events delivered before Close are still drained.
func (h *ChannelHandle) Events() <-chan task.Event {
	return h.events
}

func (h *ChannelHandle) Deliver(ev task.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	select {
	case h.events <- ev:
		return nil
	default:
		return ErrDeliveryFailed
	}
}

func (h *ChannelHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
}
