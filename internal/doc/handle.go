package doc

import (
	"sync"
	"time"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// ProgressEvent reports replication progress for one actor's feed.
type ProgressEvent struct {
	Actor ir.ActorID
	Index int64
	Size  int64
	Time  time.Time
}

// Handle is one subscriber's read-only projection of a document.
// Handles are created by Frontend.Handle and owned by the caller until
// Close.
type Handle struct {
	id    string
	docID ir.DocID
	front *Frontend

	mu         sync.Mutex
	value      ir.Map
	clock      clock.Clock
	hasValue   bool
	closed     bool
	onChange   func(ir.Map, clock.Clock)
	onProgress func(ProgressEvent)
	onMessage  func(any)
	cleanup    func()
	closeOnce  sync.Once
}

// ID is the handle's registry key.
func (h *Handle) ID() string { return h.id }

// DocID is the document the handle projects.
func (h *Handle) DocID() ir.DocID { return h.docID }

// Subscribe sets the callback for new views. If a view has already been
// received it is delivered immediately. Returns h for chaining.
func (h *Handle) Subscribe(fn func(ir.Map, clock.Clock)) *Handle {
	h.mu.Lock()
	h.onChange = fn
	value, c, has := h.value, h.clock, h.hasValue
	h.mu.Unlock()

	if has && fn != nil {
		fn(value, c.Clone())
	}
	return h
}

// OnProgress sets the callback for replication progress events.
func (h *Handle) OnProgress(fn func(ProgressEvent)) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onProgress = fn
	return h
}

// OnMessage sets the callback for out-of-band document messages.
func (h *Handle) OnMessage(fn func(any)) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
	return h
}

// Value returns the last view delivered to the handle.
func (h *Handle) Value() (ir.Map, clock.Clock, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasValue {
		return nil, nil, false
	}
	return h.value, h.clock.Clone(), true
}

// Change queues fn on the handle's document.
func (h *Handle) Change(fn ir.ChangeFn) error {
	return h.front.Change(fn)
}

// Closed reports whether Close has run.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close detaches the handle from its frontend. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.onChange, h.onProgress, h.onMessage = nil, nil, nil
		cleanup := h.cleanup
		h.mu.Unlock()

		if cleanup != nil {
			cleanup()
		}
	})
}

// push delivers a view. A view whose clock does not cover the last one
// delivered is dropped, so a handle never moves backwards.
func (h *Handle) push(value ir.Map, c clock.Clock) bool {
	h.mu.Lock()
	if h.closed || (h.hasValue && !clock.Satisfies(c, h.clock)) {
		h.mu.Unlock()
		return false
	}
	h.value, h.clock, h.hasValue = value, c, true
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(value, c.Clone())
	}
	return true
}

func (h *Handle) receiveProgress(ev ProgressEvent) {
	h.mu.Lock()
	fn := h.onProgress
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *Handle) receiveMessage(contents any) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(contents)
	}
}
