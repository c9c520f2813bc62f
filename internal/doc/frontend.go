package doc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/queue"
)

// Config identifies the document a Frontend mirrors. ActorID may be empty.
type Config struct {
	DocID   ir.DocID
	ActorID ir.ActorID
}

// FrontendOption configures a Frontend.
type FrontendOption func(*Frontend)

// WithFrontendLogger sets the frontend's logger. Default: slog.Default().
func WithFrontendLogger(l *slog.Logger) FrontendOption {
	return func(f *Frontend) {
		f.logger = l
	}
}

// WithHandleIDs replaces the UUIDv7 handle id generator. Used by tests.
func WithHandleIDs(gen func() string) FrontendOption {
	return func(f *Frontend) {
		f.newHandleID = gen
	}
}

// Frontend mediates application reads and writes against a local view of
// one document.
//
// Views for handles are captured under mu and delivered by the notify
// worker in capture order, with no lock held, so handle callbacks may call
// back into the frontend. Flush waits for queued edits and deliveries.
type Frontend struct {
	id          ir.DocID
	sink        Sink
	logger      *slog.Logger
	newHandleID func() string

	mu            sync.Mutex
	view          View
	ident         identity
	mode          Mode
	history       int
	clock         clock.Clock
	deps          []ir.Hash
	handles       map[string]*Handle
	writesEnabled bool
	changeQ       *queue.Queue[ir.ChangeFn]
	notifyQ       *queue.Queue[*notification]
}

// NewFrontend creates a frontend over view. Messages for the orchestrator
// go to sink. With cfg.ActorID set, the frontend starts in write mode and
// edits apply immediately.
func NewFrontend(cfg Config, view View, sink Sink, opts ...FrontendOption) (*Frontend, error) {
	f := &Frontend{
		id:          cfg.DocID,
		sink:        sink,
		logger:      slog.Default(),
		newHandleID: func() string { return uuid.Must(uuid.NewV7()).String() },
		view:        view,
		ident:       unidentified{},
		mode:        ModePending,
		clock:       clock.New(),
		handles:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("doc", cfg.DocID)
	f.changeQ = queue.New[ir.ChangeFn]("repo:front:changeQ", queue.WithLogger(f.logger))
	f.notifyQ = queue.New[*notification]("repo:front:notifyQ", queue.WithLogger(f.logger))
	_ = f.notifyQ.Subscribe(deliver)

	if cfg.ActorID != "" {
		if err := view.SetActorID(cfg.ActorID); err != nil {
			return nil, fmt.Errorf("bind actor %s: %w", cfg.ActorID, err)
		}
		f.ident = identified{actor: cfg.ActorID}
		f.mode = ModeWrite
		f.enableWritesLocked()
	}
	return f, nil
}

// ID returns the document id.
func (f *Frontend) ID() ir.DocID {
	return f.id
}

// Mode returns the current mode.
func (f *Frontend) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// ActorID returns the bound actor, if any.
func (f *Frontend) ActorID() (ir.ActorID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.ident.(identified); ok {
		return id.actor, true
	}
	return "", false
}

// Clock returns a copy of the frontend's clock.
func (f *Frontend) Clock() clock.Clock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Clone()
}

// Deps returns the dependency frontier carried by the last patch.
func (f *Frontend) Deps() []ir.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deps)
}

// History returns the history count from the last patch.
func (f *Frontend) History() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

// Value returns the current view.
func (f *Frontend) Value() ir.Map {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view.Snapshot()
}

// Pending returns the number of queued edit functions not yet applied.
func (f *Frontend) Pending() int {
	return f.changeQ.Len()
}

// Handle registers a new handle. If the frontend has confirmed state the
// handle receives the current view right away.
func (f *Frontend) Handle() *Handle {
	h := &Handle{id: f.newHandleID(), docID: f.id, front: f}
	h.cleanup = func() { f.removeHandle(h.id) }

	f.mu.Lock()
	f.handles[h.id] = h
	n := f.snapshotLocked([]*Handle{h})
	f.mu.Unlock()

	if n != nil {
		h.push(n.value, n.clock)
	}
	return h
}

func (f *Frontend) removeHandle(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, id)
}

// HandleCount returns the number of registered handles.
func (f *Frontend) HandleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Change queues fn. Without an actor id it first asks the orchestrator for
// one; repeated asks before assignment are harmless. Edit functions apply in
// call order once writes are enabled.
func (f *Frontend) Change(fn ir.ChangeFn) error {
	f.mu.Lock()
	_, unbound := f.ident.(unidentified)
	f.mu.Unlock()

	if unbound {
		f.logger.Debug("change needsActorId")
		f.sink.Push(NeedsActorIDMsg{ID: f.id})
	}
	if !f.changeQ.Push(fn) {
		return fmt.Errorf("frontend %s: %w", f.id, queue.ErrClosed)
	}
	return nil
}

// SetActorID binds actor to the view. In read mode this enables writes and
// starts draining queued edits. Call it before the first patch when the
// actor is already known.
func (f *Frontend) SetActorID(actor ir.ActorID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setActorIDLocked(actor)
}

func (f *Frontend) setActorIDLocked(actor ir.ActorID) error {
	if id, ok := f.ident.(identified); ok {
		if id.actor == actor {
			return nil
		}
		return newActorConflictError(f.id, id.actor, actor)
	}
	if err := f.view.SetActorID(actor); err != nil {
		return fmt.Errorf("bind actor %s: %w", actor, err)
	}
	f.ident = identified{actor: actor}
	f.transitionLocked(evActorAssigned)
	f.logger.Debug("setActorId", "actor", actor, "mode", f.mode)
	return nil
}

// Init is the one-time bootstrap from the backend's ReadyMsg. It is a no-op
// outside pending mode. The actor is bound before the patch is applied.
// Without a patch, a satisfied minimum clock confirms an empty history.
func (f *Frontend) Init(minimumClockSatisfied bool, actor ir.ActorID, patch *ir.Patch, history int) error {
	f.mu.Lock()
	if f.mode != ModePending {
		f.mu.Unlock()
		return nil
	}
	f.logger.Debug("init", "actor", actor, "patch", patch != nil, "history", history)

	if actor != "" {
		if err := f.setActorIDLocked(actor); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	if patch != nil {
		return f.patchLocked(patch, minimumClockSatisfied, history)
	}

	f.history = history
	if minimumClockSatisfied {
		f.transitionLocked(evHistoryConfirmed)
		f.notifyLocked(f.snapshotLocked(f.handleList()))
	}
	f.mu.Unlock()
	return nil
}

// Patch applies a backend patch to the view and merges its clock. Only a
// non-empty diff with the minimum clock satisfied leaves pending mode and
// notifies handles; anything else updates bookkeeping silently.
func (f *Frontend) Patch(patch *ir.Patch, minimumClockSatisfied bool, history int) error {
	f.mu.Lock()
	return f.patchLocked(patch, minimumClockSatisfied, history)
}

// patchLocked is entered holding mu and releases it.
func (f *Frontend) patchLocked(patch *ir.Patch, minimumClockSatisfied bool, history int) error {
	start := time.Now()

	f.history = history
	if err := f.view.ApplyPatch(patch); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("apply patch: %w", err)
	}
	if patch != nil {
		for actor, seq := range patch.Clock {
			f.clock.Observe(actor, seq)
		}
		if patch.Deps != nil {
			f.deps = slices.Clone(patch.Deps)
		}
	}

	if !patch.IsEmpty() && minimumClockSatisfied {
		f.transitionLocked(evHistoryConfirmed)
		f.notifyLocked(f.snapshotLocked(f.handleList()))
	}
	f.mu.Unlock()

	f.logger.Debug("frontend apply", "task", "patch", "duration", time.Since(start), "history", history)
	return nil
}

// Progress fans a replication progress event out to every handle.
func (f *Frontend) Progress(ev ProgressEvent) {
	f.mu.Lock()
	hs := f.handleList()
	f.mu.Unlock()
	for _, h := range hs {
		h.receiveProgress(ev)
	}
}

// Messaged fans an out-of-band document message out to every handle.
func (f *Frontend) Messaged(contents any) {
	f.mu.Lock()
	hs := f.handleList()
	f.mu.Unlock()
	for _, h := range hs {
		h.receiveMessage(contents)
	}
}

// Close closes and discards every handle and stops applying edits.
func (f *Frontend) Close() {
	f.mu.Lock()
	hs := f.handleList()
	f.handles = make(map[string]*Handle)
	f.mu.Unlock()

	f.changeQ.Close()
	f.notifyQ.Close()
	for _, h := range hs {
		h.Close()
	}
}

// transitionLocked applies one mode event and enables writes on entering
// write mode.
func (f *Frontend) transitionLocked(ev modeEvent) {
	f.mode = nextMode(f.mode, f.ident, ev)
	if f.mode == ModeWrite {
		f.enableWritesLocked()
	}
}

func (f *Frontend) enableWritesLocked() {
	if f.writesEnabled {
		return
	}
	f.writesEnabled = true
	_ = f.changeQ.Subscribe(f.applyChange)
}

// applyChange runs on the change queue worker.
func (f *Frontend) applyChange(fn ir.ChangeFn) {
	start := time.Now()

	f.mu.Lock()
	req, err := f.view.Change(fn)
	if err != nil {
		f.mu.Unlock()
		f.logger.Warn("change failed", "error", err)
		return
	}
	if req == nil {
		f.mu.Unlock()
		f.logger.Debug("change made no ops")
		return
	}
	f.clock.Observe(req.Actor, req.Seq)
	f.notifyLocked(f.snapshotLocked(f.handleList()))
	f.mu.Unlock()

	f.logger.Debug("change-request complete", "seq", req.Seq, "duration", time.Since(start))
	f.sink.Push(RequestMsg{ID: f.id, Request: req})
}

// notification is a view captured under mu for delivery after it is
// released.
type notification struct {
	handles []*Handle
	value   ir.Map
	clock   clock.Clock
}

// snapshotLocked captures the current view for hs, or returns nil while the
// frontend has no confirmed state.
func (f *Frontend) snapshotLocked(hs []*Handle) *notification {
	if f.mode == ModePending || len(hs) == 0 {
		return nil
	}
	return &notification{handles: hs, value: f.view.Snapshot(), clock: f.clock.Clone()}
}

// notifyLocked queues n for delivery. Pushing under mu keeps deliveries in
// capture order.
func (f *Frontend) notifyLocked(n *notification) {
	if n != nil {
		f.notifyQ.Push(n)
	}
}

func deliver(n *notification) {
	for _, h := range n.handles {
		h.push(n.value, n.clock)
	}
}

// Flush waits until queued edits are applied and captured views are
// delivered. Edits queued while writes are disabled are not waited for.
func (f *Frontend) Flush(ctx context.Context) error {
	f.mu.Lock()
	writes := f.writesEnabled
	f.mu.Unlock()

	if writes {
		if err := f.changeQ.Drain(ctx); err != nil {
			return err
		}
	}
	return f.notifyQ.Drain(ctx)
}

// Idle reports whether no edit or delivery is queued or running. Edits
// waiting for writes to be enabled do not count.
func (f *Frontend) Idle() bool {
	f.mu.Lock()
	writes := f.writesEnabled
	f.mu.Unlock()
	if writes && !f.changeQ.Idle() {
		return false
	}
	return f.notifyQ.Idle()
}

func (f *Frontend) handleList() []*Handle {
	hs := make([]*Handle, 0, len(f.handles))
	for _, h := range f.handles {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, func(a, b *Handle) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return hs
}
