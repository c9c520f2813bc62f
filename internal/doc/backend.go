package doc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/queue"
)

// BackendOption configures a Backend.
type BackendOption func(*backendOptions)

type backendOptions struct {
	logger *slog.Logger
	actor  ir.ActorID
}

// WithBackendLogger sets the backend's logger. Default: slog.Default().
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(o *backendOptions) {
		o.logger = l
	}
}

// WithActorID binds the backend to actor from construction. InitActor never
// overrides it.
func WithActorID(actor ir.ActorID) BackendOption {
	return func(o *backendOptions) {
		o.actor = actor
	}
}

// Backend owns the canonical CRDT state for one document.
//
// Thread-safety model:
//   - ApplyLocalChange, ApplyRemoteChanges, InitActor, OnReady: safe from
//     any goroutine; work is queued and applied by per-stream workers
//   - the local and remote workers serialize on mu, so each apply sees the
//     state left by the previous one
//
// INVARIANTS:
//   - an accepted local request moves the history forward by exactly one
//     change
//   - clock entries never decrease
//   - state is committed only after an apply fully succeeds
type Backend[S any] struct {
	id     ir.DocID
	engine Engine[S]
	logger *slog.Logger

	mu       sync.Mutex
	actorID  ir.ActorID
	clock    clock.Clock
	deps     []ir.Hash
	state    S
	hasState bool
	history  int

	readyQ  *queue.Queue[func()]
	updateQ *queue.Queue[BackendMsg]
	localQ  *queue.Queue[*ir.Request]
	remoteQ *queue.Queue[[]ir.Change]
}

// NewBackend creates a backend with no canonical state. Call Init with the
// document's stored changes to make it ready. Local and remote work pushed
// before then is kept and applied after Init.
func NewBackend[S any](id ir.DocID, engine Engine[S], opts ...BackendOption) *Backend[S] {
	o := backendOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	qopt := queue.WithLogger(o.logger)
	return &Backend[S]{
		id:      id,
		engine:  engine,
		logger:  o.logger.With("doc", id),
		actorID: o.actor,
		clock:   clock.New(),
		readyQ:  queue.New[func()]("doc:back:readyQ", qopt),
		updateQ: queue.New[BackendMsg]("doc:back:updateQ", qopt),
		localQ:  queue.New[*ir.Request]("doc:back:localChangeQ", qopt),
		remoteQ: queue.New[[]ir.Change]("doc:back:remoteChangesQ", qopt),
	}
}

// NewBackendWithState creates a backend that already holds canonical state,
// typically a fresh document, and is immediately ready. It emits ReadyMsg
// without a patch.
func NewBackendWithState[S any](id ir.DocID, engine Engine[S], state S, opts ...BackendOption) *Backend[S] {
	b := NewBackend(id, engine, opts...)

	b.mu.Lock()
	changes := engine.GetChanges(state, nil)
	b.state = state
	b.hasState = true
	b.clock = clock.FromChanges(changes)
	b.deps = frontier(changes)
	b.history = engine.HistoryLen(state)
	history := b.history
	b.mu.Unlock()

	b.updateQ.Push(ReadyMsg{Doc: b, History: history})
	b.start()
	return b
}

// Init applies the document's historical changes to empty state in one
// batch and makes the backend ready. actor is used only when the backend
// has no actor yet. Emits ReadyMsg carrying the resulting patch.
func (b *Backend[S]) Init(changes []ir.Change, actor ir.ActorID) error {
	start := time.Now()

	b.mu.Lock()
	if b.hasState {
		b.mu.Unlock()
		return newAlreadyInitializedError(b.id)
	}
	state, patch, err := b.engine.ApplyChanges(b.engine.Init(), changes)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("init doc %s: %w", b.id, err)
	}
	b.state = state
	b.hasState = true
	b.deps = slices.Clone(patch.Deps)
	if b.actorID == "" {
		b.actorID = actor
	}
	for _, c := range changes {
		b.clock.Observe(c.Actor, c.Seq)
	}
	b.history = b.engine.HistoryLen(state)
	history := b.history
	b.mu.Unlock()

	b.updateQ.Push(ReadyMsg{Doc: b, Patch: patch, History: history})
	b.start()
	b.bench("init", start, "changes", len(changes))
	return nil
}

// start attaches the ready, local and remote workers. Called once, after
// state exists and ReadyMsg is queued, so Ready precedes every patch.
func (b *Backend[S]) start() {
	_ = b.readyQ.Subscribe(func(f func()) { f() })
	_ = b.localQ.Subscribe(b.handleLocal)
	_ = b.remoteQ.Subscribe(b.handleRemote)
}

// Subscribe registers the single consumer of the backend's messages.
// Messages emitted before Subscribe are buffered.
func (b *Backend[S]) Subscribe(fn func(BackendMsg)) error {
	return b.updateQ.Subscribe(fn)
}

// OnReady runs fn once the backend is initialized, or soon if it already is.
func (b *Backend[S]) OnReady(fn func()) {
	b.readyQ.Push(fn)
}

// ApplyLocalChange queues a local request. It never blocks.
func (b *Backend[S]) ApplyLocalChange(req *ir.Request) bool {
	return b.localQ.Push(req)
}

// ApplyRemoteChanges queues a remote batch. The batch is applied as one unit.
func (b *Backend[S]) ApplyRemoteChanges(changes []ir.Change) bool {
	return b.remoteQ.Push(changes)
}

// InitActor binds actor if the backend has state and no actor yet, then
// emits ActorIDMsg with the effective actor. An existing actor is never
// overwritten. Before Init it does nothing; use OnReady to defer.
func (b *Backend[S]) InitActor(actor ir.ActorID) {
	b.mu.Lock()
	if !b.hasState {
		b.mu.Unlock()
		b.logger.Debug("initActor before ready ignored", "actor", actor)
		return
	}
	if b.actorID == "" {
		b.actorID = actor
	}
	effective := b.actorID
	b.mu.Unlock()

	b.logger.Debug("initActor", "actor", effective)
	b.updateQ.Push(ActorIDMsg{ID: b.id, ActorID: effective})
}

func (b *Backend[S]) handleLocal(req *ir.Request) {
	if err := b.applyLocal(req); err != nil {
		b.logger.Error("local change rejected", "seq", req.Seq, "error", err)
		b.updateQ.Push(ErrorMsg{Doc: b, Request: req, Err: err})
	}
}

func (b *Backend[S]) handleRemote(changes []ir.Change) {
	if err := b.applyRemote(changes); err != nil {
		b.logger.Error("remote changes rejected", "changes", len(changes), "error", err)
		b.updateQ.Push(ErrorMsg{Doc: b, Err: err})
	}
}

// applyLocal applies one request. The resulting state is committed only if
// it holds exactly one change beyond the previous dependency frontier.
func (b *Backend[S]) applyLocal(req *ir.Request) error {
	start := time.Now()

	b.mu.Lock()
	if !b.hasState {
		b.mu.Unlock()
		return newNotInitializedError(b.id)
	}
	oldDeps := b.deps
	next, patch, err := b.engine.ApplyLocalChange(b.state, req)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("apply local change seq=%d: %w", req.Seq, err)
	}
	changes := b.engine.GetChanges(next, oldDeps)
	if len(changes) != 1 {
		b.mu.Unlock()
		return NewChangeCountError(b.id, len(changes))
	}
	change := changes[0]

	b.state = next
	b.deps = slices.Clone(patch.Deps)
	b.clock.Observe(change.Actor, change.Seq)
	b.history = b.engine.HistoryLen(next)
	history := b.history
	b.mu.Unlock()

	b.updateQ.Push(LocalPatchMsg{Doc: b, Change: change, Patch: patch, History: history})
	b.bench("applyLocalChange", start, "seq", req.Seq)
	return nil
}

// applyRemote applies a batch in one engine call.
func (b *Backend[S]) applyRemote(changes []ir.Change) error {
	start := time.Now()

	b.mu.Lock()
	if !b.hasState {
		b.mu.Unlock()
		return newNotInitializedError(b.id)
	}
	oldDeps := b.deps
	next, patch, err := b.engine.ApplyChanges(b.state, changes)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("apply %d remote changes: %w", len(changes), err)
	}
	applied := b.engine.GetChanges(next, oldDeps)
	b.state = next
	b.deps = slices.Clone(patch.Deps)
	// Pending changes count too, as they do in Init.
	for _, c := range changes {
		b.clock.Observe(c.Actor, c.Seq)
	}
	b.history = b.engine.HistoryLen(next)
	history := b.history
	b.mu.Unlock()

	b.updateQ.Push(RemotePatchMsg{Doc: b, Patch: patch, Applied: applied, History: history})
	b.bench("applyRemoteChanges", start, "changes", len(changes))
	return nil
}

func (b *Backend[S]) bench(task string, start time.Time, args ...any) {
	attrs := append([]any{"task", task, "duration", time.Since(start)}, args...)
	b.logger.Debug("backend apply", attrs...)
}

// ID returns the document id.
func (b *Backend[S]) ID() ir.DocID {
	return b.id
}

// ActorID returns the bound actor, if any.
func (b *Backend[S]) ActorID() (ir.ActorID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.actorID, b.actorID != ""
}

// Clock returns a copy of the causal clock.
func (b *Backend[S]) Clock() clock.Clock {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock.Clone()
}

// Deps returns a copy of the dependency frontier.
func (b *Backend[S]) Deps() []ir.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.deps)
}

// History returns the number of changes in canonical state.
func (b *Backend[S]) History() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history
}

// Ready reports whether canonical state exists.
func (b *Backend[S]) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasState
}

// State returns the current canonical state.
func (b *Backend[S]) State() (S, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.hasState
}

// Changes returns every applied change in application order.
func (b *Backend[S]) Changes() []ir.Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasState {
		return nil
	}
	return b.engine.GetChanges(b.state, nil)
}

// MissingDeps returns the hashes that received changes still wait on.
// Empty once history is complete.
func (b *Backend[S]) MissingDeps() []ir.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasState {
		return nil
	}
	return b.engine.MissingDeps(b.state)
}

// Flush waits until every queued message, request and batch has been
// handled. Before Init only emitted messages are waited for.
func (b *Backend[S]) Flush(ctx context.Context) error {
	if b.Ready() {
		for _, q := range []interface{ Drain(context.Context) error }{b.readyQ, b.localQ, b.remoteQ} {
			if err := q.Drain(ctx); err != nil {
				return err
			}
		}
	}
	if !b.updateQ.Subscribed() {
		return nil
	}
	return b.updateQ.Drain(ctx)
}

// Idle reports whether no backend work is queued or running.
func (b *Backend[S]) Idle() bool {
	if b.Ready() && !(b.readyQ.Idle() && b.localQ.Idle() && b.remoteQ.Idle()) {
		return false
	}
	return !b.updateQ.Subscribed() || b.updateQ.Idle()
}

// Close stops all workers. Queued work that has not started is still
// applied before the workers exit.
func (b *Backend[S]) Close() {
	b.localQ.Close()
	b.remoteQ.Close()
	b.readyQ.Close()
	b.updateQ.Close()
}

// frontier returns the hashes in changes that no other change depends on.
func frontier(changes []ir.Change) []ir.Hash {
	depended := make(map[ir.Hash]struct{})
	for _, c := range changes {
		for _, d := range c.Deps {
			depended[d] = struct{}{}
		}
	}
	heads := []ir.Hash{}
	for _, c := range changes {
		if _, ok := depended[c.Hash]; !ok {
			heads = append(heads, c.Hash)
		}
	}
	slices.Sort(heads)
	return heads
}
