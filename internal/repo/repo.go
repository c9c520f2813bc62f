// Package repo wires document frontends to their backends in one process.
//
// A Repo routes each backend message to the matching frontend and each
// frontend message to the matching backend, assigns actor ids on demand,
// persists changes to a change log and mirrors every message onto an
// optional event bus. Network replication is not its concern: remote
// changes enter through ApplyRemoteChanges.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/crdt"
	"github.com/geoffreylitt/hypermerge/internal/doc"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/keys"
	"github.com/geoffreylitt/hypermerge/internal/queue"
	"github.com/geoffreylitt/hypermerge/internal/store"
)

// ErrUnknownDoc is returned for a document the repo has not opened.
var ErrUnknownDoc = errors.New("repo: unknown document")

// ChangeLog persists document history and local writer keys.
// *store.Store implements it.
type ChangeLog interface {
	AppendChanges(ctx context.Context, id ir.DocID, changes []ir.Change) (int, error)
	ReadChanges(ctx context.Context, id ir.DocID) ([]ir.Change, error)
	SaveKeys(ctx context.Context, id ir.DocID, kp keys.KeyPair) error
	LoadKeys(ctx context.Context, id ir.DocID) (keys.KeyPair, error)
}

// Publisher mirrors doc messages to observers. *bus.Client implements it.
type Publisher interface {
	PublishMsg(ctx context.Context, msg any) error
}

// Option configures a Repo.
type Option func(*Repo)

// WithChangeLog persists changes and keys to log.
func WithChangeLog(log ChangeLog) Option {
	return func(r *Repo) { r.log = log }
}

// WithPublisher mirrors every message to p.
func WithPublisher(p Publisher) Option {
	return func(r *Repo) { r.pub = p }
}

// WithLogger sets the repo's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) { r.logger = l }
}

// WithKeyGenerator replaces keys.Create for new documents and actors.
func WithKeyGenerator(gen func() (keys.KeyPair, error)) Option {
	return func(r *Repo) { r.newKeys = gen }
}

// WithHandleIDs replaces the handle id generator of every frontend.
func WithHandleIDs(gen func() string) Option {
	return func(r *Repo) { r.handleIDs = gen }
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	minimumClock clock.Clock
}

// WithMinimumClock holds the frontend in pending mode until the backend
// clock satisfies c.
func WithMinimumClock(c clock.Clock) OpenOption {
	return func(o *openOptions) { o.minimumClock = c.Clone() }
}

// Repo owns the open documents of one process.
type Repo struct {
	engine    *crdt.Engine
	log       ChangeLog
	pub       Publisher
	logger    *slog.Logger
	newKeys   func() (keys.KeyPair, error)
	handleIDs func() string

	mu     sync.Mutex
	docs   map[ir.DocID]*entry
	closed bool
}

// entry is one open document.
type entry struct {
	id       ir.DocID
	back     *doc.Backend[*crdt.State]
	front    *doc.Frontend
	frontQ   *queue.Queue[doc.FrontendMsg]
	minClock clock.Clock

	mu             sync.Mutex
	actorRequested bool
}

// New creates a repo. Without a change log, documents live in memory only.
func New(opts ...Option) *Repo {
	r := &Repo{
		engine:  crdt.NewEngine(),
		logger:  slog.Default(),
		newKeys: keys.Create,
		docs:    make(map[ir.DocID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a new document owned by a fresh key pair. The document id
// is the encoded public key and the key pair's owner is the root actor, so
// the returned handle can write at once.
func (r *Repo) Create(ctx context.Context) (*doc.Handle, error) {
	kp, err := r.newKeys()
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	id := kp.PublicKey.DocID()
	actor := ir.RootActorID(id)

	if r.log != nil {
		if err := r.log.SaveKeys(ctx, id, kp); err != nil {
			return nil, fmt.Errorf("create %s: %w", id, err)
		}
	}

	back := doc.NewBackendWithState(id, r.engine, r.engine.Init(),
		doc.WithActorID(actor), doc.WithBackendLogger(r.logger))
	e, err := r.register(id, actor, nil, back)
	if err != nil {
		back.Close()
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	r.wire(e)

	r.logger.Info("document created", "doc", id)
	return e.front.Handle(), nil
}

// Open loads a document from the change log and returns a new handle on
// it. Opening an already open document returns another handle on the same
// frontend and ignores opts.
func (r *Repo) Open(ctx context.Context, id ir.DocID, opts ...OpenOption) (*doc.Handle, error) {
	if e, ok := r.lookup(id); ok {
		return e.front.Handle(), nil
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		changes []ir.Change
		actor   ir.ActorID
	)
	if r.log != nil {
		var err error
		if changes, err = r.log.ReadChanges(ctx, id); err != nil {
			return nil, fmt.Errorf("open %s: %w", id, err)
		}
		kp, err := r.log.LoadKeys(ctx, id)
		switch {
		case err == nil && kp.HasSecret():
			actor = kp.PublicKey.ActorID()
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("open %s: %w", id, err)
		}
	}

	back := doc.NewBackend(id, r.engine, doc.WithBackendLogger(r.logger))
	e, err := r.register(id, "", o.minimumClock, back)
	if err != nil {
		back.Close()
		if errors.Is(err, errAlreadyOpen) {
			return r.Open(ctx, id)
		}
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	r.wire(e)
	if err := e.back.Init(changes, actor); err != nil {
		r.drop(e)
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	r.logger.Info("document opened", "doc", id, "changes", len(changes), "writable", actor != "")
	return e.front.Handle(), nil
}

var errAlreadyOpen = errors.New("repo: document already open")

// register creates the entry and its frontend around back. Messages flow
// once the caller wires the entry.
func (r *Repo) register(id ir.DocID, actor ir.ActorID, minClock clock.Clock, back *doc.Backend[*crdt.State]) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("repo: %w", queue.ErrClosed)
	}
	if _, ok := r.docs[id]; ok {
		return nil, errAlreadyOpen
	}

	e := &entry{
		id:       id,
		back:     back,
		frontQ:   queue.New[doc.FrontendMsg]("repo:frontQ", queue.WithLogger(r.logger)),
		minClock: minClock,
	}
	fopts := []doc.FrontendOption{doc.WithFrontendLogger(r.logger)}
	if r.handleIDs != nil {
		fopts = append(fopts, doc.WithHandleIDs(r.handleIDs))
	}
	front, err := doc.NewFrontend(doc.Config{DocID: id, ActorID: actor}, crdt.NewView(actor), e.frontQ, fopts...)
	if err != nil {
		return nil, fmt.Errorf("frontend %s: %w", id, err)
	}
	e.front = front
	r.docs[id] = e
	return e, nil
}

func (r *Repo) wire(e *entry) {
	_ = e.back.Subscribe(func(msg doc.BackendMsg) { r.fromBackend(e, msg) })
	_ = e.frontQ.Subscribe(func(msg doc.FrontendMsg) { r.fromFrontend(e, msg) })
}

func (r *Repo) drop(e *entry) {
	r.mu.Lock()
	delete(r.docs, e.id)
	r.mu.Unlock()
	e.close()
}

func (r *Repo) lookup(id ir.DocID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.docs[id]
	return e, ok
}

// minimumClockSatisfied gates the frontend on the backend's clock.
func (e *entry) minimumClockSatisfied() bool {
	return clock.Satisfies(e.back.Clock(), e.minClock)
}

// fromBackend runs on the backend's message worker.
func (r *Repo) fromBackend(e *entry, msg doc.BackendMsg) {
	r.publish(msg)

	switch m := msg.(type) {
	case doc.ReadyMsg:
		actor, _ := m.Doc.ActorID()
		// A document with no history has nothing to wait for.
		patch := m.Patch
		if patch.IsEmpty() && m.History == 0 {
			patch = nil
		}
		if err := e.front.Init(e.minimumClockSatisfied(), actor, patch, m.History); err != nil {
			r.logger.Error("frontend init failed", "doc", e.id, "error", err)
		}
	case doc.ActorIDMsg:
		if err := e.front.SetActorID(m.ActorID); err != nil {
			r.logger.Error("frontend setActorId failed", "doc", e.id, "actor", m.ActorID, "error", err)
		}
	case doc.LocalPatchMsg:
		r.persist(e.id, []ir.Change{m.Change})
		if err := e.front.Patch(m.Patch, e.minimumClockSatisfied(), m.History); err != nil {
			r.logger.Error("frontend patch failed", "doc", e.id, "error", err)
		}
	case doc.RemotePatchMsg:
		r.persist(e.id, m.Applied)
		if err := e.front.Patch(m.Patch, e.minimumClockSatisfied(), m.History); err != nil {
			r.logger.Error("frontend patch failed", "doc", e.id, "error", err)
		}
	case doc.ErrorMsg:
		r.logger.Error("backend rejected work", "doc", e.id, "error", m.Err)
	}
}

// fromFrontend runs on the frontend message worker.
func (r *Repo) fromFrontend(e *entry, msg doc.FrontendMsg) {
	r.publish(msg)

	switch m := msg.(type) {
	case doc.NeedsActorIDMsg:
		e.mu.Lock()
		requested := e.actorRequested
		e.actorRequested = true
		e.mu.Unlock()
		if requested {
			return
		}
		e.back.OnReady(func() {
			actor, err := r.assignActor(e)
			if err != nil {
				r.logger.Error("actor assignment failed", "doc", e.id, "error", err)
				e.mu.Lock()
				e.actorRequested = false
				e.mu.Unlock()
				return
			}
			e.back.InitActor(actor)
		})
	case doc.RequestMsg:
		e.back.ApplyLocalChange(m.Request)
	}
}

// assignActor returns the backend's actor if it has one, else a stored
// writer key, else a fresh key pair recorded for later sessions.
func (r *Repo) assignActor(e *entry) (ir.ActorID, error) {
	if actor, ok := e.back.ActorID(); ok {
		return actor, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.log != nil {
		kp, err := r.log.LoadKeys(ctx, e.id)
		if err == nil && kp.HasSecret() {
			return kp.PublicKey.ActorID(), nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	kp, err := r.newKeys()
	if err != nil {
		return "", err
	}
	if r.log != nil {
		if err := r.log.SaveKeys(ctx, e.id, kp); err != nil {
			return "", err
		}
	}
	r.logger.Info("actor assigned", "doc", e.id, "actor", kp.PublicKey)
	return kp.PublicKey.ActorID(), nil
}

func (r *Repo) persist(id ir.DocID, changes []ir.Change) {
	if r.log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.log.AppendChanges(ctx, id, changes); err != nil {
		r.logger.Error("persist changes failed", "doc", id, "changes", len(changes), "error", err)
	}
}

func (r *Repo) publish(msg any) {
	if r.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.pub.PublishMsg(ctx, msg); err != nil {
		r.logger.Warn("publish failed", "msg", fmt.Sprintf("%T", msg), "error", err)
	}
}

// ApplyRemoteChanges queues a batch received from a peer on the document's
// backend. A batch holding a change whose hash does not match its content is
// rejected whole. Changes reach the change log only once the backend has
// applied them; changes still waiting on deps are not persisted.
func (r *Repo) ApplyRemoteChanges(ctx context.Context, id ir.DocID, changes []ir.Change) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("apply remote changes %s: %w", id, ErrUnknownDoc)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apply remote changes %s: %w", id, err)
	}
	for _, c := range changes {
		if err := crdt.VerifyHash(c); err != nil {
			return fmt.Errorf("apply remote changes %s: %w", id, err)
		}
	}
	if !e.back.ApplyRemoteChanges(changes) {
		return fmt.Errorf("apply remote changes %s: %w", id, queue.ErrClosed)
	}
	return nil
}

// Changes returns every change the document's backend has applied.
func (r *Repo) Changes(id ir.DocID) ([]ir.Change, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("changes %s: %w", id, ErrUnknownDoc)
	}
	return e.back.Changes(), nil
}

// MissingDeps returns the change hashes the document's backend is waiting
// for before it can apply everything it has received.
func (r *Repo) MissingDeps(id ir.DocID) ([]ir.Hash, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("missing deps %s: %w", id, ErrUnknownDoc)
	}
	return e.back.MissingDeps(), nil
}

// Frontend returns the frontend of an open document.
func (r *Repo) Frontend(id ir.DocID) (*doc.Frontend, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return e.front, true
}

// Clock returns the backend clock of an open document.
func (r *Repo) Clock(id ir.DocID) (clock.Clock, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return e.back.Clock(), true
}

// Progress forwards a replication progress event to the document's handles.
func (r *Repo) Progress(id ir.DocID, ev doc.ProgressEvent) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("progress %s: %w", id, ErrUnknownDoc)
	}
	e.front.Progress(ev)
	return nil
}

// Message forwards an out-of-band message to the document's handles.
func (r *Repo) Message(id ir.DocID, contents any) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("message %s: %w", id, ErrUnknownDoc)
	}
	e.front.Messaged(contents)
	return nil
}

// Docs returns the ids of open documents, sorted.
func (r *Repo) Docs() []ir.DocID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]ir.DocID, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Flush waits until the document has no queued or running work anywhere
// between its frontend and backend: edits applied, requests accepted,
// patches delivered and handles notified.
func (r *Repo) Flush(ctx context.Context, id ir.DocID) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("flush %s: %w", id, ErrUnknownDoc)
	}
	stable := 0
	for stable < 2 {
		if err := e.flushOnce(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", id, err)
		}
		if e.idle() {
			stable++
		} else {
			stable = 0
		}
	}
	return nil
}

// flushOnce drains each stage in message order.
func (e *entry) flushOnce(ctx context.Context) error {
	if err := e.front.Flush(ctx); err != nil {
		return err
	}
	if err := e.frontQ.Drain(ctx); err != nil {
		return err
	}
	if err := e.back.Flush(ctx); err != nil {
		return err
	}
	return e.front.Flush(ctx)
}

func (e *entry) idle() bool {
	return e.front.Idle() && e.frontQ.Idle() && e.back.Idle()
}

// CloseDoc closes one document: its handles, frontend and backend.
func (r *Repo) CloseDoc(id ir.DocID) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("close %s: %w", id, ErrUnknownDoc)
	}
	r.drop(e)
	return nil
}

func (e *entry) close() {
	e.front.Close()
	e.frontQ.Close()
	e.back.Close()
}

// Close closes every open document. The repo cannot be used afterwards.
func (r *Repo) Close() {
	r.mu.Lock()
	r.closed = true
	docs := r.docs
	r.docs = make(map[ir.DocID]*entry)
	r.mu.Unlock()

	for _, e := range docs {
		e.close()
	}
}
