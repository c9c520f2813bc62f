package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/geoffreylitt/hypermerge/internal/bus"
	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/doc"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/keys"
	"github.com/geoffreylitt/hypermerge/internal/repo"
	"github.com/geoffreylitt/hypermerge/internal/store"
	"github.com/geoffreylitt/hypermerge/internal/testutil"
)

// stepTimeout bounds how long one step may take to settle.
const stepTimeout = 5 * time.Second

// Option configures a harness run.
type Option func(*Harness)

// WithLogger routes repo logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Harness is the scenario execution engine. It owns one repo and one
// in-memory change log per peer.
type Harness struct {
	scenario *Scenario
	logger   *slog.Logger
	peers    map[string]*peer

	mu     sync.Mutex
	step   int
	curDoc string
	docs   map[string]ir.DocID
	// actors maps every generated actor to the peer that owns it.
	actors map[ir.ActorID]string
	// docActors maps doc alias, then peer, to that peer's actor.
	docActors map[string]map[string]ir.ActorID
	events    []rawEvent
}

type peer struct {
	name    string
	store   *store.Store
	repo    *repo.Repo
	handles map[string]*doc.Handle
}

// rawEvent is a published message before aliases are applied.
type rawEvent struct {
	step int
	peer string
	env  bus.Envelope
}

// Run executes a scenario and returns the result.
//
// Each peer runs against a fresh in-memory database. Key pairs are derived
// from the scenario name and the peer name, so two runs of the same
// scenario produce identical traces.
//
// Execution flow:
// 1. Create one store and repo per peer
// 2. Execute each step, wait for every peer to settle, check its expect
// 3. Collect final values and evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario:  scenario,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		peers:     make(map[string]*peer, len(scenario.Peers)),
		docs:      make(map[string]ir.DocID),
		actors:    make(map[ir.ActorID]string),
		docActors: make(map[string]map[string]ir.ActorID),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.close()

	for _, name := range scenario.Peers {
		if err := h.addPeer(name); err != nil {
			return nil, err
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(i, step); err != nil {
			return nil, fmt.Errorf("steps[%d] %s %s %s: %w", i, step.Peer, step.Action, step.Doc, err)
		}
		if step.Expect != nil {
			for _, msg := range h.checkExpect(step) {
				result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", i, step.Peer, step.Action, msg))
			}
		}
	}

	result.Trace = h.trace()
	result.Values = h.values()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) addPeer(name string) error {
	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("peer %s: failed to create in-memory store: %w", name, err)
	}
	ids := testutil.NewSequentialIDs(name + "-handle")
	r := repo.New(
		repo.WithChangeLog(st),
		repo.WithPublisher(tracer{h: h, peer: name}),
		repo.WithLogger(h.logger.With("peer", name)),
		repo.WithKeyGenerator(h.keyGenerator(name)),
		repo.WithHandleIDs(ids.Next),
	)
	h.peers[name] = &peer{name: name, store: st, repo: r, handles: make(map[string]*doc.Handle)}
	return nil
}

func (h *Harness) close() {
	for _, p := range h.peers {
		p.repo.Close()
		p.store.Close()
	}
}

// keyGenerator derives a peer's n'th key pair from the scenario name and
// attributes it to the document the current step acts on.
func (h *Harness) keyGenerator(name string) func() (keys.KeyPair, error) {
	n := 0
	return func() (keys.KeyPair, error) {
		h.mu.Lock()
		n++
		seed := fmt.Sprintf("%s/%s/%d", h.scenario.Name, name, n)
		alias := h.curDoc
		h.mu.Unlock()

		kb, err := keys.Generate(testutil.DeterministicReader(seed))
		if err != nil {
			return keys.KeyPair{}, err
		}
		kp := keys.EncodePair(kb)
		h.bindActor(alias, name, kp.PublicKey.ActorID())
		return kp, nil
	}
}

func (h *Harness) bindActor(alias, name string, actor ir.ActorID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actors[actor] = name
	if h.docActors[alias] == nil {
		h.docActors[alias] = make(map[string]ir.ActorID)
	}
	h.docActors[alias][name] = actor
}

func (h *Harness) actorOf(alias, name string) (ir.ActorID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	actor, ok := h.docActors[alias][name]
	return actor, ok
}

func (h *Harness) docID(alias string) (ir.DocID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.docs[alias]
	return id, ok
}

// runStep executes one step and waits for every peer to settle.
func (h *Harness) runStep(i int, step Step) error {
	h.mu.Lock()
	h.step = i
	h.curDoc = step.Doc
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	if err := h.execute(ctx, step); err != nil {
		return err
	}
	return h.settle(ctx)
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	p := h.peers[step.Peer]

	if step.Action == ActionCreate {
		handle, err := p.repo.Create(ctx)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.docs[step.Doc] = handle.DocID()
		h.mu.Unlock()
		p.handles[step.Doc] = handle
		return nil
	}

	id, ok := h.docID(step.Doc)
	if !ok {
		return fmt.Errorf("doc %q has no id", step.Doc)
	}

	switch step.Action {
	case ActionOpen:
		minClock := clock.New()
		for name, seq := range step.MinimumClock {
			actor, ok := h.actorOf(step.Doc, name)
			if !ok {
				return fmt.Errorf("peer %q has no actor on %q", name, step.Doc)
			}
			minClock.Observe(actor, seq)
		}
		handle, err := p.repo.Open(ctx, id, repo.WithMinimumClock(minClock))
		if err != nil {
			return err
		}
		if old, ok := p.handles[step.Doc]; ok {
			old.Close()
		}
		p.handles[step.Doc] = handle
		return nil

	case ActionChange:
		handle, ok := p.handles[step.Doc]
		if !ok {
			return fmt.Errorf("doc %q is not open on %s", step.Doc, p.name)
		}
		return handle.Change(editFor(step))

	case ActionSync:
		changes, err := h.peers[step.From].repo.Changes(id)
		if err != nil {
			return err
		}
		return p.repo.ApplyRemoteChanges(ctx, id, changes[min(step.Skip, len(changes)):])

	case ActionClose:
		delete(p.handles, step.Doc)
		return p.repo.CloseDoc(id)

	case ActionCheck:
		return nil
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// editFor builds the edit function of a change step. Sets apply in key
// order, then deletes in listed order.
func editFor(step Step) ir.ChangeFn {
	return func(e ir.Editor) error {
		if step.Message != "" {
			if m, ok := e.(interface{ SetMessage(string) }); ok {
				m.SetMessage(step.Message)
			}
		}
		for _, key := range slices.Sorted(maps.Keys(step.Set)) {
			v, err := ir.ToValue(step.Set[key])
			if err != nil {
				return fmt.Errorf("set %q: %w", key, err)
			}
			if err := e.Set(key, v); err != nil {
				return err
			}
		}
		for _, key := range step.Delete {
			if err := e.Delete(key); err != nil {
				return err
			}
		}
		return nil
	}
}

// settle flushes every open document on every peer.
func (h *Harness) settle(ctx context.Context) error {
	for _, name := range h.scenario.Peers {
		p := h.peers[name]
		for _, id := range p.repo.Docs() {
			if err := p.repo.Flush(ctx, id); err != nil {
				return fmt.Errorf("settle %s: %w", name, err)
			}
		}
	}
	return nil
}

// checkExpect compares a step's expect clause with the peer's view.
func (h *Harness) checkExpect(step Step) []string {
	p := h.peers[step.Peer]
	want := step.Expect

	id, _ := h.docID(step.Doc)
	front, ok := p.repo.Frontend(id)
	if !ok {
		return []string{fmt.Sprintf("doc %q is not open", step.Doc)}
	}

	var errs []string
	if want.Mode != "" {
		if got := front.Mode().String(); got != want.Mode {
			errs = append(errs, fmt.Sprintf("mode: expected %s, got %s", want.Mode, got))
		}
	}
	if want.Value != nil {
		if msg := compareValues(want.Value, front.Value()); msg != "" {
			errs = append(errs, "value: "+msg)
		}
	}
	if want.Clock != nil {
		got, _ := p.repo.Clock(id)
		if aliased := h.aliasClock(got); !maps.Equal(aliased, want.Clock) {
			errs = append(errs, fmt.Sprintf("clock: expected %v, got %v", want.Clock, aliased))
		}
	}
	if want.History != nil {
		if got := front.History(); got != *want.History {
			errs = append(errs, fmt.Sprintf("history: expected %d, got %d", *want.History, got))
		}
	}
	if want.MissingDeps != nil {
		missing, _ := p.repo.MissingDeps(id)
		if got := len(missing); got != *want.MissingDeps {
			errs = append(errs, fmt.Sprintf("missing_deps: expected %d, got %d", *want.MissingDeps, got))
		}
	}
	return errs
}

// compareValues reports a mismatch between an expected plain value and a
// document value, or "" when they are equal.
func compareValues(want map[string]any, got ir.Map) string {
	wantJSON, err := ir.MarshalCanonical(want)
	if err != nil {
		return fmt.Sprintf("invalid expected value: %v", err)
	}
	gotJSON, err := ir.MarshalCanonical(got)
	if err != nil {
		return fmt.Sprintf("invalid document value: %v", err)
	}
	if string(wantJSON) != string(gotJSON) {
		return fmt.Sprintf("expected %s, got %s", wantJSON, gotJSON)
	}
	return ""
}

func (h *Harness) aliasClock(c clock.Clock) map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(c))
	for actor, seq := range c {
		out[h.actorAliasLocked(actor)] = seq
	}
	return out
}

func (h *Harness) actorAliasLocked(actor ir.ActorID) string {
	if name, ok := h.actors[actor]; ok {
		return name
	}
	return string(actor)
}

func (h *Harness) docAliasLocked(id ir.DocID) string {
	for alias, docID := range h.docs {
		if docID == id {
			return alias
		}
	}
	return string(id)
}

// trace resolves recorded messages into alias form.
func (h *Harness) trace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]TraceEvent, 0, len(h.events))
	for _, ev := range h.events {
		env := ev.env
		te := TraceEvent{
			Step:    ev.step,
			Peer:    ev.peer,
			Message: string(env.Type),
			Doc:     h.docAliasLocked(env.DocID),
			History: env.History,
			Error:   env.Error,
		}
		if env.ActorID != "" {
			te.Actor = h.actorAliasLocked(env.ActorID)
		}
		switch {
		case env.Change != nil:
			te.Seq = env.Change.Seq
		case env.Request != nil:
			te.Seq = env.Request.Seq
		}
		switch {
		case env.Patch != nil:
			te.Keys = env.Patch.DiffKeys()
		case env.Request != nil:
			te.Keys = opKeys(env.Request.Ops)
		}
		out = append(out, te)
	}
	return out
}

func opKeys(ops []ir.Op) []string {
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		keys = append(keys, op.Key)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// values collects every peer's open documents.
func (h *Harness) values() map[string]map[string]any {
	h.mu.Lock()
	docs := maps.Clone(h.docs)
	h.mu.Unlock()

	out := make(map[string]map[string]any, len(h.peers))
	for name, p := range h.peers {
		vals := make(map[string]any)
		for alias, id := range docs {
			if front, ok := p.repo.Frontend(id); ok {
				vals[alias] = ir.FromValue(front.Value())
			}
		}
		out[name] = vals
	}
	return out
}

// tracer is the repo publisher that records each message for the trace.
type tracer struct {
	h    *Harness
	peer string
}

func (t tracer) PublishMsg(_ context.Context, msg any) error {
	env, err := bus.EnvelopeFor(msg)
	if err != nil {
		return err
	}
	t.h.mu.Lock()
	t.h.events = append(t.h.events, rawEvent{step: t.h.step, peer: t.peer, env: env})
	t.h.mu.Unlock()
	return nil
}
