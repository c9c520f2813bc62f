package crdt

import (
	"fmt"
	"slices"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// Engine applies changes to States. It is stateless; the zero value is
// ready to use.
type Engine struct{}

// NewEngine returns an engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Init returns an empty state.
func (e *Engine) Init() *State {
	return newState()
}

// ApplyChanges applies a batch of changes in one step.
//
// Changes are delivered causally: one whose deps are missing, or that skips
// a sequence number, is kept pending inside the returned state and applied
// as soon as a later batch completes its history. Already known changes are
// ignored. The input state is not modified.
func (e *Engine) ApplyChanges(s *State, changes []ir.Change) (*State, *ir.Patch, error) {
	next := s.clone()

	for _, c := range changes {
		if err := VerifyHash(c); err != nil {
			return nil, nil, err
		}
		if next.Has(c.Hash) || slices.ContainsFunc(next.pending, func(p ir.Change) bool { return p.Hash == c.Hash }) {
			continue
		}
		if c.Seq <= next.clock.Get(c.Actor) {
			return nil, nil, fmt.Errorf("%w: %s seq %d already applied with different content", ErrSeqMismatch, c.Actor, c.Seq)
		}
		next.pending = append(next.pending, c)
	}

	touched := make(map[string]struct{})
	for progress := true; progress; {
		progress = false
		remaining := next.pending[:0:0]
		for _, c := range next.pending {
			if next.ready(c) {
				next.apply(c, touched)
				progress = true
				continue
			}
			remaining = append(remaining, c)
		}
		next.pending = remaining
	}

	return next, next.patch(touched), nil
}

// ApplyLocalChange turns a request into a change whose deps are the current
// heads, and applies it.
//
// A request whose seq was already applied is a duplicate delivery: the
// state is returned unchanged with an empty patch. A request that skips a
// seq fails with ErrSeqMismatch.
func (e *Engine) ApplyLocalChange(s *State, req *ir.Request) (*State, *ir.Patch, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("crdt: nil request")
	}
	if req.Actor == "" {
		return nil, nil, ErrNoActor
	}

	last := s.clock.Get(req.Actor)
	if req.Seq <= last {
		p := s.patch(nil)
		p.Actor, p.Seq = req.Actor, req.Seq
		return s, p, nil
	}
	if req.Seq != last+1 {
		return nil, nil, fmt.Errorf("%w: %s expected seq %d, got %d", ErrSeqMismatch, req.Actor, last+1, req.Seq)
	}
	if req.StartOp < 1 {
		return nil, nil, fmt.Errorf("crdt: request start_op must be positive, got %d", req.StartOp)
	}

	c, err := ir.Seal(ir.Change{
		Actor:   req.Actor,
		Seq:     req.Seq,
		StartOp: req.StartOp,
		Deps:    s.Heads(),
		Message: req.Message,
		Ops:     req.Ops,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("crdt: seal local change: %w", err)
	}

	next := s.clone()
	touched := make(map[string]struct{})
	next.apply(c, touched)

	p := next.patch(touched)
	p.Actor, p.Seq = req.Actor, req.Seq
	return next, p, nil
}

// GetChanges returns the applied changes outside the causal past of have, in
// application order. GetChanges(s, nil) is the full history.
func (e *Engine) GetChanges(s *State, have []ir.Hash) []ir.Change {
	past := s.ancestors(have)
	out := make([]ir.Change, 0, len(s.changes)-len(past))
	for _, c := range s.changes {
		if _, ok := past[c.Hash]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// HistoryLen is the number of changes applied to s.
func (e *Engine) HistoryLen(s *State) int {
	return s.HistoryLen()
}

// MissingDeps returns the deps of pending changes that are neither applied
// nor pending themselves, sorted.
func (e *Engine) MissingDeps(s *State) []ir.Hash {
	pending := make(map[ir.Hash]struct{}, len(s.pending))
	for _, c := range s.pending {
		pending[c.Hash] = struct{}{}
	}
	var missing []ir.Hash
	for _, c := range s.pending {
		for _, d := range c.Deps {
			if _, ok := pending[d]; ok || s.Has(d) || slices.Contains(missing, d) {
				continue
			}
			missing = append(missing, d)
		}
	}
	slices.Sort(missing)
	return missing
}

func (s *State) patch(touched map[string]struct{}) *ir.Patch {
	diffs := make(map[string]ir.Diff, len(touched))
	for k := range touched {
		diffs[k] = s.registers.diff(k)
	}
	return &ir.Patch{
		Diffs: diffs,
		Clock: s.clock.Clone(),
		Deps:  s.Heads(),
		MaxOp: s.maxOp,
	}
}

// VerifyHash fails with ErrHashMismatch unless c.Hash is the content hash
// of c.
func VerifyHash(c ir.Change) error {
	h, err := ir.ChangeHash(c)
	if err != nil {
		return fmt.Errorf("crdt: hash change %s/%d: %w", c.Actor, c.Seq, err)
	}
	if c.Hash != h {
		return fmt.Errorf("%w: %s/%d has %q, content hashes to %q", ErrHashMismatch, c.Actor, c.Seq, c.Hash, h)
	}
	return nil
}
