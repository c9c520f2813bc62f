package crdt

import (
	"slices"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// State is the canonical replicated state of one document.
// A State is immutable once returned by Engine.
type State struct {
	changes   []ir.Change // applied, in application order
	index     map[ir.Hash]int
	heads     []ir.Hash // sorted
	clock     clock.Clock
	maxOp     int64
	registers registers
	pending   []ir.Change // received but causally not yet applicable
}

func newState() *State {
	return &State{
		index:     make(map[ir.Hash]int),
		clock:     clock.New(),
		registers: make(registers),
	}
}

// clone returns a copy that can be modified without affecting s. Slices are
// clipped so appends on the copy reallocate instead of writing into s.
func (s *State) clone() *State {
	index := make(map[ir.Hash]int, len(s.index))
	for h, i := range s.index {
		index[h] = i
	}
	return &State{
		changes:   slices.Clip(s.changes),
		index:     index,
		heads:     slices.Clone(s.heads),
		clock:     s.clock.Clone(),
		maxOp:     s.maxOp,
		registers: s.registers.clone(),
		pending:   slices.Clone(s.pending),
	}
}

// HistoryLen is the number of applied changes.
func (s *State) HistoryLen() int {
	return len(s.changes)
}

// Heads returns the dependency frontier: hashes of applied changes no other
// applied change depends on.
func (s *State) Heads() []ir.Hash {
	return slices.Clone(s.heads)
}

// Clock returns a copy of the applied-changes clock.
func (s *State) Clock() clock.Clock {
	return s.clock.Clone()
}

// MaxOp is the largest op counter applied so far.
func (s *State) MaxOp() int64 {
	return s.maxOp
}

// PendingLen is the number of changes waiting for missing dependencies.
func (s *State) PendingLen() int {
	return len(s.pending)
}

// Has reports whether a change with hash h has been applied.
func (s *State) Has(h ir.Hash) bool {
	_, ok := s.index[h]
	return ok
}

// Snapshot materializes the winning value of every key.
func (s *State) Snapshot() ir.Map {
	return s.registers.snapshot()
}

// ready reports whether c can be applied now: every dep is applied and c is
// its actor's next change.
func (s *State) ready(c ir.Change) bool {
	if c.Seq != s.clock.Get(c.Actor)+1 {
		return false
	}
	for _, d := range c.Deps {
		if !s.Has(d) {
			return false
		}
	}
	return true
}

// apply appends c to the history and folds its ops into the registers.
// It records every touched key in touched.
func (s *State) apply(c ir.Change, touched map[string]struct{}) {
	s.index[c.Hash] = len(s.changes)
	s.changes = append(s.changes, c)

	for i, op := range c.Ops {
		s.registers.applyOp(c.OpID(i), op)
		touched[op.Key] = struct{}{}
	}
	s.maxOp = max(s.maxOp, c.MaxOp())
	s.clock.Observe(c.Actor, c.Seq)

	heads := make([]ir.Hash, 0, len(s.heads)+1)
	for _, h := range s.heads {
		if !slices.Contains(c.Deps, h) {
			heads = append(heads, h)
		}
	}
	heads = append(heads, c.Hash)
	slices.Sort(heads)
	s.heads = heads
}

// ancestors returns every applied hash reachable from have, have included.
// Hashes the state does not know are ignored.
func (s *State) ancestors(have []ir.Hash) map[ir.Hash]struct{} {
	seen := make(map[ir.Hash]struct{})
	stack := slices.Clone(have)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok {
			continue
		}
		i, ok := s.index[h]
		if !ok {
			continue
		}
		seen[h] = struct{}{}
		stack = append(stack, s.changes[i].Deps...)
	}
	return seen
}
