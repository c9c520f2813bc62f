package crdt

import (
	"slices"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// registers maps each key to its live entries, sorted ascending by op id.
// Entry slices are never mutated in place; applyOp always builds a new one,
// so clones may share them.
type registers map[string][]ir.Entry

func (r registers) clone() registers {
	out := make(registers, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r registers) applyOp(id ir.OpID, op ir.Op) {
	cur := r[op.Key]
	next := make([]ir.Entry, 0, len(cur)+1)
	for _, e := range cur {
		if !slices.Contains(op.Pred, e.ID) {
			next = append(next, e)
		}
	}
	if op.Action == ir.ActionSet {
		next = append(next, ir.Entry{ID: id, Value: op.Value})
	}
	slices.SortFunc(next, func(a, b ir.Entry) int { return ir.CompareOpIDs(a.ID, b.ID) })

	if len(next) == 0 {
		delete(r, op.Key)
		return
	}
	r[op.Key] = next
}

func (r registers) get(key string) (ir.Value, bool) {
	entries := r[key]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[len(entries)-1].Value, true
}

func (r registers) ids(key string) []ir.OpID {
	entries := r[key]
	if len(entries) == 0 {
		return nil
	}
	out := make([]ir.OpID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func (r registers) keys() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (r registers) snapshot() ir.Map {
	m := make(ir.Map, len(r))
	for k := range r {
		v, _ := r.get(k)
		m[k] = v
	}
	return m
}

func (r registers) diff(key string) ir.Diff {
	entries := make([]ir.Entry, len(r[key]))
	copy(entries, r[key])
	return ir.Diff{Entries: entries}
}
