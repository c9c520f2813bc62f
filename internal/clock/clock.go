// Package clock implements the causal clock used to decide whether a view
// has observed enough history, and the per-actor sequence counter.
package clock

import (
	"maps"
	"slices"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// Clock maps each actor to the highest sequence number observed for it.
// Entries never decrease over the life of a document instance, so callers
// mutate a Clock only through Observe.
type Clock map[ir.ActorID]int64

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// FromChanges builds the clock covering every (actor, seq) in changes.
func FromChanges(changes []ir.Change) Clock {
	c := New()
	for _, ch := range changes {
		c.Observe(ch.Actor, ch.Seq)
	}
	return c
}

// Get returns the sequence number for actor, or 0 when absent.
func (c Clock) Get(actor ir.ActorID) int64 {
	return c[actor]
}

// Observe records seq for actor, keeping the maximum.
// Reports whether the clock advanced.
func (c Clock) Observe(actor ir.ActorID, seq int64) bool {
	if seq <= c[actor] {
		return false
	}
	c[actor] = seq
	return true
}

// Clone returns an independent copy. A nil clock clones to an empty one.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}

// Actors returns the actor keys in sorted order.
func (c Clock) Actors() []ir.ActorID {
	return slices.Sorted(maps.Keys(c))
}

// Equal reports whether both clocks carry the same non-zero entries.
// A missing key and an explicit zero are the same thing.
func (c Clock) Equal(other Clock) bool {
	return Satisfies(c, other) && Satisfies(other, c)
}

// Merge returns the pointwise maximum of a and b over the union of their
// keys. Neither input is modified.
func Merge(a, b Clock) Clock {
	out := a.Clone()
	for actor, seq := range b {
		out.Observe(actor, seq)
	}
	return out
}

// Union merges any number of clocks.
func Union(clocks ...Clock) Clock {
	out := New()
	for _, c := range clocks {
		for actor, seq := range c {
			out.Observe(actor, seq)
		}
	}
	return out
}

// Satisfies reports whether have[actor] >= need[actor] for every actor in
// need. Missing keys count as 0.
func Satisfies(have, need Clock) bool {
	for actor, seq := range need {
		if have[actor] < seq {
			return false
		}
	}
	return true
}
