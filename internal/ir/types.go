package ir

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DocID identifies a document. It is the encoded public signing key created
// at document genesis.
type DocID string

// ActorID identifies one writer. It is the encoded public signing key of
// that writer.
type ActorID string

// Hash is the hex-encoded content hash of a Change.
type Hash string

// RootActorID returns the actor that owns a freshly created document. The
// document's own key pair doubles as its first writer.
func RootActorID(id DocID) ActorID {
	return ActorID(id)
}

// Action is the kind of a register operation.
type Action string

const (
	ActionSet Action = "set"
	ActionDel Action = "del"
)

// OpID orders operations across actors: by counter, then by actor.
type OpID struct {
	Counter int64   `json:"counter"`
	Actor   ActorID `json:"actor"`
}

// Less reports whether a sorts before b.
func (a OpID) Less(b OpID) bool {
	return CompareOpIDs(a, b) < 0
}

// CompareOpIDs is a three-way comparison suitable for slices.SortFunc.
func CompareOpIDs(a, b OpID) int {
	if c := cmp.Compare(a.Counter, b.Counter); c != 0 {
		return c
	}
	return cmp.Compare(a.Actor, b.Actor)
}

// String renders the id as "counter@actor".
func (a OpID) String() string {
	return strconv.FormatInt(a.Counter, 10) + "@" + string(a.Actor)
}

// ParseOpID parses the form produced by OpID.String.
func ParseOpID(s string) (OpID, error) {
	counter, actor, ok := strings.Cut(s, "@")
	if !ok || actor == "" {
		return OpID{}, fmt.Errorf("invalid op id %q", s)
	}
	n, err := strconv.ParseInt(counter, 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("invalid op id counter %q: %w", s, err)
	}
	return OpID{Counter: n, Actor: ActorID(actor)}, nil
}

// Op is a single register operation on a root-level key.
// Pred lists the op ids the author observed at that key and supersedes.
type Op struct {
	Action Action `json:"action"`
	Key    string `json:"key"`
	Value  Value  `json:"-"`
	Pred   []OpID `json:"pred"`
}

// Request is a local mutation intent produced by a frontend view. The
// backend turns it into exactly one Change.
type Request struct {
	Actor   ActorID `json:"actor"`
	Seq     int64   `json:"seq"`
	StartOp int64   `json:"start_op"`
	Message string  `json:"message,omitempty"`
	Ops     []Op    `json:"ops"`
}

// Change is an immutable, causally positioned mutation by one actor.
type Change struct {
	Actor   ActorID `json:"actor"`
	Seq     int64   `json:"seq"`
	StartOp int64   `json:"start_op"`
	Deps    []Hash  `json:"deps"`
	Message string  `json:"message,omitempty"`
	Ops     []Op    `json:"ops"`
	Hash    Hash    `json:"hash"`
}

// OpID returns the id of the i'th op of the change.
func (c Change) OpID(i int) OpID {
	return OpID{Counter: c.StartOp + int64(i), Actor: c.Actor}
}

// MaxOp is the counter of the change's last op, or StartOp-1 when it has none.
func (c Change) MaxOp() int64 {
	return c.StartOp + int64(len(c.Ops)) - 1
}

// Entry is one live value in a key's register.
type Entry struct {
	ID    OpID  `json:"id"`
	Value Value `json:"-"`
}

// Diff is the post-apply register contents of one key. Entries are sorted
// ascending by op id so the winning value is last. An empty diff means the
// key was deleted.
type Diff struct {
	Entries []Entry `json:"entries"`
}

// IsDelete reports whether the key has no live values.
func (d Diff) IsDelete() bool {
	return len(d.Entries) == 0
}

// Winner returns the winning value of the register.
func (d Diff) Winner() (Value, bool) {
	if len(d.Entries) == 0 {
		return nil, false
	}
	return d.Entries[len(d.Entries)-1].Value, true
}

// Conflicts returns the losing values of a concurrent write, oldest first.
func (d Diff) Conflicts() []Entry {
	if len(d.Entries) < 2 {
		return nil
	}
	return d.Entries[:len(d.Entries)-1]
}

// Patch describes the net effect of applying changes to canonical state.
type Patch struct {
	Diffs map[string]Diff   `json:"diffs"`
	Clock map[ActorID]int64 `json:"clock,omitempty"`
	Deps  []Hash            `json:"deps"`
	Actor ActorID           `json:"actor,omitempty"`
	Seq   int64             `json:"seq,omitempty"`
	MaxOp int64             `json:"max_op"`
}

// IsEmpty reports whether the patch carries no diffs.
func (p *Patch) IsEmpty() bool {
	return p == nil || len(p.Diffs) == 0
}

// DiffKeys returns the changed keys in sorted order.
func (p *Patch) DiffKeys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.Diffs))
	for k := range p.Diffs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SortHashes returns a sorted copy of hs.
func SortHashes(hs []Hash) []Hash {
	out := slices.Clone(hs)
	slices.Sort(out)
	return out
}

// Editor is the mutable surface an edit function sees.
type Editor interface {
	Get(key string) (Value, bool)
	Set(key string, v Value) error
	Delete(key string) error
	Keys() []string
}

// ChangeFn is an application edit function.
type ChangeFn func(Editor) error
