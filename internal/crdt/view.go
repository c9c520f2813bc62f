package crdt

import (
	"fmt"
	"slices"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// View is a frontend's optimistic mirror of a document.
//
// base holds the registers as of the last patch. Requests this view produced
// that the backend has not yet acknowledged are kept in pending and replayed
// over base on every read, so edits are visible before the round trip
// completes. A View is not safe for concurrent use; the owning frontend
// serializes access.
type View struct {
	actor   ir.ActorID
	seq     *clock.Counter
	clock   clock.Clock
	base    registers
	maxOp   int64
	pending []ir.Request
}

// NewView creates an empty view. actor may be empty, in which case Change
// fails until SetActorID is called.
func NewView(actor ir.ActorID) *View {
	return &View{
		actor: actor,
		seq:   clock.NewCounter(),
		clock: clock.New(),
		base:  make(registers),
	}
}

// ActorID returns the view's actor, if any.
func (v *View) ActorID() (ir.ActorID, bool) {
	return v.actor, v.actor != ""
}

// SetActorID rekeys the view. The sequence counter resumes after the
// highest seq this actor has in the observed clock.
func (v *View) SetActorID(actor ir.ActorID) error {
	if actor == "" {
		return fmt.Errorf("crdt: empty actor id")
	}
	if len(v.pending) > 0 && actor != v.actor {
		return fmt.Errorf("%w: %d requests pending for %s", ErrActorFixed, len(v.pending), v.actor)
	}
	if actor == v.actor {
		return nil
	}
	v.actor = actor
	v.seq = clock.NewCounterAt(v.clock.Get(actor))
	return nil
}

// Change runs fn against the current view. It returns nil when fn made no
// ops. If fn fails, its edits are discarded.
func (v *View) Change(fn ir.ChangeFn) (*ir.Request, error) {
	if v.actor == "" {
		return nil, ErrNoActor
	}

	regs, maxOp := v.overlay()
	tx := &Tx{regs: regs, actor: v.actor, startOp: maxOp + 1}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if len(tx.ops) == 0 {
		return nil, nil
	}

	req := ir.Request{
		Actor:   v.actor,
		Seq:     v.seq.Next(),
		StartOp: tx.startOp,
		Message: tx.message,
		Ops:     tx.ops,
	}
	v.pending = append(v.pending, req)
	return &req, nil
}

// ApplyPatch folds a backend patch into base and drops the requests it
// acknowledges.
func (v *View) ApplyPatch(p *ir.Patch) error {
	if p == nil {
		return nil
	}
	next := v.base.clone()
	for key, d := range p.Diffs {
		if d.IsDelete() {
			delete(next, key)
			continue
		}
		next[key] = slices.Clone(d.Entries)
	}
	v.base = next
	v.maxOp = max(v.maxOp, p.MaxOp)

	for actor, seq := range p.Clock {
		v.clock.Observe(actor, seq)
	}
	if p.Actor != "" {
		v.clock.Observe(p.Actor, p.Seq)
	}
	if v.actor != "" {
		acked := v.clock.Get(v.actor)
		v.seq.AdvanceTo(acked)
		v.pending = slices.DeleteFunc(v.pending, func(r ir.Request) bool { return r.Seq <= acked })
	}
	return nil
}

// Snapshot materializes the current optimistic value of every key.
func (v *View) Snapshot() ir.Map {
	regs, _ := v.overlay()
	return regs.snapshot()
}

// Clock returns the clock observed through patches.
func (v *View) Clock() clock.Clock {
	return v.clock.Clone()
}

// PendingLen is the number of unacknowledged requests.
func (v *View) PendingLen() int {
	return len(v.pending)
}

func (v *View) overlay() (registers, int64) {
	regs := v.base.clone()
	maxOp := v.maxOp
	for _, req := range v.pending {
		for i, op := range req.Ops {
			regs.applyOp(ir.OpID{Counter: req.StartOp + int64(i), Actor: req.Actor}, op)
		}
		maxOp = max(maxOp, req.StartOp+int64(len(req.Ops))-1)
	}
	return regs, maxOp
}

// Tx is the ir.Editor handed to edit functions. Reads see the edits already
// made in the same transaction.
type Tx struct {
	regs    registers
	actor   ir.ActorID
	startOp int64
	ops     []ir.Op
	message string
}

var _ ir.Editor = (*Tx)(nil)

// Get returns the current winning value of key.
func (tx *Tx) Get(key string) (ir.Value, bool) {
	return tx.regs.get(key)
}

// Keys returns the keys with a live value, sorted.
func (tx *Tx) Keys() []string {
	return tx.regs.keys()
}

// Set assigns v to key, superseding every value currently visible there.
func (tx *Tx) Set(key string, v ir.Value) error {
	if key == "" {
		return fmt.Errorf("crdt: empty key")
	}
	if v == nil {
		return fmt.Errorf("crdt: set %q: nil value", key)
	}
	tx.record(ir.Op{Action: ir.ActionSet, Key: key, Value: v, Pred: tx.regs.ids(key)})
	return nil
}

// Delete removes key. Deleting an absent key records nothing.
func (tx *Tx) Delete(key string) error {
	pred := tx.regs.ids(key)
	if len(pred) == 0 {
		return nil
	}
	tx.record(ir.Op{Action: ir.ActionDel, Key: key, Pred: pred})
	return nil
}

// SetMessage attaches a commit message to the resulting request.
func (tx *Tx) SetMessage(msg string) {
	tx.message = msg
}

func (tx *Tx) record(op ir.Op) {
	id := ir.OpID{Counter: tx.startOp + int64(len(tx.ops)), Actor: tx.actor}
	tx.ops = append(tx.ops, op)
	tx.regs.applyOp(id, op)
}
