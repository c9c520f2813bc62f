package doc

import "github.com/geoffreylitt/hypermerge/internal/ir"

// Engine is the CRDT collaborator a Backend applies changes with. S is the
// engine's canonical state type; states are treated as immutable values.
type Engine[S any] interface {
	Init() S
	ApplyChanges(state S, changes []ir.Change) (S, *ir.Patch, error)
	ApplyLocalChange(state S, req *ir.Request) (S, *ir.Patch, error)
	GetChanges(state S, have []ir.Hash) []ir.Change
	HistoryLen(state S) int
	// MissingDeps names the undelivered changes that pending changes in
	// state wait on.
	MissingDeps(state S) []ir.Hash
}

// View is the mutable local mirror a Frontend edits and patches.
type View interface {
	SetActorID(actor ir.ActorID) error
	Change(fn ir.ChangeFn) (*ir.Request, error)
	ApplyPatch(p *ir.Patch) error
	Snapshot() ir.Map
}
