// Package crdt is the reference CRDT engine behind document backends and
// frontends.
//
// A document is a root map of string keys to ir.Values. Every key holds a
// multi-value register: an op removes the entries it supersedes (its Pred)
// and a set op adds itself. The value with the greatest OpID wins; any other
// live values are concurrent conflicts.
//
// Engine operates on immutable *State values. Every apply returns a new
// State and leaves its input untouched, so a caller that rejects a result
// can keep using the previous state.
//
// View is the optimistic frontend mirror: the registers received through
// patches with the author's unacknowledged requests replayed on top.
package crdt
