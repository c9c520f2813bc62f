// Package harness runs multi-peer document scenarios against real repos.
//
// A scenario names a set of peers, each backed by its own repo and
// in-memory change log, and a list of steps that create, open, edit and
// synchronize documents between them. Every message a peer's repo emits is
// recorded in a trace, and the trace plus the final document values are
// checked against the scenario's assertions.
//
// # Scenario Format
//
//	name: concurrent_title
//	description: "Two writers race on one key and converge"
//	peers: [alice, bob]
//	steps:
//	  - peer: alice
//	    action: create
//	    doc: notes
//	  - peer: alice
//	    action: change
//	    doc: notes
//	    set: { title: "draft" }
//	  - peer: bob
//	    action: open
//	    doc: notes
//	    minimum_clock: { alice: 1 }
//	    expect: { mode: pending }
//	  - peer: bob
//	    action: sync
//	    doc: notes
//	    from: alice
//	    expect: { mode: read, value: { title: "draft" } }
//	assertions:
//	  - type: trace_count
//	    peer: bob
//	    message: RemotePatch
//	    count: 1
//	  - type: converged
//	    doc: notes
//
// Scenarios are checked twice on load: once against an embedded CUE schema
// for shape, then in Go for cross references between peers and documents.
//
// # Actions
//
//   - create: the peer creates a document and binds it to the alias
//   - open: the peer opens a known document, optionally gated on a
//     minimum clock given as peer name to sequence number
//   - change: the peer applies one edit (set and delete) through a handle
//   - sync: every change the from peer holds is delivered to the peer
//   - close: the peer closes the document; a later open reloads it
//     from the peer's change log
//   - check: no action, only the expect clause is evaluated
//
// # Deterministic Traces
//
// Key pairs come from a seeded generator per peer and handle ids are
// sequential, and the harness waits for every peer to go idle after each
// step. Document ids and actors appear in the trace by alias, so traces are
// stable across runs and suitable for golden comparison.
package harness
