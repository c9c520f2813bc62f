// Package doc implements the per-document backend and frontend state
// machines.
//
// Backend owns the canonical CRDT state. It consumes local requests and
// remote change batches through two independent queues and emits
// BackendMsgs (Ready, ActorID, LocalPatch, RemotePatch) to its subscriber.
//
// Frontend owns the application-facing view. It queues edit functions,
// asks for an actor id when it has none, applies patches from the backend
// and fans the resulting view out to Handles.
//
// Neither side talks to the other directly. An orchestrator subscribes to
// the backend's messages and drains the frontend's Sink, routing each
// message to the opposite side.
package doc
