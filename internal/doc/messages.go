package doc

import (
	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// DocRef is the read-only view of a backend carried by its messages.
type DocRef interface {
	ID() ir.DocID
	ActorID() (ir.ActorID, bool)
	Clock() clock.Clock
	History() int
}

// BackendMsg is a sealed interface for messages a Backend emits.
type BackendMsg interface {
	backendMsg()
	DocID() ir.DocID
}

// ReadyMsg is emitted once canonical state is initialized. Patch is nil for
// a backend constructed with fresh state.
type ReadyMsg struct {
	Doc     DocRef
	History int
	Patch   *ir.Patch
}

// ActorIDMsg reports the actor bound to the backend.
type ActorIDMsg struct {
	ID      ir.DocID
	ActorID ir.ActorID
}

// RemotePatchMsg is emitted after a remote batch is applied.
type RemotePatchMsg struct {
	Doc   DocRef
	Patch *ir.Patch
	// Applied holds the changes this batch added to history, including
	// earlier pending changes it unblocked. Changes still pending are not
	// included.
	Applied []ir.Change
	History int
}

// LocalPatchMsg is emitted after a local request is accepted.
type LocalPatchMsg struct {
	Doc     DocRef
	Change  ir.Change
	Patch   *ir.Patch
	History int
}

// ErrorMsg reports a request the backend refused. Canonical state is
// unchanged.
type ErrorMsg struct {
	Doc     DocRef
	Request *ir.Request
	Err     error
}

func (ReadyMsg) backendMsg()       {}
func (ActorIDMsg) backendMsg()     {}
func (RemotePatchMsg) backendMsg() {}
func (LocalPatchMsg) backendMsg()  {}
func (ErrorMsg) backendMsg()       {}

func (m ReadyMsg) DocID() ir.DocID       { return m.Doc.ID() }
func (m ActorIDMsg) DocID() ir.DocID     { return m.ID }
func (m RemotePatchMsg) DocID() ir.DocID { return m.Doc.ID() }
func (m LocalPatchMsg) DocID() ir.DocID  { return m.Doc.ID() }
func (m ErrorMsg) DocID() ir.DocID       { return m.Doc.ID() }

// FrontendMsg is a sealed interface for messages a Frontend emits.
type FrontendMsg interface {
	frontendMsg()
	DocID() ir.DocID
}

// NeedsActorIDMsg asks the orchestrator to assign an actor before queued
// writes can proceed. Repeats before assignment are expected.
type NeedsActorIDMsg struct {
	ID ir.DocID
}

// RequestMsg forwards a local request for backend application.
type RequestMsg struct {
	ID      ir.DocID
	Request *ir.Request
}

func (NeedsActorIDMsg) frontendMsg() {}
func (RequestMsg) frontendMsg()      {}

func (m NeedsActorIDMsg) DocID() ir.DocID { return m.ID }
func (m RequestMsg) DocID() ir.DocID      { return m.ID }

// Sink receives frontend messages. *queue.Queue[FrontendMsg] satisfies it.
type Sink interface {
	Push(FrontendMsg) bool
}
