package bus

import (
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/doc"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// Type names the kind of message an Envelope carries.
type Type string

const (
	TypeReady        Type = "Ready"
	TypeActorID      Type = "ActorId"
	TypeRemotePatch  Type = "RemotePatch"
	TypeLocalPatch   Type = "LocalPatch"
	TypeError        Type = "Error"
	TypeNeedsActorID Type = "NeedsActorId"
	TypeRequest      Type = "Request"
)

// Envelope is the wire form of a doc message.
type Envelope struct {
	ID      string      `json:"id"`
	Type    Type        `json:"type"`
	DocID   ir.DocID    `json:"docId"`
	ActorID ir.ActorID  `json:"actorId,omitempty"`
	History int         `json:"history,omitempty"`
	Patch   *ir.Patch   `json:"patch,omitempty"`
	Change  *ir.Change  `json:"change,omitempty"`
	Request *ir.Request `json:"request,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// EnvelopeFor converts a doc.BackendMsg or doc.FrontendMsg. The ID is left
// for the publisher to assign.
func EnvelopeFor(msg any) (Envelope, error) {
	switch m := msg.(type) {
	case doc.ReadyMsg:
		return Envelope{Type: TypeReady, DocID: m.DocID(), History: m.History, Patch: m.Patch}, nil
	case doc.ActorIDMsg:
		return Envelope{Type: TypeActorID, DocID: m.ID, ActorID: m.ActorID}, nil
	case doc.RemotePatchMsg:
		return Envelope{Type: TypeRemotePatch, DocID: m.DocID(), History: m.History, Patch: m.Patch}, nil
	case doc.LocalPatchMsg:
		c := m.Change
		return Envelope{Type: TypeLocalPatch, DocID: m.DocID(), ActorID: c.Actor, History: m.History, Patch: m.Patch, Change: &c}, nil
	case doc.ErrorMsg:
		env := Envelope{Type: TypeError, DocID: m.DocID(), Request: m.Request}
		if m.Err != nil {
			env.Error = m.Err.Error()
		}
		if m.Request != nil {
			env.ActorID = m.Request.Actor
		}
		return env, nil
	case doc.NeedsActorIDMsg:
		return Envelope{Type: TypeNeedsActorID, DocID: m.ID}, nil
	case doc.RequestMsg:
		env := Envelope{Type: TypeRequest, DocID: m.ID, Request: m.Request}
		if m.Request != nil {
			env.ActorID = m.Request.Actor
		}
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("bus: unsupported message %T", msg)
	}
}
