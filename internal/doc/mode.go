package doc

import "github.com/geoffreylitt/hypermerge/internal/ir"

// Mode is a frontend's write-enablement state. It only moves forward:
// pending -> read -> write, or pending -> write.
type Mode int

const (
	// ModePending means no history has been confirmed. Writes queue.
	ModePending Mode = iota
	// ModeRead means history is confirmed but no actor is bound. Writes queue.
	ModeRead
	// ModeWrite means edits apply immediately.
	ModeWrite
)

// String returns the mode's name.
func (m Mode) String() string {
	switch m {
	case ModePending:
		return "pending"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// identity is the frontend's actor binding: unidentified until an actor id
// arrives, identified afterwards.
type identity interface {
	isIdentity()
}

type unidentified struct{}

type identified struct {
	actor ir.ActorID
}

func (unidentified) isIdentity() {}
func (identified) isIdentity()   {}

type modeEvent int

const (
	// evActorAssigned fires when an actor id is bound.
	evActorAssigned modeEvent = iota
	// evHistoryConfirmed fires when a non-empty patch arrives with its
	// minimum clock satisfied, or when an empty document is confirmed.
	evHistoryConfirmed
)

// nextMode is the complete transition table.
//
//	mode     identity      event              next
//	pending  any           actorAssigned      pending
//	pending  unidentified  historyConfirmed   read
//	pending  identified    historyConfirmed   write
//	read     identified    actorAssigned      write
//	read     any           historyConfirmed   read
//	write    any           any                write
func nextMode(m Mode, id identity, ev modeEvent) Mode {
	switch m {
	case ModePending:
		if ev != evHistoryConfirmed {
			return ModePending
		}
		switch id.(type) {
		case identified:
			return ModeWrite
		default:
			return ModeRead
		}
	case ModeRead:
		if _, ok := id.(identified); ok && ev == evActorAssigned {
			return ModeWrite
		}
		return ModeRead
	default:
		return ModeWrite
	}
}
