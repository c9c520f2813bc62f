package crdt

import "errors"

var (
	// ErrSeqMismatch is returned when a change's sequence number does not
	// follow its actor's last applied change.
	ErrSeqMismatch = errors.New("crdt: sequence number mismatch")

	// ErrHashMismatch is returned when a change's Hash field does not match
	// its content.
	ErrHashMismatch = errors.New("crdt: change hash mismatch")

	// ErrNoActor is returned by View.Change before an actor id is set.
	ErrNoActor = errors.New("crdt: view has no actor id")

	// ErrActorFixed is returned when rekeying a view that already has
	// unacknowledged requests under another actor.
	ErrActorFixed = errors.New("crdt: actor id already in use")
)
