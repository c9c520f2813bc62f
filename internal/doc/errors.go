package doc

import (
	"errors"
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// ContractError reports a violated backend or frontend contract.
type ContractError struct {
	// Code identifies the error category.
	Code ContractErrorCode

	// Message is a human-readable description.
	Message string

	// DocID identifies the affected document.
	DocID ir.DocID

	// Count is the observed change count for CHANGE_COUNT_MISMATCH.
	Count int
}

// ContractErrorCode categorizes contract errors.
type ContractErrorCode string

const (
	// ErrCodeChangeCountMismatch indicates a local request produced other
	// than exactly one change.
	ErrCodeChangeCountMismatch ContractErrorCode = "CHANGE_COUNT_MISMATCH"

	// ErrCodeNotInitialized indicates an operation that needs canonical
	// state ran before the backend was initialized.
	ErrCodeNotInitialized ContractErrorCode = "NOT_INITIALIZED"

	// ErrCodeAlreadyInitialized indicates a second initialization.
	ErrCodeAlreadyInitialized ContractErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeActorConflict indicates an attempt to rebind a frontend to a
	// different actor.
	ErrCodeActorConflict ContractErrorCode = "ACTOR_CONFLICT"
)

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("%s: %s (doc=%s)", e.Code, e.Message, e.DocID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewChangeCountError creates a ContractError for a local request that
// produced count changes.
func NewChangeCountError(id ir.DocID, count int) *ContractError {
	return &ContractError{
		Code:    ErrCodeChangeCountMismatch,
		Message: fmt.Sprintf("applyLocalChange produced %d changes", count),
		DocID:   id,
		Count:   count,
	}
}

func newNotInitializedError(id ir.DocID) *ContractError {
	return &ContractError{
		Code:    ErrCodeNotInitialized,
		Message: "backend has no canonical state",
		DocID:   id,
	}
}

func newAlreadyInitializedError(id ir.DocID) *ContractError {
	return &ContractError{
		Code:    ErrCodeAlreadyInitialized,
		Message: "backend was already initialized",
		DocID:   id,
	}
}

func newActorConflictError(id ir.DocID, have, want ir.ActorID) *ContractError {
	return &ContractError{
		Code:    ErrCodeActorConflict,
		Message: fmt.Sprintf("frontend is bound to actor %s, refusing %s", have, want),
		DocID:   id,
	}
}

// IsChangeCountError returns true if err is a change count mismatch.
// Uses errors.As to handle wrapped errors.
func IsChangeCountError(err error) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeChangeCountMismatch
	}
	return false
}

// IsNotInitializedError returns true if err reports missing canonical state.
func IsNotInitializedError(err error) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeNotInitialized
	}
	return false
}

// IsAlreadyInitializedError returns true if err reports a second Init.
func IsAlreadyInitializedError(err error) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeAlreadyInitialized
	}
	return false
}
