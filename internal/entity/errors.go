package entity

import (
	"errors"
	"fmt"
)

// Kind categorizes entity errors.
type Kind string

const (
	// KindRecordRemoved indicates the logical record has been deleted.
	KindRecordRemoved Kind = "RECORD_REMOVED"

	// KindIllegalAccess indicates a valid request made at the wrong time or
	// place: cross-context access to an open session, access to an unflushed
	// record of a suspended or closed session, or a durable-only operation on
	// a wrapper without a durable record.
	KindIllegalAccess Kind = "ILLEGAL_ACCESS"

	// KindIllegalState indicates a mutation that would break a wrapper
	// invariant: double attach, detach without a record, mutating a detached
	// wrapper.
	KindIllegalState Kind = "ILLEGAL_STATE"

	// KindIllegalInternalState indicates a state combination the session
	// manager should never produce. It signals a bug, not a user error.
	KindIllegalInternalState Kind = "ILLEGAL_INTERNAL_STATE"
)

// Error is returned by every rejected wrapper operation.
//
// Error includes the operation name and the wrapper's debug rendering
// (record or type, lifecycle state, creation site if tracked).
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op is the operation that was rejected (e.g. "record", "attach").
	Op string

	// Message is a human-readable description.
	Message string

	// Entity is the debug rendering of the wrapper at the time of the error.
	Entity string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %s [%s]", e.Kind, e.Op, e.Message, e.Entity)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches kind sentinels, so errors.Is(err, ErrIllegalAccess) works on
// any IllegalAccess error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Entity != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrRecordRemoved        = &Error{Kind: KindRecordRemoved, Message: "record removed"}
	ErrIllegalAccess        = &Error{Kind: KindIllegalAccess, Message: "illegal access"}
	ErrIllegalState         = &Error{Kind: KindIllegalState, Message: "illegal state"}
	ErrIllegalInternalState = &Error{Kind: KindIllegalInternalState, Message: "illegal internal state"}
)

// KindOf returns the kind of an entity error, or "" if err is not one.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRecordRemoved returns true if the error is a RecordRemoved error.
func IsRecordRemoved(err error) bool {
	return KindOf(err) == KindRecordRemoved
}

// IsIllegalAccess returns true if the error is an IllegalAccess error.
func IsIllegalAccess(err error) bool {
	return KindOf(err) == KindIllegalAccess
}

// IsIllegalState returns true if the error is an IllegalState error.
func IsIllegalState(err error) bool {
	return KindOf(err) == KindIllegalState
}

// IsIllegalInternalState returns true if the error is an IllegalInternalState error.
func IsIllegalInternalState(err error) bool {
	return KindOf(err) == KindIllegalInternalState
}

// fail builds an Error for the given operation on e.
func (e *Entity) fail(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Entity:  e.DebugString(),
	}
}
