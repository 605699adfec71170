package session

import "errors"

var (
	// ErrManagerClosed is returned once the manager has been closed.
	ErrManagerClosed = errors.New("session manager is closed")

	// ErrNotOpen is returned by operations that need an open session.
	ErrNotOpen = errors.New("session is not open")

	// ErrOtherContext is returned when the calling context is not bound to
	// the session.
	ErrOtherContext = errors.New("session is not bound to the calling context")

	// ErrAnotherSession is returned by Resume when the context is already
	// bound to a different open session.
	ErrAnotherSession = errors.New("another open session is bound to the context")

	// ErrReadOnly is returned by mutations of a read-only session.
	ErrReadOnly = errors.New("session is read-only")

	// ErrForeignEntity is returned when a wrapper owned by another session is
	// passed to a session.
	ErrForeignEntity = errors.New("entity belongs to another session")
)

// ErrInvalidTransition is returned when a session cannot move to the
// requested state from its current one.
var ErrInvalidTransition = errors.New("invalid session state transition")
