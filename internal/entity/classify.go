package entity

import (
	"context"
	"fmt"
)

// Class is the relationship between the calling context and a wrapper's
// owning session.
type Class int

const (
	// ClassOpen: the owning session is open and is the context's session.
	ClassOpen Class = iota

	// ClassOpenElsewhere: the owning session is open but the context carries
	// another session, or none.
	ClassOpenElsewhere

	// ClassSuspended: the owning session is suspended.
	ClassSuspended

	// ClassCommitted: the owning session committed.
	ClassCommitted

	// ClassAborted: the owning session aborted.
	ClassAborted

	// ClassDetached labels calls on Detached wrappers, which are routed
	// outside the dispatch table and never classified.
	ClassDetached
)

// numClasses counts the classes that have a row in the dispatch table.
const numClasses = 5

var classNames = [...]string{
	ClassOpen:          "same-thread-open",
	ClassOpenElsewhere: "other-thread-open",
	ClassSuspended:     "suspended",
	ClassCommitted:     "closed-committed",
	ClassAborted:       "closed-aborted",
	ClassDetached:      "detached",
}

func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return fmt.Sprintf("Class(%d)", int(c))
	}
	return classNames[c]
}

// Classes returns every class in dispatch order.
func Classes() []Class {
	return []Class{ClassOpen, ClassOpenElsewhere, ClassSuspended, ClassCommitted, ClassAborted}
}

// Classify computes the relationship class of e for the calling context.
// It has no side effects.
//
// Priority order: open (same or other context), suspended, aborted,
// committed. A session state outside these is an IllegalInternalState error.
func Classify(ctx context.Context, e *Entity) (Class, error) {
	if e.session == nil {
		return 0, e.fail(KindIllegalInternalState, "classify", "entity has no owning session")
	}

	// Read the state once so the decision is made on a single snapshot.
	switch st := e.session.State(); st {
	case SessionOpen:
		if CurrentSession(ctx) != e.session {
			return ClassOpenElsewhere, nil
		}
		return ClassOpen, nil
	case SessionSuspended:
		return ClassSuspended, nil
	case SessionAborted:
		return ClassAborted, nil
	case SessionCommitted:
		return ClassCommitted, nil
	default:
		return 0, e.fail(KindIllegalInternalState, "classify",
			fmt.Sprintf("unknown session state %s", st))
	}
}
