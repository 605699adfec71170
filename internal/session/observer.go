package session

import (
	"time"

	"github.com/roach88/txentity/internal/entity"
)

// Observer receives wrapper rejections and session lifecycle events.
// Implementations must be safe for concurrent use.
type Observer interface {
	entity.Observer

	// SessionTransition is called after a session changed state.
	SessionTransition(session string, from, to entity.SessionState)

	// Flushed is called after every flush attempt with its outcome.
	Flushed(session string, elapsed time.Duration, err error)
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var live multiObserver
	for _, o := range obs {
		if o != nil {
			live = append(live, o)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	default:
		return live
	}
}

type multiObserver []Observer

func (m multiObserver) Rejected(op string, class entity.Class, state entity.State, err *entity.Error) {
	for _, o := range m {
		o.Rejected(op, class, state, err)
	}
}

func (m multiObserver) SessionTransition(session string, from, to entity.SessionState) {
	for _, o := range m {
		o.SessionTransition(session, from, to)
	}
}

func (m multiObserver) Flushed(session string, elapsed time.Duration, err error) {
	for _, o := range m {
		o.Flushed(session, elapsed, err)
	}
}
