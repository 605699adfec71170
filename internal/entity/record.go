package entity

import (
	"context"
	"fmt"
	"strings"
)

// ID identifies a record. Transient ids are assigned to wrappers at creation
// and stay valid while no durable record exists; durable ids come from the
// backend that stores the record.
type ID struct {
	Type      string
	Local     string
	Transient bool
}

// String renders the id as "<type>-<local>" for durable ids and
// "~<local>" for transient ones.
func (id ID) String() string {
	if id.Transient {
		return "~" + id.Local
	}
	return id.Type + "-" + id.Local
}

// ParseID parses the rendering produced by ID.String.
func ParseID(s string) (ID, error) {
	if local, ok := strings.CutPrefix(s, "~"); ok && local != "" {
		return ID{Local: local, Transient: true}, nil
	}
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return ID{}, fmt.Errorf("parse id %q: want <type>-<local>", s)
	}
	return ID{Type: s[:i], Local: s[i+1:]}, nil
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Local == ""
}

// Record is a durable record as seen through a backend. Methods that take a
// context may perform I/O and block; the others must not.
//
// A Record handle is either live (it follows the latest version) or pinned to
// one historical version.
type Record interface {
	ID() ID
	IDString() string
	Type() string

	Version(ctx context.Context) (int, error)

	PropertyNames(ctx context.Context) ([]string, error)
	BlobNames(ctx context.Context) ([]string, error)
	LinkNames(ctx context.Context) ([]string, error)

	// UpToDateVersion returns the live handle, or nil if the record is gone.
	UpToDateVersion(ctx context.Context) (Record, error)
	// NextVersion and PreviousVersion return nil when there is no such version.
	NextVersion(ctx context.Context) (Record, error)
	PreviousVersion(ctx context.Context) (Record, error)
	// History returns the earlier versions, newest first.
	History(ctx context.Context) ([]Record, error)
	IsUpToDate(ctx context.Context) (bool, error)

	Compare(other Record) int
	Equal(other Record) bool
	Hash() uint64
}

// Session is the owning session of a wrapper, as the wrapper needs it.
//
// State must be published atomically: a wrapper never observes two states at
// once. Wrap is the factory re-entry point used when navigation returns a
// durable record that must be handed back to the caller as a wrapper.
type Session interface {
	State() SessionState
	Wrap(ctx context.Context, rec Record) (*Entity, error)
}

// Observer receives every rejected operation. Sessions that implement
// ObservedSession have their observer notified.
type Observer interface {
	Rejected(op string, class Class, state State, err *Error)
}

// ObservedSession is implemented by sessions that report rejections.
type ObservedSession interface {
	Observer() Observer
}

type sessionKey struct{}

// WithSession returns a context whose active session is s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// CurrentSession returns the active session carried by ctx, or nil.
func CurrentSession(ctx context.Context) Session {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}
