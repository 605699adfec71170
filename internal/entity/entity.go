package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// serials hands out identity serials; each wrapper gets a distinct one.
var serials atomic.Uint64

// Entity is a transient wrapper around a (possibly not yet existing) durable
// record.
//
// Thread-safety model: the mutable fields (record, version, state) are only
// changed by operations running in the owning session's context, which the
// dispatch tables enforce. Reads from other contexts are limited to the
// operations whose tables allow them.
//
// INVARIANTS:
//   - record != nil exactly when state is Durable, DurableFromCreated or DeletedDurable
//   - once state is Detached it never changes
//   - session is fixed at construction (nil only for Detached wrappers)
type Entity struct {
	record  Record
	version int // snapshot; refreshed only by Attach and RefreshVersion
	typ     string
	state   State
	session Session

	// id is the stable transient id for wrappers created here; for wrappers
	// of loaded records it is the record id.
	id     ID
	serial uint64

	creation *Frame
}

type none = struct{}

type options struct {
	ids    IDGenerator
	tracer Tracer
}

// Option configures wrapper construction.
type Option func(*options)

// WithIDGenerator sets the generator for transient ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithTracer captures the creation site of the wrapper with t.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func applyOptions(opts []Option) options {
	o := options{ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a wrapper in state Created bound to session s, with a fresh
// transient id.
func New(s Session, typ string, opts ...Option) *Entity {
	o := applyOptions(opts)
	e := &Entity{
		typ:     typ,
		state:   Created,
		session: s,
		id:      ID{Type: typ, Local: o.ids.Generate(), Transient: true},
		serial:  serials.Add(1),
	}
	if o.tracer != nil {
		e.creation = o.tracer()
	}
	return e
}

// NewDetached creates a standalone wrapper that is never associated with a
// session or a durable record.
func NewDetached(typ string, opts ...Option) *Entity {
	e := New(nil, typ, opts...)
	e.state = Detached
	return e
}

// FromRecord wraps a record that already exists in storage. The wrapper
// starts in state Durable with the record's current version.
func FromRecord(ctx context.Context, s Session, rec Record, opts ...Option) (*Entity, error) {
	if rec == nil {
		return nil, &Error{Kind: KindIllegalState, Op: "wrap", Message: "nil record"}
	}
	if _, ok := rec.(selfRecord); ok {
		return nil, &Error{Kind: KindIllegalState, Op: "wrap",
			Message: "can't create an entity as wrapper for another entity"}
	}

	version, err := rec.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("wrap %s: read version: %w", rec.IDString(), err)
	}

	o := applyOptions(opts)
	e := &Entity{
		record:  rec,
		version: version,
		typ:     rec.Type(),
		state:   Durable,
		session: s,
		id:      rec.ID(),
		serial:  serials.Add(1),
	}
	if o.tracer != nil {
		e.creation = o.tracer()
	}
	return e, nil
}

// Type returns the type tag.
func (e *Entity) Type() string { return e.typ }

// State returns the lifecycle state.
func (e *Entity) State() State { return e.state }

// Session returns the owning session (nil for Detached wrappers).
func (e *Entity) Session() Session { return e.session }

// CreationSite returns the captured creation site, or nil.
func (e *Entity) CreationSite() *Frame { return e.creation }

// WasCreated reports whether a deleted or durable wrapper originated as a
// Created one. It is an IllegalState error for other states.
func (e *Entity) WasCreated() (bool, error) {
	switch e.state {
	case DeletedCreated, DurableFromCreated:
		return true, nil
	case DeletedDurable, Durable:
		return false, nil
	default:
		return false, e.fail(KindIllegalState, "was-created", "entity is not in removed or saved state")
	}
}

// setState moves the wrapper to s. A Detached wrapper keeps its state.
func (e *Entity) setState(s State) error {
	if e.state == Detached && s != Detached {
		return e.fail(KindIllegalState, "set-state", "can't change Detached state of entity")
	}
	e.state = s
	return nil
}

// DebugString renders the durable record (or the type tag), the lifecycle
// state and the creation site, e.g. "Issue-12 (Durable)".
func (e *Entity) DebugString() string {
	var sb strings.Builder
	if e.record != nil {
		sb.WriteString(fmt.Sprint(e.record))
	} else {
		sb.WriteString(e.typ)
	}

	sb.WriteString(" (")
	sb.WriteString(e.state.String())
	if e.creation != nil {
		sb.WriteString(": ")
		sb.WriteString(e.creation.String())
	}
	sb.WriteString(")")

	return sb.String()
}

func (e *Entity) String() string {
	return e.DebugString()
}

// report forwards a rejection to the session's observer, if any. Errors that
// are not *Error (backend failures) are not rejections and are not reported.
func (e *Entity) report(op string, class Class, err error) {
	if e.session == nil {
		return
	}
	obs, ok := e.session.(ObservedSession)
	if !ok || obs.Observer() == nil {
		return
	}
	var ee *Error
	if !errors.As(err, &ee) {
		return
	}
	obs.Observer().Rejected(op, class, e.state, ee)
}
