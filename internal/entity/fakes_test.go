package entity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// fakeSession is a minimal owning session whose state tests set directly.
type fakeSession struct {
	state atomic.Int32
	obs   *recordingObserver
}

func newFakeSession() *fakeSession {
	return &fakeSession{obs: &recordingObserver{}}
}

func (s *fakeSession) State() SessionState { return SessionState(s.state.Load()) }

func (s *fakeSession) set(st SessionState) { s.state.Store(int32(st)) }

func (s *fakeSession) Wrap(ctx context.Context, rec Record) (*Entity, error) {
	return FromRecord(ctx, s, rec)
}

func (s *fakeSession) Observer() Observer { return s.obs }

// ctx returns a context in which s is the active session.
func (s *fakeSession) ctx() context.Context {
	return WithSession(context.Background(), s)
}

type rejection struct {
	op    string
	class Class
	state State
	kind  Kind
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []rejection
}

func (o *recordingObserver) Rejected(op string, class Class, state State, err *Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, rejection{op: op, class: class, state: state, kind: err.Kind})
}

func (o *recordingObserver) all() []rejection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]rejection(nil), o.seen...)
}

// fakeRecord is an in-memory durable record. Versions of one record share
// a *fakeChain; a handle is live when pinned is -1.
type fakeRecord struct {
	chain  *fakeChain
	pinned int
}

type fakeChain struct {
	typ     string
	local   string
	version int
	props   []string
	gone    bool
}

func newFakeRecord(typ, local string) *fakeRecord {
	return &fakeRecord{chain: &fakeChain{typ: typ, local: local}, pinned: -1}
}

func (r *fakeRecord) bump() { r.chain.version++ }

func (r *fakeRecord) at(version int) *fakeRecord {
	return &fakeRecord{chain: r.chain, pinned: version}
}

func (r *fakeRecord) ID() ID           { return ID{Type: r.chain.typ, Local: r.chain.local} }
func (r *fakeRecord) IDString() string { return r.ID().String() }
func (r *fakeRecord) Type() string     { return r.chain.typ }

func (r *fakeRecord) Version(context.Context) (int, error) {
	if r.pinned >= 0 {
		return r.pinned, nil
	}
	return r.chain.version, nil
}

func (r *fakeRecord) PropertyNames(context.Context) ([]string, error) {
	return append([]string{}, r.chain.props...), nil
}
func (r *fakeRecord) BlobNames(context.Context) ([]string, error) { return []string{}, nil }
func (r *fakeRecord) LinkNames(context.Context) ([]string, error) { return []string{}, nil }

func (r *fakeRecord) UpToDateVersion(context.Context) (Record, error) {
	if r.chain.gone {
		return nil, nil
	}
	return &fakeRecord{chain: r.chain, pinned: -1}, nil
}

func (r *fakeRecord) NextVersion(ctx context.Context) (Record, error) {
	if r.pinned < 0 || r.pinned >= r.chain.version {
		return nil, nil
	}
	if r.pinned+1 == r.chain.version {
		return r.UpToDateVersion(ctx)
	}
	return r.at(r.pinned + 1), nil
}

func (r *fakeRecord) PreviousVersion(ctx context.Context) (Record, error) {
	v, _ := r.Version(ctx)
	if v == 0 {
		return nil, nil
	}
	return r.at(v - 1), nil
}

func (r *fakeRecord) History(ctx context.Context) ([]Record, error) {
	v, _ := r.Version(ctx)
	out := []Record{}
	for i := v - 1; i >= 0; i-- {
		out = append(out, r.at(i))
	}
	return out, nil
}

func (r *fakeRecord) IsUpToDate(context.Context) (bool, error) { return r.pinned < 0, nil }

func (r *fakeRecord) Compare(other Record) int {
	return strings.Compare(r.IDString(), other.IDString())
}

func (r *fakeRecord) Equal(other Record) bool {
	o, ok := other.(*fakeRecord)
	return ok && o.chain == r.chain && o.pinned == r.pinned
}

func (r *fakeRecord) Hash() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s@%d", r.IDString(), r.pinned))
}

func (r *fakeRecord) String() string { return r.IDString() }

// fixedIDs hands out "id-1", "id-2", ...
type fixedIDs struct{ n atomic.Int64 }

func (g *fixedIDs) Generate() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}

// newCreated returns a Created wrapper owned by s.
func newCreated(s Session, typ string) *Entity {
	return New(s, typ, WithIDGenerator(&fixedIDs{}))
}

// newDurable returns a Durable wrapper of a fresh record owned by s.
func newDurable(t *testing.T, s Session, typ, local string) (*Entity, *fakeRecord) {
	t.Helper()
	rec := newFakeRecord(typ, local)
	e, err := FromRecord(context.Background(), s, rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	return e, rec
}

// inState builds a wrapper of s in the given lifecycle state, with s open and
// active. The caller moves the session afterwards.
func inState(t *testing.T, s *fakeSession, st State) *Entity {
	t.Helper()
	ctx := s.ctx()

	switch st {
	case Created:
		return newCreated(s, "Issue")
	case Durable:
		e, _ := newDurable(t, s, "Issue", "1")
		return e
	case DurableFromCreated:
		e := newCreated(s, "Issue")
		if err := e.Attach(ctx, newFakeRecord("Issue", "2")); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		return e
	case DeletedCreated:
		e := newCreated(s, "Issue")
		if _, err := e.MarkDeleted(ctx); err != nil {
			t.Fatalf("MarkDeleted: %v", err)
		}
		return e
	case DeletedDurable:
		e, _ := newDurable(t, s, "Issue", "3")
		if _, err := e.MarkDeleted(ctx); err != nil {
			t.Fatalf("MarkDeleted: %v", err)
		}
		return e
	case Detached:
		return NewDetached("Issue", WithIDGenerator(&fixedIDs{}))
	}
	t.Fatalf("unknown state %s", st)
	return nil
}

// contextFor returns a calling context that yields class c for wrappers of
// s, moving s into the matching state.
func contextFor(s *fakeSession, c Class) context.Context {
	switch c {
	case ClassOpen:
		s.set(SessionOpen)
		return s.ctx()
	case ClassOpenElsewhere:
		s.set(SessionOpen)
		return WithSession(context.Background(), newFakeSession())
	case ClassSuspended:
		s.set(SessionSuspended)
	case ClassCommitted:
		s.set(SessionCommitted)
	case ClassAborted:
		s.set(SessionAborted)
	}
	return context.Background()
}

var allStates = []State{Created, Durable, DurableFromCreated, DeletedCreated, DeletedDurable, Detached}
