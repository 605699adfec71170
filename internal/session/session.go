package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
)

// change is one queued mutation.
type change struct {
	kind   model.Kind
	target *entity.Entity
	name   string
	value  string
	data   []byte
	link   *entity.Entity
}

// Session is a transient session: it owns the wrappers created or loaded
// through it and queues their changes until Flush.
//
// The state is published atomically, so wrappers classify against exactly
// one state. Everything else is guarded by mu.
//
// INVARIANTS:
//   - flushed maps record keys to wrappers created here and attached by a flush
//   - created holds wrappers created here that no flush has attached yet
//   - changes and deletes are empty after a successful flush
type Session struct {
	id       string
	manager  *Manager
	readonly bool
	state    atomic.Int32
	creation *entity.Frame

	mu      sync.Mutex
	created []*entity.Entity
	flushed map[string]*entity.Entity
	loaded  *lru.Cache[string, *entity.Entity]
	changes []change
	deletes []entity.Record
	touched map[*entity.Entity]struct{}
}

var (
	_ entity.Session         = (*Session)(nil)
	_ entity.ObservedSession = (*Session)(nil)
)

func newSession(m *Manager, id string, readonly bool) *Session {
	loaded, err := lru.New[string, *entity.Entity](m.cacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which the options reject.
		panic(fmt.Sprintf("session %s: identity cache: %v", id, err))
	}

	s := &Session{
		id:       id,
		manager:  m,
		readonly: readonly,
		flushed:  make(map[string]*entity.Entity),
		loaded:   loaded,
		touched:  make(map[*entity.Entity]struct{}),
	}
	s.state.Store(int32(entity.SessionOpen))
	if m.tracer != nil {
		s.creation = m.tracer()
	}
	return s
}

// ID returns the session id, e.g. "s1".
func (s *Session) ID() string { return s.id }

// ReadOnly reports whether the session rejects mutations.
func (s *Session) ReadOnly() bool { return s.readonly }

// State returns the published session state.
func (s *Session) State() entity.SessionState {
	return entity.SessionState(s.state.Load())
}

// Observer returns the manager's observer, or nil.
func (s *Session) Observer() entity.Observer {
	if s.manager.observer == nil {
		return nil
	}
	return s.manager.observer
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.State())
}

// transition moves the session from one state to another atomically.
func (s *Session) transition(from, to entity.SessionState) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s, session is %s", ErrInvalidTransition, from, to, s.State())
	}

	slog.Debug("session state changed", "session", s.id, "from", from.String(), "to", to.String())
	if to.IsClosed() {
		s.manager.unregister(s)
	}
	if s.manager.observer != nil {
		s.manager.observer.SessionTransition(s.id, from, to)
	}
	return nil
}

// requireBound checks that the session is open and bound to ctx.
func (s *Session) requireBound(ctx context.Context, op string) error {
	if st := s.State(); st != entity.SessionOpen {
		return fmt.Errorf("%s: session %s is %s: %w", op, s.id, st, ErrNotOpen)
	}
	if entity.CurrentSession(ctx) != entity.Session(s) {
		return fmt.Errorf("%s: session %s: %w", op, s.id, ErrOtherContext)
	}
	return nil
}

// requireWritable checks requireBound and that the session accepts changes.
func (s *Session) requireWritable(ctx context.Context, op string) error {
	if err := s.requireBound(ctx, op); err != nil {
		return err
	}
	if s.readonly {
		return fmt.Errorf("%s: session %s: %w", op, s.id, ErrReadOnly)
	}
	return nil
}

// New creates a wrapper of typ in state Created.
func (s *Session) New(ctx context.Context, typ string) (*entity.Entity, error) {
	if err := s.requireWritable(ctx, "new"); err != nil {
		return nil, err
	}

	typ = model.Normalize(typ)
	if m := s.manager.model; m != nil {
		checked, err := m.CheckType(typ)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		typ = checked
	}

	e := entity.New(s, typ, s.manager.entityOptions()...)

	s.mu.Lock()
	s.created = append(s.created, e)
	s.mu.Unlock()

	return e, nil
}

// Load returns the wrapper of the record with the given id. Transient ids
// resolve to the wrappers created in this session.
func (s *Session) Load(ctx context.Context, id entity.ID) (*entity.Entity, error) {
	if err := s.requireBound(ctx, "load"); err != nil {
		return nil, err
	}

	if id.Transient {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, e := range s.created {
			if got, err := e.ID(ctx); err == nil && got == id {
				return e, nil
			}
		}
		return nil, fmt.Errorf("load %s: %w", id, backend.ErrNotFound)
	}

	rec, err := s.manager.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Wrap(ctx, rec)
}

// Wrap returns the wrapper of rec owned by this session, creating it if
// needed. A record attached to a wrapper created here maps back to that
// wrapper; other records map to one wrapper per record version while it is
// in the identity cache.
func (s *Session) Wrap(ctx context.Context, rec entity.Record) (*entity.Entity, error) {
	if rec == nil {
		return nil, nil
	}
	key, err := recordKey(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.flushed[key]; ok {
		return e, nil
	}
	if e, ok := s.loaded.Get(key); ok {
		return e, nil
	}

	e, err := entity.FromRecord(ctx, s, rec, s.manager.entityOptions()...)
	if err != nil {
		return nil, err
	}
	s.loaded.Add(key, e)
	return e, nil
}

// recordKey identifies a record version: the id for live handles, id@version
// for historical ones.
func recordKey(ctx context.Context, rec entity.Record) (string, error) {
	upToDate, err := rec.IsUpToDate(ctx)
	if err != nil {
		return "", err
	}
	if upToDate {
		return rec.IDString(), nil
	}
	version, err := rec.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s@%d", rec.IDString(), version), nil
}

// mutable checks that e may be changed through this session in ctx.
func (s *Session) mutable(ctx context.Context, e *entity.Entity, op string) error {
	if err := s.requireWritable(ctx, op); err != nil {
		return err
	}
	if err := e.CheckWritable(ctx); err != nil {
		return err
	}
	if e.Session() != entity.Session(s) {
		return fmt.Errorf("%s: %w", op, ErrForeignEntity)
	}
	return nil
}

func (s *Session) checkMember(e *entity.Entity, kind model.Kind, name string) error {
	if m := s.manager.model; m != nil {
		if err := m.CheckMember(e.Type(), kind, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) enqueue(c change) {
	s.mu.Lock()
	s.changes = append(s.changes, c)
	s.touched[c.target] = struct{}{}
	s.mu.Unlock()
}

// SetProperty queues a property change.
func (s *Session) SetProperty(ctx context.Context, e *entity.Entity, name, value string) error {
	if err := s.mutable(ctx, e, "set-property"); err != nil {
		return err
	}
	if err := s.checkMember(e, model.KindProperty, name); err != nil {
		return fmt.Errorf("set-property: %w", err)
	}
	s.enqueue(change{kind: model.KindProperty, target: e, name: model.Normalize(name), value: value})
	return nil
}

// SetBlob queues a blob change. data is copied.
func (s *Session) SetBlob(ctx context.Context, e *entity.Entity, name string, data []byte) error {
	if err := s.mutable(ctx, e, "set-blob"); err != nil {
		return err
	}
	if err := s.checkMember(e, model.KindBlob, name); err != nil {
		return fmt.Errorf("set-blob: %w", err)
	}
	s.enqueue(change{kind: model.KindBlob, target: e, name: model.Normalize(name), data: slices.Clone(data)})
	return nil
}

// AddLink queues a link from e to target. Both must be writable here.
func (s *Session) AddLink(ctx context.Context, e *entity.Entity, name string, target *entity.Entity) error {
	if err := s.mutable(ctx, e, "add-link"); err != nil {
		return err
	}
	if err := s.mutable(ctx, target, "add-link"); err != nil {
		return err
	}
	if err := s.checkMember(e, model.KindLink, name); err != nil {
		return fmt.Errorf("add-link: %w", err)
	}
	s.enqueue(change{kind: model.KindLink, target: e, name: model.Normalize(name), link: target})
	return nil
}

// Delete marks e deleted. The durable record, if any, is deleted at flush.
func (s *Session) Delete(ctx context.Context, e *entity.Entity) error {
	if err := s.mutable(ctx, e, "delete"); err != nil {
		return err
	}

	var flushedKey string
	if e.State() == entity.DurableFromCreated {
		rec, err := e.Record(ctx)
		if err != nil {
			return err
		}
		if flushedKey, err = recordKey(ctx, rec); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}

	rec, err := e.MarkDeleted(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec != nil {
		s.deletes = append(s.deletes, rec)
	}
	if flushedKey != "" {
		delete(s.flushed, flushedKey)
	}
	s.touched[e] = struct{}{}
	return nil
}

// Pending reports the number of queued changes and deletions.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.changes) + len(s.deletes)
	for _, e := range s.created {
		if e.State() == entity.Created {
			n++
		}
	}
	return n
}

// Commit flushes the session and closes it. On flush failure the session
// stays open.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("commit session %s: %w", s.id, err)
	}
	if err := s.transition(entity.SessionOpen, entity.SessionCommitted); err != nil {
		return fmt.Errorf("commit session %s: %w", s.id, err)
	}
	return nil
}

// Abort drops every queued change and closes the session. Changes written
// by earlier flushes stay in the backend. A suspended session can be aborted
// from any context.
func (s *Session) Abort(ctx context.Context) error {
	from := s.State()
	if from.IsClosed() {
		return fmt.Errorf("abort session %s: %w: session is %s", s.id, ErrInvalidTransition, from)
	}
	if from == entity.SessionOpen {
		if err := s.requireBound(ctx, "abort"); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.changes = nil
	s.deletes = nil
	clear(s.touched)
	s.mu.Unlock()

	if err := s.transition(from, entity.SessionAborted); err != nil {
		return fmt.Errorf("abort session %s: %w", s.id, err)
	}
	return nil
}
