package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
)

// Property returns the value of a property as this session sees it: the
// latest queued value, else the stored one.
func (s *Session) Property(ctx context.Context, e *entity.Entity, name string) (string, bool, error) {
	name = model.Normalize(name)
	if err := s.readable(ctx, e, "property"); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	for _, c := range slices.Backward(s.changes) {
		if c.target == e && c.kind == model.KindProperty && c.name == name {
			s.mu.Unlock()
			return c.value, true, nil
		}
	}
	s.mu.Unlock()

	values, err := s.values(ctx, e)
	if err != nil || values == nil {
		return "", false, err
	}
	return values.Property(ctx, name)
}

// Blob returns a blob as this session sees it.
func (s *Session) Blob(ctx context.Context, e *entity.Entity, name string) ([]byte, bool, error) {
	name = model.Normalize(name)
	if err := s.readable(ctx, e, "blob"); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	for _, c := range slices.Backward(s.changes) {
		if c.target == e && c.kind == model.KindBlob && c.name == name {
			s.mu.Unlock()
			return slices.Clone(c.data), true, nil
		}
	}
	s.mu.Unlock()

	values, err := s.values(ctx, e)
	if err != nil || values == nil {
		return nil, false, err
	}
	return values.Blob(ctx, name)
}

// Links returns the wrappers linked from e under name: the stored targets
// that still exist followed by queued ones, without duplicates.
func (s *Session) Links(ctx context.Context, e *entity.Entity, name string) ([]*entity.Entity, error) {
	name = model.Normalize(name)
	if err := s.readable(ctx, e, "links"); err != nil {
		return nil, err
	}

	var targets []*entity.Entity
	values, err := s.values(ctx, e)
	if err != nil {
		return nil, err
	}
	if values != nil {
		ids, err := values.Links(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			target, err := s.Load(ctx, id)
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("links %s: %w", name, err)
			}
			targets = append(targets, target)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.changes {
		if c.target == e && c.kind == model.KindLink && c.name == name && !slices.Contains(targets, c.link) {
			targets = append(targets, c.link)
		}
	}
	return targets, nil
}

// readable checks that the values of e can be read through this session.
func (s *Session) readable(ctx context.Context, e *entity.Entity, op string) error {
	if err := s.requireBound(ctx, op); err != nil {
		return err
	}
	if e.Session() != entity.Session(s) {
		return fmt.Errorf("%s: %w", op, ErrForeignEntity)
	}
	if e.State().IsDeleted() {
		return &entity.Error{Kind: entity.KindRecordRemoved, Op: op, Message: "entity was deleted", Entity: e.DebugString()}
	}
	return nil
}

// values returns the value reader of the record of e, or nil while e has no
// record.
func (s *Session) values(ctx context.Context, e *entity.Entity) (backend.ValueReader, error) {
	if e.State() == entity.Created {
		return nil, nil
	}
	rec, err := e.Record(ctx)
	if err != nil {
		return nil, err
	}
	values, ok := rec.(backend.ValueReader)
	if !ok {
		return nil, fmt.Errorf("record %s does not expose values", rec.IDString())
	}
	return values, nil
}

// Transactional runs fn in the session bound to ctx. Without one, it runs fn
// in a new session that is committed when fn succeeds and aborted when it
// fails.
func (m *Manager) Transactional(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if s := m.ThreadSession(ctx); s != nil {
		return fn(ctx, s)
	}

	ctx, s, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		if s.State() == entity.SessionOpen {
			if abortErr := s.Abort(ctx); abortErr != nil {
				return fmt.Errorf("%w (abort: %v)", err, abortErr)
			}
		}
		return err
	}
	return s.Commit(ctx)
}
