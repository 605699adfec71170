package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
)

// Flush writes every queued change in one backend transaction.
//
// Created wrappers get records and are attached; queued changes are applied
// in order; records of deleted wrappers are deleted. After the commit every
// touched durable wrapper refreshes its version. If anything fails before the
// commit, the transaction rolls back, wrappers attached by this flush are
// detached back to Created, and the queued changes are kept so the flush can
// be retried. Once the commit succeeds the queue is cleared; later refresh
// failures are logged and leave the affected wrapper on its old version.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.requireBound(ctx, "flush"); err != nil {
		return err
	}

	start := time.Now()
	err := s.flush(ctx)
	if s.manager.observer != nil {
		s.manager.observer.Flushed(s.id, time.Since(start), err)
	}
	if err != nil {
		slog.Warn("session flush failed", "session", s.id, "error", err)
		return fmt.Errorf("flush session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*entity.Entity
	for _, e := range s.created {
		if e.State() == entity.Created {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 && len(s.changes) == 0 && len(s.deletes) == 0 {
		return nil
	}

	tx, err := s.manager.backend.Begin(ctx)
	if err != nil {
		return err
	}

	var attached []*entity.Entity
	fail := func(err error) error {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "session", s.id, "error", rbErr)
		}
		for _, e := range attached {
			if dErr := e.Detach(ctx); dErr != nil {
				slog.Error("detach after failed flush", "session", s.id, "entity", e.DebugString(), "error", dErr)
			}
		}
		return err
	}

	for _, e := range pending {
		rec, err := tx.Create(ctx, e.Type())
		if err != nil {
			return fail(fmt.Errorf("create %s: %w", e.Type(), err))
		}
		if err := e.Attach(ctx, rec); err != nil {
			return fail(err)
		}
		attached = append(attached, e)
	}

	applied := 0
	for _, c := range s.changes {
		ok, err := apply(ctx, tx, c)
		if err != nil {
			return fail(err)
		}
		if ok {
			applied++
		}
	}

	for _, rec := range s.deletes {
		if err := tx.Delete(ctx, rec); err != nil {
			return fail(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}

	// The writes are durable now; the queue must not be replayed.
	touched := maps.Clone(s.touched)
	deleted := len(s.deletes)
	s.created = s.created[:0]
	s.changes = nil
	s.deletes = nil
	clear(s.touched)

	for _, e := range attached {
		touched[e] = struct{}{}
		rec, err := e.Record(ctx)
		if err != nil {
			slog.Warn("flushed wrapper has no record", "session", s.id, "entity", e.DebugString(), "error", err)
			continue
		}
		key, err := recordKey(ctx, rec)
		if err != nil {
			slog.Warn("flushed wrapper not mapped", "session", s.id, "entity", e.DebugString(), "error", err)
			continue
		}
		s.flushed[key] = e
	}

	for e := range touched {
		if !e.State().IsDurable() {
			continue
		}
		if err := e.RefreshVersion(ctx); err != nil {
			slog.Warn("version refresh after flush failed", "session", s.id, "entity", e.DebugString(), "error", err)
		}
	}

	slog.Debug("session flushed",
		"session", s.id,
		"created", len(attached),
		"changes", applied,
		"deleted", deleted,
	)
	return nil
}

// apply writes one queued change. Changes to wrappers deleted since they were
// queued are dropped, as are links to deleted wrappers.
func apply(ctx context.Context, tx backend.Tx, c change) (bool, error) {
	if c.target.State().IsDeleted() {
		return false, nil
	}
	rec, err := c.target.Record(ctx)
	if err != nil {
		return false, err
	}

	switch c.kind {
	case model.KindProperty:
		err = tx.SetProperty(ctx, rec, c.name, c.value)
	case model.KindBlob:
		err = tx.SetBlob(ctx, rec, c.name, c.data)
	case model.KindLink:
		if c.link.State().IsDeleted() {
			return false, nil
		}
		target, terr := c.link.Record(ctx)
		if terr != nil {
			return false, terr
		}
		err = tx.AddLink(ctx, rec, c.name, target)
	default:
		return false, fmt.Errorf("unknown change kind %q", c.kind)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
