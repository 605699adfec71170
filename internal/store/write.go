package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// Tx is a write transaction over the store.
//
// Thread-safety: a Tx is used by the session that began it. Record handles
// created by it read through the transaction until Commit or Rollback.
type Tx struct {
	store *Store
	tx    *sql.Tx
	done  atomic.Bool
}

var _ backend.Tx = (*Tx)(nil)

// Create inserts a new record at version 0.
func (t *Tx) Create(ctx context.Context, typ string) (entity.Record, error) {
	if t.done.Load() {
		return nil, fmt.Errorf("create %s: %w", typ, backend.ErrTxDone)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (type, version, deleted)
		VALUES (?, 0, 0)
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", typ, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create %s: last insert id: %w", typ, err)
	}

	if err := snapshot(ctx, t.tx, id, 0); err != nil {
		return nil, fmt.Errorf("create %s: %w", typ, err)
	}

	return &Record{store: t.store, id: id, typ: typ, pinned: live, tx: t}, nil
}

// SetProperty sets (or replaces) a property value.
func (t *Tx) SetProperty(ctx context.Context, rec entity.Record, name, value string) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("set property %s: %w", name, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO properties (record_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id, name) DO UPDATE SET value = excluded.value
	`, r.id, name, value)
	if err != nil {
		return fmt.Errorf("set property %s: %w", name, err)
	}

	return t.bump(ctx, r, false)
}

// SetBlob sets (or replaces) a blob.
func (t *Tx) SetBlob(ctx context.Context, rec entity.Record, name string, data []byte) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("set blob %s: %w", name, err)
	}

	if data == nil {
		data = []byte{}
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO blobs (record_id, name, data)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id, name) DO UPDATE SET data = excluded.data
	`, r.id, name, data)
	if err != nil {
		return fmt.Errorf("set blob %s: %w", name, err)
	}

	return t.bump(ctx, r, false)
}

// AddLink adds target to the named link set of rec. Adding an existing link
// still bumps the version.
func (t *Tx) AddLink(ctx context.Context, rec entity.Record, name string, target entity.Record) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("add link %s: %w", name, err)
	}
	tr, err := t.own(target)
	if err != nil {
		return fmt.Errorf("add link %s: target: %w", name, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO links (record_id, name, target_id)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id, name, target_id) DO NOTHING
	`, r.id, name, tr.id)
	if err != nil {
		return fmt.Errorf("add link %s: %w", name, err)
	}

	return t.bump(ctx, r, false)
}

// Delete marks the record deleted.
func (t *Tx) Delete(ctx context.Context, rec entity.Record) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return t.bump(ctx, r, true)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return fmt.Errorf("commit: %w", backend.ErrTxDone)
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. No-op if already finished.
func (t *Tx) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// own checks that rec is a live handle of this store.
func (t *Tx) own(rec entity.Record) (*Record, error) {
	if t.done.Load() {
		return nil, backend.ErrTxDone
	}
	r, ok := rec.(*Record)
	if !ok || r.store != t.store {
		return nil, backend.ErrForeignRecord
	}
	if r.pinned != live {
		return nil, fmt.Errorf("record %s is a historical version", r.IDString())
	}
	return r, nil
}

// bump increments the version of a live record and snapshots its state.
func (t *Tx) bump(ctx context.Context, r *Record, deleting bool) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE records
		SET version = version + 1, deleted = ?
		WHERE id = ? AND deleted = 0
	`, deleting, r.id)
	if err != nil {
		return fmt.Errorf("bump %s: %w", r.IDString(), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump %s: rows affected: %w", r.IDString(), err)
	}
	if n == 0 {
		return fmt.Errorf("bump %s: %w", r.IDString(), backend.ErrNotFound)
	}

	var version int
	if err := t.tx.QueryRowContext(ctx, `
		SELECT version FROM records WHERE id = ?
	`, r.id).Scan(&version); err != nil {
		return fmt.Errorf("bump %s: read version: %w", r.IDString(), err)
	}

	return snapshot(ctx, t.tx, r.id, version)
}

// snapshot stores the current state of a record as the given version.
func snapshot(ctx context.Context, q querier, id int64, version int) error {
	snap, err := readLive(ctx, q, id)
	if err != nil {
		return err
	}

	data, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO record_versions (record_id, version, snapshot)
		VALUES (?, ?, ?)
	`, id, version, data)
	if err != nil {
		return fmt.Errorf("write snapshot v%d: %w", version, err)
	}
	return nil
}
