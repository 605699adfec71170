package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// Tx is a bbolt write transaction.
type Tx struct {
	store *Store
	tx    *bolt.Tx
	done  atomic.Bool
}

var _ backend.Tx = (*Tx)(nil)

// Create stores a new record at version 0.
func (t *Tx) Create(ctx context.Context, typ string) (entity.Record, error) {
	if t.done.Load() {
		return nil, fmt.Errorf("create %s: %w", typ, backend.ErrTxDone)
	}

	records := t.tx.Bucket(recordsBucket)
	if records == nil {
		return nil, fmt.Errorf("create %s: %w", typ, errBucketNotFound)
	}
	id, err := records.NextSequence()
	if err != nil {
		return nil, fmt.Errorf("create %s: next sequence: %w", typ, err)
	}

	if err := t.put(id, header{Type: typ}, backend.NewSnapshot()); err != nil {
		return nil, fmt.Errorf("create %s: %w", typ, err)
	}

	return &Record{store: t.store, id: id, typ: typ, pinned: live, tx: t}, nil
}

func (t *Tx) SetProperty(ctx context.Context, rec entity.Record, name, value string) error {
	return t.mutate(rec, "set property "+name, func(snap *backend.Snapshot) {
		snap.Properties[name] = value
	})
}

func (t *Tx) SetBlob(ctx context.Context, rec entity.Record, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return t.mutate(rec, "set blob "+name, func(snap *backend.Snapshot) {
		snap.Blobs[name] = slices.Clone(data)
	})
}

// AddLink adds target to the named link set of rec. Adding an existing link
// still bumps the version.
func (t *Tx) AddLink(ctx context.Context, rec entity.Record, name string, target entity.Record) error {
	tr, err := t.own(target)
	if err != nil {
		return fmt.Errorf("add link %s: target: %w", name, err)
	}
	ref := tr.ID().String()

	return t.mutate(rec, "add link "+name, func(snap *backend.Snapshot) {
		refs := snap.Links[name]
		if !slices.Contains(refs, ref) {
			refs = append(refs, ref)
			slices.SortFunc(refs, compareRefs)
		}
		snap.Links[name] = refs
	})
}

// Delete marks the record deleted.
func (t *Tx) Delete(ctx context.Context, rec entity.Record) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return t.bump(r, "delete", true, func(*backend.Snapshot) {})
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

func (t *Tx) mutate(rec entity.Record, op string, change func(*backend.Snapshot)) error {
	r, err := t.own(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return t.bump(r, op, false, change)
}

// bump applies change to the latest snapshot of a live record and stores the
// result as the next version.
func (t *Tx) bump(r *Record, op string, deleting bool, change func(*backend.Snapshot)) error {
	h, err := readHeader(t.tx, r.id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, r.IDString(), err)
	}
	if h.Deleted {
		return fmt.Errorf("%s %s: %w", op, r.IDString(), backend.ErrNotFound)
	}

	snap, err := readSnapshot(t.tx, r.id, h.Version)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, r.IDString(), err)
	}

	change(&snap)
	h.Version++
	h.Deleted = deleting
	snap.Deleted = deleting

	if err := t.put(r.id, h, snap); err != nil {
		return fmt.Errorf("%s %s: %w", op, r.IDString(), err)
	}
	return nil
}

// put writes the header and the snapshot for h.Version.
func (t *Tx) put(id uint64, h header, snap backend.Snapshot) error {
	hdata, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	sdata, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := t.tx.Bucket(recordsBucket).Put(key(id), hdata); err != nil {
		return fmt.Errorf("put header: %w", err)
	}
	versions, err := t.tx.Bucket(versionsBucket).CreateBucketIfNotExists(key(id))
	if err != nil {
		return fmt.Errorf("create versions bucket: %w", err)
	}
	if err := versions.Put(key(uint64(h.Version)), sdata); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// compareRefs orders rendered ids by local number, as the SQLite backend does.
func compareRefs(a, b string) int {
	ida, erra := entity.ParseID(a)
	idb, errb := entity.ParseID(b)
	if erra != nil || errb != nil {
		return cmpStrings(a, b)
	}
	if len(ida.Local) != len(idb.Local) {
		return len(ida.Local) - len(idb.Local)
	}
	return cmpStrings(ida.Local, idb.Local)
}

func cmpStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
