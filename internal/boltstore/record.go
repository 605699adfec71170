package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// live marks a handle that follows the latest version.
const live = -1

// Record is a handle to a stored record. Handles created by a Tx read through
// it until it finishes. Other handles open their own read transaction, so
// they must not be read from the goroutine holding the write transaction.
type Record struct {
	store  *Store
	id     uint64
	typ    string
	pinned int
	tx     *Tx
}

var (
	_ entity.Record       = (*Record)(nil)
	_ backend.ValueReader = (*Record)(nil)
	_ backend.Lister      = (*Store)(nil)
)

func (r *Record) view(fn func(*bolt.Tx) error) error {
	if r.tx != nil && !r.tx.done.Load() {
		return fn(r.tx.tx)
	}
	return r.store.db.View(fn)
}

func (r *Record) at(version int) *Record {
	return &Record{store: r.store, id: r.id, typ: r.typ, pinned: version, tx: r.tx}
}

func (r *Record) ID() entity.ID {
	return entity.ID{Type: r.typ, Local: strconv.FormatUint(r.id, 10)}
}

func (r *Record) IDString() string { return r.ID().String() }

func (r *Record) Type() string { return r.typ }

func (r *Record) head(ctx context.Context) (header, error) {
	if err := ctx.Err(); err != nil {
		return header{}, err
	}
	var h header
	err := r.view(func(tx *bolt.Tx) error {
		var err error
		h, err = readHeader(tx, r.id)
		return err
	})
	if err != nil {
		return header{}, fmt.Errorf("read %s: %w", r.IDString(), err)
	}
	return h, nil
}

// Version returns the pinned version, or the current one for live handles.
func (r *Record) Version(ctx context.Context) (int, error) {
	if r.pinned != live {
		return r.pinned, nil
	}
	h, err := r.head(ctx)
	return h.Version, err
}

// state returns the snapshot this handle sees.
func (r *Record) state(ctx context.Context) (backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return backend.Snapshot{}, err
	}
	var snap backend.Snapshot
	err := r.view(func(tx *bolt.Tx) error {
		version := r.pinned
		if version == live {
			h, err := readHeader(tx, r.id)
			if err != nil {
				return err
			}
			version = h.Version
		}
		var err error
		snap, err = readSnapshot(tx, r.id, version)
		return err
	})
	if err != nil {
		return backend.Snapshot{}, fmt.Errorf("read %s: %w", r, err)
	}
	return snap, nil
}

func (r *Record) PropertyNames(ctx context.Context) ([]string, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(snap.Properties), nil
}

func (r *Record) BlobNames(ctx context.Context) ([]string, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(snap.Blobs), nil
}

func (r *Record) LinkNames(ctx context.Context) ([]string, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(snap.Links), nil
}

func (r *Record) Property(ctx context.Context, name string) (string, bool, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := snap.Properties[name]
	return v, ok, nil
}

func (r *Record) Blob(ctx context.Context, name string) ([]byte, bool, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := snap.Blobs[name]
	return v, ok, nil
}

func (r *Record) Links(ctx context.Context, name string) ([]entity.ID, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, err
	}

	targets := make([]entity.ID, 0, len(snap.Links[name]))
	for _, ref := range snap.Links[name] {
		id, err := entity.ParseID(ref)
		if err != nil {
			return nil, fmt.Errorf("read %s: link %s: %w", r.IDString(), name, err)
		}
		targets = append(targets, id)
	}
	return targets, nil
}

// UpToDateVersion returns the live handle, or nil if the record was deleted.
func (r *Record) UpToDateVersion(ctx context.Context) (entity.Record, error) {
	h, err := r.head(ctx)
	if err != nil {
		return nil, err
	}
	if h.Deleted {
		return nil, nil
	}
	return r.at(live), nil
}

func (r *Record) NextVersion(ctx context.Context) (entity.Record, error) {
	if r.pinned == live {
		return nil, nil
	}
	h, err := r.head(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case r.pinned+1 < h.Version:
		return r.at(r.pinned + 1), nil
	case r.pinned+1 == h.Version:
		return r.at(live), nil
	default:
		return nil, nil
	}
}

func (r *Record) PreviousVersion(ctx context.Context) (entity.Record, error) {
	version, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, nil
	}
	return r.at(version - 1), nil
}

// History returns the versions before this one, newest first.
func (r *Record) History(ctx context.Context) ([]entity.Record, error) {
	version, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}
	history := make([]entity.Record, 0, version)
	for v := version - 1; v >= 0; v-- {
		history = append(history, r.at(v))
	}
	return history, nil
}

func (r *Record) IsUpToDate(context.Context) (bool, error) {
	return r.pinned == live, nil
}

// Compare orders handles by record id, then version (live last).
func (r *Record) Compare(other entity.Record) int {
	o, ok := other.(*Record)
	if !ok {
		return strings.Compare(r.IDString(), other.IDString())
	}
	if r.id != o.id {
		if r.id < o.id {
			return -1
		}
		return 1
	}
	a, b := pinOrder(r.pinned), pinOrder(o.pinned)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (r *Record) Equal(other entity.Record) bool {
	o, ok := other.(*Record)
	return ok && o.store == r.store && o.id == r.id && o.pinned == r.pinned
}

func (r *Record) Hash() uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], r.id)
	binary.BigEndian.PutUint64(buf[8:], uint64(int64(r.pinned)))

	d := xxhash.New()
	_, _ = d.WriteString("txentity/bolt/v1\x00")
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func (r *Record) String() string {
	if r.pinned == live {
		return r.IDString()
	}
	return fmt.Sprintf("%s@%d", r.IDString(), r.pinned)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pinOrder sorts live handles after every pinned version.
func pinOrder(pinned int) int {
	if pinned == live {
		return math.MaxInt
	}
	return pinned
}
