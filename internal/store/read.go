package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// live marks a handle that follows the latest version.
const live = -1

// Record is a handle to a stored record.
//
// INVARIANTS:
//   - pinned is live or a version for which a snapshot exists
//   - tx is the creating transaction, or nil
type Record struct {
	store  *Store
	id     int64
	typ    string
	pinned int
	tx     *Tx
}

var (
	_ entity.Record       = (*Record)(nil)
	_ backend.ValueReader = (*Record)(nil)
)

// q returns the creating transaction while it is active, else the database.
func (r *Record) q() querier {
	if r.tx != nil && !r.tx.done.Load() {
		return r.tx.tx
	}
	return r.store.db
}

func (r *Record) at(version int) *Record {
	return &Record{store: r.store, id: r.id, typ: r.typ, pinned: version, tx: r.tx}
}

func (r *Record) ID() entity.ID {
	return entity.ID{Type: r.typ, Local: strconv.FormatInt(r.id, 10)}
}

func (r *Record) IDString() string { return r.ID().String() }

func (r *Record) Type() string { return r.typ }

// Version returns the pinned version, or the current one for live handles.
func (r *Record) Version(ctx context.Context) (int, error) {
	if r.pinned != live {
		return r.pinned, nil
	}
	version, _, err := r.head(ctx)
	return version, err
}

// head reads the current version and deletion flag.
func (r *Record) head(ctx context.Context) (int, bool, error) {
	var version int
	var deleted bool
	err := r.q().QueryRowContext(ctx, `
		SELECT version, deleted FROM records WHERE id = ?
	`, r.id).Scan(&version, &deleted)
	if err == sql.ErrNoRows {
		return 0, false, fmt.Errorf("read %s: %w", r.IDString(), backend.ErrNotFound)
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", r.IDString(), err)
	}
	return version, deleted, nil
}

// state returns the snapshot this handle sees.
func (r *Record) state(ctx context.Context) (backend.Snapshot, error) {
	if r.pinned == live {
		return readLive(ctx, r.q(), r.id)
	}

	var data string
	err := r.q().QueryRowContext(ctx, `
		SELECT snapshot FROM record_versions WHERE record_id = ? AND version = ?
	`, r.id, r.pinned).Scan(&data)
	if err == sql.ErrNoRows {
		return backend.Snapshot{}, fmt.Errorf("read %s@%d: %w", r.IDString(), r.pinned, backend.ErrNotFound)
	}
	if err != nil {
		return backend.Snapshot{}, fmt.Errorf("read %s@%d: %w", r.IDString(), r.pinned, err)
	}
	return unmarshalSnapshot(data)
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

// Property returns a property value as seen by this handle.
func (r *Record) Property(ctx context.Context, name string) (string, bool, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := snap.Properties[name]
	return v, ok, nil
}

// Blob returns a blob as seen by this handle.
func (r *Record) Blob(ctx context.Context, name string) ([]byte, bool, error) {
	snap, err := r.state(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := snap.Blobs[name]
	return v, ok, nil
}

// Links returns the targets of the named link set, ordered by id.
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
	_, deleted, err := r.head(ctx)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, nil
	}
	return r.at(live), nil
}

// NextVersion returns the version after a pinned handle. The step onto the
// current version yields the live handle. Live handles have no next version.
func (r *Record) NextVersion(ctx context.Context) (entity.Record, error) {
	if r.pinned == live {
		return nil, nil
	}
	version, _, err := r.head(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case r.pinned+1 < version:
		return r.at(r.pinned + 1), nil
	case r.pinned+1 == version:
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
	switch {
	case r.id != o.id:
		return cmpInt64(r.id, o.id)
	default:
		return cmpInt64(pinOrder(r.pinned), pinOrder(o.pinned))
	}
}

// Equal reports whether both handles address the same version of the same
// record in the same store.
func (r *Record) Equal(other entity.Record) bool {
	o, ok := other.(*Record)
	return ok && o.store == r.store && o.id == r.id && o.pinned == r.pinned
}

func (r *Record) Hash() uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(r.id))
	binary.BigEndian.PutUint64(buf[8:], uint64(int64(r.pinned)))

	d := xxhash.New()
	_, _ = d.WriteString("txentity/sqlite/v1\x00")
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func (r *Record) String() string {
	if r.pinned == live {
		return r.IDString()
	}
	return fmt.Sprintf("%s@%d", r.IDString(), r.pinned)
}

// ListRecords returns every stored record, deleted ones included, ordered by id.
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ListRecords(ctx context.Context) ([]backend.RecordInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, version, deleted FROM records
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	infos := []backend.RecordInfo{}
	for rows.Next() {
		var id int64
		var info backend.RecordInfo
		if err := rows.Scan(&id, &info.ID.Type, &info.Version, &info.Deleted); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		info.ID.Local = strconv.FormatInt(id, 10)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return infos, nil
}

// readLive reads the current state of a record from the live tables.
func readLive(ctx context.Context, q querier, id int64) (backend.Snapshot, error) {
	snap := backend.NewSnapshot()

	var deleted bool
	if err := q.QueryRowContext(ctx, `SELECT deleted FROM records WHERE id = ?`, id).Scan(&deleted); err != nil {
		if err == sql.ErrNoRows {
			return snap, fmt.Errorf("read record %d: %w", id, backend.ErrNotFound)
		}
		return snap, fmt.Errorf("read record %d: %w", id, err)
	}
	snap.Deleted = deleted

	err := scanEach(ctx, q, `SELECT name, value FROM properties WHERE record_id = ?`, id, func(rows *sql.Rows) error {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		snap.Properties[name] = value
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("read properties: %w", err)
	}

	err = scanEach(ctx, q, `SELECT name, data FROM blobs WHERE record_id = ?`, id, func(rows *sql.Rows) error {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return err
		}
		snap.Blobs[name] = data
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("read blobs: %w", err)
	}

	err = scanEach(ctx, q, `
		SELECT l.name, r.type, l.target_id
		FROM links l JOIN records r ON r.id = l.target_id
		WHERE l.record_id = ?
		ORDER BY l.name ASC, l.target_id ASC
	`, id, func(rows *sql.Rows) error {
		var name, typ string
		var target int64
		if err := rows.Scan(&name, &typ, &target); err != nil {
			return err
		}
		ref := entity.ID{Type: typ, Local: strconv.FormatInt(target, 10)}
		snap.Links[name] = append(snap.Links[name], ref.String())
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("read links: %w", err)
	}

	return snap, nil
}

func scanEach(ctx context.Context, q querier, query string, id int64, fn func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// pinOrder sorts live handles after every pinned version.
func pinOrder(pinned int) int64 {
	if pinned == live {
		return 1<<62 - 1
	}
	return int64(pinned)
}
