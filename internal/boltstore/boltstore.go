// Package boltstore provides a bbolt-backed durable record backend with the
// same contract as the SQLite store.
//
// Layout:
//   - records: record id (8-byte big endian) -> JSON header {type, version, deleted}
//   - versions: one nested bucket per record id; version (8-byte big endian)
//     -> JSON snapshot of the record at that version
//
// The latest snapshot doubles as the live state.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

var (
	recordsBucket  = []byte("records")
	versionsBucket = []byte("versions")
)

// errBucketNotFound indicates a database that was not initialized by Open.
var errBucketNotFound = errors.New("bucket not found")

// Store is a bbolt-backed backend.
type Store struct {
	db *bolt.DB
}

var _ backend.Backend = (*Store)(nil)

type header struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Open creates or opens a bbolt database at path and creates the buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, versionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin starts a write transaction. bbolt allows one writer at a time.
func (s *Store) Begin(ctx context.Context) (backend.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{store: s, tx: tx}, nil
}

// Load returns the live handle of a stored record.
func (s *Store) Load(ctx context.Context, id entity.ID) (entity.Record, error) {
	rowID, err := strconv.ParseUint(id.Local, 10, 64)
	if err != nil || id.Transient {
		return nil, fmt.Errorf("load %s: %w", id, backend.ErrNotFound)
	}

	var h header
	err = s.db.View(func(tx *bolt.Tx) error {
		var err error
		h, err = readHeader(tx, rowID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if h.Deleted || (id.Type != "" && id.Type != h.Type) {
		return nil, fmt.Errorf("load %s: %w", id, backend.ErrNotFound)
	}

	return &Record{store: s, id: rowID, typ: h.Type, pinned: live}, nil
}

// ListRecords returns every stored record, deleted ones included, ordered by id.
func (s *Store) ListRecords(ctx context.Context) ([]backend.RecordInfo, error) {
	infos := []backend.RecordInfo{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b == nil {
			return errBucketNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			var h header
			if err := json.Unmarshal(v, &h); err != nil {
				return fmt.Errorf("decode header: %w", err)
			}
			infos = append(infos, backend.RecordInfo{
				ID:      entity.ID{Type: h.Type, Local: strconv.FormatUint(binary.BigEndian.Uint64(k), 10)},
				Version: h.Version,
				Deleted: h.Deleted,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return infos, nil
}

func key(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}

func readHeader(tx *bolt.Tx, id uint64) (header, error) {
	b := tx.Bucket(recordsBucket)
	if b == nil {
		return header{}, errBucketNotFound
	}
	v := b.Get(key(id))
	if v == nil {
		return header{}, backend.ErrNotFound
	}
	var h header
	if err := json.Unmarshal(v, &h); err != nil {
		return header{}, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func readSnapshot(tx *bolt.Tx, id uint64, version int) (backend.Snapshot, error) {
	vb := tx.Bucket(versionsBucket)
	if vb == nil {
		return backend.Snapshot{}, errBucketNotFound
	}
	rb := vb.Bucket(key(id))
	if rb == nil {
		return backend.Snapshot{}, backend.ErrNotFound
	}
	v := rb.Get(key(uint64(version)))
	if v == nil {
		return backend.Snapshot{}, fmt.Errorf("version %d: %w", version, backend.ErrNotFound)
	}

	snap := backend.NewSnapshot()
	if err := json.Unmarshal(v, &snap); err != nil {
		return backend.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Properties == nil {
		snap.Properties = map[string]string{}
	}
	if snap.Blobs == nil {
		snap.Blobs = map[string][]byte{}
	}
	if snap.Links == nil {
		snap.Links = map[string][]string{}
	}
	return snap, nil
}
