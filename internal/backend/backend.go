// Package backend defines the durable record store contract that sessions
// flush to and load from.
//
// Implemented by internal/store (SQLite) and internal/boltstore (bbolt).
// Record handles returned by a backend implement entity.Record; handles
// created inside a transaction read through that transaction until it
// finishes.
package backend

import (
	"context"
	"errors"

	"github.com/roach88/txentity/internal/entity"
)

var (
	// ErrNotFound is returned when a record does not exist or was deleted.
	ErrNotFound = errors.New("record not found")

	// ErrForeignRecord is returned when a record handle from another backend
	// is passed to a transaction.
	ErrForeignRecord = errors.New("record belongs to another backend")

	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("transaction already finished")
)

// Backend is a durable record store.
type Backend interface {
	// Begin starts a write transaction. Only one write transaction is active
	// at a time; Begin blocks until the previous one finishes.
	Begin(ctx context.Context) (Tx, error)

	// Load returns the live handle of a stored record.
	// Returns ErrNotFound if the record does not exist or was deleted.
	Load(ctx context.Context, id entity.ID) (entity.Record, error)

	Close() error
}

// Tx is a write transaction. Every mutation bumps the record version.
type Tx interface {
	Create(ctx context.Context, typ string) (entity.Record, error)
	SetProperty(ctx context.Context, rec entity.Record, name, value string) error
	SetBlob(ctx context.Context, rec entity.Record, name string, data []byte) error
	AddLink(ctx context.Context, rec entity.Record, name string, target entity.Record) error
	Delete(ctx context.Context, rec entity.Record) error

	Commit() error
	// Rollback is a no-op after Commit.
	Rollback() error
}

// ValueReader is implemented by record handles that expose stored values,
// not just names.
type ValueReader interface {
	Property(ctx context.Context, name string) (string, bool, error)
	Blob(ctx context.Context, name string) ([]byte, bool, error)
	Links(ctx context.Context, name string) ([]entity.ID, error)
}

// Snapshot is the content of one record version.
type Snapshot struct {
	Properties map[string]string   `json:"properties"`
	Blobs      map[string][]byte   `json:"blobs"`
	Links      map[string][]string `json:"links"`
	Deleted    bool                `json:"deleted,omitempty"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Properties: map[string]string{},
		Blobs:      map[string][]byte{},
		Links:      map[string][]string{},
	}
}

// RecordInfo summarizes one stored record.
type RecordInfo struct {
	ID      entity.ID `json:"id"`
	Version int       `json:"version"`
	Deleted bool      `json:"deleted"`
}

// Lister is implemented by backends that can enumerate their records.
type Lister interface {
	ListRecords(ctx context.Context) ([]RecordInfo, error)
}
