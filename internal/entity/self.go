package entity

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// selfRecord is the record view of a Detached wrapper: a detached wrapper
// stands in for its own absent durable record.
type selfRecord struct {
	e *Entity
}

var _ Record = selfRecord{}

func (r selfRecord) ID() ID           { return r.e.id }
func (r selfRecord) IDString() string { return r.e.id.String() }
func (r selfRecord) Type() string     { return r.e.typ }

func (r selfRecord) Version(context.Context) (int, error) { return 0, nil }

func (r selfRecord) PropertyNames(context.Context) ([]string, error) { return []string{}, nil }
func (r selfRecord) BlobNames(context.Context) ([]string, error)     { return []string{}, nil }
func (r selfRecord) LinkNames(context.Context) ([]string, error)     { return []string{}, nil }

func (r selfRecord) UpToDateVersion(context.Context) (Record, error) { return r, nil }
func (r selfRecord) NextVersion(context.Context) (Record, error)     { return nil, nil }
func (r selfRecord) PreviousVersion(context.Context) (Record, error) { return nil, nil }
func (r selfRecord) History(context.Context) ([]Record, error)       { return []Record{}, nil }
func (r selfRecord) IsUpToDate(context.Context) (bool, error)        { return true, nil }

func (r selfRecord) Compare(other Record) int {
	return strings.Compare(r.IDString(), other.IDString())
}

func (r selfRecord) Equal(other Record) bool {
	o, ok := other.(selfRecord)
	return ok && o.e == r.e
}

func (r selfRecord) Hash() uint64 { return r.e.identityHash() }

func (r selfRecord) String() string {
	return r.e.typ + "[" + r.e.id.String() + "]"
}

// IsWrapperRecord reports whether rec is the record view of a wrapper rather
// than a backend record. Such records cannot be wrapped or attached.
func IsWrapperRecord(rec Record) bool {
	_, ok := rec.(selfRecord)
	return ok
}

// identityHash hashes the wrapper's serial. Distinct wrappers hash
// differently with overwhelming probability.
func (e *Entity) identityHash() uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], e.serial)

	d := xxhash.New()
	_, _ = d.WriteString("txentity/identity/v1\x00")
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
