package entity

import "fmt"

// State is the lifecycle tag of a wrapper: its relationship to durable storage.
type State int

const (
	// Created: no durable counterpart yet.
	Created State = iota

	// Durable: loaded from storage; the record existed before this session.
	Durable

	// DurableFromCreated: was Created, then a record was attached by a flush
	// of the owning session.
	DurableFromCreated

	// DeletedCreated: deleted before a durable record was ever committed for it.
	DeletedCreated

	// DeletedDurable: was Durable, then deleted.
	DeletedDurable

	// Detached: never associated with a session or a durable record.
	Detached
)

var stateNames = [...]string{
	Created:            "Created",
	Durable:            "Durable",
	DurableFromCreated: "DurableFromCreated",
	DeletedCreated:     "DeletedCreated",
	DeletedDurable:     "DeletedDurable",
	Detached:           "Detached",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsCreated reports whether no durable record has been attached.
func (s State) IsCreated() bool { return s == Created }

// IsDurable reports whether a durable record is attached and not deleted.
func (s State) IsDurable() bool { return s == Durable || s == DurableFromCreated }

// IsDeleted reports whether the wrapper was marked deleted.
func (s State) IsDeleted() bool { return s == DeletedCreated || s == DeletedDurable }

// IsDetached reports whether the wrapper is a standalone handle.
func (s State) IsDetached() bool { return s == Detached }

// HasRecord reports whether a wrapper in this state holds a durable record.
func (s State) HasRecord() bool {
	return s == Durable || s == DurableFromCreated || s == DeletedDurable
}

// Bucket collapses the state into its dispatch bucket.
func (s State) Bucket() Bucket {
	switch s {
	case Created:
		return BucketCreated
	case Durable, DurableFromCreated:
		return BucketDurable
	case DeletedCreated, DeletedDurable:
		return BucketDeleted
	default:
		return BucketDetached
	}
}

// Bucket groups lifecycle states for dispatch. Handlers still see the exact
// State through the entity.
type Bucket int

const (
	BucketCreated Bucket = iota
	BucketDurable
	BucketDeleted

	// BucketDetached is routed outside the dispatch table.
	BucketDetached
)

// numBuckets counts the buckets that have a column in the dispatch table.
const numBuckets = 3

var bucketNames = [...]string{
	BucketCreated:  "created",
	BucketDurable:  "durable",
	BucketDeleted:  "deleted",
	BucketDetached: "detached",
}

func (b Bucket) String() string {
	if b < 0 || int(b) >= len(bucketNames) {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// SessionState is the externally observable state of a session. Sessions
// publish exactly one of these at a time.
type SessionState int32

const (
	SessionOpen SessionState = iota
	SessionSuspended
	SessionCommitted
	SessionAborted
)

var sessionStateNames = [...]string{
	SessionOpen:      "open",
	SessionSuspended: "suspended",
	SessionCommitted: "committed",
	SessionAborted:   "aborted",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
	return sessionStateNames[s]
}

// IsClosed reports whether the session has finished, by commit or abort.
func (s SessionState) IsClosed() bool {
	return s == SessionCommitted || s == SessionAborted
}
