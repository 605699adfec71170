package entity

import (
	"context"
)

func sameWrapper(_ context.Context, e *Entity, other *Entity) (bool, error) {
	return e == other, nil
}

func durablyEqual(_ context.Context, e *Entity, other *Entity) (bool, error) {
	if other == nil || !other.state.HasRecord() {
		return false, nil
	}
	return e.record.Equal(other.record), nil
}

// deletedEqual splits the deleted bucket: a record that never reached storage
// has only wrapper identity.
func deletedEqual(deletedDurable handler[*Entity, bool]) handler[*Entity, bool] {
	return func(ctx context.Context, e *Entity, other *Entity) (bool, error) {
		if e.state == DeletedCreated {
			return e == other, nil
		}
		return deletedDurable(ctx, e, other)
	}
}

var equalOp = newOperation[*Entity, bool]("equal",
	sameWrapper,
	overrides[*Entity, bool]{
		{ClassOpen, BucketCreated}: sameWrapper,
		{ClassOpen, BucketDurable}: durablyEqual,
		{ClassOpen, BucketDeleted}: deletedEqual(durablyEqual),

		{ClassOpenElsewhere, BucketCreated}: sameWrapper,
		{ClassOpenElsewhere, BucketDurable}: durablyEqual,
		{ClassOpenElsewhere, BucketDeleted}: deletedEqual(
			reject[*Entity, bool](KindIllegalAccess, "equal", "cross-thread access to removed record")),

		{ClassSuspended, BucketCreated}: sameWrapper,
		{ClassSuspended, BucketDurable}: func(ctx context.Context, e *Entity, other *Entity) (bool, error) {
			if other == nil || !other.state.IsDurable() {
				return false, nil
			}
			return durablyEqual(ctx, e, other)
		},
		{ClassSuspended, BucketDeleted}: deletedEqual(
			reject[*Entity, bool](KindRecordRemoved, "equal", "record was removed")),

		{ClassCommitted, BucketCreated}: sameWrapper,
		{ClassCommitted, BucketDurable}: durablyEqual,
		{ClassCommitted, BucketDeleted}: deletedEqual(durablyEqual),

		{ClassAborted, BucketCreated}: sameWrapper,
		{ClassAborted, BucketDurable}: durablyEqual,
		{ClassAborted, BucketDeleted}: deletedEqual(durablyEqual),
	})

// Equal reports whether e and other denote the same logical record. Wrappers
// without a stored record are only equal to themselves.
func (e *Entity) Equal(ctx context.Context, other *Entity) (bool, error) {
	if e == other {
		return true, nil
	}
	if other == nil {
		return false, nil
	}
	return equalOp.call(ctx, e, other)
}

// Hash returns a hash consistent with Equal.
//
// In the owning session's context the hash follows the current state: records
// created here hash by wrapper identity, loaded records by their record. From
// any other context the wrapper must already have a durable identity.
func (e *Entity) Hash(ctx context.Context) (uint64, error) {
	if e.state == Detached {
		return e.identityHash(), nil
	}

	if e.session != nil && CurrentSession(ctx) == e.session {
		switch e.state {
		case Created, DurableFromCreated, DeletedCreated:
			return e.identityHash(), nil
		default:
			return e.record.Hash(), nil
		}
	}

	switch e.state {
	case Created, DeletedCreated:
		err := e.fail(KindIllegalAccess, "hash", "record has no durable identity outside its session")
		class, cerr := Classify(ctx, e)
		if cerr == nil {
			e.report("hash", class, err)
		}
		return 0, err
	default:
		return e.record.Hash(), nil
	}
}
