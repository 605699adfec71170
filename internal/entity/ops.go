package entity

import (
	"context"
	"fmt"
)

// Handlers below read and write the wrapper's fields directly. They must not
// call exported Entity methods: those go through the operation tables, which
// are still being initialized when the handlers are built.

func reject[A, R any](kind Kind, op, message string) handler[A, R] {
	return func(_ context.Context, e *Entity, _ A) (R, error) {
		var zero R
		return zero, e.fail(kind, op, message)
	}
}

func constant[A, R any](v R) handler[A, R] {
	return func(context.Context, *Entity, A) (R, error) {
		return v, nil
	}
}

// neverStored routes DeletedCreated wrappers to h, as for Created ones.
// DeletedDurable wrappers keep the default policy of their cell. Wrappers of
// another context's open session are left to the default.
func neverStored[A, R any](name string, h handler[A, R], cells overrides[A, R]) overrides[A, R] {
	for _, c := range []Class{ClassOpen, ClassSuspended, ClassCommitted, ClassAborted} {
		fallback, _ := defaultHandler[A, R](name, c, BucketDeleted)
		cells[cell{c, BucketDeleted}] = func(ctx context.Context, e *Entity, arg A) (R, error) {
			if e.state == DeletedCreated {
				return h(ctx, e, arg)
			}
			return fallback(ctx, e, arg)
		}
	}
	return cells
}

// wrapRecord hands a navigated record back through the owning session.
func wrapRecord(ctx context.Context, e *Entity, rec Record) (*Entity, error) {
	if rec == nil {
		return nil, nil
	}
	return e.session.Wrap(ctx, rec)
}

var recordOp = newOperation[none, Record]("record",
	func(_ context.Context, e *Entity, _ none) (Record, error) {
		return selfRecord{e}, nil
	},
	overrides[none, Record]{
		{ClassOpen, BucketCreated}: reject[none, Record](KindIllegalAccess, "record", "no durable record associated yet"),
		{ClassOpen, BucketDurable}: func(_ context.Context, e *Entity, _ none) (Record, error) {
			return e.record, nil
		},
		{ClassOpen, BucketDeleted}: func(_ context.Context, e *Entity, _ none) (Record, error) {
			if e.record == nil {
				return nil, e.fail(KindIllegalAccess, "record", "no durable record associated")
			}
			return e.record, nil
		},
	})

// identityOperation builds the id lookups. Identity is readable from every
// class except for records that only ever existed inside another context's
// open session.
func identityOperation[R any](name string, transient, durable func(*Entity) R) *operation[none, R] {
	fromTransient := func(_ context.Context, e *Entity, _ none) (R, error) {
		return transient(e), nil
	}
	fromRecord := func(_ context.Context, e *Entity, _ none) (R, error) {
		return durable(e), nil
	}
	deleted := func(_ context.Context, e *Entity, _ none) (R, error) {
		if e.state == DeletedCreated {
			return transient(e), nil
		}
		return durable(e), nil
	}
	deletedElsewhere := func(_ context.Context, e *Entity, _ none) (R, error) {
		if e.state == DeletedCreated {
			var zero R
			return zero, e.fail(KindIllegalAccess, name, "cross-thread access to unflushed record")
		}
		return durable(e), nil
	}

	cells := overrides[none, R]{
		{ClassOpenElsewhere, BucketDurable}: fromRecord,
		{ClassOpenElsewhere, BucketDeleted}: deletedElsewhere,
	}
	for _, c := range []Class{ClassOpen, ClassSuspended, ClassCommitted, ClassAborted} {
		cells[cell{c, BucketCreated}] = fromTransient
		cells[cell{c, BucketDurable}] = fromRecord
		cells[cell{c, BucketDeleted}] = deleted
	}

	return newOperation[none, R](name, fromTransient, cells)
}

var (
	idOp = identityOperation("id",
		func(e *Entity) ID { return e.id },
		func(e *Entity) ID { return e.record.ID() })

	idStringOp = identityOperation("id-string",
		func(e *Entity) string { return e.id.String() },
		func(e *Entity) string { return e.record.IDString() })
)

var attachOp = newOperation[Record, none]("attach",
	reject[Record, none](KindIllegalState, "attach", "detached entity cannot be associated with a record"),
	overrides[Record, none]{
		{ClassOpen, BucketCreated}: func(ctx context.Context, e *Entity, rec Record) (none, error) {
			version, err := rec.Version(ctx)
			if err != nil {
				return none{}, fmt.Errorf("attach %s: read version: %w", rec.IDString(), err)
			}
			e.record = rec
			e.version = version
			e.typ = rec.Type()
			return none{}, e.setState(DurableFromCreated)
		},
		{ClassOpen, BucketDurable}: reject[Record, none](KindIllegalState, "attach", "entity already has a durable record"),
	})

var detachOp = newOperation[none, none]("detach",
	reject[none, none](KindIllegalState, "detach", "detached entity has no record"),
	overrides[none, none]{
		{ClassOpen, BucketCreated}: reject[none, none](KindIllegalState, "detach", "entity has no durable record"),
		{ClassOpen, BucketDurable}: func(_ context.Context, e *Entity, _ none) (none, error) {
			if e.state != DurableFromCreated {
				return none{}, e.fail(KindIllegalState, "detach", "only records created in this session can be detached")
			}
			e.record = nil
			e.version = 0
			return none{}, e.setState(Created)
		},
	})

var refreshVersionOp = newOperation[none, none]("refresh-version",
	reject[none, none](KindIllegalAccess, "refresh-version", "no durable record"),
	overrides[none, none]{
		{ClassOpen, BucketCreated}: reject[none, none](KindIllegalAccess, "refresh-version", "no durable record"),
		{ClassOpen, BucketDurable}: func(ctx context.Context, e *Entity, _ none) (none, error) {
			version, err := e.record.Version(ctx)
			if err != nil {
				return none{}, fmt.Errorf("refresh version: %w", err)
			}
			e.version = version
			return none{}, nil
		},
	})

var versionOp = newOperation[none, int]("version",
	reject[none, int](KindIllegalAccess, "version", "no durable record"),
	overrides[none, int]{
		{ClassOpen, BucketCreated}: reject[none, int](KindIllegalAccess, "version", "no durable record"),
		{ClassOpen, BucketDurable}: func(_ context.Context, e *Entity, _ none) (int, error) {
			return e.version, nil
		},
	})

func namesOperation(name string, fetch func(Record, context.Context) ([]string, error)) *operation[none, []string] {
	return newOperation[none, []string](name,
		reject[none, []string](KindIllegalAccess, name, "no durable record"),
		overrides[none, []string]{
			{ClassOpen, BucketCreated}: reject[none, []string](KindIllegalAccess, name, "no durable record"),
			{ClassOpen, BucketDurable}: func(ctx context.Context, e *Entity, _ none) ([]string, error) {
				return fetch(e.record, ctx)
			},
		})
}

var (
	propertyNamesOp = namesOperation("property-names", Record.PropertyNames)
	blobNamesOp     = namesOperation("blob-names", Record.BlobNames)
	linkNamesOp     = namesOperation("link-names", Record.LinkNames)
)

// navigationOperation builds the single-step version navigations. Wrappers
// without a durable record have no versions and yield nil.
func navigationOperation(name string, step func(Record, context.Context) (Record, error)) *operation[none, *Entity] {
	return newOperation[none, *Entity](name,
		constant[none, *Entity](nil),
		neverStored[none, *Entity](name, constant[none, *Entity](nil), overrides[none, *Entity]{
			{ClassOpen, BucketCreated}: constant[none, *Entity](nil),
			{ClassOpen, BucketDurable}: func(ctx context.Context, e *Entity, _ none) (*Entity, error) {
				rec, err := step(e.record, ctx)
				if err != nil {
					return nil, err
				}
				return wrapRecord(ctx, e, rec)
			},
		}))
}

var (
	upToDateVersionOp = navigationOperation("up-to-date-version", Record.UpToDateVersion)
	nextVersionOp     = navigationOperation("next-version", Record.NextVersion)
	previousVersionOp = navigationOperation("previous-version", Record.PreviousVersion)
)

func noHistory(context.Context, *Entity, none) ([]*Entity, error) {
	return []*Entity{}, nil
}

var historyOp = newOperation[none, []*Entity]("history",
	noHistory,
	neverStored[none, []*Entity]("history", noHistory, overrides[none, []*Entity]{
		{ClassOpen, BucketCreated}: noHistory,
		{ClassOpen, BucketDurable}: func(ctx context.Context, e *Entity, _ none) ([]*Entity, error) {
			recs, err := e.record.History(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]*Entity, 0, len(recs))
			for _, rec := range recs {
				w, err := wrapRecord(ctx, e, rec)
				if err != nil {
					return nil, err
				}
				out = append(out, w)
			}
			return out, nil
		},
	}))

var isUpToDateOp = newOperation[none, bool]("is-up-to-date",
	constant[none, bool](true),
	overrides[none, bool]{
		{ClassOpen, BucketCreated}: reject[none, bool](KindIllegalAccess, "is-up-to-date", "no durable record"),
		{ClassOpen, BucketDurable}: func(ctx context.Context, e *Entity, _ none) (bool, error) {
			return e.record.IsUpToDate(ctx)
		},
	})

var compareOp = newOperation[*Entity, int]("compare",
	reject[*Entity, int](KindIllegalAccess, "compare", "detached entity has no durable identity"),
	overrides[*Entity, int]{
		{ClassOpen, BucketCreated}: reject[*Entity, int](KindIllegalAccess, "compare", "no durable record"),
		{ClassOpen, BucketDurable}: func(_ context.Context, e *Entity, other *Entity) (int, error) {
			if other == nil || other.record == nil {
				return 0, e.fail(KindIllegalAccess, "compare", "other entity has no durable record")
			}
			return e.record.Compare(other.record), nil
		},
	})

// markDeletedOp moves the wrapper to its deleted state and returns the
// durable record that storage must delete, or nil if there is none.
var markDeletedOp = newOperation[none, Record]("mark-deleted",
	reject[none, Record](KindIllegalState, "mark-deleted", "detached entity cannot be deleted"),
	overrides[none, Record]{
		{ClassOpen, BucketCreated}: func(_ context.Context, e *Entity, _ none) (Record, error) {
			return nil, e.setState(DeletedCreated)
		},
		{ClassOpen, BucketDurable}: func(_ context.Context, e *Entity, _ none) (Record, error) {
			rec := e.record
			if e.state == DurableFromCreated {
				e.record = nil
				return rec, e.setState(DeletedCreated)
			}
			return rec, e.setState(DeletedDurable)
		},
	})

var checkWritableOp = newOperation[none, none]("check-writable",
	reject[none, none](KindIllegalState, "check-writable", "detached entity is read-only"),
	overrides[none, none]{
		{ClassOpen, BucketCreated}: constant[none, none](none{}),
		{ClassOpen, BucketDurable}: constant[none, none](none{}),
	})

// Record returns the durable record. A Detached wrapper returns its own
// record view.
func (e *Entity) Record(ctx context.Context) (Record, error) {
	return recordOp.call(ctx, e, none{})
}

// ID returns the stable id: the transient id until a durable record exists,
// the record id afterwards.
func (e *Entity) ID(ctx context.Context) (ID, error) {
	return idOp.call(ctx, e, none{})
}

// IDString returns the rendered stable id.
func (e *Entity) IDString(ctx context.Context) (string, error) {
	return idStringOp.call(ctx, e, none{})
}

// Attach associates a freshly flushed record with a Created wrapper.
func (e *Entity) Attach(ctx context.Context, rec Record) error {
	if rec == nil {
		err := e.fail(KindIllegalState, "attach", "nil record")
		e.report("attach", ClassOpen, err)
		return err
	}
	if IsWrapperRecord(rec) {
		err := e.fail(KindIllegalState, "attach", "can't create an entity as wrapper for another entity")
		e.report("attach", ClassOpen, err)
		return err
	}
	_, err := attachOp.call(ctx, e, rec)
	return err
}

// Detach drops the record of a wrapper created and flushed in this session,
// returning it to Created. Used when a flush is rolled back.
func (e *Entity) Detach(ctx context.Context) error {
	_, err := detachOp.call(ctx, e, none{})
	return err
}

// RefreshVersion re-reads the version snapshot from the record.
func (e *Entity) RefreshVersion(ctx context.Context) error {
	_, err := refreshVersionOp.call(ctx, e, none{})
	return err
}

// Version returns the version snapshot.
func (e *Entity) Version(ctx context.Context) (int, error) {
	return versionOp.call(ctx, e, none{})
}

// PropertyNames returns the record's property names.
func (e *Entity) PropertyNames(ctx context.Context) ([]string, error) {
	return propertyNamesOp.call(ctx, e, none{})
}

// BlobNames returns the record's blob names.
func (e *Entity) BlobNames(ctx context.Context) ([]string, error) {
	return blobNamesOp.call(ctx, e, none{})
}

// LinkNames returns the record's link names.
func (e *Entity) LinkNames(ctx context.Context) ([]string, error) {
	return linkNamesOp.call(ctx, e, none{})
}

// UpToDateVersion returns the wrapper of the live record, or nil.
func (e *Entity) UpToDateVersion(ctx context.Context) (*Entity, error) {
	return upToDateVersionOp.call(ctx, e, none{})
}

// NextVersion returns the wrapper of the next version, or nil.
func (e *Entity) NextVersion(ctx context.Context) (*Entity, error) {
	return nextVersionOp.call(ctx, e, none{})
}

// PreviousVersion returns the wrapper of the previous version, or nil.
func (e *Entity) PreviousVersion(ctx context.Context) (*Entity, error) {
	return previousVersionOp.call(ctx, e, none{})
}

// History returns wrappers of the earlier versions, newest first.
func (e *Entity) History(ctx context.Context) ([]*Entity, error) {
	return historyOp.call(ctx, e, none{})
}

// IsUpToDate reports whether the record handle follows the latest version.
func (e *Entity) IsUpToDate(ctx context.Context) (bool, error) {
	return isUpToDateOp.call(ctx, e, none{})
}

// Compare orders two wrappers by their durable records.
func (e *Entity) Compare(ctx context.Context, other *Entity) (int, error) {
	return compareOp.call(ctx, e, other)
}

// MarkDeleted moves the wrapper to its deleted state. It returns the durable
// record to delete from storage, or nil when the record was never stored.
func (e *Entity) MarkDeleted(ctx context.Context) (Record, error) {
	return markDeletedOp.call(ctx, e, none{})
}

// CheckWritable fails unless the wrapper may be mutated from ctx.
func (e *Entity) CheckWritable(ctx context.Context) error {
	_, err := checkWritableOp.call(ctx, e, none{})
	return err
}
