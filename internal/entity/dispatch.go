package entity

import (
	"context"
	"fmt"
	"sort"
)

// handler executes one cell of an operation table. It receives the exact
// lifecycle state through e.
type handler[A, R any] func(ctx context.Context, e *Entity, arg A) (R, error)

// cell addresses one entry of a dispatch table.
type cell struct {
	class  Class
	bucket Bucket
}

// overrides maps cells to operation-specific handlers.
type overrides[A, R any] map[cell]handler[A, R]

// OutcomeHandled labels cells supplied by the operation when describing tables.
const OutcomeHandled = "handled"

// operation is a resolved dispatch table for one wrapper operation.
//
// INVARIANTS:
//   - every (class, bucket) cell holds a non-nil handler
//   - detached is non-nil
//   - tables are immutable after newOperation returns
type operation[A, R any] struct {
	name     string
	table    [numClasses][numBuckets]handler[A, R]
	outcomes [numClasses][numBuckets]string
	detached handler[A, R]
}

// newOperation fills the table from cells, falling back to the default
// policy. It panics if a cell that the default policy leaves to the operation
// is not supplied, or if detached is nil. Operations are package-level values,
// so a missing cell fails at init.
func newOperation[A, R any](name string, detached handler[A, R], cells overrides[A, R]) *operation[A, R] {
	if detached == nil {
		panic(fmt.Sprintf("entity: operation %q has no detached handler", name))
	}

	op := &operation[A, R]{name: name, detached: detached}
	for c := Class(0); c < numClasses; c++ {
		for b := Bucket(0); b < numBuckets; b++ {
			if h, ok := cells[cell{c, b}]; ok {
				if h == nil {
					panic(fmt.Sprintf("entity: operation %q has a nil handler for %s/%s", name, c, b))
				}
				op.table[c][b] = h
				op.outcomes[c][b] = OutcomeHandled
				continue
			}

			h, kind := defaultHandler[A, R](name, c, b)
			if h == nil {
				panic(fmt.Sprintf("entity: operation %q must handle %s/%s", name, c, b))
			}
			op.table[c][b] = h
			op.outcomes[c][b] = string(kind)
		}
	}

	for k := range cells {
		if k.class < 0 || k.class >= numClasses || k.bucket < 0 || k.bucket >= numBuckets {
			panic(fmt.Sprintf("entity: operation %q overrides unknown cell %s/%s", name, k.class, k.bucket))
		}
	}

	registerOperation(op)
	return op
}

// call classifies the context, resolves the handler and runs it.
// Detached wrappers go to the detached handler regardless of class.
func (op *operation[A, R]) call(ctx context.Context, e *Entity, arg A) (R, error) {
	if e.state == Detached {
		r, err := op.detached(ctx, e, arg)
		if err != nil {
			e.report(op.name, ClassDetached, err)
		}
		return r, err
	}

	class, err := Classify(ctx, e)
	if err != nil {
		var zero R
		e.report(op.name, class, err)
		return zero, err
	}

	r, err := op.table[class][e.state.Bucket()](ctx, e, arg)
	if err != nil {
		e.report(op.name, class, err)
	}
	return r, err
}

// defaultHandler returns the default policy for a cell, with the kind of
// error it produces. A nil handler means the operation must supply the cell.
//
//	class \ bucket     created                durable           deleted
//	open               (operation)            (operation)       RecordRemoved
//	open elsewhere     IllegalAccess          IllegalAccess     IllegalAccess
//	suspended          IllegalAccess          IllegalAccess     RecordRemoved
//	committed          IllegalInternalState   IllegalAccess     RecordRemoved
//	aborted            IllegalInternalState   IllegalAccess     RecordRemoved
func defaultHandler[A, R any](op string, c Class, b Bucket) (handler[A, R], Kind) {
	reject := func(kind Kind, message string) handler[A, R] {
		return func(_ context.Context, e *Entity, _ A) (R, error) {
			var zero R
			return zero, e.fail(kind, op, message)
		}
	}

	switch c {
	case ClassOpen:
		if b == BucketDeleted {
			return reject(KindRecordRemoved, "record was removed"), KindRecordRemoved
		}
		return nil, ""

	case ClassOpenElsewhere:
		return reject(KindIllegalAccess, "cross-thread access to open session"), KindIllegalAccess

	case ClassSuspended:
		switch b {
		case BucketCreated:
			return reject(KindIllegalAccess, "new/unflushed record inaccessible while session suspended"), KindIllegalAccess
		case BucketDurable:
			return reject(KindIllegalAccess, "suspended: only identity lookup permitted"), KindIllegalAccess
		default:
			return reject(KindRecordRemoved, "record was removed"), KindRecordRemoved
		}

	case ClassCommitted, ClassAborted:
		switch b {
		case BucketCreated:
			return reject(KindIllegalInternalState,
				fmt.Sprintf("created record cannot survive a closed session (%s); possible bug", c)), KindIllegalInternalState
		case BucketDurable:
			return reject(KindIllegalAccess, "closed session: only identity lookup permitted"), KindIllegalAccess
		default:
			return reject(KindRecordRemoved, "record was removed"), KindRecordRemoved
		}
	}

	return nil, ""
}

// OperationInfo describes the resolved table of one operation.
type OperationInfo struct {
	Name     string     `json:"name"`
	Cells    []CellInfo `json:"cells"`
	Detached string     `json:"detached"`
}

// CellInfo describes one resolved cell. Outcome is "handled" for cells the
// operation supplies, or the error kind produced by the default policy.
type CellInfo struct {
	Class   string `json:"class"`
	Bucket  string `json:"bucket"`
	Outcome string `json:"outcome"`
}

type describer interface {
	describe() OperationInfo
}

var catalog = map[string]describer{}

func registerOperation(d interface {
	describer
	opName() string
}) {
	if _, dup := catalog[d.opName()]; dup {
		panic(fmt.Sprintf("entity: operation %q registered twice", d.opName()))
	}
	catalog[d.opName()] = d
}

func (op *operation[A, R]) opName() string { return op.name }

func (op *operation[A, R]) describe() OperationInfo {
	info := OperationInfo{Name: op.name, Detached: OutcomeHandled}
	for c := Class(0); c < numClasses; c++ {
		for b := Bucket(0); b < numBuckets; b++ {
			info.Cells = append(info.Cells, CellInfo{
				Class:   c.String(),
				Bucket:  b.String(),
				Outcome: op.outcomes[c][b],
			})
		}
	}
	return info
}

// Operations returns the resolved dispatch tables of every table-driven
// operation, sorted by name.
func Operations() []OperationInfo {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]OperationInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, catalog[name].describe())
	}
	return infos
}

// LookupOperation returns the resolved table of the named operation.
func LookupOperation(name string) (OperationInfo, bool) {
	d, ok := catalog[name]
	if !ok {
		return OperationInfo{}, false
	}
	return d.describe(), true
}
