// Package entity implements transient entity wrappers: handles that application
// code holds before, during and after the underlying record is persisted.
//
// A wrapper (Entity) is bound to the session that created it. Whether an
// operation on it is allowed, and what it does, depends on two things:
//
//   - the wrapper's lifecycle State (Created, Durable, DurableFromCreated,
//     DeletedCreated, DeletedDurable, Detached)
//   - the Class of the calling context relative to the owning session
//     (open in the caller's context, open elsewhere, suspended, committed,
//     aborted)
//
// # Dispatch
//
// Every public operation resolves a handler from a per-operation table keyed
// by (Class, Bucket). Buckets collapse the lifecycle states into Created,
// Durable and Deleted; Detached wrappers bypass the table and go to the
// operation's detached handler. Cells not overridden by an operation take the
// default policy (see defaultHandler). Tables are built at package init and
// construction panics if a required cell is missing, so adding a state or a
// class forces every operation to be revisited.
//
// # Context passing
//
// The caller's active session travels in the context.Context passed to each
// operation (WithSession / CurrentSession). A wrapper whose owning session is
// open but is not the context's session is accessed "from another thread":
// only identifier reads and a few comparisons are permitted.
//
// # Errors
//
// Rejections are *Error values with one of four kinds: RecordRemoved,
// IllegalAccess, IllegalState and IllegalInternalState. They carry the
// wrapper's debug rendering and are never retried here.
package entity
