// Package session implements the transient sessions that own entity
// wrappers, and the manager that binds sessions to contexts.
//
// A context carries at most one session (see entity.WithSession). The
// session bound to a context is the context's "thread session": wrappers
// owned by it classify as same-context-open, every other open context sees
// them as open elsewhere.
//
// Lifecycle:
//
//	Begin -> open -> Suspend -> suspended -> Resume -> open
//	open -> Commit -> committed
//	open | suspended -> Abort -> aborted
//
// Changes made through a session are queued in memory and written to the
// backend by Flush in a single backend transaction. Commit flushes and
// closes the session.
package session
