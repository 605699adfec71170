// Package harness runs wrapper lifecycle scenarios described in YAML against
// a real session manager and backend.
//
// A scenario is a list of steps. Each step acts on named contexts, sessions,
// records and wrappers: begin/suspend/resume/commit/abort sessions, create,
// load, mutate and delete wrappers, seed or externally mutate records, and
// call wrapper operations. Every step appends one event to the trace and may
// carry an expect clause checked as the step runs. Assertions are evaluated
// against the trace and the final wrapper and session states.
//
// Named contexts stand in for threads: a session begun in context "main" is
// bound to it, and the same wrapper used from context "worker" is seen from
// another thread.
//
// Runs are deterministic. Transient ids come from testutil.FixedIDGenerator,
// session ids from testutil.DeterministicClock, and each run opens a fresh
// backend in a temporary directory, so traces can be compared against
// golden files.
//
// Example scenario:
//
//	name: committed_wrapper_keeps_identity
//	description: Identity survives commit, the record does not
//	backend: sqlite
//	steps:
//	  - action: begin
//	    session: s
//	  - action: new
//	    session: s
//	    entity: w1
//	    type: Issue
//	  - action: flush
//	    session: s
//	  - action: commit
//	    session: s
//	  - action: call
//	    op: record
//	    entity: w1
//	    expect:
//	      error: ILLEGAL_ACCESS
package harness
