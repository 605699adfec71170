// Package store provides the SQLite-backed durable record backend.
//
// Each record row carries its type, its optimistic version and a deletion
// flag. Live state lives in the properties, blobs and links tables; every
// version is also kept as a JSON snapshot in record_versions so that
// historical handles can be read after later writes.
//
// # Versions
//
//   - A created record starts at version 0
//   - Every mutation (property, blob, link, delete) bumps the version by one
//     and snapshots the resulting state
//   - Deletion sets deleted=1; deleted records are no longer loadable but
//     their history stays readable through existing handles
//
// # Handles
//
// A Record handle is live (follows the latest version) or pinned to one
// version. Handles created inside a transaction read through it until it
// finishes; the pool has a single connection, so reading through the
// database handle mid-transaction would block.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
