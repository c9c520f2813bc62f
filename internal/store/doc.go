// Package store provides SQLite-backed durable storage for document change
// logs.
//
// Each document has an append-only log of the changes its backend has
// applied, in the order they were appended. Reopening a document replays
// that log through Backend.Init.
//
// # Patterns
//
//   - Ordering uses seq INTEGER (insertion order), never timestamps.
//   - Changes are content-addressed; UNIQUE(doc_id, hash) makes appends
//     idempotent, so a change persisted twice is stored once.
//   - Stored bodies are re-hashed on read; a mismatch is reported as
//     corruption rather than replayed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
