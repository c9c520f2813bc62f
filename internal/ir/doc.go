// Package ir provides the canonical data model shared by the document
// backend, the document frontend and the CRDT engine.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in document values - use int64 for numbers
//   - Change hashes are computed over RFC 8785 canonical JSON
//   - All JSON tags use snake_case
//   - Sequence numbers are per-actor logical counters, never wall-clock time
package ir
