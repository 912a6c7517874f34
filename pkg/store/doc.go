// Package store is the SQLite-backed authoritative memory store.
//
// Memories live in a (type, id)-keyed table with JSON content; non-sentinel
// embeddings are mirrored into a sqlite-vec vec0 virtual table for local
// cosine search. Creation is idempotent on id, and the caller can request
// similarity-based dedup on insert. The core consumes this package only
// through the memory.PrimaryStore interface.
package store
