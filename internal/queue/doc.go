// Package queue persists ingestion entries in a single JSON document and
// exposes the only operations allowed to move them through their lifecycle.
//
// The Store serializes every mutation behind an in-process mutex and an
// exclusive file lock, re-reads the persisted document, validates the
// requested transition, and rewrites the whole document through a temp file
// and rename. A crash at any point leaves either the previous or the next
// valid document on disk. Documents that fail validation are never rewritten;
// every operation reports ErrCorrupt until an operator repairs the file.
//
// Entries are keyed by the SHA-256 of their content and are never deleted, so
// the document doubles as an audit trail. Snapshot, Get and Stats read without
// taking the file lock.
package queue
