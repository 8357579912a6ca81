// Package ingest watches the inbox directory and registers settled files
// with the queue store.
//
// A path becomes a candidate on any create or write event, or when a rescan
// finds a file the store does not know yet. A candidate settles once no
// event arrived for ingest.debounce_ms and two probes separated by
// ingest.settle_interval_ms report the same size and mtime. Settled files are
// hashed, copied into the staging area under their digest and registered.
// Files whose digest is already queued are not copied again.
//
// When ingest.unpack is enabled, a new zip or tar archive also has its
// members staged and registered as entries of their own, each pointing back
// at the archive through its parent id.
package ingest
