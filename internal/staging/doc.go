// Package staging inspects and sweeps the staging directory that holds the
// read-only copies of ingested files.
//
// Every staged copy is named by its SHA-256 digest. A copy whose digest no
// queue entry references, or a dot-prefixed temp copy, is left over from an
// ingest that crashed between copying and registering.
package staging
