// Package journal appends every committed queue transition to a SQLite audit
// log. The queue document stays the source of truth; the journal only answers
// "how did this entry get here" for the CLI and the status API, and losing a
// row never changes pipeline behavior.
package journal
