// Package report implements the report compiler stage: it scores a stored
// detector result against the risk policy, renders a JSON and a markdown
// report named after the entry id, and optionally signs the JSON with an
// OpenPGP detached signature.
//
// Rendering reads only stored entry state, and the generation timestamp is
// the entry's analyzed_at, so re-rendering an entry reproduces the same
// bytes.
package report
