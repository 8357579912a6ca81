// Package preflight provides readiness checks for the filesystem paths,
// detector and signing material that quarantine depends on.
//
// These checks run in two contexts:
//   - The daemon runner calls RunAll before starting. A failed critical check
//     aborts startup so no entry is claimed by a pipeline that cannot finish it.
//   - The CLI "quarantine config validate" command prints every result.
//
// Each check is gated by its config toggle -- unconfigured features are skipped.
package preflight
