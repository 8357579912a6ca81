// Package services defines shared utilities consumed by the workflow stage
// handlers and the executors they drive.
//
// Key responsibilities:
//   - Context helpers that stamp queue entry IDs, stage names, worker names and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that split failures into
//     transient (retry) and permanent (fail immediately) classes.
//
// Use these helpers when wiring new stage logic so retry behaviour and
// observability stay uniform across the pipeline.
package services
