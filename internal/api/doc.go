// Package api defines wire-format types and converters for the HTTP status
// API and the CLI's JSON output. It translates internal queue, journal and
// workflow models into transport-friendly DTOs so consumers never couple to
// internal types.
//
// # Key Types
//
// QueueEntry: transport representation of a queue entry, including the
// parsed risk level and report location once reported.
//
// WorkflowStatus: lane state, queue stats, stage health and the last entry.
//
// DaemonStatus: aggregated runtime information including ingestion counters
// and crash recovery results.
//
// Transition/HistoryResponse: journaled state changes for one entry.
//
// # Converters
//
// FromEntry: queue.Entry -> QueueEntry. The detector result is passed through
// as json.RawMessage to avoid double-encoding.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// StageHealthSlice: deterministic ordering of the stage health map.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.State, queue.RiskLevel)
// are exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
