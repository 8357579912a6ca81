package logging

import (
	"context"
	"log/slog"

	"quarantine/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEntryID is the standardized structured logging key for queue entry identifiers.
	FieldEntryID = "entry_id"
	// FieldStage is the standardized structured logging key for workflow stage names.
	FieldStage = "stage"
	// FieldWorker is the standardized structured logging key for worker loop names.
	FieldWorker = "worker"
	// FieldCorrelationID is the standardized structured logging key for claim correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the machine-readable event a log line records.
	FieldEventType = "event_type"
	// FieldErrorHint tells operators what to check next.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the services error classification.
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldPath is the filesystem path a log line refers to.
	FieldPath = "path"
	// FieldState is the queue state of an entry.
	FieldState = "state"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.EntryIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEntryID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
