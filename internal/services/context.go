package services

import "context"

type contextKey string

const (
	entryIDKey   contextKey = "entry_id"
	stageKey     contextKey = "stage"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithEntryID annotates context with the queue entry identifier.
func WithEntryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entryIDKey, id)
}

// EntryIDFromContext extracts the queue entry identifier if present.
func EntryIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entryIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the workflow stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithWorker annotates context with the worker name (e.g. analysis-2).
func WithWorker(ctx context.Context, worker string) context.Context {
	if worker == "" {
		return ctx
	}
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker name if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(workerKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
