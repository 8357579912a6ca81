package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/services"
)

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	return m.logger.With(
		logging.String(logging.FieldComponent, fmt.Sprintf("workflow-%s", lane.name())),
		logging.String("lane", lane.name()),
	)
}

func withStageContext(ctx context.Context, lane *laneState, worker int, entry *queue.Entry, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if entry != nil {
		ctx = services.WithEntryID(ctx, entry.ID)
	}
	if lane != nil {
		ctx = services.WithStage(ctx, lane.name())
	}
	if worker > 0 {
		ctx = services.WithWorker(ctx, strconv.Itoa(worker))
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
