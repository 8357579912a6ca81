package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"quarantine/internal/analysis"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, lane *laneState, logger *slog.Logger, entry *queue.Entry, stageErr error) {
	permanent := !analysis.IsTransient(stageErr)
	reason := classifyStageFailure(lane, stageErr)
	m.setLastError(stageErr)

	if err := m.store.Fail(context.WithoutCancel(ctx), entry.ID, reason, permanent); err != nil {
		if errors.Is(err, queue.ErrCorrupt) {
			m.halt(logger, err)
			return
		}
		logging.ErrorWithContext(logger, "failed to persist stage failure", "stage_persist_failed",
			logging.Error(err),
			logging.String("stage_error", reason),
			logging.String(logging.FieldErrorHint, "entry stays claimed until the daemon restarts and recovers it"),
		)
		return
	}

	resolved := queue.StateFailed
	if current, err := m.store.Get(context.WithoutCancel(ctx), entry.ID); err == nil {
		resolved = current.State
		m.setLastEntry(current)
	}

	details := services.Details(stageErr)
	attrs := []logging.Attr{
		logging.String("resolved_state", string(resolved)),
		logging.Bool("permanent", permanent),
		logging.Int("attempts", entry.Attempts),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Error(stageErr),
	}
	switch {
	case errors.Is(stageErr, context.Canceled) && ctx.Err() != nil:
		logger.Info("stage interrupted by shutdown",
			logging.Args(append(attrs, logging.String(logging.FieldEventType, "stage_interrupted"))...)...)
	case resolved == queue.StateQueued:
		logging.WarnWithContext(logger, "stage failed; entry requeued", "stage_retry",
			append(attrs, logging.String(logging.FieldImpact, "entry will be analyzed again"))...)
	default:
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			append(attrs, logging.Alert("stage_failure"))...)
	}
}

func classifyStageFailure(lane *laneState, stageErr error) string {
	message := ""
	if stageErr != nil {
		message = strings.TrimSpace(services.Details(stageErr).Message)
	}
	if message == "" {
		message = "failed without error detail"
	}
	return lane.name() + ": " + message
}
