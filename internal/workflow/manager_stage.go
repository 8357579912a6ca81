package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quarantine/internal/analysis"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

func (m *Manager) processEntry(ctx context.Context, lane *laneState, worker int, laneLogger *slog.Logger, entry *queue.Entry) {
	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, lane, worker, entry, requestID)
	stageLogger := logging.WithContext(stageCtx, laneLogger)

	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldState, string(entry.State)),
		logging.Int("attempts", entry.Attempts),
		logging.String("source_path", entry.SourcePath),
	)
	m.setLastEntry(entry)

	if err := m.runHandler(stageCtx, lane, stageLogger, entry); err != nil {
		m.handleStageFailure(stageCtx, lane, stageLogger, entry, err)
		return
	}

	// Outcomes are persisted even when shutdown cancels ctx mid-stage; the
	// store bounds the wait with its own lock timeout.
	next, err := m.finish(context.WithoutCancel(stageCtx), lane, entry)
	if err != nil {
		m.handleFinishError(stageCtx, stageLogger, entry, err)
		return
	}
	entry.State = next
	m.setLastEntry(entry)
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_state", string(next)),
		logging.String("risk_level", string(entry.RiskLevel)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
}

// runHandler runs Prepare and Execute. Report rendering is retried in place
// on transient errors because a reporting entry has no queued state to fall
// back to; analysis retries go back through the queue instead.
func (m *Manager) runHandler(ctx context.Context, lane *laneState, logger *slog.Logger, entry *queue.Entry) error {
	attempts := 1
	if lane.kind == laneReport {
		attempts = m.store.RetryLimit() + 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = invoke(ctx, lane, entry)
		if err == nil || !analysis.IsTransient(err) || ctx.Err() != nil || attempt == attempts {
			return err
		}
		logging.WarnWithContext(logger, "report attempt failed; retrying", "report_retry",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.String(logging.FieldErrorHint, "check reports directory space and permissions"),
			logging.String(logging.FieldImpact, "report delayed"),
		)
		m.wait(ctx, m.errorInterval)
	}
	return err
}

func invoke(ctx context.Context, lane *laneState, entry *queue.Entry) error {
	if lane.handler == nil {
		return fmt.Errorf("stage %s has no handler", lane.name())
	}
	if err := lane.handler.Prepare(ctx, entry); err != nil {
		return err
	}
	return lane.handler.Execute(ctx, entry)
}

func (m *Manager) finish(ctx context.Context, lane *laneState, entry *queue.Entry) (queue.State, error) {
	switch lane.kind {
	case laneAnalysis:
		if err := m.store.Complete(ctx, entry.ID, entry.Result); err != nil {
			return "", fmt.Errorf("persist analysis result: %w", err)
		}
		return queue.StateAnalyzed, nil
	case laneReport:
		if err := m.store.MarkReported(ctx, entry.ID, entry.RiskLevel, entry.ReportPath); err != nil {
			return "", fmt.Errorf("persist report: %w", err)
		}
		return queue.StateReported, nil
	default:
		return "", fmt.Errorf("unknown lane %q", lane.kind)
	}
}

// handleFinishError covers a stage that succeeded but whose outcome could not
// be persisted. The entry keeps its claim and is resolved by
// RecoverInterrupted on the next daemon start.
func (m *Manager) handleFinishError(ctx context.Context, logger *slog.Logger, entry *queue.Entry, err error) {
	if errors.Is(err, queue.ErrCorrupt) {
		m.halt(logger, err)
		return
	}
	m.setLastError(err)
	if ctx.Err() != nil {
		logger.Debug("daemon shutting down, stage result not persisted", logging.Error(err))
		return
	}
	logging.ErrorWithContext(logger, "failed to persist stage result", "stage_persist_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "entry stays claimed until the daemon restarts and recovers it"),
	)
}
