package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.fatalErr = nil
	m.done = make(chan struct{})
	done := m.done

	lanes := append([]*laneState(nil), m.lanes...)
	total := 0
	for _, lane := range lanes {
		lane.logger = m.laneLogger(lane)
		total += lane.workers
	}
	m.wg.Add(total)
	m.mu.Unlock()

	for _, lane := range lanes {
		lane.logger.Info("lane started",
			logging.String(logging.FieldEventType, "lane_started"),
			logging.Int("workers", lane.workers),
		)
		for worker := 1; worker <= lane.workers; worker++ {
			go m.runWorker(runCtx, lane, worker)
		}
	}

	go func() {
		m.wg.Wait()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop terminates background processing and waits for in-flight entries to
// settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done is closed once every worker has exited, either after Stop or because
// the manager halted on a fatal store error.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// Err returns the error that halted the manager, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr
}

func (m *Manager) halt(logger *slog.Logger, err error) {
	m.mu.Lock()
	first := m.fatalErr == nil
	if first {
		m.fatalErr = err
	}
	m.lastErr = err
	cancel := m.cancel
	m.mu.Unlock()

	if first {
		logging.ErrorWithContext(logger, "queue store unusable; halting workflow", "workflow_halted",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect queue.json; the store never rewrites a document it cannot validate"),
			logging.Alert("queue_corrupt"),
		)
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) runWorker(ctx context.Context, lane *laneState, worker int) {
	defer m.wg.Done()
	logger := lane.logger.With(logging.Int(logging.FieldWorker, worker))

	for {
		if ctx.Err() != nil {
			return
		}

		entry, err := m.claim(ctx, lane)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrCorrupt) {
				m.halt(logger, err)
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if entry == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}

		m.processEntry(ctx, lane, worker, lane.logger, entry)
	}
}

func (m *Manager) claim(ctx context.Context, lane *laneState) (*queue.Entry, error) {
	switch lane.kind {
	case laneAnalysis:
		return m.store.ClaimNext(ctx)
	case laneReport:
		if entry := m.popResume(); entry != nil {
			return entry, nil
		}
		return m.store.ClaimForReport(ctx)
	default:
		return nil, nil
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next queue entry", "queue_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue.json permissions and lock contention"),
	)
	m.wait(ctx, m.errorInterval)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
