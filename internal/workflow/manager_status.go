package workflow

import (
	"context"

	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	LastError   string                  `json:"last_error,omitempty"`
	FatalError  string                  `json:"fatal_error,omitempty"`
	LastEntry   *queue.Entry            `json:"last_entry,omitempty"`
	QueueStats  map[queue.State]int     `json:"queue_stats"`
	StageHealth map[string]stage.Health `json:"stage_health"`
	Workers     map[string]int          `json:"workers"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	fatalErr := m.fatalErr
	lastEntry := m.lastEntry
	lanes := append([]*laneState(nil), m.lanes...)
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(lanes))
	workers := make(map[string]int, len(lanes))
	for _, lane := range lanes {
		workers[lane.name()] = lane.workers
		if lane.handler != nil {
			health[lane.name()] = lane.handler.HealthCheck(ctx)
		}
	}

	summary := StatusSummary{
		Running:     running,
		QueueStats:  stats,
		StageHealth: health,
		Workers:     workers,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if fatalErr != nil {
		summary.FatalError = fatalErr.Error()
	}
	if lastEntry != nil {
		clone := lastEntry.Clone()
		summary.LastEntry = &clone
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastEntry(entry *queue.Entry) {
	m.mu.Lock()
	if entry != nil {
		clone := entry.Clone()
		m.lastEntry = &clone
	} else {
		m.lastEntry = nil
	}
	m.mu.Unlock()
}
