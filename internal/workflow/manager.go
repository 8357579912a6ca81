package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quarantine/internal/config"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg           *config.Config
	store         *queue.Store
	logger        *slog.Logger
	pollInterval  time.Duration
	errorInterval time.Duration

	lanes []*laneState

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	lastErr   error
	fatalErr  error
	lastEntry *queue.Entry
	resume    []queue.Entry
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		pollInterval:  cfg.PollInterval(),
		errorInterval: cfg.ErrorRetryInterval(),
	}
}

// Resume hands reporting entries orphaned by a crash to the report lane.
// They are processed before any new claim. Rendering is idempotent, so a
// report that was already written before the crash is simply rewritten.
func (m *Manager) Resume(entries []queue.Entry) {
	if len(entries) == 0 {
		return
	}
	m.mu.Lock()
	m.resume = append(m.resume, entries...)
	m.mu.Unlock()
}

func (m *Manager) popResume() *queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resume) == 0 {
		return nil
	}
	entry := m.resume[0]
	m.resume = m.resume[1:]
	return &entry
}
