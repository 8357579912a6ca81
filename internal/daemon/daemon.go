package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"quarantine/internal/config"
	"quarantine/internal/ingest"
	"quarantine/internal/journal"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	watcher  *ingest.Watcher
	journal  *journal.Journal

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	fatal   chan error

	mu        sync.RWMutex
	recovery  queue.RecoveryResult
	watchErr  error
	watchLive bool
}

// Options carries the optional collaborators of a daemon.
type Options struct {
	// Watcher feeds the queue from the inbox. Nil runs without ingestion.
	Watcher *ingest.Watcher
	// Journal backs the history endpoint. Nil disables it.
	Journal *journal.Journal
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueuePath    string
	JournalPath  string
	LockFilePath string
	Workflow     workflow.StatusSummary
	Ingest       *IngestStatus
	Recovery     queue.RecoveryResult
}

// IngestStatus reports the watcher's state.
type IngestStatus struct {
	Running   bool
	WatchDir  string
	Summary   ingest.Summary
	LastError string
}

// New constructs a daemon with initialized dependencies. wf may be nil when
// only ingestion runs; at least one of wf and opts.Watcher is required.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and queue store")
	}
	if wf == nil && opts.Watcher == nil {
		return nil, errors.New("daemon requires a workflow manager or an ingestion watcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		watcher:  opts.Watcher,
		journal:  opts.Journal,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, recovers entries interrupted by a previous
// crash and launches ingestion, the worker lanes and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another quarantine daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.fatal = make(chan error, 1)

	recovery, err := d.store.RecoverInterrupted(d.ctx)
	if err != nil {
		d.abortStart()
		return fmt.Errorf("recover interrupted entries: %w", err)
	}
	d.mu.Lock()
	d.recovery = recovery
	d.mu.Unlock()
	d.logRecovery(recovery)

	if d.workflow != nil {
		d.workflow.Resume(recovery.Reporting)
		if err := d.workflow.Start(d.ctx); err != nil {
			d.abortStart()
			return fmt.Errorf("start workflow: %w", err)
		}
		d.bg.Add(1)
		go d.monitorWorkflow()
	}

	if d.watcher != nil {
		d.mu.Lock()
		d.watchLive = true
		d.watchErr = nil
		d.mu.Unlock()
		d.bg.Add(1)
		go d.runWatcher()
	}

	if err := d.api.start(d.ctx); err != nil {
		d.cancel()
		if d.workflow != nil {
			d.workflow.Stop()
		}
		d.bg.Wait()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("quarantine daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("ingest", d.watcher != nil),
		logging.Bool("workflow", d.workflow != nil),
	)
	return nil
}

func (d *Daemon) abortStart() {
	if d.cancel != nil {
		d.cancel()
	}
	_ = d.lock.Unlock()
	d.ctx = nil
	d.cancel = nil
}

func (d *Daemon) logRecovery(recovery queue.RecoveryResult) {
	if len(recovery.Requeued)+len(recovery.Failed)+len(recovery.Reporting) == 0 {
		return
	}
	d.logger.Info("recovered interrupted entries",
		logging.String(logging.FieldEventType, "crash_recovery"),
		logging.Int("requeued", len(recovery.Requeued)),
		logging.Int("failed", len(recovery.Failed)),
		logging.Int("resumed_reports", len(recovery.Reporting)),
	)
	for _, id := range recovery.Failed {
		logging.WarnWithContext(d.logger, "interrupted entry exhausted its retries", "crash_recovery_failed",
			logging.String(logging.FieldEntryID, id),
			logging.String(logging.FieldErrorHint, "inspect the detector for inputs that crash the host; retry with `quarantine queue retry`"),
			logging.String(logging.FieldImpact, "entry will not be analyzed again automatically"),
		)
	}
}

func (d *Daemon) runWatcher() {
	defer d.bg.Done()
	err := d.watcher.Run(d.ctx)

	d.mu.Lock()
	d.watchLive = false
	if err != nil {
		d.watchErr = err
	}
	d.mu.Unlock()

	if err == nil || d.ctx.Err() != nil {
		return
	}
	logging.ErrorWithContext(d.logger, "ingestion watcher stopped", "watcher_stopped",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check that ingest.watch_dir exists and the queue store is readable"),
		logging.String(logging.FieldImpact, "new files are not being ingested"),
	)
	d.reportFatal(fmt.Errorf("ingestion watcher: %w", err))
}

func (d *Daemon) monitorWorkflow() {
	defer d.bg.Done()
	select {
	case <-d.ctx.Done():
	case <-d.workflow.Done():
		if err := d.workflow.Err(); err != nil {
			d.reportFatal(fmt.Errorf("workflow halted: %w", err))
		}
	}
}

func (d *Daemon) reportFatal(err error) {
	select {
	case d.fatal <- err:
	default:
	}
}

// Wait blocks until ctx is done or a background service fails fatally. It
// returns nil on ctx cancellation and the fatal error otherwise.
func (d *Daemon) Wait(ctx context.Context) error {
	if !d.running.Load() {
		return errors.New("daemon not running")
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.fatal:
		return err
	}
}

// Stop stops background processing and releases the daemon lock. In-flight
// entries settle before Stop returns.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.workflow != nil {
		d.workflow.Stop()
	}
	d.bg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("quarantine daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	return errors.Join(errs...)
}

// APIAddr returns the bound status API address, or "" when the API is disabled
// or not running.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueuePath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
	}
	if d.workflow != nil {
		status.Workflow = d.workflow.Status(ctx)
	}

	d.mu.RLock()
	status.Recovery = d.recovery
	watchLive := d.watchLive
	watchErr := d.watchErr
	d.mu.RUnlock()

	if d.watcher != nil {
		ingestStatus := &IngestStatus{
			Running:  watchLive,
			WatchDir: d.cfg.Ingest.WatchDir,
			Summary:  d.watcher.Summary(),
		}
		if watchErr != nil {
			ingestStatus.LastError = watchErr.Error()
		}
		status.Ingest = ingestStatus
	}
	return status
}
