package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"quarantine/internal/analysis"
	"quarantine/internal/config"
	"quarantine/internal/daemon"
	"quarantine/internal/ingest"
	"quarantine/internal/journal"
	"quarantine/internal/logging"
	"quarantine/internal/preflight"
	"quarantine/internal/queue"
	"quarantine/internal/report"
	"quarantine/internal/sandbox"
	"quarantine/internal/staging"
	"quarantine/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Scope selects the services to run. The zero value runs everything.
	Scope preflight.Scope
	// SkipPreflight starts even when critical checks fail.
	SkipPreflight bool
	// Executor overrides the configured isolated executor.
	Executor sandbox.Executor
	// Logger overrides the file and console logger built from cfg.
	Logger *slog.Logger
	// Ready, when set, receives the running daemon once it has started.
	Ready func(*daemon.Daemon)
}

// Run starts the quarantine daemon runtime loop and blocks until a signal,
// cmdCtx cancellation or a fatal service failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	scope := opts.Scope
	if scope == (preflight.Scope{}) {
		scope = preflight.FullScope
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger := opts.Logger
	var logPath string
	if logger == nil {
		runID := time.Now().UTC().Format("20060102T150405.000Z")
		logPath = filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("quarantine-%s.log", runID))
		level := opts.LogLevel
		if level == "" {
			level = cfg.Logging.Level
		}
		var err error
		logger, err = logging.New(logging.Options{
			Level:       level,
			Format:      cfg.Logging.Format,
			FilePath:    logPath,
			Development: opts.Development,
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
		}
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
			logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "quarantine-*.log", Exclude: []string{logPath}},
		)
	}

	executor := opts.Executor
	if scope.Analyze && executor == nil {
		var err error
		if executor, err = sandbox.New(cfg); err != nil {
			return err
		}
	}

	if err := runPreflight(signalCtx, logger, cfg, executor, scope, opts.SkipPreflight); err != nil {
		return err
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "quarantined.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logging.WarnWithContext(logger, "transition journal unavailable", "journal_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete journal.db if the schema is outdated"),
			logging.String(logging.FieldImpact, "queue history is not recorded for this run"),
		)
		j = nil
	}

	storeOpts := []queue.Option{}
	if j != nil {
		storeOpts = append(storeOpts, queue.WithObserver(j.Observer(logger)))
	}
	store, err := queue.Open(cfg, storeOpts...)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		if j != nil {
			_ = j.Close()
		}
		return err
	}

	if scope.Ingest {
		sweepStaging(signalCtx, cfg, store, logger)
	}

	var manager *workflow.Manager
	if scope.Analyze || scope.Report {
		stages, err := buildStages(cfg, executor, logger, scope)
		if err != nil {
			_ = store.Close()
			return err
		}
		manager = workflow.NewManager(cfg, store, logger)
		manager.ConfigureStages(stages)
	}

	var watcher *ingest.Watcher
	if scope.Ingest {
		watcher = ingest.New(cfg, store, logger)
	}

	d, err := daemon.New(cfg, store, logger, manager, daemon.Options{Watcher: watcher, Journal: j})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue store access"),
			logging.String(logging.FieldImpact, "no files are processed"),
		)
		return err
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	if err := d.Wait(signalCtx); err != nil {
		return err
	}
	logger.Info("quarantine daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func buildStages(cfg *config.Config, executor sandbox.Executor, logger *slog.Logger, scope preflight.Scope) (workflow.StageSet, error) {
	var set workflow.StageSet
	if scope.Analyze {
		set.Analysis = analysis.NewStage(cfg, executor, logger)
	}
	if scope.Report {
		reportStage, err := report.NewStage(cfg, logger)
		if err != nil {
			return workflow.StageSet{}, fmt.Errorf("init report stage: %w", err)
		}
		set.Report = reportStage
	}
	return set, nil
}

// sweepStaging removes staged copies left by ingests that crashed before
// registering. Failures only cost disk space.
func sweepStaging(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) {
	entries, err := store.Snapshot(ctx)
	if err != nil {
		logger.Warn("staging sweep skipped", logging.Error(err), logging.String(logging.FieldEventType, "staging_cleanup_skipped"))
		return
	}
	result := staging.CleanOrphaned(ctx, cfg.Paths.StagingDir, staging.Referenced(entries), staging.DefaultGrace, logger)
	if len(result.Removed) > 0 {
		logger.Info("staging sweep complete",
			logging.Int("removed", len(result.Removed)),
			logging.String(logging.FieldEventType, "staging_cleanup_summary"),
		)
	}
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, executor sandbox.Executor, scope preflight.Scope, skip bool) error {
	results := preflight.RunAll(ctx, cfg, executor, scope)
	for _, r := range results {
		logger.Debug("preflight check",
			logging.String(logging.FieldEventType, "preflight_check"),
			logging.String("check", r.Name),
			logging.Bool("passed", r.Passed),
			logging.String("detail", r.Detail),
		)
	}
	failed := preflight.Failed(results)
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name+": "+r.Detail)
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run `quarantine config validate` for the full report"),
			logging.String(logging.FieldImpact, "the pipeline cannot process files reliably"),
		)
	}
	if skip {
		return nil
	}
	return errors.New("preflight failed: " + strings.Join(names, "; "))
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
