// Package analysis implements the workflow stage that runs the external
// detector against a staged file inside the isolated executor.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"quarantine/internal/config"
	"quarantine/internal/detector"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/sandbox"
	"quarantine/internal/services"
	"quarantine/internal/stage"
)

// PathPlaceholder in detector arguments is replaced by the staged file path.
const PathPlaceholder = "{path}"

const stageName = "analysis"

// Stage runs the detector for claimed entries.
type Stage struct {
	cfg      *config.Config
	executor sandbox.Executor
	logger   *slog.Logger
}

// NewStage constructs the analysis stage.
func NewStage(cfg *config.Config, executor sandbox.Executor, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:      cfg,
		executor: executor,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

// Prepare verifies the staged copy is still in place.
func (s *Stage) Prepare(ctx context.Context, entry *queue.Entry) error {
	info, err := os.Stat(entry.StagedPath)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "stat staged file",
			"Staged copy is missing; re-ingest the source file", err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, stageName, "stat staged file",
			fmt.Sprintf("Staged path %s is not a regular file", entry.StagedPath), nil)
	}
	return nil
}

// Execute runs the detector and stores the canonical result on entry.
func (s *Stage) Execute(ctx context.Context, entry *queue.Entry) error {
	logger := logging.WithContext(ctx, s.logger)
	command := s.command(entry.StagedPath)
	constraints := s.constraints(entry.StagedPath)
	timeout := s.cfg.DispatchTimeout()

	logger.Debug("detector started",
		logging.String(logging.FieldEventType, "detector_started"),
		logging.String("executor", s.executor.Name()),
		logging.String("command", command.Path),
		logging.Duration("timeout", timeout),
	)

	run, err := s.executor.Run(ctx, command, constraints, timeout)
	if err != nil {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "detector_failed"),
			logging.Int("exit_code", run.ExitCode),
			logging.Duration("duration", run.Duration),
			logging.String(logging.FieldErrorKind, string(services.Kind(err))),
			logging.Error(err),
		}
		if tail := strings.TrimSpace(string(run.Stderr)); tail != "" {
			attrs = append(attrs, logging.String("stderr", truncate(tail, 512)))
		}
		logger.Info("detector run failed", logging.Args(attrs...)...)
		return fmt.Errorf("run detector: %w", err)
	}

	result, err := detector.Decode(s.cfg.Analysis.OutputFormat, run.Stdout)
	if err != nil {
		return fmt.Errorf("decode detector output: %w", err)
	}
	canonical, err := result.Canonical()
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrRejected, err)
	}
	entry.Result = canonical

	logger.Info("detector finished",
		logging.String(logging.FieldEventType, "detector_finished"),
		logging.String("engine", result.Engine),
		logging.Int("matches", len(result.Matches)),
		logging.Int("indicators", result.Indicators.Count()),
		logging.Duration("duration", run.Duration),
	)
	return nil
}

// HealthCheck reports whether the executor and detector are usable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.executor == nil {
		return stage.Blocked(stageName, "", "no executor configured")
	}
	backend := s.executor.Name()
	if err := s.executor.Available(ctx); err != nil {
		return stage.Blocked(stageName, backend, err.Error())
	}
	if s.cfg.Analysis.Executor != config.ExecutorContainer {
		if _, err := exec.LookPath(s.cfg.Analysis.DetectorCommand); err != nil {
			return stage.Blocked(stageName, backend, fmt.Sprintf("detector %q not found", s.cfg.Analysis.DetectorCommand))
		}
	}
	return stage.Available(stageName, backend)
}

func (s *Stage) command(stagedPath string) sandbox.Command {
	args := make([]string, 0, len(s.cfg.Analysis.DetectorArgs)+1)
	substituted := false
	for _, arg := range s.cfg.Analysis.DetectorArgs {
		if strings.Contains(arg, PathPlaceholder) {
			arg = strings.ReplaceAll(arg, PathPlaceholder, stagedPath)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, stagedPath)
	}
	return sandbox.Command{Path: s.cfg.Analysis.DetectorCommand, Args: args}
}

func (s *Stage) constraints(stagedPath string) sandbox.Constraints {
	return sandbox.Constraints{
		NoNetwork:      s.cfg.Analysis.NoNetwork,
		DropPrivileges: true,
		UID:            s.cfg.Analysis.RunAsUID,
		GID:            s.cfg.Analysis.RunAsGID,
		ReadOnlyPaths:  []string{stagedPath},
		MaxOutputBytes: s.cfg.Analysis.MaxOutputBytes,
	}
}

// IsTransient reports whether a stage error should requeue the entry.
// Cancellation from shutdown counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !services.IsPermanent(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ stage.Handler = (*Stage)(nil)
