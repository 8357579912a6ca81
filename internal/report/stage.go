package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"quarantine/internal/config"
	"quarantine/internal/fileutil"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/services"
	"quarantine/internal/stage"
)

const stageName = "report"

const artifactMode os.FileMode = 0o644

// Stage renders and persists reports for claimed entries.
type Stage struct {
	reportsDir string
	policy     *Policy
	signer     *Signer
	logger     *slog.Logger
}

// NewStage loads the risk policy and optional signing key from cfg.
func NewStage(cfg *config.Config, logger *slog.Logger) (*Stage, error) {
	policy, err := LoadPolicy(cfg.Report.PolicyFile)
	if err != nil {
		return nil, err
	}
	var signer *Signer
	if cfg.Report.SigningKey != "" {
		var passphrase []byte
		if env := cfg.Report.SigningPassphraseEnv; env != "" {
			passphrase = []byte(os.Getenv(env))
		}
		signer, err = LoadSigner(cfg.Report.SigningKey, passphrase)
		if err != nil {
			return nil, err
		}
	}
	return &Stage{
		reportsDir: cfg.Paths.ReportsDir,
		policy:     policy,
		signer:     signer,
		logger:     logging.NewComponentLogger(logger, stageName),
	}, nil
}

// Policy returns the active risk policy.
func (s *Stage) Policy() *Policy {
	return s.policy
}

// Prepare ensures the reports directory exists.
func (s *Stage) Prepare(ctx context.Context, entry *queue.Entry) error {
	if err := os.MkdirAll(s.reportsDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "prepare reports dir",
			fmt.Sprintf("Unable to create reports directory %s", s.reportsDir), err)
	}
	return nil
}

// Execute renders the report, writes its artifacts and records the risk
// level and report path on entry.
func (s *Stage) Execute(ctx context.Context, entry *queue.Entry) error {
	logger := logging.WithContext(ctx, s.logger)
	artifacts, err := Render(entry, s.policy)
	if err != nil {
		return err
	}
	paths, err := s.write(entry, artifacts)
	if err != nil {
		return err
	}
	entry.RiskLevel = artifacts.Assessment.Level
	entry.ReportPath = paths.JSON

	logger.Info("report written",
		logging.String(logging.FieldEventType, "report_written"),
		logging.String("risk_level", string(artifacts.Assessment.Level)),
		logging.Int("score", artifacts.Assessment.Score),
		logging.String("report_path", paths.JSON),
		logging.Bool("signed", s.signer != nil),
	)
	return nil
}

// Write renders entry and persists its artifacts without touching the queue.
// Used for explicit audit re-rendering of reported entries.
func (s *Stage) Write(entry *queue.Entry) (Paths, *Artifacts, error) {
	artifacts, err := Render(entry, s.policy)
	if err != nil {
		return Paths{}, nil, err
	}
	paths, err := s.write(entry, artifacts)
	return paths, artifacts, err
}

func (s *Stage) write(entry *queue.Entry, artifacts *Artifacts) (Paths, error) {
	paths := PathsFor(s.reportsDir, entry.ID)
	if err := writeArtifact(paths.JSON, artifacts.JSON); err != nil {
		return paths, err
	}
	if err := writeArtifact(paths.Markdown, artifacts.Markdown); err != nil {
		return paths, err
	}
	if s.signer == nil {
		return paths, nil
	}
	signature, err := s.signer.Sign(artifacts.JSON, *entry.AnalyzedAt)
	if err != nil {
		return paths, services.Wrap(services.ErrConfiguration, stageName, "sign report",
			"Unable to sign report; check report.signing_key", err)
	}
	if err := writeArtifact(paths.Signature, signature); err != nil {
		return paths, err
	}
	return paths, nil
}

func writeArtifact(path string, data []byte) error {
	if err := fileutil.WriteFileAtomic(path, data, artifactMode, nil); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "write artifact",
			fmt.Sprintf("Unable to write %s", filepath.Base(path)), err)
	}
	return nil
}

// HealthCheck verifies the reports directory is writable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(s.reportsDir) == "" {
		return stage.Blocked(stageName, "", "reports directory not configured")
	}
	if err := os.MkdirAll(s.reportsDir, 0o755); err != nil {
		return stage.Blocked(stageName, s.reportsDir, err.Error())
	}
	scratch, err := os.CreateTemp(s.reportsDir, ".health-*")
	if err != nil {
		return stage.Blocked(stageName, s.reportsDir, fmt.Sprintf("reports directory not writable: %v", err))
	}
	name := scratch.Name()
	_ = scratch.Close()
	_ = os.Remove(name)
	return stage.Available(stageName, s.reportsDir)
}

var _ stage.Handler = (*Stage)(nil)
