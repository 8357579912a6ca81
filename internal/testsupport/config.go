package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"quarantine/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, creates the watched inbox and applies any
// provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.ReportsDir = filepath.Join(base, "reports")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Ingest.WatchDir = filepath.Join(base, "inbox")
	cfgVal.Ingest.DebounceMS = 20
	cfgVal.Ingest.SettleIntervalMS = 10
	cfgVal.Ingest.RescanInterval = 0
	cfgVal.Dispatch.PollIntervalMS = 10
	cfgVal.Dispatch.ErrorRetryInterval = 1
	cfgVal.Dispatch.Timeout = 10
	cfgVal.Queue.LockTimeoutMS = 2000
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := os.MkdirAll(builder.cfg.Ingest.WatchDir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}
	return builder.cfg
}

// WithRetryLimit overrides the dispatcher retry limit.
func WithRetryLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.RetryLimit = limit
	}
}

// WithWorkers overrides the analysis and report worker counts.
func WithWorkers(analysis, report int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Workers = analysis
		b.cfg.Report.Workers = report
	}
}

// WithIngestFilter restricts ingestion to the given extensions and patterns.
func WithIngestFilter(extensions, patterns []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.Extensions = config.NormalizeExtensions(extensions)
		b.cfg.Ingest.Patterns = patterns
	}
}

// WithDetectorScript writes a shell script as the detector command. The
// script receives the staged file path as its only argument.
func WithDetectorScript(script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "detector")
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write detector stub: %v", err)
		}
		b.cfg.Analysis.DetectorCommand = target
		b.cfg.Analysis.DetectorArgs = []string{"{path}"}
		b.cfg.Analysis.NoNetwork = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
