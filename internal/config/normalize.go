package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeIngest(); err != nil {
		return err
	}
	c.normalizeAnalysis()
	if err := c.normalizeReport(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ReportsDir, err = expandPath(c.Paths.ReportsDir); err != nil {
		return fmt.Errorf("paths.reports_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIngest() error {
	if value, ok := os.LookupEnv("QUARANTINE_WATCH_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Ingest.WatchDir = value
	}
	var err error
	if c.Ingest.WatchDir, err = expandPath(strings.TrimSpace(c.Ingest.WatchDir)); err != nil {
		return fmt.Errorf("ingest.watch_dir: %w", err)
	}
	c.Ingest.Extensions = NormalizeExtensions(c.Ingest.Extensions)
	patterns := make([]string, 0, len(c.Ingest.Patterns))
	for _, pattern := range c.Ingest.Patterns {
		if trimmed := strings.TrimSpace(pattern); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	c.Ingest.Patterns = patterns
	return nil
}

// NormalizeExtensions lower-cases extensions and ensures a leading dot.
// Blank and duplicate values are dropped.
func NormalizeExtensions(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.Executor = strings.ToLower(strings.TrimSpace(c.Analysis.Executor))
	if c.Analysis.Executor == "" {
		c.Analysis.Executor = defaultExecutor
	}
	c.Analysis.OutputFormat = strings.ToLower(strings.TrimSpace(c.Analysis.OutputFormat))
	if c.Analysis.OutputFormat == "" {
		c.Analysis.OutputFormat = defaultOutputFormat
	}
	c.Analysis.DetectorCommand = strings.TrimSpace(c.Analysis.DetectorCommand)
	c.Analysis.ContainerRuntime = strings.TrimSpace(c.Analysis.ContainerRuntime)
	if c.Analysis.ContainerRuntime == "" {
		c.Analysis.ContainerRuntime = defaultContainerRuntime
	}
	c.Analysis.ContainerImage = strings.TrimSpace(c.Analysis.ContainerImage)
}

func (c *Config) normalizeReport() error {
	var err error
	if c.Report.PolicyFile, err = expandPath(strings.TrimSpace(c.Report.PolicyFile)); err != nil {
		return fmt.Errorf("report.policy_file: %w", err)
	}
	if c.Report.SigningKey, err = expandPath(strings.TrimSpace(c.Report.SigningKey)); err != nil {
		return fmt.Errorf("report.signing_key: %w", err)
	}
	if c.Report.VerifyKeyring, err = expandPath(strings.TrimSpace(c.Report.VerifyKeyring)); err != nil {
		return fmt.Errorf("report.verify_keyring: %w", err)
	}
	c.Report.SigningPassphraseEnv = strings.TrimSpace(c.Report.SigningPassphraseEnv)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if value, ok := os.LookupEnv("QUARANTINE_API_TOKEN"); ok && strings.TrimSpace(value) != "" && c.API.Token == "" {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}
