package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	for key, value := range map[string]string{
		"paths.state_dir":   c.Paths.StateDir,
		"paths.staging_dir": c.Paths.StagingDir,
		"paths.reports_dir": c.Paths.ReportsDir,
		"paths.log_dir":     c.Paths.LogDir,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateIngest() error {
	if strings.TrimSpace(c.Ingest.WatchDir) == "" {
		return errors.New("ingest.watch_dir must be set")
	}
	// Staged copies and reports landing under the watched root would be
	// ingested again.
	for key, dir := range map[string]string{
		"paths.staging_dir": c.Paths.StagingDir,
		"paths.reports_dir": c.Paths.ReportsDir,
		"paths.state_dir":   c.Paths.StateDir,
	} {
		if isWithin(c.Ingest.WatchDir, dir) {
			return fmt.Errorf("%s must not be inside ingest.watch_dir", key)
		}
	}
	for _, pattern := range c.Ingest.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("ingest.patterns: invalid glob %q: %w", pattern, err)
		}
	}
	if err := ensurePositiveMap(map[string]int{
		"ingest.debounce_ms":        c.Ingest.DebounceMS,
		"ingest.settle_interval_ms": c.Ingest.SettleIntervalMS,
	}); err != nil {
		return err
	}
	if c.Ingest.RescanInterval < 0 {
		return errors.New("ingest.rescan_interval must not be negative")
	}
	if !c.Ingest.Unpack.Enabled {
		return nil
	}
	if err := ensurePositiveMap(map[string]int{
		"ingest.unpack.max_members":   c.Ingest.Unpack.MaxMembers,
		"ingest.unpack.max_member_mb": c.Ingest.Unpack.MaxMemberMB,
		"ingest.unpack.max_total_mb":  c.Ingest.Unpack.MaxTotalMB,
	}); err != nil {
		return err
	}
	if c.Ingest.Unpack.MaxMemberMB > c.Ingest.Unpack.MaxTotalMB {
		return errors.New("ingest.unpack.max_member_mb must not exceed ingest.unpack.max_total_mb")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	return ensurePositiveMap(map[string]int{
		"dispatch.workers":              c.Dispatch.Workers,
		"dispatch.timeout":              c.Dispatch.Timeout,
		"dispatch.retry_limit":          c.Dispatch.RetryLimit,
		"dispatch.poll_interval_ms":     c.Dispatch.PollIntervalMS,
		"dispatch.error_retry_interval": c.Dispatch.ErrorRetryInterval,
		"report.workers":                c.Report.Workers,
		"queue.lock_timeout_ms":         c.Queue.LockTimeoutMS,
	})
}

func (c *Config) validateAnalysis() error {
	switch c.Analysis.Executor {
	case ExecutorProcess:
	case ExecutorContainer:
		if c.Analysis.ContainerImage == "" {
			return errors.New("analysis.container_image must be set when analysis.executor is container")
		}
	default:
		return fmt.Errorf("analysis.executor: unsupported value %q (want process or container)", c.Analysis.Executor)
	}
	switch c.Analysis.OutputFormat {
	case OutputJSON, OutputMsgpack:
	default:
		return fmt.Errorf("analysis.output_format: unsupported value %q (want json or msgpack)", c.Analysis.OutputFormat)
	}
	if c.Analysis.DetectorCommand == "" {
		return errors.New("analysis.detector_command must be set")
	}
	if c.Analysis.RunAsUID < 0 || c.Analysis.RunAsGID < 0 {
		return errors.New("analysis.run_as_uid and analysis.run_as_gid must not be negative")
	}
	if c.Analysis.MaxOutputBytes <= 0 {
		return errors.New("analysis.max_output_bytes must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func isWithin(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
