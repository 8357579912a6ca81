package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	StagingDir string `toml:"staging_dir"`
	ReportsDir string `toml:"reports_dir"`
	LogDir     string `toml:"log_dir"`
}

// Ingest controls the directory watcher.
type Ingest struct {
	WatchDir         string   `toml:"watch_dir"`
	Recursive        bool     `toml:"recursive"`
	Extensions       []string `toml:"extensions"`
	Patterns         []string `toml:"patterns"`
	DebounceMS       int      `toml:"debounce_ms"`
	SettleIntervalMS int      `toml:"settle_interval_ms"`
	RescanInterval   int      `toml:"rescan_interval"`
	Unpack           Unpack   `toml:"unpack"`
}

// Unpack bounds the expansion of zip and tar archives found in the inbox.
type Unpack struct {
	Enabled     bool `toml:"enabled"`
	MaxMembers  int  `toml:"max_members"`
	MaxMemberMB int  `toml:"max_member_mb"`
	MaxTotalMB  int  `toml:"max_total_mb"`
}

// Dispatch controls the analysis worker pool.
type Dispatch struct {
	Workers            int `toml:"workers"`
	Timeout            int `toml:"timeout"`
	RetryLimit         int `toml:"retry_limit"`
	PollIntervalMS     int `toml:"poll_interval_ms"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Analysis describes how the detector is invoked inside the isolated executor.
type Analysis struct {
	Executor         string   `toml:"executor"`
	DetectorCommand  string   `toml:"detector_command"`
	DetectorArgs     []string `toml:"detector_args"`
	OutputFormat     string   `toml:"output_format"`
	NoNetwork        bool     `toml:"no_network"`
	RunAsUID         int      `toml:"run_as_uid"`
	RunAsGID         int      `toml:"run_as_gid"`
	MaxOutputBytes   int      `toml:"max_output_bytes"`
	ContainerRuntime string   `toml:"container_runtime"`
	ContainerImage   string   `toml:"container_image"`
}

// Report controls the report compiler.
type Report struct {
	Workers              int    `toml:"workers"`
	PolicyFile           string `toml:"policy_file"`
	SigningKey           string `toml:"signing_key"`
	SigningPassphraseEnv string `toml:"signing_passphrase_env"`
	VerifyKeyring        string `toml:"verify_keyring"`
}

// Queue contains queue store tuning.
type Queue struct {
	LockTimeoutMS int `toml:"lock_timeout_ms"`
}

// API contains the read-only status API settings. An empty bind disables it.
type API struct {
	Bind string `toml:"bind"`
	// Token, when set, is required as a bearer token on every request.
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for quarantine.
//
// Configuration sections by subsystem:
//   - Paths: state, staging, report and log directories
//   - Ingest: watched root, filters and settle timing
//   - Dispatch: analysis worker count, timeout and retry limit
//   - Analysis: detector command and executor constraints
//   - Report: report workers, risk policy and signing
//   - Queue: store lock tuning
//   - API: status API bind address
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Ingest   Ingest   `toml:"ingest"`
	Dispatch Dispatch `toml:"dispatch"`
	Analysis Analysis `toml:"analysis"`
	Report   Report   `toml:"report"`
	Queue    Queue    `toml:"queue"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quarantine.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
// The watched directory is external and never created here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.StagingDir, c.Paths.ReportsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueuePath returns the location of the persisted queue document.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.StateDir, "queue.json")
}

// JournalPath returns the location of the transition journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// DaemonLockPath returns the single-instance lock file used by the daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.StateDir, "quarantined.lock")
}

// DispatchTimeout returns the per-run sandbox timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.Timeout) * time.Second
}

// PollInterval returns how long idle workers wait before claiming again.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMS) * time.Millisecond
}

// ErrorRetryInterval returns how long workers back off after a store error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Dispatch.ErrorRetryInterval) * time.Second
}

// LockTimeout returns the maximum wait for the queue store lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Queue.LockTimeoutMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
