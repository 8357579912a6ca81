package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"quarantine/internal/config"
	"quarantine/internal/report"
	"quarantine/internal/sandbox"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
func CheckDirectoryReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, ok string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, ok)}
}

// CheckExecutor verifies the isolated executor can run detectors on this host.
func CheckExecutor(ctx context.Context, executor sandbox.Executor) Result {
	const name = "Isolated executor"
	if executor == nil {
		return Result{Name: name, Detail: "not configured"}
	}
	if err := executor.Available(ctx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", executor.Name(), err)}
	}
	return Result{Name: name, Passed: true, Detail: executor.Name()}
}

// CheckDetectorCommand verifies the detector binary resolves on PATH. The
// container executor resolves it inside the image, so the check is advisory
// there.
func CheckDetectorCommand(cfg *config.Config) Result {
	const name = "Detector command"
	command := cfg.Analysis.DetectorCommand
	if command == "" {
		return Result{Name: name, Detail: "analysis.detector_command is empty"}
	}
	if cfg.Analysis.Executor == config.ExecutorContainer {
		return Result{Name: name, Passed: true, Optional: true,
			Detail: fmt.Sprintf("%s (resolved inside %s)", command, cfg.Analysis.ContainerImage)}
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", command, err)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckStagingTraversal verifies that the unprivileged detector identity can
// reach staged files. It applies only when the process executor drops
// privileges, which happens when running as root; ok is false otherwise.
func CheckStagingTraversal(cfg *config.Config) (Result, bool) {
	const name = "Staging traversal"
	if cfg.Analysis.Executor != config.ExecutorProcess || cfg.Analysis.RunAsUID <= 0 || unix.Geteuid() != 0 {
		return Result{}, false
	}
	dir := filepath.Clean(cfg.Paths.StagingDir)
	for {
		info, err := os.Stat(dir)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", dir, err)}, true
		}
		if info.Mode().Perm()&0o001 == 0 {
			return Result{Name: name, Detail: fmt.Sprintf("%s is not traversable by uid %d (chmod o+x)", dir, cfg.Analysis.RunAsUID)}, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("uid %d can reach %s", cfg.Analysis.RunAsUID, cfg.Paths.StagingDir)}, true
}

// CheckPolicy verifies the risk policy loads.
func CheckPolicy(cfg *config.Config) Result {
	const name = "Risk policy"
	if _, err := report.LoadPolicy(cfg.Report.PolicyFile); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if cfg.Report.PolicyFile == "" {
		return Result{Name: name, Passed: true, Detail: "built-in defaults"}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Report.PolicyFile}
}

// CheckSigningKey verifies the report signing key decrypts.
func CheckSigningKey(cfg *config.Config) Result {
	const name = "Signing key"
	var passphrase []byte
	if env := cfg.Report.SigningPassphraseEnv; env != "" {
		passphrase = []byte(os.Getenv(env))
	}
	signer, err := report.LoadSigner(cfg.Report.SigningKey, passphrase)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", cfg.Report.SigningKey, signer.Fingerprint())}
}
