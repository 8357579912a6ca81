package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"quarantine/internal/services"
)

// runtimeFailure is the exit status docker and podman use for their own
// errors, as opposed to the contained command's.
const runtimeFailure = 125

// ContainerExecutor runs the command inside a throwaway container through a
// docker-compatible CLI.
type ContainerExecutor struct {
	Runtime string
	Image   string
	// PidsLimit caps processes inside the container; zero uses 256.
	PidsLimit int
}

// NewContainerExecutor returns a ContainerExecutor for runtime and image.
func NewContainerExecutor(runtime, image string) *ContainerExecutor {
	return &ContainerExecutor{Runtime: runtime, Image: image}
}

// Name implements Executor.
func (e *ContainerExecutor) Name() string { return "container:" + e.Runtime }

// Available implements Executor by asking the runtime for its server version.
func (e *ContainerExecutor) Available(ctx context.Context) error {
	if _, err := exec.LookPath(e.Runtime); err != nil {
		return fmt.Errorf("%w: container runtime %q not found: %v", services.ErrUnavailable, e.Runtime, err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(checkCtx, e.Runtime, "version", "--format", "{{.Server.Version}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s version: %v: %s", services.ErrUnavailable, e.Runtime, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Args returns the runtime arguments for one run under name.
func (e *ContainerExecutor) Args(name string, command Command, c Constraints) []string {
	pids := e.PidsLimit
	if pids <= 0 {
		pids = 256
	}
	args := []string{
		"run", "--rm", "-i",
		"--name", name,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--pids-limit", strconv.Itoa(pids),
	}
	if c.NoNetwork {
		args = append(args, "--network", "none")
	}
	if c.DropPrivileges {
		args = append(args, "--user", fmt.Sprintf("%d:%d", c.UID, c.GID))
	}
	for _, path := range c.ReadOnlyPaths {
		args = append(args, "-v", path+":"+path+":ro")
	}
	if command.Dir != "" {
		args = append(args, "-w", command.Dir)
	}
	for _, kv := range command.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, e.Image, command.Path)
	return append(args, command.Args...)
}

// Run implements Executor.
func (e *ContainerExecutor) Run(ctx context.Context, command Command, constraints Constraints, timeout time.Duration) (Result, error) {
	if command.Path == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: sandbox command path is empty", services.ErrConfiguration)
	}
	if strings.TrimSpace(e.Image) == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: container image is empty", services.ErrConfiguration)
	}
	name := "quarantine-" + uuid.NewString()
	args := e.Args(name, command, constraints)
	job := runSpec{
		build: func(runCtx context.Context) *exec.Cmd {
			cmd := exec.CommandContext(runCtx, e.Runtime, args...)
			cmd.Env = minimalEnv
			return cmd
		},
		kill: func(cmd *exec.Cmd) error {
			// The CLI client dying does not stop the container; kill it by name.
			killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = exec.CommandContext(killCtx, e.Runtime, "kill", name).Run()
			if cmd.Process != nil {
				return cmd.Process.Kill()
			}
			return nil
		},
		stdin: command.Stdin,
		limit: constraints.MaxOutputBytes,
	}
	result, err := execute(ctx, job, timeout)
	if result.ExitCode == runtimeFailure && errors.Is(err, services.ErrTransient) {
		return result, fmt.Errorf("%w: %s could not start container: %s", services.ErrUnavailable, e.Runtime, lastLine(result.Stderr))
	}
	return result, err
}
