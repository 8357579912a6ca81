package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"quarantine/internal/services"
)

// ProcessExecutor runs the command as a direct child process isolated with
// kernel primitives: its own process group, a private network namespace and
// an unprivileged identity.
type ProcessExecutor struct{}

// NewProcessExecutor returns a ProcessExecutor.
func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{}
}

// Name implements Executor.
func (*ProcessExecutor) Name() string { return "process" }

// Available implements Executor.
func (*ProcessExecutor) Available(ctx context.Context) error {
	return processAvailable()
}

// Run implements Executor.
func (*ProcessExecutor) Run(ctx context.Context, command Command, constraints Constraints, timeout time.Duration) (Result, error) {
	if command.Path == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: sandbox command path is empty", services.ErrConfiguration)
	}
	attr, err := processAttributes(constraints)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	job := runSpec{
		build: func(runCtx context.Context) *exec.Cmd {
			cmd := exec.CommandContext(runCtx, command.Path, command.Args...)
			cmd.Dir = command.Dir
			if cmd.Dir == "" {
				cmd.Dir = "/"
			}
			cmd.Env = append(append([]string{}, minimalEnv...), command.Env...)
			cmd.SysProcAttr = attr
			return cmd
		},
		kill:  killProcessGroup,
		stdin: command.Stdin,
		limit: constraints.MaxOutputBytes,
	}
	return execute(ctx, job, timeout)
}
