package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"quarantine/internal/services"
)

// killGrace bounds how long Wait lingers for pipes held open by descendants
// after the child was killed.
const killGrace = 2 * time.Second

// minimalEnv is the environment every sandboxed command starts from.
var minimalEnv = []string{
	"PATH=/usr/local/bin:/usr/bin:/bin",
	"LANG=C.UTF-8",
	"HOME=/nonexistent",
}

type runSpec struct {
	build func(ctx context.Context) *exec.Cmd
	kill  func(cmd *exec.Cmd) error
	stdin []byte
	limit int
}

// execute starts the command built by job, enforces timeout through kill and
// classifies the outcome.
func execute(ctx context.Context, job runSpec, timeout time.Duration) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("sandbox run canceled: %w", err)
	}

	cmd := job.build(runCtx)
	stdout := newCappedBuffer(job.limit)
	stderr := newCappedBuffer(job.limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(job.stdin) > 0 {
		cmd.Stdin = bytes.NewReader(job.stdin)
	}
	if job.kill != nil {
		cmd.Cancel = func() error { return job.kill(cmd) }
	}
	cmd.WaitDelay = killGrace

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Duration: time.Since(started)},
			fmt.Errorf("%w: start %s: %v", services.ErrUnavailable, cmd.Path, err)
	}
	waitErr := cmd.Wait()

	result := Result{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("sandbox run canceled: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, timeoutError(timeout)
	}
	if stdout.Exceeded() || stderr.Exceeded() {
		return result, outputExceeded(job.limit)
	}
	if waitErr != nil {
		if result.ExitCode == 0 && errors.Is(waitErr, exec.ErrWaitDelay) {
			return result, nil
		}
		if result.ExitCode > 0 {
			return result, ClassifyExit(result.ExitCode, result.Stderr)
		}
		return result, fmt.Errorf("%w: %v", services.ErrTransient, waitErr)
	}
	return result, nil
}
