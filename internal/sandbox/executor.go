package sandbox

import (
	"context"
	"fmt"
	"time"

	"quarantine/internal/services"
)

// Exit codes with a fixed meaning for detector commands (sysexits.h).
const (
	ExitDataErr     = 65
	ExitNoInput     = 66
	ExitUnavailable = 69
	ExitTempFail    = 75
	ExitCannotExec  = 126
	ExitNotFound    = 127
)

// Command describes what to run.
type Command struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
}

// Constraints describe the isolation applied to a run.
type Constraints struct {
	NoNetwork      bool
	DropPrivileges bool
	UID            int
	GID            int
	// ReadOnlyPaths are made visible to the command read-only.
	ReadOnlyPaths  []string
	MaxOutputBytes int
}

// Result captures a finished run. It is populated even when Run returns an
// error so callers can log stderr.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Executor runs a command in isolation.
type Executor interface {
	Run(ctx context.Context, cmd Command, constraints Constraints, timeout time.Duration) (Result, error)
	Name() string
	Available(ctx context.Context) error
}

// ClassifyExit maps a non-zero exit code to the services error taxonomy.
func ClassifyExit(code int, stderr []byte) error {
	if code == 0 {
		return nil
	}
	detail := lastLine(stderr)
	var marker error
	switch code {
	case ExitDataErr:
		marker = services.ErrRejected
	case ExitNoInput:
		marker = services.ErrUnsupported
	case ExitUnavailable, ExitCannotExec, ExitNotFound:
		marker = services.ErrUnavailable
	default:
		marker = services.ErrTransient
	}
	if detail == "" {
		return fmt.Errorf("%w: exit status %d", marker, code)
	}
	return fmt.Errorf("%w: exit status %d: %s", marker, code, detail)
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w: killed after %s", services.ErrTimeout, timeout)
}

func outputExceeded(limit int) error {
	return fmt.Errorf("%w: output exceeded %d bytes", services.ErrTransient, limit)
}

func lastLine(data []byte) string {
	end := len(data)
	for end > 0 && (data[end-1] == '\n' || data[end-1] == '\r' || data[end-1] == ' ') {
		end--
	}
	start := end
	for start > 0 && data[start-1] != '\n' {
		start--
	}
	line := string(data[start:end])
	const maxDetail = 240
	if len(line) > maxDetail {
		line = line[:maxDetail] + "..."
	}
	return line
}
