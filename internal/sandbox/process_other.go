//go:build !linux

package sandbox

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"quarantine/internal/services"
)

func processAvailable() error {
	return fmt.Errorf("%w: process isolation requires linux; use the container executor", services.ErrUnavailable)
}

func processAttributes(c Constraints) (*syscall.SysProcAttr, error) {
	if c.NoNetwork || c.DropPrivileges {
		return nil, processAvailable()
	}
	return &syscall.SysProcAttr{Setpgid: true}, nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}
