//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"quarantine/internal/services"
)

func processAvailable() error {
	if _, err := os.Stat("/proc/self/ns/net"); err != nil {
		return fmt.Errorf("%w: network namespaces not supported: %v", services.ErrUnavailable, err)
	}
	return nil
}

// processAttributes translates constraints into clone flags and credentials.
// As root the child gets a fresh network namespace and switches to UID/GID.
// Unprivileged callers already lack elevated rights and need a user namespace
// mapping their own ids to create the network namespace.
func processAttributes(c Constraints) (*syscall.SysProcAttr, error) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
	root := unix.Geteuid() == 0

	if c.DropPrivileges && root {
		if c.UID <= 0 || c.GID <= 0 {
			return nil, fmt.Errorf("%w: refusing to run detector as uid %d gid %d", services.ErrConfiguration, c.UID, c.GID)
		}
		attr.Credential = &syscall.Credential{
			Uid:    uint32(c.UID),
			Gid:    uint32(c.GID),
			Groups: []uint32{},
		}
	}

	if c.NoNetwork {
		attr.Cloneflags = unix.CLONE_NEWNET
		if !root {
			uid, gid := unix.Getuid(), unix.Getgid()
			attr.Cloneflags |= unix.CLONE_NEWUSER
			attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
			attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
			attr.GidMappingsEnableSetgroups = false
		}
	}
	return attr, nil
}

// killProcessGroup kills the child and every descendant sharing its group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}
