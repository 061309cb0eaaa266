//go:build !windows

package bootstrap

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// newConsoleSysProcAttr puts the child in its own process group so an
// interrupt reaches the service and its children without hitting us.
func newConsoleSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// interruptGroup sends SIGINT to the process group rooted at pid.
func interruptGroup(pid int32) error {
	return unix.Kill(-int(pid), unix.SIGINT)
}
