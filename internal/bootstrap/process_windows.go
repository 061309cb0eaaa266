//go:build windows

package bootstrap

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// newConsoleSysProcAttr gives the child its own console window and process
// group. The service stays visible to the operator, and the group is what
// makes a targeted CTRL_BREAK possible at all.
func newConsoleSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_CONSOLE | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// interruptGroup delivers CTRL_BREAK to the process group rooted at pid, the
// closest Windows gets to a polite SIGINT.
func interruptGroup(pid int32) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}
