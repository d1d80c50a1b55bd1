//go:build !windows

package session

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup configures cmd to run in its own process group and sets up
// Cancel/WaitDelay so that killing a session takes down the entire group
// (including children the agent CLI spawned, like shells or curl) rather
// than only the direct child.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Send SIGKILL to the entire process group (negative PID).
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Give child processes a short grace period to drain after the group
	// is killed before forcibly closing their pipe file descriptors.
	cmd.WaitDelay = 3 * time.Second
}

// killProcess terminates the session's whole process group, falling back to
// killing the direct child if the group signal fails.
func killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
