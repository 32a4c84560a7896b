//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		// Negative PGID targets the launched command and everything it spawned.
		return syscall.Kill(-pgid, sig)
	}
	return cmd.Process.Signal(sig)
}

// KillGroup is a Cmd.Cancel replacement that kills the whole process group.
func KillGroup(cmd *exec.Cmd) func() error {
	return func() error {
		if cmd.Process == nil {
			return nil
		}
		return signalProcessGroup(cmd, syscall.SIGKILL)
	}
}

// ConfigureGroup places cmd in its own process group.
func ConfigureGroup(cmd *exec.Cmd) {
	configureProcessGroup(cmd)
}
