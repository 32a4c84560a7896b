//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	return cmd.Process.Kill()
}

// KillGroup is a Cmd.Cancel replacement that kills the process.
func KillGroup(cmd *exec.Cmd) func() error {
	return func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

// ConfigureGroup is a no-op on Windows.
func ConfigureGroup(cmd *exec.Cmd) {}
