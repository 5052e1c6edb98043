//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the shell in its own process group so that
// terminating it also reaches the test processes it started.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		// Fall back to the shell alone.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

func killProcess(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
