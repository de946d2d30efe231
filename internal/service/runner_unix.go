//go:build !windows

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultExecutable is the PowerShell used when a profile has no override.
const DefaultExecutable = "pwsh"

// configure puts the process in its own group and kills the whole group on
// cancellation, the interpreter may have started children sharing its output.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
