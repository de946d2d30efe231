//go:build windows

package service

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// DefaultExecutable is the PowerShell used when a profile has no override.
const DefaultExecutable = "powershell.exe"

// configure hides the console window. Cancellation uses the default
// exec.Cmd behaviour, which terminates the process but not its children.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
