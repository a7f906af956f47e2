//go:build !windows
// +build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr runs the child in its own process group so that it and
// anything it forks can be signalled together.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminate(h *Handle) error { return signalGroup(h.pid, unix.SIGTERM) }

func kill(h *Handle) error { return signalGroup(h.pid, unix.SIGKILL) }
