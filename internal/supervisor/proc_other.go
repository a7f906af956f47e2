//go:build windows
// +build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttr(*exec.Cmd) {}

// There are no process groups or SIGTERM here; both steps kill the
// process outright.
func terminate(h *Handle) error { return kill(h) }

func kill(h *Handle) error {
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
