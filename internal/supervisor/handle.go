package supervisor

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/botcore/regtest/libs/log"
)

// Role distinguishes the peers of a topology from the service attached to
// it.
type Role string

const (
	RolePeer    Role = "peer"
	RoleService Role = "service"
)

// Upper bound on a single line of process output. Longer lines are cut.
const maxLineSize = 64 * 1024

// Handle is one spawned process. It is owned by the Supervisor that
// started it.
type Handle struct {
	Name  string
	Role  Role
	Index int
	Exec  string
	Args  []string
	Dir   string

	cmd     *exec.Cmd
	pid     int
	started time.Time

	exited  chan struct{}
	mtx     sync.Mutex
	waitErr error
}

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// Started returns when the process was started.
func (h *Handle) Started() time.Time { return h.started }

// Exited is closed once the process has exited and been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Running reports whether the process is still alive.
func (h *Handle) Running() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of waiting on the process. It is only
// meaningful once Exited is closed.
func (h *Handle) ExitErr() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.waitErr
}

func (h *Handle) setExitErr(err error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.waitErr = err
}

func (h *Handle) exitReason() error {
	err := h.ExitErr()
	if err == nil {
		return errors.New("exited with status 0")
	}
	return err
}

// pump copies r into logger one line at a time. Lines longer than
// maxLineSize are cut; the rest of such a line is skipped.
func pump(logger log.Logger, stream string, r io.Reader) error {
	br := bufio.NewReaderSize(r, maxLineSize)
	for {
		line, isPrefix, err := br.ReadLine()
		if len(line) > 0 || err == nil {
			logger.Info(string(line), "stream", stream)
		}
		for isPrefix && err == nil {
			_, isPrefix, err = br.ReadLine()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
