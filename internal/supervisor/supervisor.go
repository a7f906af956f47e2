// Package supervisor starts, tracks and terminates the external processes
// of a regression run: a topology of peer daemons plus one dependent
// service.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"golang.org/x/sync/errgroup"

	"github.com/botcore/regtest/libs/log"
)

// Options controls process startup and shutdown timing.
type Options struct {
	// A process exiting within this window after start is a startup
	// failure.
	StartupGrace time.Duration

	// Time every process is given to exit after SIGTERM. TerminateAll
	// always waits this long.
	DrainInterval time.Duration

	// Time allowed to reap processes after SIGKILL.
	KillWait time.Duration

	// Copy process stdout and stderr into the log, one entry per line.
	StreamOutput bool
}

// PeerSpec describes the homogeneous peers of a topology.
type PeerSpec struct {
	Exec           string
	Args           Args
	DataDir        string
	ConnectAddress string
}

// ServiceSpec describes the service attached to a topology.
type ServiceSpec struct {
	Name string
	Exec string
	Args []string
	Dir  string
}

// Topology is a set of started peers plus, optionally, one service.
type Topology struct {
	mtx        sync.Mutex
	peers      []*Handle
	service    *Handle
	terminated bool
}

// Peers returns the peer handles, primary first.
func (t *Topology) Peers() []*Handle {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return append([]*Handle(nil), t.peers...)
}

// Service returns the attached service, or nil.
func (t *Topology) Service() *Handle {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.service
}

// Len returns the number of tracked processes.
func (t *Topology) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	n := len(t.peers)
	if t.service != nil {
		n++
	}
	return n
}

// claim marks the topology terminated and returns its handles in shutdown
// order, service first. Only the first call gets any handles.
func (t *Topology) claim() []*Handle {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.terminated {
		return nil
	}
	t.terminated = true

	var hs []*Handle
	if t.service != nil {
		hs = append(hs, t.service)
	}
	return append(hs, t.peers...)
}

// Supervisor launches and terminates processes.
type Supervisor struct {
	logger log.Logger
	opts   Options
}

// New returns a Supervisor.
func New(logger log.Logger, opts Options) *Supervisor {
	return &Supervisor{
		logger: logger,
		opts:   opts,
	}
}

// LaunchTopology starts peerCount peers one after another. If any of them
// fails to start, the ones already running are terminated and a
// *StartupError is returned; a partial topology is never returned.
func (s *Supervisor) LaunchTopology(ctx context.Context, spec PeerSpec, peerCount int) (*Topology, error) {
	if peerCount < 1 {
		return nil, fmt.Errorf("topology needs at least one peer, got %d", peerCount)
	}

	topo := &Topology{}
	for i := 0; i < peerCount; i++ {
		args, err := DeriveArgs(spec.Args, i, spec.DataDir, spec.ConnectAddress)
		if err != nil {
			s.abort(topo)
			return nil, &StartupError{Name: peerName(i), Exec: spec.Exec, Err: err}
		}

		h, err := s.start(ctx, peerName(i), RolePeer, i, spec.Exec, args.Render(), "")
		if err != nil {
			s.abort(topo)
			return nil, err
		}

		topo.mtx.Lock()
		topo.peers = append(topo.peers, h)
		topo.mtx.Unlock()
	}
	return topo, nil
}

// LaunchDependent starts the service and attaches it to topo, so that it is
// terminated together with the peers.
func (s *Supervisor) LaunchDependent(ctx context.Context, topo *Topology, spec ServiceSpec) (*Handle, error) {
	if topo == nil {
		return nil, errors.New("no topology to attach the service to")
	}
	topo.mtx.Lock()
	switch {
	case topo.terminated:
		topo.mtx.Unlock()
		return nil, errors.New("topology already terminated")
	case topo.service != nil:
		topo.mtx.Unlock()
		return nil, fmt.Errorf("topology already has service %s", topo.service.Name)
	}
	topo.mtx.Unlock()

	name := spec.Name
	if name == "" {
		name = "service"
	}
	h, err := s.start(ctx, name, RoleService, 0, spec.Exec, spec.Args, spec.Dir)
	if err != nil {
		return nil, err
	}

	topo.mtx.Lock()
	defer topo.mtx.Unlock()
	topo.service = h
	return h, nil
}

// TerminateAll sends SIGTERM to every process of topo, service first,
// waits the drain interval, then kills and reaps whatever is left. Only the
// first call on a topology does anything; later calls and calls on an empty
// topology return nil at once. Canceling ctx cuts the drain short.
func (s *Supervisor) TerminateAll(ctx context.Context, topo *Topology) error {
	if topo == nil {
		return nil
	}
	handles := topo.claim()
	if len(handles) == 0 {
		return nil
	}

	for _, h := range handles {
		if !h.Running() {
			continue
		}
		s.logger.Info("terminating process", "proc", h.Name, "pid", h.pid)
		if err := terminate(h); err != nil {
			s.logger.Error("failed to signal process", "proc", h.Name, "pid", h.pid, "err", err)
		}
	}

	drain := time.NewTimer(s.opts.DrainInterval)
	select {
	case <-drain.C:
	case <-ctx.Done():
		drain.Stop()
	}

	return s.reap(handles)
}

func (s *Supervisor) reap(handles []*Handle) error {
	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if h.Running() {
				s.logger.Info("killing process", "proc", h.Name, "pid", h.pid)
				if err := kill(h); err != nil {
					return fmt.Errorf("killing %s (pid %d): %w", h.Name, h.pid, err)
				}
			}

			timer := time.NewTimer(s.opts.KillWait)
			defer timer.Stop()
			select {
			case <-h.exited:
				return nil
			case <-timer.C:
				return fmt.Errorf("%s (pid %d) did not exit within %v", h.Name, h.pid, s.opts.KillWait)
			}
		})
	}
	return g.Wait()
}

func (s *Supervisor) abort(topo *Topology) {
	if err := s.TerminateAll(context.Background(), topo); err != nil {
		s.logger.Error("failed to terminate partial topology", "err", err)
	}
}

func (s *Supervisor) start(
	ctx context.Context,
	name string,
	role Role,
	index int,
	execName string,
	args []string,
	dir string,
) (*Handle, error) {
	path, err := exec.LookPath(execName)
	if err != nil {
		return nil, &StartupError{Name: name, Exec: execName, Err: err}
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	setProcAttr(cmd)

	logger := s.logger.With("proc", name)
	pumps := taskgroup.New(nil)

	var stdout, stderr io.Reader
	if s.opts.StreamOutput {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, &StartupError{Name: name, Exec: path, Err: err}
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return nil, &StartupError{Name: name, Exec: path, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, &StartupError{Name: name, Exec: path, Err: err}
	}

	h := &Handle{
		Name:    name,
		Role:    role,
		Index:   index,
		Exec:    path,
		Args:    args,
		Dir:     dir,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		exited:  make(chan struct{}),
	}
	logger.Info("process started", "pid", h.pid, "args", args)

	if s.opts.StreamOutput {
		pumps.Go(pumpTask(logger, "stdout", stdout))
		pumps.Go(pumpTask(logger, "stderr", stderr))
	}

	// All reads from the pipes must complete before Wait.
	go func() {
		if err := pumps.Wait(); err != nil {
			logger.Error("output pump failed", "err", err)
		}
		err := cmd.Wait()
		h.setExitErr(err)
		close(h.exited)
		uptime := time.Since(h.Started())
		if err != nil {
			logger.Info("process exited", "pid", h.pid, "uptime", uptime, "err", err)
		} else {
			logger.Info("process exited", "pid", h.pid, "uptime", uptime)
		}
	}()

	grace := time.NewTimer(s.opts.StartupGrace)
	defer grace.Stop()

	select {
	case <-h.exited:
		return nil, &StartupError{Name: name, Exec: path, Err: h.exitReason()}
	case <-ctx.Done():
		_ = kill(h)
		<-h.exited
		return nil, ctx.Err()
	case <-grace.C:
	}
	return h, nil
}

func pumpTask(logger log.Logger, stream string, r io.Reader) taskgroup.Task {
	return func() error {
		err := pump(logger, stream, r)
		if err != nil {
			// keep the pipe drained so the process never blocks on write
			_, _ = io.Copy(io.Discard, r)
		}
		return err
	}
}

func peerName(i int) string { return fmt.Sprintf("peer%d", i) }
