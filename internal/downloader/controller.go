package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

// ErrAlreadyRunning is returned by Run while a previous Run is still active.
var ErrAlreadyRunning = errors.New("downloader is already running")

// State is the lifecycle state of the Controller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}

	return "unknown"
}

type handle struct {
	cancel context.CancelFunc
	proc   fetch.Process
}

// Controller owns the stop flag and the cancellation handles of running
// tasks. Stopping cancels every handle's context and kills its process.
type Controller struct {
	mu        sync.Mutex
	state     State
	stopping  atomic.Bool
	cancelRun context.CancelFunc
	done      chan struct{}
	handles   map[string]*handle
}

func newController() *Controller {
	return &Controller{handles: make(map[string]*handle)}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Stopping reports whether a stop was requested for the current run.
func (c *Controller) Stopping() bool {
	return c.stopping.Load()
}

// begin moves to Running and returns the channel closed by finish.
func (c *Controller) begin(cancel context.CancelFunc) (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning || c.state == StateStopping {
		return nil, ErrAlreadyRunning
	}

	c.state = StateRunning
	c.stopping.Store(false)
	c.cancelRun = cancel
	c.done = make(chan struct{})

	return c.done, nil
}

func (c *Controller) finish(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopping {
		c.state = StateStopped
	} else {
		c.state = StateIdle
	}

	c.cancelRun = nil
	close(done)
}

// register adds the cancellation handle of a task. A task registered after a
// stop request is cancelled right away.
func (c *Controller) register(taskID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping.Load() {
		cancel()
	}

	c.handles[taskID] = &handle{cancel: cancel}
}

// attach links the running process of a task to its handle. The process is
// killed immediately when a stop was already requested.
func (c *Controller) attach(ctx context.Context, taskID string, proc fetch.Process) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[taskID]
	if !ok {
		return
	}

	h.proc = proc

	if c.stopping.Load() {
		kill(ctx, taskID, proc)
	}
}

// detach forgets the process of a task once it exited, so a later stop does
// not signal a reaped process group.
func (c *Controller) detach(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[taskID]; ok {
		h.proc = nil
	}
}

// reset returns a stopped controller to Idle so the next stop request is
// honoured again.
func (c *Controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		c.state = StateIdle
	}
}

func (c *Controller) deregister(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handles, taskID)
}

// requestStop flips the stop flag and cancels everything in flight. ok is
// false when a stop was already requested. running is false when no run was
// active; done is only valid when running.
func (c *Controller) requestStop(ctx context.Context) (done <-chan struct{}, running, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStopping, StateStopped:
		return nil, false, false
	case StateIdle:
		c.state = StateStopped

		return nil, false, true
	case StateRunning:
	}

	c.state = StateStopping
	c.stopping.Store(true)

	if c.cancelRun != nil {
		c.cancelRun()
	}

	for id, h := range c.handles {
		h.cancel()

		if h.proc != nil {
			kill(ctx, id, h.proc)
		}
	}

	return c.done, true, true
}

func kill(ctx context.Context, taskID string, proc fetch.Process) {
	if err := proc.Kill(); err != nil {
		logctx.LoggerFromContext(ctx).Debug("failed to kill fetch process",
			"task_id", taskID, "pid", proc.Pid(), "err", err)
	}
}
