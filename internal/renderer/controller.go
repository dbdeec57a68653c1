package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/deskpaper/internal/clock"
	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/platform"
)

const readyPollInterval = 100 * time.Millisecond

// Options configures a Controller. Zero durations select the defaults.
type Options struct {
	Renderers      map[string]config.RendererConfig
	Finder         platform.WindowFinder
	Clock          clock.Clock
	LaunchTimeout  time.Duration
	TerminateGrace time.Duration
	// RuntimeDir holds the per-instance renderer sockets.
	RuntimeDir string
	Logger     *slog.Logger
}

// Process is a running renderer. The controller owns it; callers only read
// the exported identity fields.
type Process struct {
	InstanceID string
	PID        int
	// Window is the renderer's paintable window, known once Start returns.
	Window platform.WindowID
	IPC    bool

	cmd    *exec.Cmd
	ch     *channel
	stdout *lineLogger
	stderr *lineLogger
	logger *slog.Logger
	done   chan struct{}

	mu        sync.Mutex
	state     State
	bounds    platform.Rect
	layout    LayoutMode
	requested bool
	// announced is set once Start hands the process out; only announced
	// processes are reported on Exits.
	announced bool
	exitCode  int
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Controller launches and controls renderer processes. Every renderer runs
// in its own process group so helpers it spawns are signalled with it.
type Controller struct {
	finder     platform.WindowFinder
	clock      clock.Clock
	runtimeDir string
	logger     *slog.Logger

	mu            sync.Mutex
	renderers     map[string]config.RendererConfig
	launchTimeout time.Duration
	grace         time.Duration
	procs         map[string]*Process

	exits     chan Exit
	closed    chan struct{}
	closeOnce sync.Once
}

func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 10 * time.Second
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		finder:        opts.Finder,
		clock:         opts.Clock,
		runtimeDir:    opts.RuntimeDir,
		logger:        opts.Logger,
		renderers:     opts.Renderers,
		launchTimeout: opts.LaunchTimeout,
		grace:         opts.TerminateGrace,
		procs:         make(map[string]*Process),
		exits:         make(chan Exit, 32),
		closed:        make(chan struct{}),
	}
}

// Configure swaps renderer templates and timeouts. Running processes keep
// the command they were started with.
func (c *Controller) Configure(renderers map[string]config.RendererConfig, launchTimeout, grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderers = renderers
	if launchTimeout > 0 {
		c.launchTimeout = launchTimeout
	}
	if grace > 0 {
		c.grace = grace
	}
}

// Supports reports whether a renderer command is configured for t.
func (c *Controller) Supports(t Type) bool {
	_, ok := c.renderer(t)
	return ok
}

func (c *Controller) renderer(t Type) (config.RendererConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.renderers[string(t)]
	if !ok || len(r.Command) == 0 {
		return config.RendererConfig{}, false
	}
	return r, true
}

func (c *Controller) timeouts() (launch, grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launchTimeout, c.grace
}

// Exits reports one Exit per process returned by Start.
func (c *Controller) Exits() <-chan Exit {
	return c.exits
}

// Close stops exit delivery. Processes are not touched.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Start launches the renderer for spec and waits until it is ready: an IPC
// renderer sends a ready message carrying its window, any other renderer is
// ready once a window owned by its PID exists. Every failure wraps
// ErrLaunchFailure and leaves no process behind.
func (c *Controller) Start(ctx context.Context, spec Spec) (*Process, error) {
	rc, ok := c.renderer(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no renderer configured for type %q", ErrLaunchFailure, spec.Type)
	}
	if spec.Layout == "" {
		spec.Layout = LayoutFill
	}

	c.mu.Lock()
	_, exists := c.procs[spec.InstanceID]
	c.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: instance %s already has a process", ErrLaunchFailure, spec.InstanceID)
	}

	logger := c.logger.With("instance", spec.InstanceID, "type", string(spec.Type))

	var (
		ch     *channel
		socket string
		err    error
	)
	if rc.IPC {
		socket = filepath.Join(c.runtimeDir, spec.InstanceID+".sock")
		ch, err = listenChannel(socket, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
		}
	}

	args, err := expandCommand(rc.Command, templateVars(spec, socket))
	if err != nil {
		if ch != nil {
			ch.close()
		}
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}

	_, grace := c.timeouts()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = buildEnv(rc, spec, socket)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = grace

	p := &Process{
		InstanceID: spec.InstanceID,
		IPC:        rc.IPC,
		cmd:        cmd,
		ch:         ch,
		stdout:     newLineLogger(logger, "stdout"),
		stderr:     newLineLogger(logger, "stderr"),
		logger:     logger,
		done:       make(chan struct{}),
		state:      Starting,
		bounds:     spec.Bounds,
		layout:     spec.Layout,
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		if ch != nil {
			ch.close()
		}
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	p.PID = cmd.Process.Pid

	c.mu.Lock()
	c.procs[spec.InstanceID] = p
	c.mu.Unlock()
	go c.wait(p)

	logger.Info("renderer started", "pid", p.PID, "command", args[0], "ipc", rc.IPC)

	window, err := c.awaitReady(ctx, p)
	if err != nil {
		p.mu.Lock()
		p.requested = true
		p.mu.Unlock()
		signalGroup(p, unix.SIGKILL)
		select {
		case <-p.done:
		case <-c.clock.After(grace):
		}
		logger.Warn("renderer launch failed", "pid", p.PID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}

	p.mu.Lock()
	p.Window = window
	exited := p.state != Starting
	if !exited {
		p.state = Running
		p.announced = true
	}
	p.mu.Unlock()
	if exited {
		<-p.done
		return nil, fmt.Errorf("%w: renderer exited during startup (code %d)", ErrLaunchFailure, p.code())
	}

	logger.Info("renderer ready", "pid", p.PID, "window", fmt.Sprintf("0x%x", uint32(window)))
	return p, nil
}

func (c *Controller) awaitReady(ctx context.Context, p *Process) (platform.WindowID, error) {
	launch, _ := c.timeouts()
	timeout := c.clock.After(launch)

	if p.IPC {
		select {
		case w := <-p.ch.ready:
			return w, nil
		case <-p.done:
			return 0, fmt.Errorf("renderer exited before ready (code %d)", p.code())
		case <-timeout:
			return 0, fmt.Errorf("no ready message within %s", launch)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if c.finder == nil {
		return 0, errors.New("no window finder for non-IPC renderer")
	}
	ticker := c.clock.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if w, ok, err := c.finder.WindowForPID(p.PID); err == nil && ok {
			return w, nil
		}
		select {
		case <-ticker.C:
		case <-p.done:
			return 0, fmt.Errorf("renderer exited before creating a window (code %d)", p.code())
		case <-timeout:
			return 0, fmt.Errorf("no window for pid %d within %s", p.PID, launch)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (c *Controller) wait(p *Process) {
	err := p.cmd.Wait()
	p.stdout.Flush()
	p.stderr.Flush()

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
		err = nil
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	p.exitCode = code
	requested := p.requested
	announced := p.announced
	if requested {
		p.state = Stopped
	} else {
		p.state = Crashed
	}
	p.mu.Unlock()

	// Free the instance ID before waking waiters, so a relaunch triggered
	// by this exit can reuse it.
	c.mu.Lock()
	if c.procs[p.InstanceID] == p {
		delete(c.procs, p.InstanceID)
	}
	c.mu.Unlock()

	if p.ch != nil {
		p.ch.close()
	}
	close(p.done)

	if !announced {
		return
	}
	if requested {
		p.logger.Info("renderer stopped", "pid", p.PID, "code", code)
	} else {
		p.logger.Warn("renderer exited unexpectedly", "pid", p.PID, "code", code)
	}

	select {
	case c.exits <- Exit{InstanceID: p.InstanceID, PID: p.PID, ExitCode: code, Requested: requested, Err: err}:
	case <-c.closed:
	}
}

func (p *Process) code() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (c *Controller) lookup(id string) (*Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	return p, nil
}

// State returns the state of an instance's process.
func (c *Controller) State(id string) (State, bool) {
	p, err := c.lookup(id)
	if err != nil {
		return Stopped, false
	}
	return p.State(), true
}

// Pause suspends rendering. Pausing a paused process is a no-op.
func (c *Controller) Pause(id string) error {
	return c.setRunning(id, false)
}

// Resume continues rendering. Resuming a running process is a no-op.
func (c *Controller) Resume(id string) error {
	return c.setRunning(id, true)
}

func (c *Controller) setRunning(id string, run bool) error {
	p, err := c.lookup(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case run && p.state == Running, !run && p.state == Paused:
		return nil
	case p.state != Running && p.state != Paused:
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, p.state)
	}

	if p.IPC {
		msg := Message{Type: MsgPause}
		if run {
			msg.Type = MsgPlay
		}
		if err := p.ch.send(msg); err != nil {
			return fmt.Errorf("send %s to %s: %w", msg.Type, id, err)
		}
	} else {
		sig := unix.SIGSTOP
		if run {
			sig = unix.SIGCONT
		}
		if err := signalGroup(p, sig); err != nil {
			return fmt.Errorf("signal %s: %w", id, err)
		}
	}

	if run {
		p.state = Running
	} else {
		p.state = Paused
	}
	return nil
}

// Resize tells an IPC renderer its new surface size. Other renderers are
// resized with their host window.
func (c *Controller) Resize(id string, bounds platform.Rect) error {
	p, err := c.lookup(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bounds == bounds {
		return nil
	}
	p.bounds = bounds
	if p.IPC {
		b := bounds
		return p.ch.send(Message{Type: MsgResize, Bounds: &b})
	}
	return nil
}

// SetLayout changes the content layout of an IPC renderer.
func (c *Controller) SetLayout(id string, layout LayoutMode) error {
	p, err := c.lookup(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.layout == layout {
		return nil
	}
	p.layout = layout
	if p.IPC {
		return p.ch.send(Message{Type: MsgLayout, Layout: layout})
	}
	return nil
}

// Terminate asks the renderer to exit and force kills its process group
// once the grace period passes. Terminating an unknown instance succeeds.
func (c *Controller) Terminate(ctx context.Context, id string) error {
	p, err := c.lookup(id)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	p.requested = true
	if p.state.Alive() {
		p.state = Terminating
	}
	p.mu.Unlock()

	if p.IPC {
		p.ch.send(Message{Type: MsgTerminate})
	}
	signalGroup(p, unix.SIGTERM)
	signalGroup(p, unix.SIGCONT)

	_, grace := c.timeouts()
	select {
	case <-p.done:
		return nil
	case <-c.clock.After(grace):
		p.logger.Warn("renderer ignored SIGTERM, killing", "pid", p.PID, "grace", grace)
	case <-ctx.Done():
	}

	signalGroup(p, unix.SIGKILL)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TerminateAll terminates every process concurrently.
func (c *Controller) TerminateAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.procs))
	for id := range c.procs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Terminate(ctx, id)
		}(id)
	}
	wg.Wait()
}

func signalGroup(p *Process, sig unix.Signal) error {
	err := unix.Kill(-p.PID, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
