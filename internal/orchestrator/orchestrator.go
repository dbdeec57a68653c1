// Package orchestrator owns the display to wallpaper assignment and drives
// the renderer controller, surface binder and policy engine toward it.
//
// All mutations happen on the goroutine running Run. Public methods post
// closures to it and readers use the snapshot published after each step.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

type Options struct {
	Displays  Displays
	Renderers Renderers
	Surfaces  Surfaces
	Policy    Policy
	Settings  Settings
	Clock     clock.Clock
	Logger    *slog.Logger
}

type Orchestrator struct {
	displays  Displays
	renderers Renderers
	surfaces  Surfaces
	policy    Policy
	clock     clock.Clock
	logger    *slog.Logger

	settings atomic.Pointer[Settings]
	snapshot atomic.Pointer[State]

	cmds      chan func()
	reconcile chan struct{}
	quit      chan struct{}
	stopped   chan struct{}

	subMu  sync.Mutex
	subs   map[chan Event]struct{}
	events <-chan Event

	// Owned by the worker goroutine.
	ctx         context.Context
	bindings    map[display.ID]*instance
	gens        map[display.ID]uint64
	nextID      uint64
	launches    sync.WaitGroup
	stopping    bool
	shutdownErr error
}

// instance is the worker's record of a wallpaper assignment.
type instance struct {
	Instance

	proc          *renderer.Process
	bounds        platform.Rect
	attachPending bool

	cancel     context.CancelFunc
	launchDone chan struct{}

	crashStreak int
	lastCrash   time.Time
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		displays:  opts.Displays,
		renderers: opts.Renderers,
		surfaces:  opts.Surfaces,
		policy:    opts.Policy,
		clock:     opts.Clock,
		logger:    opts.Logger,
		cmds:      make(chan func()),
		reconcile: make(chan struct{}, 1),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		subs:      make(map[chan Event]struct{}),
		ctx:       context.Background(),
		bindings:  make(map[display.ID]*instance),
		gens:      make(map[display.ID]uint64),
	}
	s := opts.Settings.withDefaults()
	o.settings.Store(&s)
	o.snapshot.Store(&State{Updated: o.clock.Now()})
	o.events, _ = o.Subscribe()
	return o
}

// Run is the worker loop. It returns after Shutdown completes, or shuts
// down itself when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	o.publish()
	o.logger.Info("orchestrator started")

	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), o.currentSettings().ShutdownTimeout)
			o.shutdown(sctx)
			cancel()
			return nil
		case fn := <-o.cmds:
			fn()
		case ev := <-o.displays.Events():
			o.onDisplayEvent(ev)
		case ex := <-o.renderers.Exits():
			o.onExit(ex)
		case <-o.policy.Changes():
			o.reconcileAll()
		case <-o.reconcile:
			o.reconcileAll()
		case ev := <-o.surfaces.Events():
			o.emit(Event{
				Kind:       AttachDegraded,
				InstanceID: InstanceID(ev.InstanceID),
				DisplayID:  ev.DisplayID,
				Error:      fmt.Sprintf("attach failed %d times: %v", ev.Attempts, ev.Err),
			})
		}

		if o.stopping {
			return nil
		}
		o.publish()
	}
}

// Snapshot returns the state published after the last change. It never
// waits for the worker.
func (o *Orchestrator) Snapshot() State {
	return *o.snapshot.Load()
}

// Events returns the default event subscription.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Subscribe adds an event listener. Events are dropped for a listener that
// falls behind. The channel is closed by cancel or on shutdown.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	o.subMu.Lock()
	select {
	case <-o.stopped:
		close(ch)
		o.subMu.Unlock()
		return ch, func() {}
	default:
	}
	o.subs[ch] = struct{}{}
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
	}
}

// Configure applies reloaded settings and schedules a reconciliation pass.
func (o *Orchestrator) Configure(s Settings) {
	s = s.withDefaults()
	o.settings.Store(&s)
	o.Reconcile()
}

// Reconcile schedules a full reconciliation pass without waiting for it.
func (o *Orchestrator) Reconcile() {
	select {
	case o.reconcile <- struct{}{}:
	default:
	}
}

// SetWallpaper validates the request, replaces any wallpaper on the display
// and starts the renderer in the background. A launch failure is reported
// with a LaunchFailed event.
func (o *Orchestrator) SetWallpaper(ctx context.Context, displayID display.ID, req Request) (InstanceID, error) {
	var (
		id  InstanceID
		err error
	)
	if perr := o.do(ctx, func() { id, err = o.setWallpaper(displayID, req) }); perr != nil {
		return "", perr
	}
	return id, err
}

// RemoveWallpaper stops the wallpaper on a display. Removing from a display
// without one succeeds.
func (o *Orchestrator) RemoveWallpaper(ctx context.Context, displayID display.ID) error {
	return o.do(ctx, func() { o.removeWallpaper(displayID) })
}

// PauseAll pauses every instance until ResumeAll.
func (o *Orchestrator) PauseAll(ctx context.Context) error {
	return o.do(ctx, func() {
		o.policy.SetPauseAll(true)
		o.reconcileAll()
	})
}

func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	return o.do(ctx, func() {
		o.policy.SetPauseAll(false)
		o.reconcileAll()
	})
}

// SetOverride replaces the per-instance override of the wallpaper on a
// display.
func (o *Orchestrator) SetOverride(ctx context.Context, displayID display.ID, ov policy.Override) error {
	var err error
	if perr := o.do(ctx, func() {
		inst := o.bindings[displayID]
		if inst == nil {
			err = fmt.Errorf("%w: no wallpaper on %s", ErrInvalidDisplay, displayID)
			return
		}
		o.policy.SetOverride(string(inst.ID), ov)
		o.reconcileInstance(inst)
	}); perr != nil {
		return perr
	}
	return err
}

// SetLayout changes the layout of the wallpaper on a display without
// restarting its renderer.
func (o *Orchestrator) SetLayout(ctx context.Context, displayID display.ID, layout renderer.LayoutMode) error {
	layout, err := renderer.ParseLayout(string(layout))
	if err != nil {
		return err
	}
	if perr := o.do(ctx, func() {
		inst := o.bindings[displayID]
		if inst == nil {
			err = fmt.Errorf("%w: no wallpaper on %s", ErrInvalidDisplay, displayID)
			return
		}
		inst.Layout = layout
		if inst.proc != nil {
			err = o.renderers.SetLayout(string(inst.ID), layout)
		}
	}); perr != nil {
		return perr
	}
	return err
}

// Shutdown terminates every renderer and releases every surface. It
// returns once everything is released or the shutdown timeout elapses, in
// which case the remaining renderers are killed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.currentSettings().ShutdownTimeout)
	defer cancel()

	select {
	case o.cmds <- func() { o.shutdown(ctx) }:
	case <-o.quit:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-o.stopped
	return o.shutdownErr
}

// Done is closed once shutdown has completed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.stopped
}

func (o *Orchestrator) currentSettings() Settings {
	return *o.settings.Load()
}

// do runs fn on the worker and waits for it to finish.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.quit:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn for the worker. It reports false once shutdown started.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.cmds <- fn:
		return true
	case <-o.quit:
		return false
	}
}

func (o *Orchestrator) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = o.clock.Now()
	}
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.logger.Debug("event dropped for slow subscriber", "kind", ev.Kind.String())
		}
	}
}

func (o *Orchestrator) emitState(inst *instance) {
	o.emit(Event{
		Kind:       InstanceStateChanged,
		InstanceID: inst.ID,
		DisplayID:  inst.DisplayID,
		State:      inst.State,
		Error:      inst.LastError,
	})
}

func (o *Orchestrator) publish() {
	st := &State{
		Displays: o.displays.List(),
		Triggers: o.policy.Triggers(),
		Updated:  o.clock.Now(),
	}
	order := make(map[display.ID]int, len(st.Displays))
	for i, d := range st.Displays {
		order[d.ID] = i
	}
	st.Instances = make([]Instance, 0, len(o.bindings))
	for _, inst := range o.bindings {
		st.Instances = append(st.Instances, inst.Instance)
	}
	sort.Slice(st.Instances, func(i, j int) bool {
		a, b := st.Instances[i], st.Instances[j]
		ia, oka := order[a.DisplayID]
		ib, okb := order[b.DisplayID]
		if oka != okb {
			return oka
		}
		if oka && ia != ib {
			return ia < ib
		}
		return a.DisplayID < b.DisplayID
	})
	o.snapshot.Store(st)
}

func (o *Orchestrator) byInstance(id InstanceID) *instance {
	for _, inst := range o.bindings {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	if o.stopping {
		return
	}
	o.stopping = true
	close(o.quit)
	o.logger.Info("orchestrator shutting down", "instances", len(o.bindings))

	for id, inst := range o.bindings {
		o.gens[id]++
		if inst.cancel != nil {
			inst.cancel()
		}
		if err := o.surfaces.Detach(string(inst.ID)); err != nil {
			o.logger.Warn("surface release failed", "instance", inst.ID, "error", err)
		}
		inst.Attached = false
	}
	o.surfaces.ReleaseAll()

	launched := make(chan struct{})
	go func() {
		o.launches.Wait()
		close(launched)
	}()
	select {
	case <-launched:
	case <-ctx.Done():
	}
	o.renderers.TerminateAll(ctx)

	if err := ctx.Err(); err != nil {
		o.shutdownErr = fmt.Errorf("shutdown timed out, remaining renderers were killed: %w", err)
		o.logger.Warn("orchestrator shutdown timed out", "error", err)
	}

	for _, inst := range o.bindings {
		inst.proc = nil
		inst.PID = 0
		inst.cancel, inst.launchDone = nil, nil
		if inst.State != renderer.Failed {
			inst.State = renderer.Stopped
		}
		o.emitState(inst)
	}
	o.publish()

	o.subMu.Lock()
	close(o.stopped)
	for ch := range o.subs {
		close(ch)
		delete(o.subs, ch)
	}
	o.subMu.Unlock()
	o.logger.Info("orchestrator stopped")
}
