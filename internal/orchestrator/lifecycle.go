package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

func (o *Orchestrator) setWallpaper(displayID display.ID, req Request) (InstanceID, error) {
	d, ok := o.displays.Lookup(displayID)
	if !ok || !d.Connected {
		return "", fmt.Errorf("%w: %s", ErrInvalidDisplay, displayID)
	}
	if !o.renderers.Supports(req.Type) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, req.Type)
	}
	layout, err := renderer.ParseLayout(string(req.Layout))
	if err != nil {
		return "", err
	}

	var after <-chan struct{}
	if old := o.bindings[displayID]; old != nil {
		after = o.retire(old)
	}

	o.gens[displayID]++
	o.nextID++
	inst := &instance{
		Instance: Instance{
			ID:         InstanceID(fmt.Sprintf("wp-%d", o.nextID)),
			DisplayID:  displayID,
			Type:       req.Type,
			Source:     req.Source,
			Layout:     layout,
			Generation: o.gens[displayID],
		},
	}
	o.bindings[displayID] = inst
	if req.MouseInput {
		o.policy.SetOverride(string(inst.ID), policy.Override{MouseInput: true})
	}
	inst.Override = o.policy.OverrideFor(string(inst.ID))
	inst.Desired = o.policy.DesiredRunState(string(inst.ID), displayID)

	o.logger.Info("wallpaper assigned",
		"display", displayID,
		"instance", inst.ID,
		"type", string(req.Type),
		"generation", inst.Generation,
	)
	o.launch(inst, d.Bounds, after)
	return inst.ID, nil
}

func (o *Orchestrator) removeWallpaper(displayID display.ID) {
	o.gens[displayID]++
	inst := o.bindings[displayID]
	if inst == nil {
		return
	}
	delete(o.bindings, displayID)
	o.retire(inst)
	o.logger.Info("wallpaper removed", "display", displayID, "instance", inst.ID)
}

// retire detaches an instance, cancels its launch and terminates its
// process in the background. The returned channel is closed once the
// process is gone.
func (o *Orchestrator) retire(inst *instance) <-chan struct{} {
	id := string(inst.ID)
	if inst.cancel != nil {
		inst.cancel()
	}
	if err := o.surfaces.Detach(id); err != nil {
		o.logger.Warn("surface release failed", "instance", id, "error", err)
	}
	o.policy.ClearOverride(id)

	launchDone := inst.launchDone
	inst.proc = nil
	inst.PID = 0
	inst.Attached = false
	inst.attachPending = false
	inst.cancel, inst.launchDone = nil, nil
	inst.State = renderer.Stopped
	o.emitState(inst)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		if launchDone != nil {
			<-launchDone
		}
		o.terminate(id)
	}()
	return gone
}

func (o *Orchestrator) terminate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.currentSettings().RetireTimeout)
	defer cancel()
	if err := o.renderers.Terminate(ctx, id); err != nil {
		o.logger.Warn("renderer terminate failed", "instance", id, "error", err)
	}
}

// launch starts the renderer of inst on its own goroutine once after is
// closed. The result is posted back to the worker tagged with the
// instance's generation.
func (o *Orchestrator) launch(inst *instance, bounds platform.Rect, after <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	inst.cancel, inst.launchDone = cancel, done
	inst.State = renderer.Starting
	inst.bounds = bounds
	o.emitState(inst)

	displayID, gen, id := inst.DisplayID, inst.Generation, inst.ID
	spec := renderer.Spec{
		InstanceID: string(id),
		DisplayID:  string(displayID),
		Type:       inst.Type,
		Source:     inst.Source,
		Bounds:     bounds,
		Layout:     inst.Layout,
	}

	o.launches.Add(1)
	go func() {
		defer o.launches.Done()
		defer close(done)
		defer cancel()

		if after != nil {
			select {
			case <-after:
			case <-ctx.Done():
			}
		}
		var (
			proc *renderer.Process
			err  = ctx.Err()
		)
		if err == nil {
			proc, err = o.renderers.Start(ctx, spec)
		}
		if !o.post(func() { o.onLaunched(displayID, gen, id, proc, err) }) && proc != nil {
			o.terminate(string(id))
		}
	}()
}

func (o *Orchestrator) onLaunched(displayID display.ID, gen uint64, id InstanceID, proc *renderer.Process, err error) {
	inst := o.bindings[displayID]
	if inst == nil || inst.ID != id || inst.Generation != gen {
		if proc != nil {
			o.logger.Info("discarding superseded renderer", "display", displayID, "instance", id, "generation", gen)
			go o.terminate(string(id))
		}
		return
	}
	inst.cancel, inst.launchDone = nil, nil

	if err != nil {
		inst.State = renderer.Failed
		inst.LastError = err.Error()
		o.logger.Warn("wallpaper launch failed", "display", displayID, "instance", id, "error", err)
		o.emit(Event{
			Kind:       LaunchFailed,
			InstanceID: id,
			DisplayID:  displayID,
			State:      inst.State,
			Error:      inst.LastError,
		})
		o.emitState(inst)
		return
	}

	select {
	case <-proc.Done():
		o.crashed(inst, "renderer exited during startup")
		return
	default:
	}

	inst.proc = proc
	inst.PID = proc.PID
	inst.State = renderer.Running
	inst.LastError = ""
	o.emitState(inst)
	o.reconcileInstance(inst)
}

func (o *Orchestrator) onExit(ex renderer.Exit) {
	inst := o.byInstance(InstanceID(ex.InstanceID))
	if inst == nil || inst.proc == nil || inst.proc.PID != ex.PID {
		return
	}
	if ex.Requested {
		inst.proc = nil
		inst.PID = 0
		inst.State = renderer.Stopped
		o.emitState(inst)
		return
	}
	reason := fmt.Sprintf("renderer exited with code %d", ex.ExitCode)
	if ex.Err != nil {
		reason = fmt.Sprintf("renderer exited: %v", ex.Err)
	}
	o.crashed(inst, reason)
}

// crashed relaunches an instance after an unexpected exit, unless it
// already crashed MaxAutoRestarts times within the cooldown window.
func (o *Orchestrator) crashed(inst *instance, reason string) {
	settings := o.currentSettings()
	now := o.clock.Now()
	id := string(inst.ID)

	if err := o.surfaces.Detach(id); err != nil {
		o.logger.Warn("surface release failed", "instance", id, "error", err)
	}
	inst.proc = nil
	inst.PID = 0
	inst.Attached = false
	inst.attachPending = false
	inst.State = renderer.Crashed
	inst.LastError = reason
	o.emitState(inst)

	if inst.lastCrash.IsZero() || now.Sub(inst.lastCrash) > settings.CrashCooldown {
		inst.crashStreak = 0
	}
	inst.lastCrash = now
	inst.crashStreak++

	if inst.crashStreak > settings.MaxAutoRestarts {
		inst.State = renderer.Failed
		o.logger.Warn("renderer crashed again, giving up",
			"display", inst.DisplayID,
			"instance", id,
			"crashes", inst.crashStreak,
			"reason", reason,
		)
		o.emit(Event{
			Kind:       CrashRetryExhausted,
			InstanceID: inst.ID,
			DisplayID:  inst.DisplayID,
			State:      inst.State,
			Error:      reason,
		})
		o.emitState(inst)
		return
	}

	bounds := inst.bounds
	if d, ok := o.displays.Lookup(inst.DisplayID); ok {
		bounds = d.Bounds
	}
	o.gens[inst.DisplayID]++
	inst.Generation = o.gens[inst.DisplayID]
	inst.Restarts++
	o.logger.Warn("renderer crashed, relaunching",
		"display", inst.DisplayID,
		"instance", id,
		"restarts", inst.Restarts,
		"reason", reason,
	)
	o.launch(inst, bounds, nil)
}

func (o *Orchestrator) onDisplayEvent(ev display.Event) {
	if ev.Kind == display.Warning {
		o.logger.Warn("display enumeration failed, keeping last known layout", "error", ev.Err)
		return
	}

	d := ev.Display
	if ev.Kind == display.Resized {
		if err := o.surfaces.Reflow(d.ID, d.Bounds); err != nil {
			o.logger.Warn("surface reflow failed", "display", d.ID, "error", err)
		}
		if inst := o.bindings[d.ID]; inst != nil {
			inst.bounds = d.Bounds
			if inst.proc != nil {
				if err := o.renderers.Resize(string(inst.ID), d.Bounds); err != nil {
					o.logger.Warn("renderer resize failed", "instance", inst.ID, "error", err)
				}
			}
		}
	}

	bounds := d.Bounds
	o.emit(Event{
		Kind:      DisplayTopologyChanged,
		DisplayID: d.ID,
		Change:    ev.Kind.String(),
		Bounds:    &bounds,
	})
	o.reconcileAll()
}

// reconcileAll retries pending attachments and then drives every instance
// toward its target state.
func (o *Orchestrator) reconcileAll() {
	if o.stopping {
		return
	}
	for _, h := range o.surfaces.RetryPending(o.ctx) {
		inst := o.byInstance(InstanceID(h.InstanceID))
		if inst == nil || inst.proc == nil || inst.proc.Window != h.Window {
			o.surfaces.Detach(h.InstanceID)
			continue
		}
		inst.Attached = true
		inst.attachPending = false
		inst.bounds = h.Bounds
		o.logger.Info("surface attached after retry", "instance", inst.ID, "display", inst.DisplayID)
	}

	ids := make([]display.ID, 0, len(o.bindings))
	for id := range o.bindings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		o.reconcileInstance(o.bindings[id])
	}
}

// reconcileInstance composes display connectivity, process state and the
// policy decision into idempotent attach, detach, pause and resume calls.
// A disconnected display pauses the instance and releases its surface
// while keeping the process.
func (o *Orchestrator) reconcileInstance(inst *instance) {
	id := string(inst.ID)
	inst.Desired = o.policy.DesiredRunState(id, inst.DisplayID)
	inst.Override = o.policy.OverrideFor(id)
	if inst.proc == nil {
		return
	}

	d, ok := o.displays.Lookup(inst.DisplayID)
	connected := ok && d.Connected
	target := inst.Desired
	if !connected {
		target = policy.Paused
	}

	switch {
	case connected && !inst.attachPending && (!inst.Attached || inst.bounds != d.Bounds):
		h, err := o.surfaces.Attach(o.ctx, id, inst.proc.Window, d)
		if err != nil {
			inst.Attached = false
			inst.attachPending = true
			o.logger.Warn("surface attach failed, will retry", "instance", id, "display", d.ID, "error", err)
			break
		}
		inst.Attached = true
		inst.bounds = h.Bounds
		if err := o.renderers.Resize(id, h.Bounds); err != nil {
			o.logger.Debug("renderer resize failed", "instance", id, "error", err)
		}
	case !connected && (inst.Attached || inst.attachPending):
		if err := o.surfaces.Detach(id); err != nil {
			o.logger.Warn("surface release failed", "instance", id, "error", err)
		}
		inst.Attached = false
		inst.attachPending = false
		o.logger.Info("display disconnected, wallpaper parked", "instance", id, "display", inst.DisplayID)
	}

	switch {
	case target == policy.Paused && inst.State == renderer.Running:
		if err := o.renderers.Pause(id); err != nil {
			o.logger.Warn("renderer pause failed", "instance", id, "error", err)
			return
		}
		inst.State = renderer.Paused
		o.emitState(inst)
	case target == policy.Running && inst.State == renderer.Paused:
		if err := o.renderers.Resume(id); err != nil {
			o.logger.Warn("renderer resume failed", "instance", id, "error", err)
			return
		}
		inst.State = renderer.Running
		o.emitState(inst)
	}
}
