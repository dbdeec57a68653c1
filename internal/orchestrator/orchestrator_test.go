package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/surface"
)

// fakeDisplays is a display registry driven by the test.
type fakeDisplays struct {
	mu       sync.Mutex
	displays map[display.ID]display.Display
	events   chan display.Event
}

func newFakeDisplays(ds ...display.Display) *fakeDisplays {
	f := &fakeDisplays{displays: make(map[display.ID]display.Display), events: make(chan display.Event, 16)}
	for _, d := range ds {
		f.displays[d.ID] = d
	}
	return f
}

func (f *fakeDisplays) List() []display.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []display.Display
	for _, d := range f.displays {
		if d.Connected {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeDisplays) Lookup(id display.ID) (display.Display, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.displays[id]
	return d, ok
}

func (f *fakeDisplays) Events() <-chan display.Event { return f.events }

func (f *fakeDisplays) set(kind display.EventKind, d display.Display) {
	f.mu.Lock()
	f.displays[d.ID] = d
	f.mu.Unlock()
	f.events <- display.Event{Kind: kind, Display: d}
}

// fakeRenderers stands in for the renderer controller.
type fakeRenderers struct {
	mu         sync.Mutex
	nextPID    int
	starts     []renderer.Spec
	procs      map[string]*renderer.Process
	states     map[string]renderer.State
	startErr   error
	gates      map[string]chan struct{}
	stuck      map[string]bool
	terminated []string
	killed     []string
	started    chan renderer.Spec
	exits      chan renderer.Exit
}

func newFakeRenderers() *fakeRenderers {
	return &fakeRenderers{
		nextPID: 100,
		procs:   make(map[string]*renderer.Process),
		states:  make(map[string]renderer.State),
		gates:   make(map[string]chan struct{}),
		stuck:   make(map[string]bool),
		started: make(chan renderer.Spec, 16),
		exits:   make(chan renderer.Exit, 16),
	}
}

func (f *fakeRenderers) Supports(t renderer.Type) bool {
	return t == renderer.Video || t == renderer.Image
}

func (f *fakeRenderers) Start(ctx context.Context, spec renderer.Spec) (*renderer.Process, error) {
	f.mu.Lock()
	f.starts = append(f.starts, spec)
	gate := f.gates[spec.Source]
	startErr := f.startErr
	f.mu.Unlock()
	f.started <- spec

	if gate != nil {
		<-gate
	}
	if startErr != nil {
		return nil, fmt.Errorf("%w: %w", renderer.ErrLaunchFailure, startErr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	p := &renderer.Process{
		InstanceID: spec.InstanceID,
		PID:        f.nextPID,
		Window:     platform.WindowID(1000 + f.nextPID),
	}
	f.procs[spec.InstanceID] = p
	f.states[spec.InstanceID] = renderer.Running
	return p, nil
}

func (f *fakeRenderers) setState(id string, s renderer.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[id]; !ok {
		return renderer.ErrNotRunning
	}
	f.states[id] = s
	return nil
}

func (f *fakeRenderers) Pause(id string) error { return f.setState(id, renderer.Paused) }
func (f *fakeRenderers) Resume(id string) error { return f.setState(id, renderer.Running) }

func (f *fakeRenderers) Resize(string, platform.Rect) error { return nil }
func (f *fakeRenderers) SetLayout(string, renderer.LayoutMode) error { return nil }

func (f *fakeRenderers) Terminate(ctx context.Context, id string) error {
	f.mu.Lock()
	stuck := f.stuck[id]
	f.mu.Unlock()
	if stuck {
		<-ctx.Done()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[id]; !ok {
		return nil
	}
	delete(f.procs, id)
	f.states[id] = renderer.Stopped
	f.terminated = append(f.terminated, id)
	if stuck {
		f.killed = append(f.killed, id)
	}
	return nil
}

func (f *fakeRenderers) TerminateAll(ctx context.Context) {
	f.mu.Lock()
	ids := make([]string, 0, len(f.procs))
	for id := range f.procs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.Terminate(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (f *fakeRenderers) Exits() <-chan renderer.Exit { return f.exits }

// crash simulates an unexpected exit of an instance's process.
func (f *fakeRenderers) crash(id string, code int) {
	f.mu.Lock()
	p := f.procs[id]
	delete(f.procs, id)
	f.states[id] = renderer.Crashed
	f.mu.Unlock()
	f.exits <- renderer.Exit{InstanceID: id, PID: p.PID, ExitCode: code}
}

func (f *fakeRenderers) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeRenderers) stateOf(id string) renderer.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

func (f *fakeRenderers) alive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[id]
	return ok
}

func (f *fakeRenderers) wasTerminated(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.terminated {
		if t == id {
			return true
		}
	}
	return false
}

// fakeHost records desktop host windows for the real surface binder.
type fakeHost struct {
	mu        sync.Mutex
	createErr error
	next      platform.WindowID
	embedded  map[platform.WindowID]platform.WindowID
	children  []platform.WindowID
	moved     []platform.Rect
}

func newFakeHost() *fakeHost {
	return &fakeHost{next: 10, embedded: make(map[platform.WindowID]platform.WindowID)}
}

func (h *fakeHost) CreateHost(platform.Rect, bool) (platform.WindowID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return 0, h.createErr
	}
	h.next++
	return h.next, nil
}

func (h *fakeHost) Embed(host, child platform.WindowID, _ platform.Rect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.embedded[host] = child
	h.children = append(h.children, child)
	return nil
}

func (h *fakeHost) MoveResize(_, _ platform.WindowID, bounds platform.Rect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moved = append(h.moved, bounds)
	return nil
}

func (h *fakeHost) Release(host, _ platform.WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.embedded, host)
	return nil
}

func (h *fakeHost) setCreateErr(err error) {
	h.mu.Lock()
	h.createErr = err
	h.mu.Unlock()
}

func (h *fakeHost) attachedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.embedded)
}

func (h *fakeHost) everEmbedded(w platform.WindowID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.children {
		if c == w {
			return true
		}
	}
	return false
}

var (
	d1 = display.Display{ID: "DP-1", Name: "DP-1", Bounds: platform.Rect{Width: 1920, Height: 1080}, Primary: true, Connected: true}
	d2 = display.Display{ID: "HDMI-1", Name: "HDMI-1", Bounds: platform.Rect{X: 1920, Width: 2560, Height: 1440}, Connected: true}
)

type harness struct {
	orch      *Orchestrator
	displays  *fakeDisplays
	renderers *fakeRenderers
	host      *fakeHost
	engine    *policy.Engine
	clock     *clock.Fake
	events    <-chan Event
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{
		displays:  newFakeDisplays(d1, d2),
		renderers: newFakeRenderers(),
		host:      newFakeHost(),
		engine:    policy.NewEngine(policy.RulesFromConfig(config.DefaultConfig().Policy), logging.Discard()),
		clock:     clock.NewFake(time.Unix(1700000000, 0)),
	}
	h.orch = New(Options{
		Displays:  h.displays,
		Renderers: h.renderers,
		Surfaces:  surface.NewBinder(h.host, surface.Options{RequireIconHost: true, Logger: logging.Discard()}),
		Policy:    h.engine,
		Settings:  settings,
		Clock:     h.clock,
		Logger:    logging.Discard(),
	})
	h.events, _ = h.orch.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("orchestrator did not stop")
		}
	})
	return h
}

func (h *harness) set(t *testing.T, id display.ID, source string) InstanceID {
	t.Helper()
	inst, err := h.orch.SetWallpaper(context.Background(), id, Request{Type: renderer.Video, Source: source})
	if err != nil {
		t.Fatalf("set wallpaper on %s: %v", id, err)
	}
	return inst
}

func (h *harness) waitFor(t *testing.T, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.orch.Snapshot()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", what, st.Instances)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitInstance(t *testing.T, id display.ID, what string, cond func(Instance) bool) Instance {
	t.Helper()
	st := h.waitFor(t, what, func(s State) bool {
		inst, ok := s.Instance(id)
		return ok && cond(inst)
	})
	inst, _ := st.Instance(id)
	return inst
}

func (h *harness) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func running(inst Instance) bool {
	return inst.State == renderer.Running && inst.Attached
}

func TestRemoveWallpaper_WithoutBindingSucceeds(t *testing.T) {
	h := newHarness(t, Settings{})
	if err := h.orch.RemoveWallpaper(context.Background(), d1.ID); err != nil {
		t.Fatalf("expected removing nothing to succeed, got %v", err)
	}
	if err := h.orch.RemoveWallpaper(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("expected removing from unknown display to succeed, got %v", err)
	}
	if n := len(h.orch.Snapshot().Instances); n != 0 {
		t.Fatalf("expected no instances, got %d", n)
	}
}

func TestSetWallpaper_RejectsSynchronously(t *testing.T) {
	h := newHarness(t, Settings{})
	h.displays.set(display.Removed, display.Display{ID: "DP-2", Bounds: platform.Rect{Width: 800, Height: 600}})
	ctx := context.Background()

	if _, err := h.orch.SetWallpaper(ctx, "nope", Request{Type: renderer.Video}); !errors.Is(err, ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay for unknown display, got %v", err)
	}
	if _, err := h.orch.SetWallpaper(ctx, "DP-2", Request{Type: renderer.Video}); !errors.Is(err, ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay for disconnected display, got %v", err)
	}
	if _, err := h.orch.SetWallpaper(ctx, d1.ID, Request{Type: renderer.WebPage}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := h.orch.SetWallpaper(ctx, d1.ID, Request{Type: renderer.Video, Layout: "diagonal"}); err == nil {
		t.Fatalf("expected invalid layout to be rejected")
	}
	if h.renderers.startCount() != 0 || len(h.orch.Snapshot().Instances) != 0 {
		t.Fatalf("expected no state change after rejected requests")
	}
}

func TestSetWallpaper_LaunchesAndAttaches(t *testing.T) {
	h := newHarness(t, Settings{})
	id := h.set(t, d1.ID, "/videos/a.mp4")

	inst := h.waitInstance(t, d1.ID, "running and attached", running)
	if inst.ID != id || inst.Generation != 1 || inst.PID == 0 {
		t.Fatalf("unexpected instance %+v", inst)
	}
	if h.host.attachedCount() != 1 {
		t.Fatalf("expected one attached surface, got %d", h.host.attachedCount())
	}
}

func TestPauseResume_KeepsSameProcess(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	before := h.waitInstance(t, d1.ID, "running", running)

	if err := h.orch.PauseAll(context.Background()); err != nil {
		t.Fatalf("pause all: %v", err)
	}
	paused := h.waitInstance(t, d1.ID, "paused", func(i Instance) bool { return i.State == renderer.Paused })
	if h.renderers.stateOf(string(paused.ID)) != renderer.Paused {
		t.Fatalf("expected renderer to be paused")
	}

	if err := h.orch.ResumeAll(context.Background()); err != nil {
		t.Fatalf("resume all: %v", err)
	}
	after := h.waitInstance(t, d1.ID, "running again", running)
	if after.PID != before.PID || h.renderers.startCount() != 1 {
		t.Fatalf("expected same process after resume, got pid %d -> %d with %d starts", before.PID, after.PID, h.renderers.startCount())
	}
}

func TestFullscreenTrigger_PausesWithSurfaceAttached(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	before := h.waitInstance(t, d1.ID, "running", running)

	h.engine.Apply(policy.TriggerChange{Kind: policy.Fullscreen, Value: true, DisplayID: d1.ID})
	inst := h.waitInstance(t, d1.ID, "paused by fullscreen", func(i Instance) bool { return i.State == renderer.Paused })
	if !inst.Attached || inst.Desired != policy.Paused {
		t.Fatalf("expected surface to stay attached with desired paused, got %+v", inst)
	}
	if !h.renderers.alive(string(inst.ID)) || inst.PID != before.PID {
		t.Fatalf("expected process to stay alive")
	}

	h.engine.Apply(policy.TriggerChange{Kind: policy.Fullscreen, Value: false})
	h.waitInstance(t, d1.ID, "resumed", running)
}

func TestMouseInput_ExemptFromFullscreen(t *testing.T) {
	h := newHarness(t, Settings{})
	if _, err := h.orch.SetWallpaper(context.Background(), d1.ID, Request{Type: renderer.Video, Source: "game", MouseInput: true}); err != nil {
		t.Fatalf("set wallpaper: %v", err)
	}
	h.waitInstance(t, d1.ID, "running", running)

	h.engine.Apply(policy.TriggerChange{Kind: policy.Fullscreen, Value: true})
	h.orch.Reconcile()
	h.waitFor(t, "reconcile", func(s State) bool { return s.Triggers.Fullscreen })
	inst, _ := h.orch.Snapshot().Instance(d1.ID)
	if inst.State != renderer.Running || !inst.Override.MouseInput {
		t.Fatalf("expected mouse input wallpaper to keep running, got %+v", inst)
	}
}

func TestDisplayUnplug_ParksAndRestores(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	before := h.waitInstance(t, d1.ID, "running", running)

	gone := d1
	gone.Connected = false
	h.displays.set(display.Removed, gone)
	h.waitFor(t, "parked", func(s State) bool {
		for _, inst := range s.Instances {
			if inst.DisplayID == d1.ID {
				return inst.State == renderer.Paused && !inst.Attached
			}
		}
		return false
	})
	if !h.renderers.alive(string(before.ID)) {
		t.Fatalf("expected process to survive unplug")
	}
	if h.host.attachedCount() != 0 {
		t.Fatalf("expected surface released, got %d attached", h.host.attachedCount())
	}

	h.displays.set(display.Added, d1)
	after := h.waitInstance(t, d1.ID, "restored", running)
	if after.ID != before.ID || after.PID != before.PID || h.renderers.startCount() != 1 {
		t.Fatalf("expected the same instance and process to be restored, got %+v (starts %d)", after, h.renderers.startCount())
	}
}

func TestDisplayResize_ReflowsWithoutRestart(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "running", running)

	bigger := d1
	bigger.Bounds = platform.Rect{Width: 2560, Height: 1440}
	h.displays.set(display.Resized, bigger)

	ev := h.waitEvent(t, DisplayTopologyChanged)
	if ev.Change != "resized" || ev.Bounds == nil || *ev.Bounds != bigger.Bounds {
		t.Fatalf("unexpected topology event %+v", ev)
	}
	h.waitFor(t, "reflow", func(State) bool {
		h.host.mu.Lock()
		defer h.host.mu.Unlock()
		return len(h.host.moved) == 1 && h.host.moved[0] == bigger.Bounds
	})
	if h.renderers.startCount() != 1 {
		t.Fatalf("expected no restart on resize, got %d starts", h.renderers.startCount())
	}
}

func TestReplace_SupersedesInFlightLaunch(t *testing.T) {
	h := newHarness(t, Settings{})
	gate := make(chan struct{})
	h.renderers.mu.Lock()
	h.renderers.gates["slow.mp4"] = gate
	h.renderers.mu.Unlock()

	a := h.set(t, d1.ID, "slow.mp4")
	<-h.renderers.started
	b := h.set(t, d1.ID, "b.mp4")
	close(gate)

	inst := h.waitInstance(t, d1.ID, "b running", func(i Instance) bool { return i.ID == b && running(i) })
	if inst.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", inst.Generation)
	}
	h.waitFor(t, "a terminated", func(State) bool { return h.renderers.wasTerminated(string(a)) })
	if h.renderers.alive(string(a)) {
		t.Fatalf("expected A's process to be gone")
	}
	if len(h.orch.Snapshot().Instances) != 1 {
		t.Fatalf("expected exactly one instance bound")
	}

	// A's Start returned first, so it got the first PID.
	if aWindow := platform.WindowID(1000 + 101); h.host.everEmbedded(aWindow) {
		t.Fatalf("expected A's window never to be attached")
	}
}

func TestRemove_KillsStuckRendererAfterRetireTimeout(t *testing.T) {
	h := newHarness(t, Settings{RetireTimeout: 100 * time.Millisecond})
	a := h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "a running", running)

	h.renderers.mu.Lock()
	h.renderers.stuck[string(a)] = true
	h.renderers.mu.Unlock()

	if err := h.orch.RemoveWallpaper(context.Background(), d1.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.waitFor(t, "a force killed", func(State) bool {
		h.renderers.mu.Lock()
		defer h.renderers.mu.Unlock()
		return len(h.renderers.killed) == 1 && h.renderers.killed[0] == string(a)
	})
}

func TestSettingsFromConfig_RetireFollowsGrace(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timeouts.TerminateGrace = 7 * time.Second

	s := SettingsFromConfig(cfg).withDefaults()
	if s.RetireTimeout != 7*time.Second+retireMargin {
		t.Fatalf("expected retire timeout %s, got %s", 7*time.Second+retireMargin, s.RetireTimeout)
	}
	if d := (Settings{}).withDefaults(); d.RetireTimeout <= 0 {
		t.Fatalf("expected a positive default retire timeout, got %s", d.RetireTimeout)
	}
}

func TestRemove_CancelsInFlightLaunch(t *testing.T) {
	h := newHarness(t, Settings{})
	gate := make(chan struct{})
	h.renderers.mu.Lock()
	h.renderers.gates["slow.mp4"] = gate
	h.renderers.mu.Unlock()

	a := h.set(t, d1.ID, "slow.mp4")
	<-h.renderers.started
	if err := h.orch.RemoveWallpaper(context.Background(), d1.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	close(gate)

	h.waitFor(t, "a terminated", func(State) bool { return h.renderers.wasTerminated(string(a)) })
	if n := len(h.orch.Snapshot().Instances); n != 0 {
		t.Fatalf("expected nothing bound, got %d", n)
	}
	if h.host.attachedCount() != 0 {
		t.Fatalf("expected stale launch never to attach")
	}
}

func TestCrash_RelaunchesOnceThenFails(t *testing.T) {
	h := newHarness(t, Settings{MaxAutoRestarts: 1, CrashCooldown: time.Minute})
	id := h.set(t, d1.ID, "a.mp4")
	first := h.waitInstance(t, d1.ID, "running", running)

	h.renderers.crash(string(id), 1)
	second := h.waitInstance(t, d1.ID, "relaunched", func(i Instance) bool {
		return running(i) && i.Restarts == 1
	})
	if second.ID != id || second.PID == first.PID || h.renderers.startCount() != 2 {
		t.Fatalf("expected one relaunch of the same instance, got %+v (starts %d)", second, h.renderers.startCount())
	}

	h.clock.Advance(10 * time.Second)
	h.renderers.crash(string(id), 1)

	ev := h.waitEvent(t, CrashRetryExhausted)
	if ev.InstanceID != id || ev.State != renderer.Failed {
		t.Fatalf("unexpected event %+v", ev)
	}
	failed := h.waitInstance(t, d1.ID, "failed", func(i Instance) bool { return i.State == renderer.Failed })
	if failed.Attached || failed.PID != 0 {
		t.Fatalf("expected failed instance without process or surface, got %+v", failed)
	}
	time.Sleep(20 * time.Millisecond)
	if h.renderers.startCount() != 2 {
		t.Fatalf("expected no further relaunch, got %d starts", h.renderers.startCount())
	}
}

func TestCrash_AfterCooldownRelaunchesAgain(t *testing.T) {
	h := newHarness(t, Settings{MaxAutoRestarts: 1, CrashCooldown: time.Minute})
	id := h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "running", running)

	h.renderers.crash(string(id), 1)
	h.waitInstance(t, d1.ID, "first relaunch", func(i Instance) bool { return running(i) && i.Restarts == 1 })

	h.clock.Advance(2 * time.Minute)
	h.renderers.crash(string(id), 1)
	h.waitInstance(t, d1.ID, "second relaunch", func(i Instance) bool { return running(i) && i.Restarts == 2 })
}

func TestLaunchFailure_ReportedAsEvent(t *testing.T) {
	h := newHarness(t, Settings{})
	h.renderers.mu.Lock()
	h.renderers.startErr = errors.New("no window within 10s")
	h.renderers.mu.Unlock()

	id := h.set(t, d1.ID, "broken.mp4")
	ev := h.waitEvent(t, LaunchFailed)
	if ev.InstanceID != id || ev.Error == "" {
		t.Fatalf("unexpected launch failure event %+v", ev)
	}
	inst := h.waitInstance(t, d1.ID, "failed", func(i Instance) bool { return i.State == renderer.Failed })
	if inst.LastError == "" || inst.Restarts != 0 {
		t.Fatalf("expected failed instance with error and no retry, got %+v", inst)
	}
}

func TestAttachFailure_RetriedLazily(t *testing.T) {
	h := newHarness(t, Settings{})
	h.host.setCreateErr(platform.ErrIconHostNotFound)

	h.set(t, d1.ID, "a.mp4")
	inst := h.waitInstance(t, d1.ID, "running unattached", func(i Instance) bool {
		return i.State == renderer.Running && !i.Attached
	})
	if inst.PID == 0 {
		t.Fatalf("expected process to be running while undocked")
	}

	h.host.setCreateErr(nil)
	h.orch.Reconcile()
	h.waitInstance(t, d1.ID, "attached after retry", running)
}

func TestAttachFailure_RetriedOnForegroundChange(t *testing.T) {
	h := newHarness(t, Settings{})
	h.host.setCreateErr(platform.ErrIconHostNotFound)

	h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "running unattached", func(i Instance) bool {
		return i.State == renderer.Running && !i.Attached
	})

	// Focus moves between ordinary windows; the fullscreen trigger stays off.
	h.host.setCreateErr(nil)
	h.engine.Apply(policy.TriggerChange{Kind: policy.Fullscreen, Value: false})
	h.waitInstance(t, d1.ID, "attached after focus change", running)
}

func TestSnapshotInstanceLookup(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "running", running)

	if _, ok := h.orch.Snapshot().Instance(d2.ID); ok {
		t.Fatalf("expected no instance on %s", d2.ID)
	}
	inst, ok := h.orch.Snapshot().Instance(d1.ID)
	if !ok || inst.Source != "a.mp4" {
		t.Fatalf("expected instance on %s, got %+v (found=%v)", d1.ID, inst, ok)
	}
}

func TestShutdown_KillsUnresponsiveRenderer(t *testing.T) {
	h := newHarness(t, Settings{ShutdownTimeout: 200 * time.Millisecond})
	a := h.set(t, d1.ID, "a.mp4")
	b := h.set(t, d2.ID, "b.mp4")
	h.waitInstance(t, d1.ID, "a running", running)
	h.waitInstance(t, d2.ID, "b running", running)

	h.renderers.mu.Lock()
	h.renderers.stuck[string(b)] = true
	h.renderers.mu.Unlock()

	start := time.Now()
	err := h.orch.Shutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected shutdown within its timeout, took %s", elapsed)
	}
	if err == nil {
		t.Fatalf("expected a timeout error for the unresponsive renderer")
	}
	if h.renderers.alive(string(a)) || h.renderers.alive(string(b)) {
		t.Fatalf("expected every process to be gone")
	}
	h.renderers.mu.Lock()
	killed := append([]string(nil), h.renderers.killed...)
	h.renderers.mu.Unlock()
	if len(killed) != 1 || killed[0] != string(b) {
		t.Fatalf("expected %s to be force killed, got %v", b, killed)
	}
	if h.host.attachedCount() != 0 {
		t.Fatalf("expected every surface released")
	}
	for _, inst := range h.orch.Snapshot().Instances {
		if inst.State != renderer.Stopped {
			t.Fatalf("expected stopped instances, got %+v", inst)
		}
	}

	if _, err := h.orch.SetWallpaper(context.Background(), d1.ID, Request{Type: renderer.Video}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected commands after shutdown to fail, got %v", err)
	}
}

func TestSetOverride_PausesInstance(t *testing.T) {
	h := newHarness(t, Settings{})
	h.set(t, d1.ID, "a.mp4")
	h.waitInstance(t, d1.ID, "running", running)

	if err := h.orch.SetOverride(context.Background(), d1.ID, policy.Override{Pause: true}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	h.waitInstance(t, d1.ID, "paused by override", func(i Instance) bool {
		return i.State == renderer.Paused && i.Override.Pause
	})

	if err := h.orch.SetOverride(context.Background(), d2.ID, policy.Override{Pause: true}); !errors.Is(err, ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay without a wallpaper, got %v", err)
	}
}
