package ipc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

type fakeOrchestrator struct {
	mu        sync.Mutex
	state     orchestrator.State
	lastSet   orchestrator.Request
	lastOv    policy.Override
	lastLay   renderer.LayoutMode
	pausedAll bool
	events    chan orchestrator.Event
	subscribe chan struct{}
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		state: orchestrator.State{
			Displays: []display.Display{
				{ID: "HDMI-1", Name: "HDMI-1", Bounds: platform.Rect{Width: 1920, Height: 1080}, Connected: true},
			},
		},
		events:    make(chan orchestrator.Event, 4),
		subscribe: make(chan struct{}, 1),
	}
}

func (f *fakeOrchestrator) Snapshot() orchestrator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type recorded struct {
	set       orchestrator.Request
	ov        policy.Override
	layout    renderer.LayoutMode
	pausedAll bool
}

func (f *fakeOrchestrator) recorded() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recorded{set: f.lastSet, ov: f.lastOv, layout: f.lastLay, pausedAll: f.pausedAll}
}

func (f *fakeOrchestrator) known(id display.ID) bool {
	for _, d := range f.state.Displays {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeOrchestrator) SetWallpaper(_ context.Context, id display.ID, req orchestrator.Request) (orchestrator.InstanceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return "", orchestrator.ErrInvalidDisplay
	}
	if req.Type == "gif" {
		return "", orchestrator.ErrUnsupportedType
	}
	f.lastSet = req
	f.state.Instances = append(f.state.Instances, orchestrator.Instance{
		ID: "wp-1", DisplayID: id, Type: req.Type, Source: req.Source, State: renderer.Starting,
	})
	return "wp-1", nil
}

func (f *fakeOrchestrator) RemoveWallpaper(_ context.Context, id display.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Instances = nil
	return nil
}

func (f *fakeOrchestrator) PauseAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedAll = true
	return nil
}

func (f *fakeOrchestrator) ResumeAll(context.Context) error {
	return orchestrator.ErrShuttingDown
}

func (f *fakeOrchestrator) SetOverride(_ context.Context, id display.ID, ov policy.Override) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return orchestrator.ErrInvalidDisplay
	}
	f.lastOv = ov
	return nil
}

func (f *fakeOrchestrator) SetLayout(_ context.Context, id display.ID, layout renderer.LayoutMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLay = layout
	return nil
}

func (f *fakeOrchestrator) Subscribe() (<-chan orchestrator.Event, func()) {
	f.subscribe <- struct{}{}
	return f.events, func() {}
}

func startServer(t *testing.T, orch Orchestrator, opts ServerOptions) *Client {
	t.Helper()
	opts.SocketPath = filepath.Join(t.TempDir(), "deskpaper.sock")
	srv, err := NewServer(orch, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return NewClientWithPath(opts.SocketPath)
}

func TestClientServerRoundTrip(t *testing.T) {
	orch := newFakeOrchestrator()
	client := startServer(t, orch, ServerOptions{})

	status, err := client.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.DaemonRunning || status.Displays != 1 {
		t.Fatalf("expected running daemon with 1 display, got %+v", status)
	}

	displays, err := client.ListDisplays()
	if err != nil {
		t.Fatalf("ListDisplays: %v", err)
	}
	if len(displays) != 1 || displays[0].Bounds.Width != 1920 {
		t.Fatalf("expected HDMI-1 1920 wide, got %+v", displays)
	}

	id, err := client.SetWallpaper(SetWallpaperPayload{
		DisplayID: "HDMI-1", Type: renderer.Video, Source: "/tmp/a.mp4", MouseInput: true,
	})
	if err != nil {
		t.Fatalf("SetWallpaper: %v", err)
	}
	if id != "wp-1" {
		t.Fatalf("expected wp-1, got %q", id)
	}
	if rec := orch.recorded(); !rec.set.MouseInput || rec.set.Source != "/tmp/a.mp4" {
		t.Fatalf("request not forwarded: %+v", rec.set)
	}

	wallpapers, err := client.ListWallpapers()
	if err != nil {
		t.Fatalf("ListWallpapers: %v", err)
	}
	if len(wallpapers) != 1 || wallpapers[0].State != renderer.Starting {
		t.Fatalf("expected one starting wallpaper, got %+v", wallpapers)
	}

	if err := client.SetOverride(SetOverridePayload{DisplayID: "HDMI-1", Pause: true}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if ov := orch.recorded().ov; !ov.Pause {
		t.Fatalf("expected pause override, got %+v", ov)
	}
	if err := client.SetLayout("HDMI-1", renderer.LayoutMode("fit")); err != nil {
		t.Fatalf("SetLayout: %v", err)
	}
	if layout := orch.recorded().layout; layout != "fit" {
		t.Fatalf("expected fit layout, got %q", layout)
	}
	if err := client.PauseAll(); err != nil {
		t.Fatalf("PauseAll: %v", err)
	}
	if !orch.recorded().pausedAll {
		t.Fatalf("expected pause all to reach orchestrator")
	}
	if err := client.RemoveWallpaper("HDMI-1"); err != nil {
		t.Fatalf("RemoveWallpaper: %v", err)
	}
}

func TestClientMapsErrorCodes(t *testing.T) {
	client := startServer(t, newFakeOrchestrator(), ServerOptions{})

	_, err := client.SetWallpaper(SetWallpaperPayload{DisplayID: "DP-9", Type: renderer.Video, Source: "x"})
	if !errors.Is(err, orchestrator.ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay, got %v", err)
	}
	_, err = client.SetWallpaper(SetWallpaperPayload{DisplayID: "HDMI-1", Type: "gif", Source: "x"})
	if !errors.Is(err, orchestrator.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if err := client.ResumeAll(); !errors.Is(err, orchestrator.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}

	_, err = client.SetWallpaper(SetWallpaperPayload{DisplayID: "HDMI-1", Type: renderer.Video})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != "" {
		t.Fatalf("expected uncoded remote error for missing source, got %v", err)
	}
}

func TestReloadAndShutdownCallbacks(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	client := startServer(t, newFakeOrchestrator(), ServerOptions{
		Reload:   func() error { reloaded <- struct{}{}; return nil },
		Shutdown: func() { stopped <- struct{}{} },
	})

	if err := client.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case <-reloaded:
	default:
		t.Fatalf("expected reload callback to run")
	}

	if err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected shutdown callback to run")
	}
}

func TestReloadUnavailable(t *testing.T) {
	client := startServer(t, newFakeOrchestrator(), ServerOptions{})
	if err := client.Reload(); err == nil {
		t.Fatalf("expected error without reload callback")
	}
}

func TestEventStream(t *testing.T) {
	orch := newFakeOrchestrator()
	client := startServer(t, orch, ServerOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan orchestrator.Event, 2)
	done := make(chan error, 1)
	go func() {
		done <- client.Events(ctx, func(ev orchestrator.Event) error {
			got <- ev
			if ev.Kind == orchestrator.LaunchFailed {
				return errors.New("stop")
			}
			return nil
		})
	}()

	<-orch.subscribe
	orch.events <- orchestrator.Event{Kind: orchestrator.InstanceStateChanged, InstanceID: "wp-1", State: renderer.Running}
	orch.events <- orchestrator.Event{Kind: orchestrator.LaunchFailed, InstanceID: "wp-1", State: renderer.Failed, Error: "boom"}

	first := <-got
	if first.Kind != orchestrator.InstanceStateChanged || first.State != renderer.Running {
		t.Fatalf("expected running state change, got %+v", first)
	}
	second := <-got
	if second.Kind != orchestrator.LaunchFailed || second.Error != "boom" {
		t.Fatalf("expected launch failure, got %+v", second)
	}
	if err := <-done; err == nil || err.Error() != "stop" {
		t.Fatalf("expected callback error to end stream, got %v", err)
	}
}

func TestClientWithoutDaemon(t *testing.T) {
	client := NewClientWithPath(filepath.Join(t.TempDir(), "missing.sock"))
	if client.Ping() {
		t.Fatalf("expected ping to fail without a daemon")
	}
}
