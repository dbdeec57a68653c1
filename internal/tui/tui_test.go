package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

type fakeClient struct {
	status    ipc.StatusData
	displays  []display.Display
	instances []orchestrator.Instance
	err       error

	pauses    int
	resumes   int
	overrides []ipc.SetOverridePayload
	removed   []display.ID
	set       []ipc.SetWallpaperPayload
}

func (f *fakeClient) GetStatus() (*ipc.StatusData, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.status
	return &s, nil
}

func (f *fakeClient) ListDisplays() ([]display.Display, error) { return f.displays, f.err }

func (f *fakeClient) ListWallpapers() ([]orchestrator.Instance, error) { return f.instances, f.err }

func (f *fakeClient) SetWallpaper(p ipc.SetWallpaperPayload) (orchestrator.InstanceID, error) {
	f.set = append(f.set, p)
	return "wp-9", nil
}

func (f *fakeClient) RemoveWallpaper(id display.ID) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) PauseAll() error {
	f.pauses++
	return nil
}

func (f *fakeClient) ResumeAll() error {
	f.resumes++
	return nil
}

func (f *fakeClient) SetOverride(p ipc.SetOverridePayload) error {
	f.overrides = append(f.overrides, p)
	return nil
}

func (f *fakeClient) Reload() error { return nil }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, c *fakeClient) model {
	t.Helper()
	m := newModel(c)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(next.(model).refresh())
	return next.(model)
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	next, _ := m.Update(cmd())
	return next.(model)
}

func sampleClient() *fakeClient {
	return &fakeClient{
		status: ipc.StatusData{DaemonRunning: true, PID: 7, Wallpapers: 1},
		displays: []display.Display{
			{ID: "DP-1", Name: "DP-1", Bounds: platform.Rect{Width: 1920, Height: 1080}, Primary: true, Connected: true},
			{ID: "HDMI-1", Name: "HDMI-1", Bounds: platform.Rect{X: 1920, Width: 1280, Height: 1024}, Connected: true},
		},
		instances: []orchestrator.Instance{
			{ID: "wp-1", DisplayID: "DP-1", Type: renderer.Video, Source: "/v.mp4", Layout: renderer.LayoutFill, State: renderer.Running},
		},
	}
}

func TestBuildItems_KeepsOrphanInstances(t *testing.T) {
	items := buildItems(
		[]display.Display{{ID: "DP-1", Connected: true}},
		[]orchestrator.Instance{{ID: "wp-1", DisplayID: "DP-1"}, {ID: "wp-2", DisplayID: "DP-9"}},
	)
	if len(items) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(items))
	}
	orphan := items[1].(displayItem)
	if orphan.display.ID != "DP-9" || orphan.instance == nil || orphan.instance.ID != "wp-2" {
		t.Fatalf("unexpected orphan row: %+v", orphan)
	}
	if !strings.Contains(orphan.Title(), "disconnected") {
		t.Fatalf("expected orphan to read as disconnected, got %q", orphan.Title())
	}
}

func TestSnapshotPopulatesList(t *testing.T) {
	m := newTestModel(t, sampleClient())
	if !m.connected {
		t.Fatalf("expected connected model, got error %q", m.lastErr)
	}
	if len(m.list.Items()) != 2 {
		t.Fatalf("expected 2 displays, got %d", len(m.list.Items()))
	}
	view := m.View()
	if !strings.Contains(view, "wp-1") || !strings.Contains(view, "daemon connected") {
		t.Fatalf("expected selected instance in view:\n%s", view)
	}
}

func TestSnapshotErrorShowsDisconnected(t *testing.T) {
	m := newTestModel(t, &fakeClient{err: errors.New("connection refused")})
	if m.connected {
		t.Fatalf("expected disconnected model")
	}
	if !strings.Contains(m.View(), "daemon not running") {
		t.Fatalf("expected disconnected view")
	}
}

func TestPauseKeyToggles(t *testing.T) {
	c := sampleClient()
	m := newTestModel(t, c)

	_, cmd := m.Update(key("p"))
	m = run(t, m, cmd)
	if c.pauses != 1 || m.statusText != "paused" {
		t.Fatalf("expected pause, got pauses=%d status=%q", c.pauses, m.statusText)
	}

	c.status.Triggers = policy.Triggers{PauseAll: true}
	m = run(t, m, m.refresh)
	_, cmd = m.Update(key("p"))
	run(t, m, cmd)
	if c.resumes != 1 {
		t.Fatalf("expected resume once pause-all is active, got %d", c.resumes)
	}
}

func TestHoldKeyFlipsOverride(t *testing.T) {
	c := sampleClient()
	m := newTestModel(t, c)

	_, cmd := m.Update(key("h"))
	run(t, m, cmd)
	if len(c.overrides) != 1 || c.overrides[0].DisplayID != "DP-1" || !c.overrides[0].Pause {
		t.Fatalf("expected hold on DP-1, got %+v", c.overrides)
	}
}

func TestRemoveWithoutWallpaperIsNoop(t *testing.T) {
	c := sampleClient()
	m := newTestModel(t, c)
	m.list.Select(1) // HDMI-1 has no wallpaper

	if _, cmd := m.Update(key("x")); cmd != nil {
		t.Fatalf("expected no command for empty display")
	}
	if len(c.removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", c.removed)
	}
}

func TestWallpaperInputPayload(t *testing.T) {
	p, err := wallpaperInput{display: "DP-1", typ: "image", source: " /bg.png ", layout: "tile"}.payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Source != "/bg.png" || p.Layout != renderer.LayoutTile || p.Type != renderer.Image {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if _, err := (wallpaperInput{display: "DP-1", typ: "video"}).payload(); err == nil {
		t.Fatalf("expected error for video without source")
	}
	if _, err := (wallpaperInput{display: "DP-1", typ: "native"}).payload(); err != nil {
		t.Fatalf("expected native without source to be accepted, got %v", err)
	}
}

func TestSubmitForwardsPayload(t *testing.T) {
	c := sampleClient()
	m := newTestModel(t, c)

	m = run(t, m, m.submit(wallpaperInput{display: "HDMI-1", typ: "webpage", source: "https://example.com", layout: "fit"}))
	if len(c.set) != 1 || c.set[0].DisplayID != "HDMI-1" || c.set[0].Layout != renderer.LayoutFit {
		t.Fatalf("unexpected set requests: %+v", c.set)
	}
	if !strings.Contains(m.statusText, "wp-9") {
		t.Fatalf("expected instance id in status, got %q", m.statusText)
	}
}
