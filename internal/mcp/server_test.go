package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

type fakeDaemon struct {
	displays  []display.Display
	instances []orchestrator.Instance
	lastSet   ipc.SetWallpaperPayload
	removed   display.ID
	paused    bool
	err       error
}

func (f *fakeDaemon) ListDisplays() ([]display.Display, error) { return f.displays, f.err }

func (f *fakeDaemon) ListWallpapers() ([]orchestrator.Instance, error) { return f.instances, f.err }

func (f *fakeDaemon) SetWallpaper(p ipc.SetWallpaperPayload) (orchestrator.InstanceID, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastSet = p
	return "wp-7", nil
}

func (f *fakeDaemon) RemoveWallpaper(id display.ID) error {
	f.removed = id
	return f.err
}

func (f *fakeDaemon) PauseAll() error {
	f.paused = true
	return f.err
}

func (f *fakeDaemon) ResumeAll() error {
	f.paused = false
	return f.err
}

func connect(t *testing.T, d Daemon) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	s := NewServer(d, logging.Discard())

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	if _, err := s.mcpServer.Connect(ctx, serverT, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args any, out any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if out != nil && !res.IsError {
		if len(res.Content) == 0 {
			t.Fatalf("%s: expected content", name)
		}
		text, ok := res.Content[0].(*mcpsdk.TextContent)
		if !ok {
			t.Fatalf("%s: expected text content, got %T", name, res.Content[0])
		}
		if err := json.Unmarshal([]byte(text.Text), out); err != nil {
			t.Fatalf("%s: decode output: %v", name, err)
		}
	}
	return res
}

func TestToolsAreRegistered(t *testing.T) {
	session := connect(t, &fakeDaemon{})
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"list_displays", "list_wallpapers", "set_wallpaper", "remove_wallpaper", "pause_all", "resume_all"} {
		if !got[name] {
			t.Fatalf("expected tool %s to be registered", name)
		}
	}
}

func TestListTools_FlattenDaemonState(t *testing.T) {
	d := &fakeDaemon{
		displays: []display.Display{
			{ID: "DP-1", Name: "DP-1", Bounds: platform.Rect{X: 1920, Width: 2560, Height: 1440}, Connected: true},
		},
		instances: []orchestrator.Instance{
			{ID: "wp-1", DisplayID: "DP-1", Type: renderer.Video, Source: "/v.mp4", Layout: renderer.LayoutFill,
				State: renderer.Paused, Desired: policy.Paused, Attached: true, PID: 42},
		},
	}
	session := connect(t, d)

	var displays ListDisplaysOutput
	callTool(t, session, "list_displays", map[string]any{}, &displays)
	if len(displays.Displays) != 1 || displays.Displays[0].X != 1920 || displays.Displays[0].Width != 2560 {
		t.Fatalf("expected DP-1 at x=1920 2560 wide, got %+v", displays.Displays)
	}

	var wallpapers ListWallpapersOutput
	callTool(t, session, "list_wallpapers", map[string]any{}, &wallpapers)
	if len(wallpapers.Wallpapers) != 1 {
		t.Fatalf("expected one wallpaper, got %+v", wallpapers.Wallpapers)
	}
	if w := wallpapers.Wallpapers[0]; w.State != "paused" || w.Desired != "paused" || !w.Attached || w.PID != 42 {
		t.Fatalf("unexpected wallpaper info: %+v", w)
	}
}

func TestListTools_EmptyDaemon(t *testing.T) {
	session := connect(t, &fakeDaemon{})
	var wallpapers ListWallpapersOutput
	res := callTool(t, session, "list_wallpapers", map[string]any{}, &wallpapers)
	if res.IsError || wallpapers.Wallpapers == nil {
		t.Fatalf("expected an empty list, got error=%v %+v", res.IsError, wallpapers)
	}
}

func TestSetWallpaper_ForwardsRequest(t *testing.T) {
	d := &fakeDaemon{}
	session := connect(t, d)

	var out SetWallpaperOutput
	res := callTool(t, session, "set_wallpaper", map[string]any{
		"display_id":  "HDMI-1",
		"type":        "Video",
		"source":      "/tmp/clip.mp4",
		"layout":      "fit",
		"mouse_input": true,
	}, &out)
	if res.IsError {
		t.Fatalf("expected success, got %+v", res.Content)
	}
	if out.InstanceID != "wp-7" || out.DisplayID != "HDMI-1" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if d.lastSet.Type != renderer.Video || d.lastSet.Layout != renderer.LayoutFit || !d.lastSet.MouseInput {
		t.Fatalf("request not forwarded: %+v", d.lastSet)
	}
}

func TestSetWallpaper_RejectsBadLayout(t *testing.T) {
	session := connect(t, &fakeDaemon{})
	res := callTool(t, session, "set_wallpaper", map[string]any{
		"display_id": "HDMI-1", "type": "video", "source": "/a", "layout": "diagonal",
	}, nil)
	if !res.IsError {
		t.Fatalf("expected tool error for unknown layout")
	}
}

func TestDaemonErrorsBecomeToolErrors(t *testing.T) {
	d := &fakeDaemon{err: &ipc.RemoteError{Code: ipc.CodeInvalidDisplay, Message: "invalid display: DP-9"}}
	session := connect(t, d)

	res := callTool(t, session, "remove_wallpaper", map[string]any{"display_id": "DP-9"}, nil)
	if !res.IsError {
		t.Fatalf("expected tool error")
	}
	text := res.Content[0].(*mcpsdk.TextContent).Text
	if !strings.Contains(text, "invalid display") {
		t.Fatalf("expected daemon message in tool error, got %q", text)
	}
}

func TestPauseResume(t *testing.T) {
	d := &fakeDaemon{}
	session := connect(t, d)

	var ack AckOutput
	callTool(t, session, "pause_all", map[string]any{}, &ack)
	if !ack.OK || !d.paused {
		t.Fatalf("expected pause_all to reach the daemon")
	}
	callTool(t, session, "resume_all", map[string]any{}, &ack)
	if !ack.OK || d.paused {
		t.Fatalf("expected resume_all to reach the daemon")
	}
}
