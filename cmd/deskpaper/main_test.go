package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

type stubOrchestrator struct {
	mu      sync.Mutex
	state   orchestrator.State
	lastReq orchestrator.Request
	lastID  display.ID
}

func (s *stubOrchestrator) Snapshot() orchestrator.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubOrchestrator) SetWallpaper(_ context.Context, id display.ID, req orchestrator.Request) (orchestrator.InstanceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = id
	s.lastReq = req
	return "wp-3", nil
}

func (s *stubOrchestrator) RemoveWallpaper(context.Context, display.ID) error { return nil }

func (s *stubOrchestrator) PauseAll(context.Context) error { return nil }

func (s *stubOrchestrator) ResumeAll(context.Context) error { return nil }

func (s *stubOrchestrator) SetOverride(context.Context, display.ID, policy.Override) error {
	return nil
}

func (s *stubOrchestrator) SetLayout(context.Context, display.ID, renderer.LayoutMode) error {
	return nil
}

func (s *stubOrchestrator) Subscribe() (<-chan orchestrator.Event, func()) {
	ch := make(chan orchestrator.Event)
	return ch, func() {}
}

func startDaemon(t *testing.T, orch *stubOrchestrator) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deskpaper.sock")
	srv, err := ipc.NewServer(orch, ipc.ServerOptions{SocketPath: path})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSetPayload(t *testing.T) {
	p, err := setPayload([]string{"HDMI-1", "Video", "/tmp/a.mp4"}, "FIT", true)
	if err != nil {
		t.Fatalf("setPayload: %v", err)
	}
	if p.DisplayID != "HDMI-1" || p.Type != renderer.Video || p.Layout != renderer.LayoutFit || !p.MouseInput {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, err := setPayload([]string{"HDMI-1", "native"}, "", false); err != nil {
		t.Fatalf("expected native without source to be accepted, got %v", err)
	}
	if _, err := setPayload([]string{"HDMI-1", "video"}, "", false); err == nil {
		t.Fatalf("expected error for video without source")
	}
	if _, err := setPayload([]string{"HDMI-1", "video", "/a"}, "zoom", false); err == nil {
		t.Fatalf("expected error for unknown layout")
	}
}

func TestFormatSource(t *testing.T) {
	cases := []struct {
		src  config.Source
		want string
	}{
		{config.Source{Kind: config.SourceDefault, Name: "defaults"}, "default:defaults"},
		{config.Source{Kind: config.SourceFile, File: "/c.yaml", Line: 3, Column: 5}, "file:/c.yaml:3:5"},
		{config.Source{Kind: config.SourceFile, File: "/c.yaml"}, "file:/c.yaml"},
		{config.Source{Kind: config.SourceFile}, "file"},
	}
	for _, tc := range cases {
		if got := formatSource(tc.src); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestWriteWallpapers(t *testing.T) {
	var buf bytes.Buffer
	err := writeWallpapers(&buf, []orchestrator.Instance{{
		ID:        "wp-1",
		DisplayID: "DP-1",
		Type:      renderer.Video,
		Source:    "/v.mp4",
		State:     renderer.Failed,
		Desired:   policy.Running,
		Override:  policy.Override{Pause: true},
		LastError: "exited twice within 1m0s",
	}})
	if err != nil {
		t.Fatalf("writeWallpapers: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"DP-1", "wp-1", "failed (held)", "wp-1: exited twice"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeWallpapers(&buf, nil); err != nil {
		t.Fatalf("writeWallpapers: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "no wallpapers" {
		t.Fatalf("expected empty marker, got %q", buf.String())
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	writeEvent(&buf, orchestrator.Event{
		Kind:      orchestrator.DisplayTopologyChanged,
		Time:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DisplayID: "DP-2",
		Change:    "resized",
		Bounds:    &platform.Rect{X: 1920, Width: 1280, Height: 1024},
	})
	out := buf.String()
	if !strings.Contains(out, "display=DP-2") || !strings.Contains(out, "geometry=1280x1024+1920+0") {
		t.Fatalf("unexpected event line: %q", out)
	}
}

func TestSetCommand_ForwardsToDaemon(t *testing.T) {
	orch := &stubOrchestrator{}
	sock := startDaemon(t, orch)

	out, err := execute(t, "--socket", sock, "--json", "set", "HDMI-1", "webpage", "https://example.com", "--layout", "stretch")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	var data ipc.SetWallpaperData
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out, err)
	}
	if data.InstanceID != "wp-3" {
		t.Fatalf("expected instance wp-3, got %q", data.InstanceID)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if orch.lastID != "HDMI-1" || orch.lastReq.Type != renderer.WebPage || orch.lastReq.Layout != renderer.LayoutStretch {
		t.Fatalf("unexpected request: %s %+v", orch.lastID, orch.lastReq)
	}
}

func TestListCommand_HumanOutput(t *testing.T) {
	orch := &stubOrchestrator{state: orchestrator.State{
		Instances: []orchestrator.Instance{{ID: "wp-1", DisplayID: "DP-1", Type: renderer.Image, Source: "/bg.png", State: renderer.Running, Attached: true}},
	}}
	sock := startDaemon(t, orch)

	out, err := execute(t, "--socket", sock, "--json=false", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "DISPLAY") || !strings.Contains(out, "/bg.png") {
		t.Fatalf("expected table output, got:\n%s", out)
	}
}

func TestStatusCommand_NoDaemon(t *testing.T) {
	_, err := execute(t, "--socket", filepath.Join(t.TempDir(), "none.sock"), "status")
	if err == nil || !strings.Contains(err.Error(), "daemon is not running") {
		t.Fatalf("expected daemon-not-running error, got %v", err)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("expected written path in output, got %q", out)
	}
	if _, err := execute(t, "--config", path, "config", "init"); err == nil {
		t.Fatalf("expected init to refuse overwriting")
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err = execute(t, "--config", path, "config", "validate")
	if err != nil || strings.TrimSpace(out) != "config: ok" {
		t.Fatalf("expected config: ok, got %q (%v)", out, err)
	}

	out, err = execute(t, "--config", path, "config", "explain", "log_level")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !strings.Contains(out, "source: file:") || !strings.Contains(out, "debug") {
		t.Fatalf("unexpected explain output:\n%s", out)
	}

	if err := os.WriteFile(path, []byte("log_level: [\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "--config", path, "config", "validate"); err == nil {
		t.Fatalf("expected validate to fail on broken YAML")
	}
}
