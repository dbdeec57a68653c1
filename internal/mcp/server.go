package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
)

const (
	ServerName    = "deskpaper"
	ServerVersion = "0.1.0"
)

// Daemon is the control socket client the tools proxy to.
type Daemon interface {
	ListDisplays() ([]display.Display, error)
	ListWallpapers() ([]orchestrator.Instance, error)
	SetWallpaper(p ipc.SetWallpaperPayload) (orchestrator.InstanceID, error)
	RemoveWallpaper(id display.ID) error
	PauseAll() error
	ResumeAll() error
}

// Server is the MCP server exposing wallpaper control.
type Server struct {
	mcpServer *mcpsdk.Server
	daemon    Daemon
	logger    *slog.Logger
}

// NewServer creates a new MCP server backed by the daemon's control socket.
func NewServer(daemon Daemon, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		daemon: daemon,
		logger: logger,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_displays",
		Description: "List the monitors known to the deskpaper daemon, including disconnected ones that still hold a wallpaper assignment.",
	}, s.handleListDisplays)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_wallpapers",
		Description: "List wallpaper instances with their lifecycle state (starting, running, paused, crashed, failed), desired run state and attachment status.",
	}, s.handleListWallpapers)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_wallpaper",
		Description: "Assign a wallpaper to a display, replacing any existing one. Returns the new instance ID immediately; the renderer launches in the background, so poll list_wallpapers for the outcome.",
	}, s.handleSetWallpaper)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "remove_wallpaper",
		Description: "Stop and remove the wallpaper on a display. Succeeds when the display has none.",
	}, s.handleRemoveWallpaper)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pause_all",
		Description: "Pause every wallpaper until resume_all is called.",
	}, s.handlePauseAll)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "resume_all",
		Description: "Clear a pause_all. Wallpapers still paused by a policy trigger (fullscreen, lock, power saving) stay paused.",
	}, s.handleResumeAll)
}
