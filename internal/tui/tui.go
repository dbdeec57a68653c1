// Package tui is an interactive dashboard for the running daemon: one row
// per display with its wallpaper state, plus shortcuts for the control
// socket commands.
package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
)

// Client is the control socket surface the dashboard drives.
type Client interface {
	GetStatus() (*ipc.StatusData, error)
	ListDisplays() ([]display.Display, error)
	ListWallpapers() ([]orchestrator.Instance, error)
	SetWallpaper(p ipc.SetWallpaperPayload) (orchestrator.InstanceID, error)
	RemoveWallpaper(id display.ID) error
	PauseAll() error
	ResumeAll() error
	SetOverride(p ipc.SetOverridePayload) error
	Reload() error
}

// Run starts the dashboard and blocks until the user quits.
func Run(client Client) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("tui requires an interactive terminal (stdin/stdout must be TTYs)")
	}
	_, err := tea.NewProgram(newModel(client), tea.WithAltScreen()).Run()
	return err
}
