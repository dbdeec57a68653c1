//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/1broseidon/deskpaper/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// LinuxBackend wraps an X11 connection behind the platform interfaces.
type LinuxBackend struct {
	conn *x11.Connection
}

var (
	_ DisplaySource     = (*LinuxBackend)(nil)
	_ SurfaceHost       = (*LinuxBackend)(nil)
	_ WindowFinder      = (*LinuxBackend)(nil)
	_ ForegroundWatcher = (*LinuxBackend)(nil)
)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{conn: conn}
}

// NewLinuxBackendFromDisplay opens a fresh X11 connection. An empty display
// uses $DISPLAY.
func NewLinuxBackendFromDisplay(display string) (*LinuxBackend, error) {
	conn, err := x11.Connect(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return &LinuxBackend{conn: conn}, nil
}

// Disconnect stops the event loop and closes the X11 connection.
func (b *LinuxBackend) Disconnect() {
	if b != nil && b.conn != nil {
		b.conn.Quit()
		b.conn.Close()
	}
}

// EventLoop starts the X11 event loop (blocking).
func (b *LinuxBackend) EventLoop() {
	if b != nil && b.conn != nil {
		b.conn.EventLoop()
	}
}

// XUtil exposes the X connection for key bindings.
func (b *LinuxBackend) XUtil() *xgbutil.XUtil {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.XUtil
}

// RootWindow returns the root window of the default screen.
func (b *LinuxBackend) RootWindow() xproto.Window {
	if b == nil || b.conn == nil {
		return 0
	}
	return b.conn.Root
}

// Outputs returns every output, connected or not.
func (b *LinuxBackend) Outputs() ([]Output, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	raw, err := conn.Outputs()
	if err != nil {
		return nil, err
	}

	outputs := make([]Output, 0, len(raw))
	for _, o := range raw {
		outputs = append(outputs, outputFromX11(o))
	}
	return outputs, nil
}

func (b *LinuxBackend) WatchOutputs(ctx context.Context, notify func()) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.WatchOutputs(func() {
		if ctx.Err() == nil {
			notify()
		}
	})
}

func (b *LinuxBackend) CreateHost(bounds Rect, requireIconHost bool) (WindowID, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	win, err := conn.CreateHost(bounds.X, bounds.Y, bounds.Width, bounds.Height, requireIconHost)
	if errors.Is(err, x11.ErrNoDesktopWindow) {
		return 0, ErrIconHostNotFound
	}
	if err != nil {
		return 0, err
	}
	return WindowID(win), nil
}

func (b *LinuxBackend) Embed(host, child WindowID, size Rect) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.Embed(xproto.Window(host), xproto.Window(child), size.Width, size.Height)
}

func (b *LinuxBackend) MoveResize(host, child WindowID, bounds Rect) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.MoveResizeHost(xproto.Window(host), xproto.Window(child),
		bounds.X, bounds.Y, bounds.Width, bounds.Height)
}

func (b *LinuxBackend) Release(host, child WindowID) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.ReleaseHost(xproto.Window(host), xproto.Window(child))
}

func (b *LinuxBackend) WindowForPID(pid int) (WindowID, bool, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, false, err
	}
	win, ok, err := conn.WindowForPID(pid)
	return WindowID(win), ok, err
}

func (b *LinuxBackend) WatchForeground(ctx context.Context, fn func(Foreground)) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.WatchActive(func(w x11.ActiveWindow) {
		if ctx.Err() != nil {
			return
		}
		fn(Foreground{
			Window:         WindowID(w.Window),
			Bounds:         Rect{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height},
			FullscreenHint: w.FullscreenState,
			Shell:          w.Shell,
		})
	})
}

func (b *LinuxBackend) connection() (*x11.Connection, error) {
	if b == nil || b.conn == nil {
		return nil, fmt.Errorf("x11 backend connection is nil")
	}
	return b.conn, nil
}

func outputFromX11(o x11.Output) Output {
	return Output{
		ID:        OutputID(o.Name, o.EDIDHash),
		Name:      o.Name,
		Bounds:    Rect{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height},
		Primary:   o.Primary,
		Connected: o.Connected,
	}
}
