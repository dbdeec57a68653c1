package platform

import (
	"context"
	"errors"
)

// WindowID is a platform-neutral window identifier.
type WindowID uint32

// Rect describes a rectangular region in virtual-screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Center returns the midpoint of r.
func (r Rect) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Covers reports whether r fully contains o.
func (r Rect) Covers(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X <= o.X && r.Y <= o.Y &&
		r.X+r.Width >= o.X+o.Width && r.Y+r.Height >= o.Y+o.Height
}

// Output is one physical display as reported by the window system.
type Output struct {
	// ID is stable for the same connector and panel within a session.
	ID        string
	Name      string
	Bounds    Rect
	Primary   bool
	Connected bool
}

// Foreground describes the focused window.
type Foreground struct {
	Window WindowID
	Bounds Rect
	// FullscreenHint is set when the window manager reports the window as fullscreen.
	FullscreenHint bool
	// Shell marks desktop and dock windows.
	Shell bool
}

// ErrIconHostNotFound is returned by SurfaceHost.CreateHost when the desktop
// icon window is required but absent.
var ErrIconHostNotFound = errors.New("desktop icon host not found")

// DisplaySource enumerates outputs and reports raw topology changes.
type DisplaySource interface {
	Outputs() ([]Output, error)
	// WatchOutputs arranges for notify to be called on every raw change
	// until ctx is done. It does not block.
	WatchOutputs(ctx context.Context, notify func()) error
}

// SurfaceHost places renderer windows on the desktop layer.
type SurfaceHost interface {
	// CreateHost creates a window covering bounds on the desktop layer,
	// directly below the desktop icons.
	CreateHost(bounds Rect, requireIconHost bool) (WindowID, error)
	// Embed reparents child into host and sizes it to fill the host.
	Embed(host, child WindowID, size Rect) error
	MoveResize(host, child WindowID, bounds Rect) error
	// Release returns child to the root window unmapped and destroys host.
	Release(host, child WindowID) error
}

// WindowFinder locates the window a process created.
type WindowFinder interface {
	WindowForPID(pid int) (WindowID, bool, error)
}

// ForegroundWatcher reports focus and fullscreen changes.
type ForegroundWatcher interface {
	// WatchForeground calls fn with the current foreground window and on
	// every change until ctx is done. It does not block.
	WatchForeground(ctx context.Context, fn func(Foreground)) error
}

// OutputID builds the stable identifier of an output from its connector
// name and, when the panel reports one, a hash of its EDID. A different
// monitor plugged into the same connector gets a different ID.
func OutputID(name, edidHash string) string {
	if edidHash == "" {
		return name
	}
	return name + "#" + edidHash
}
