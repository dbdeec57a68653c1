package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// ActiveWindow describes the focused top-level window.
type ActiveWindow struct {
	Window xproto.Window
	X      int
	Y      int
	Width  int
	Height int
	// FullscreenState is set when _NET_WM_STATE carries _NET_WM_STATE_FULLSCREEN.
	FullscreenState bool
	// Shell is set for desktop and dock windows, which never count as a
	// foreground application.
	Shell bool
}

func (c *Connection) GetActiveWindow() (xproto.Window, error) {
	return ewmh.ActiveWindowGet(c.XUtil)
}

// ActiveWindowInfo reads the state and root-relative geometry of the active
// window. A zero Window means nothing is focused.
func (c *Connection) ActiveWindowInfo() (ActiveWindow, error) {
	win, err := c.GetActiveWindow()
	if err != nil || win == 0 {
		return ActiveWindow{}, nil
	}
	return c.describe(win)
}

func (c *Connection) describe(win xproto.Window) (ActiveWindow, error) {
	info := ActiveWindow{Window: win}

	if types, err := ewmh.WmWindowTypeGet(c.XUtil, win); err == nil {
		info.Shell = isShellType(types)
	}
	if states, err := ewmh.WmStateGet(c.XUtil, win); err == nil {
		for _, s := range states {
			if s == "_NET_WM_STATE_FULLSCREEN" {
				info.FullscreenState = true
			}
		}
	}

	x, y, w, h, ok := c.windowRect(win)
	if !ok {
		return info, fmt.Errorf("failed to read geometry of 0x%x", win)
	}
	// Include the WM frame so an undecorated fullscreen window and a
	// decorated maximized one are measured the same way.
	if left, right, top, bottom, err := c.GetFrameExtents(win); err == nil {
		x -= left
		y -= top
		w += left + right
		h += top + bottom
	}
	info.X, info.Y, info.Width, info.Height = x, y, w, h
	return info, nil
}

// WatchActive calls fn with the active window whenever focus moves or the
// focused window changes state or geometry. fn runs on the event loop
// goroutine. The current state is reported once before returning.
func (c *Connection) WatchActive(fn func(ActiveWindow)) error {
	activeAtom, err := xprop.Atm(c.XUtil, "_NET_ACTIVE_WINDOW")
	if err != nil {
		return fmt.Errorf("failed to intern _NET_ACTIVE_WINDOW: %w", err)
	}
	stateAtom, err := xprop.Atm(c.XUtil, "_NET_WM_STATE")
	if err != nil {
		return fmt.Errorf("failed to intern _NET_WM_STATE: %w", err)
	}

	if err := xwindow.New(c.XUtil, c.Root).Listen(xproto.EventMaskPropertyChange); err != nil {
		return fmt.Errorf("failed to listen on root window: %w", err)
	}

	var tracked xproto.Window
	report := func() {
		info, err := c.ActiveWindowInfo()
		if err != nil {
			return
		}
		if info.Window != tracked {
			if tracked != 0 {
				xevent.Detach(c.XUtil, tracked)
			}
			tracked = info.Window
			if tracked != 0 {
				c.trackWindow(tracked, stateAtom, func() {
					if next, err := c.describe(tracked); err == nil {
						fn(next)
					}
				})
			}
		}
		fn(info)
	}

	xevent.PropertyNotifyFun(func(_ *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
		if ev.Atom == activeAtom {
			report()
		}
	}).Connect(c.XUtil, c.Root)

	report()
	return nil
}

func (c *Connection) trackWindow(win xproto.Window, stateAtom xproto.Atom, changed func()) {
	if err := xwindow.New(c.XUtil, win).Listen(xproto.EventMaskPropertyChange, xproto.EventMaskStructureNotify); err != nil {
		return
	}
	xevent.PropertyNotifyFun(func(_ *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
		if ev.Atom == stateAtom {
			changed()
		}
	}).Connect(c.XUtil, win)
	xevent.ConfigureNotifyFun(func(_ *xgbutil.XUtil, _ xevent.ConfigureNotifyEvent) {
		changed()
	}).Connect(c.XUtil, win)
}

// WindowForPID returns a window whose _NET_WM_PID is pid. Managed clients
// are searched first, then the root's direct children for override-redirect
// windows.
func (c *Connection) WindowForPID(pid int) (xproto.Window, bool, error) {
	candidates, err := ewmh.ClientListGet(c.XUtil)
	if err != nil {
		candidates = nil
	}
	tree, treeErr := xproto.QueryTree(c.XUtil.Conn(), c.Root).Reply()
	if treeErr == nil {
		candidates = append(candidates, tree.Children...)
	} else if err != nil {
		return 0, false, fmt.Errorf("failed to list windows: %w", treeErr)
	}

	for _, win := range candidates {
		owner, err := ewmh.WmPidGet(c.XUtil, win)
		if err != nil {
			continue
		}
		if int(owner) == pid {
			return win, true, nil
		}
	}
	return 0, false, nil
}

// GetFrameExtents returns the window decoration sizes (if available)
func (c *Connection) GetFrameExtents(windowID xproto.Window) (left, right, top, bottom int, err error) {
	extents, err := ewmh.FrameExtentsGet(c.XUtil, windowID)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	return int(extents.Left), int(extents.Right), int(extents.Top), int(extents.Bottom), nil
}

func (c *Connection) windowRect(windowID xproto.Window) (x, y, width, height int, ok bool) {
	geom, err := xproto.GetGeometry(c.XUtil.Conn(), xproto.Drawable(windowID)).Reply()
	if err != nil {
		return 0, 0, 0, 0, false
	}

	translate, err := xproto.TranslateCoordinates(
		c.XUtil.Conn(),
		windowID,
		c.Root,
		0, 0,
	).Reply()
	if err != nil {
		return 0, 0, 0, 0, false
	}

	return int(translate.DstX), int(translate.DstY), int(geom.Width), int(geom.Height), true
}

// isShellType reports whether a window type list marks part of the desktop
// shell rather than an application.
func isShellType(types []string) bool {
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_DESKTOP", "_NET_WM_WINDOW_TYPE_DOCK":
			return true
		}
	}
	return false
}
