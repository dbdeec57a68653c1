package x11

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// ErrNoDesktopWindow is returned when no mapped _NET_WM_WINDOW_TYPE_DESKTOP
// window exists (no file manager is drawing desktop icons).
var ErrNoDesktopWindow = errors.New("no desktop window found")

const hostClass = "deskpaper"

// DesktopWindow returns the mapped window that draws the desktop icons.
// Both the EWMH client list and the root's direct children are searched
// because some file managers never register their desktop as a client.
func (c *Connection) DesktopWindow() (xproto.Window, error) {
	candidates, _ := ewmh.ClientListGet(c.XUtil)
	if tree, err := xproto.QueryTree(c.XUtil.Conn(), c.Root).Reply(); err == nil {
		candidates = append(candidates, tree.Children...)
	}

	seen := make(map[xproto.Window]bool, len(candidates))
	for _, win := range candidates {
		if seen[win] {
			continue
		}
		seen[win] = true

		if !c.hasWindowType(win, "_NET_WM_WINDOW_TYPE_DESKTOP") {
			continue
		}
		attrs, err := xproto.GetWindowAttributes(c.XUtil.Conn(), win).Reply()
		if err != nil || attrs.MapState != xproto.MapStateViewable {
			continue
		}
		return win, nil
	}
	return 0, ErrNoDesktopWindow
}

// topLevel walks up from win to the ancestor that is a direct child of the
// root window (the WM frame, when the desktop window is reparented).
func (c *Connection) topLevel(win xproto.Window) (xproto.Window, error) {
	cur := win
	for {
		tree, err := xproto.QueryTree(c.XUtil.Conn(), cur).Reply()
		if err != nil {
			return 0, fmt.Errorf("query tree for 0x%x: %w", cur, err)
		}
		if tree.Parent == c.Root || tree.Parent == 0 {
			return cur, nil
		}
		cur = tree.Parent
	}
}

// CreateHost creates an override-redirect window covering the given area
// and stacks it directly below the desktop icon window, so it is painted
// above the root background and under the icons. With requireDesktop false
// and no icon window present the host goes to the bottom of the stack.
func (c *Connection) CreateHost(x, y, width, height int, requireDesktop bool) (xproto.Window, error) {
	var sibling xproto.Window
	desktop, err := c.DesktopWindow()
	switch {
	case err == nil:
		sibling, err = c.topLevel(desktop)
		if err != nil {
			return 0, err
		}
	case requireDesktop:
		return 0, err
	}

	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to generate window id: %w", err)
	}

	err = win.CreateChecked(c.Root, x, y, width, height,
		xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwEventMask,
		0, 1, xproto.EventMaskStructureNotify)
	if err != nil {
		return 0, fmt.Errorf("failed to create host window: %w", err)
	}

	icccm.WmNameSet(c.XUtil, win.Id, "deskpaper host")
	icccm.WmClassSet(c.XUtil, win.Id, &icccm.WmClass{Instance: hostClass, Class: hostClass})

	if sibling != 0 {
		win.StackSibling(sibling, xproto.StackModeBelow)
	} else {
		win.Stack(xproto.StackModeBelow)
	}
	win.Map()
	return win.Id, nil
}

// Embed reparents child into host at the origin, sizes it to width×height
// and maps it. The child is made override-redirect first so the window
// manager stops managing it.
func (c *Connection) Embed(host, child xproto.Window, width, height int) error {
	conn := c.XUtil.Conn()

	xproto.ChangeWindowAttributes(conn, child, xproto.CwOverrideRedirect, []uint32{1})
	xproto.UnmapWindow(conn, child)

	if err := xproto.ReparentWindowChecked(conn, child, host, 0, 0).Check(); err != nil {
		return fmt.Errorf("failed to reparent 0x%x into 0x%x: %w", child, host, err)
	}

	xproto.ConfigureWindow(conn, child,
		xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{0, 0, uint32(width), uint32(height)})
	xproto.MapWindow(conn, child)
	xproto.MapWindow(conn, host)
	return nil
}

// MoveResizeHost moves the host window and resizes the embedded child to fill it.
func (c *Connection) MoveResizeHost(host, child xproto.Window, x, y, width, height int) error {
	conn := c.XUtil.Conn()
	err := xproto.ConfigureWindowChecked(conn, host,
		xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(int32(x)), uint32(int32(y)), uint32(width), uint32(height)}).Check()
	if err != nil {
		return fmt.Errorf("failed to move host 0x%x: %w", host, err)
	}
	if child != 0 {
		xproto.ConfigureWindow(conn, child,
			xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
			[]uint32{uint32(width), uint32(height)})
	}
	return nil
}

// ReleaseHost hands child back to the root window unmapped and destroys host.
// Either window may already be gone.
func (c *Connection) ReleaseHost(host, child xproto.Window) error {
	conn := c.XUtil.Conn()
	if child != 0 {
		xproto.UnmapWindow(conn, child)
		xproto.ReparentWindow(conn, child, c.Root, 0, 0)
	}
	if host == 0 {
		return nil
	}
	if err := xproto.DestroyWindowChecked(conn, host).Check(); err != nil {
		return fmt.Errorf("failed to destroy host 0x%x: %w", host, err)
	}
	return nil
}

func (c *Connection) hasWindowType(win xproto.Window, want string) bool {
	types, err := ewmh.WmWindowTypeGet(c.XUtil, win)
	if err != nil {
		return false
	}
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
