package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/zeebo/blake3"
)

// Output is one RandR output. Outputs without an active CRTC are reported
// with Connected=false and zero geometry.
type Output struct {
	Name      string
	EDIDHash  string
	X         int
	Y         int
	Width     int
	Height    int
	Primary   bool
	Connected bool
}

// Outputs enumerates every RandR output known to the server.
func (c *Connection) Outputs() ([]Output, error) {
	conn := c.XUtil.Conn()

	resources, err := randr.GetScreenResources(conn, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(conn, c.Root).Reply(); err == nil {
		primary = reply.Output
	}

	edidAtom, _ := xprop.Atm(c.XUtil, "EDID")

	outputs := make([]Output, 0, len(resources.Outputs))
	for _, out := range resources.Outputs {
		info, err := randr.GetOutputInfo(conn, out, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		o := Output{
			Name:    string(info.Name),
			Primary: out == primary,
		}
		if edidAtom != 0 {
			o.EDIDHash = c.edidHash(out, edidAtom)
		}

		if info.Connection == randr.ConnectionConnected && info.Crtc != 0 {
			crtc, err := randr.GetCrtcInfo(conn, info.Crtc, resources.ConfigTimestamp).Reply()
			if err == nil && crtc.Width > 0 && crtc.Height > 0 {
				o.Connected = true
				o.X = int(crtc.X)
				o.Y = int(crtc.Y)
				o.Width = int(crtc.Width)
				o.Height = int(crtc.Height)
			}
		}
		outputs = append(outputs, o)
	}

	return outputs, nil
}

func (c *Connection) edidHash(out randr.Output, atom xproto.Atom) string {
	reply, err := randr.GetOutputProperty(c.XUtil.Conn(), out, atom,
		xproto.GetPropertyTypeAny, 0, 256, false, false).Reply()
	if err != nil || len(reply.Data) == 0 {
		return ""
	}
	return hashEDID(reply.Data)
}

// hashEDID shortens an EDID blob to eight hex digits for display IDs.
func hashEDID(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:4])
}

// WatchOutputs selects RandR change notifications on the root window and
// calls notify for each one. notify runs on the event loop goroutine and
// must not block.
func (c *Connection) WatchOutputs(notify func()) error {
	mask := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(c.XUtil.Conn(), c.Root, mask).Check(); err != nil {
		return fmt.Errorf("randr select input: %w", err)
	}

	xevent.HookFun(func(_ *xgbutil.XUtil, event interface{}) bool {
		switch event.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			notify()
		}
		return true
	}).Connect(c.XUtil)
	return nil
}
