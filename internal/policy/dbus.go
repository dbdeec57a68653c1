package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest       = "org.freedesktop.login1"
	login1Path       = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager    = "org.freedesktop.login1.Manager"
	login1Session    = "org.freedesktop.login1.Session"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesSignal = propertiesIface + ".PropertiesChanged"

	upowerDest  = "org.freedesktop.UPower"
	upowerPath  = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerIface = "org.freedesktop.UPower"
)

// profileServices lists the power-profiles-daemon names, newest first.
var profileServices = []struct {
	dest  string
	path  dbus.ObjectPath
	iface string
}{
	{"org.freedesktop.UPower.PowerProfiles", "/org/freedesktop/UPower/PowerProfiles", "org.freedesktop.UPower.PowerProfiles"},
	{"net.hadess.PowerProfiles", "/net/hadess/PowerProfiles", "net.hadess.PowerProfiles"},
}

// LogindSource follows the session's LockedHint and Remote properties and
// its Lock/Unlock signals on the system bus.
type LogindSource struct {
	// SessionID defaults to $XDG_SESSION_ID, then the caller's session.
	SessionID string
}

func (s LogindSource) Name() string { return "logind" }

func (s LogindSource) Run(ctx context.Context, post func(TriggerChange)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	path, err := s.sessionPath(conn)
	if err != nil {
		return err
	}
	session := conn.Object(login1Dest, path)

	locked, err := boolProperty(session, login1Session+".LockedHint")
	if err != nil {
		return fmt.Errorf("read LockedHint: %w", err)
	}
	post(TriggerChange{Kind: SessionLocked, Value: locked})
	if remote, err := boolProperty(session, login1Session+".Remote"); err == nil {
		post(TriggerChange{Kind: RemoteSession, Value: remote})
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("subscribe to session properties: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(login1Session),
	); err != nil {
		return fmt.Errorf("subscribe to session signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if sig.Path != path {
				continue
			}
			for _, c := range sessionChanges(sig) {
				post(c)
			}
		}
	}
}

func (s LogindSource) sessionPath(conn *dbus.Conn) (dbus.ObjectPath, error) {
	manager := conn.Object(login1Dest, login1Path)

	id := s.SessionID
	if id == "" {
		id = os.Getenv("XDG_SESSION_ID")
	}

	var path dbus.ObjectPath
	var err error
	if id != "" {
		err = manager.Call(login1Manager+".GetSession", 0, id).Store(&path)
	} else {
		err = manager.Call(login1Manager+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	}
	if err != nil {
		return "", fmt.Errorf("resolve logind session: %w", err)
	}
	return path, nil
}

// sessionChanges maps a logind session signal to trigger changes.
func sessionChanges(sig *dbus.Signal) []TriggerChange {
	switch sig.Name {
	case login1Session + ".Lock":
		return []TriggerChange{{Kind: SessionLocked, Value: true}}
	case login1Session + ".Unlock":
		return []TriggerChange{{Kind: SessionLocked, Value: false}}
	case propertiesSignal:
		iface, changed, ok := propertiesChanged(sig)
		if !ok || iface != login1Session {
			return nil
		}
		var out []TriggerChange
		if v, ok := variantBool(changed, "LockedHint"); ok {
			out = append(out, TriggerChange{Kind: SessionLocked, Value: v})
		}
		if v, ok := variantBool(changed, "Remote"); ok {
			out = append(out, TriggerChange{Kind: RemoteSession, Value: v})
		}
		return out
	}
	return nil
}

// PowerSource follows power-profiles-daemon's ActiveProfile and, when
// Battery is set, UPower's OnBattery.
type PowerSource struct {
	Battery bool
}

func (s PowerSource) Name() string { return "power" }

func (s PowerSource) Run(ctx context.Context, post func(TriggerChange)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	watched := make(map[dbus.ObjectPath]string)

	for _, svc := range profileServices {
		obj := conn.Object(svc.dest, svc.path)
		v, err := obj.GetProperty(svc.iface + ".ActiveProfile")
		if err != nil {
			continue
		}
		profile, _ := v.Value().(string)
		post(TriggerChange{Kind: PowerSaver, Value: profile == "power-saver"})
		watched[svc.path] = svc.iface
		break
	}

	if s.Battery {
		if onBattery, err := boolProperty(conn.Object(upowerDest, upowerPath), upowerIface+".OnBattery"); err == nil {
			post(TriggerChange{Kind: OnBattery, Value: onBattery})
			watched[upowerPath] = upowerIface
		}
	}

	if len(watched) == 0 {
		return fmt.Errorf("neither power-profiles-daemon nor UPower is available")
	}

	for path := range watched {
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		); err != nil {
			return fmt.Errorf("subscribe to %s: %w", path, err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if sig.Name != propertiesSignal {
				continue
			}
			want, ok := watched[sig.Path]
			if !ok {
				continue
			}
			iface, changed, ok := propertiesChanged(sig)
			if !ok || iface != want {
				continue
			}
			for _, c := range powerChanges(iface, changed) {
				post(c)
			}
		}
	}
}

func powerChanges(iface string, changed map[string]dbus.Variant) []TriggerChange {
	var out []TriggerChange
	if iface == upowerIface {
		if v, ok := variantBool(changed, "OnBattery"); ok {
			out = append(out, TriggerChange{Kind: OnBattery, Value: v})
		}
		return out
	}
	if v, ok := changed["ActiveProfile"]; ok {
		if profile, ok := v.Value().(string); ok {
			out = append(out, TriggerChange{Kind: PowerSaver, Value: profile == "power-saver"})
		}
	}
	return out
}

// propertiesChanged unpacks org.freedesktop.DBus.Properties.PropertiesChanged.
func propertiesChanged(sig *dbus.Signal) (string, map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return iface, changed, true
}

func variantBool(m map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func boolProperty(obj dbus.BusObject, name string) (bool, error) {
	v, err := obj.GetProperty(name)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s is %s, not a boolean", name, v.Signature())
	}
	return b, nil
}
