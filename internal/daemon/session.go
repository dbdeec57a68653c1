package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest    = "org.freedesktop.login1"
	login1Path    = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager = "org.freedesktop.login1.Manager"
)

// WatchSessionEnd calls onShutdown when logind announces a system shutdown
// or reboot. A delay inhibitor is held until onShutdown returns so renderers
// can be stopped before the session is torn down. It blocks until ctx is
// done or the signal has been handled.
func WatchSessionEnd(ctx context.Context, onShutdown func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForShutdown"),
	); err != nil {
		return fmt.Errorf("watch PrepareForShutdown: %w", err)
	}

	inhibitor := takeInhibitor(conn, logger)
	defer func() {
		if inhibitor != nil {
			inhibitor.Close()
		}
	}()

	signals := make(chan *dbus.Signal, 4)
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
			if !preparingForShutdown(sig) {
				continue
			}
			logger.Info("system shutdown announced, stopping wallpapers")
			onShutdown()
			return nil
		}
	}
}

func preparingForShutdown(sig *dbus.Signal) bool {
	if sig.Name != login1Manager+".PrepareForShutdown" || len(sig.Body) != 1 {
		return false
	}
	active, ok := sig.Body[0].(bool)
	return ok && active
}

// takeInhibitor asks logind for a shutdown delay lock. Failure only means
// the session may be torn down before renderers have exited.
func takeInhibitor(conn *dbus.Conn, logger *slog.Logger) *os.File {
	var fd dbus.UnixFD
	err := conn.Object(login1Dest, login1Path).
		Call(login1Manager+".Inhibit", 0, "shutdown", "deskpaper", "Stopping wallpaper renderers", "delay").
		Store(&fd)
	if err != nil {
		logger.Debug("shutdown inhibitor unavailable", "error", err)
		return nil
	}
	return os.NewFile(uintptr(fd), "logind-inhibit")
}
