package policy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
)

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// SessionPoller polls `loginctl show-session` for lock and remote state.
type SessionPoller struct {
	Interval  time.Duration
	SessionID string
	Clock     clock.Clock
	Runner    CommandRunner
}

func (p SessionPoller) Name() string { return "session-poll" }

func (p SessionPoller) Run(ctx context.Context, post func(TriggerChange)) error {
	run := p.Runner
	if run == nil {
		if _, err := exec.LookPath("loginctl"); err != nil {
			return fmt.Errorf("loginctl not available: %w", err)
		}
		run = execRunner
	}
	id := p.SessionID
	if id == "" {
		id = os.Getenv("XDG_SESSION_ID")
	}
	if id == "" {
		id = "self"
	}

	poll := func() {
		out, err := run(ctx, "loginctl", "show-session", id, "-p", "LockedHint", "-p", "Remote")
		if err != nil {
			return
		}
		props := parseProperties(out)
		if v, ok := props["LockedHint"]; ok {
			post(TriggerChange{Kind: SessionLocked, Value: v == "yes"})
		}
		if v, ok := props["Remote"]; ok {
			post(TriggerChange{Kind: RemoteSession, Value: v == "yes"})
		}
	}
	return every(ctx, p.Clock, p.Interval, poll)
}

// PowerPoller polls `powerprofilesctl get` and, when Battery is set, the
// mains adapters under /sys/class/power_supply.
type PowerPoller struct {
	Interval  time.Duration
	Battery   bool
	Clock     clock.Clock
	Runner    CommandRunner
	SysfsRoot string
}

func (p PowerPoller) Name() string { return "power-poll" }

func (p PowerPoller) Run(ctx context.Context, post func(TriggerChange)) error {
	run := p.Runner
	if run == nil {
		run = execRunner
	}
	root := p.SysfsRoot
	if root == "" {
		root = "/sys/class/power_supply"
	}

	poll := func() {
		if out, err := run(ctx, "powerprofilesctl", "get"); err == nil {
			post(TriggerChange{Kind: PowerSaver, Value: strings.TrimSpace(out) == "power-saver"})
		}
		if p.Battery {
			if onBattery, ok := readOnBattery(root); ok {
				post(TriggerChange{Kind: OnBattery, Value: onBattery})
			}
		}
	}
	return every(ctx, p.Clock, p.Interval, poll)
}

// every calls fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, clk clock.Clock, interval time.Duration, fn func()) error {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	fn()
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

var propertyLine = regexp.MustCompile(`^([^=]+)=(.*)$`)

// parseProperties parses loginctl's key=value output.
func parseProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		m := propertyLine.FindStringSubmatch(strings.TrimSpace(line))
		if len(m) == 3 {
			props[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return props
}

// readOnBattery reports whether every mains adapter is offline. ok is false
// when the machine has no mains adapter entry (desktops without batteries
// often have none).
func readOnBattery(root string) (onBattery bool, ok bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, false
	}
	mains := 0
	online := 0
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		kind, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil || strings.TrimSpace(string(kind)) != "Mains" {
			continue
		}
		mains++
		state, err := os.ReadFile(filepath.Join(dir, "online"))
		if err == nil && strings.TrimSpace(string(state)) == "1" {
			online++
		}
	}
	if mains == 0 {
		return false, false
	}
	return online == 0, true
}
