package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
)

// RunState is the playback state the policy wants for an instance.
type RunState int

const (
	Running RunState = iota
	Paused
)

func (s RunState) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	default:
		return fmt.Errorf("unknown run state %q", b)
	}
	return nil
}

// Override is a per-instance user setting.
type Override struct {
	// Pause keeps the instance paused regardless of other triggers.
	Pause bool `json:"pause"`
	// MouseInput marks an interactive wallpaper; it keeps running while a
	// fullscreen application has focus.
	MouseInput bool `json:"mouse_input"`
}

// TriggerKind names a global input to the policy.
type TriggerKind int

const (
	Fullscreen TriggerKind = iota
	PowerSaver
	OnBattery
	SessionLocked
	RemoteSession
	// Overrides and Settings are emitted for user-driven changes.
	Overrides
	Settings
	// Foreground is emitted when focus moved without changing the
	// fullscreen trigger. It carries no state; consumers use it to retry
	// pending surface attachments.
	Foreground
)

var triggerNames = [...]string{"fullscreen", "power_saver", "on_battery", "session_locked", "remote_session", "overrides", "settings", "foreground"}

func (k TriggerKind) String() string {
	if int(k) >= 0 && int(k) < len(triggerNames) {
		return triggerNames[k]
	}
	return fmt.Sprintf("TriggerKind(%d)", int(k))
}

func (k TriggerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TriggerChange reports a new value for one trigger. DisplayID is set for
// Fullscreen when the fullscreen window's display is known.
type TriggerChange struct {
	Kind      TriggerKind `json:"kind"`
	Value     bool        `json:"value"`
	DisplayID display.ID  `json:"display_id,omitempty"`
}

// Rules is the user configuration consulted by the engine.
type Rules struct {
	PauseOnFullscreen bool
	FullscreenScope   string
	PauseOnPowerSaver bool
	PauseOnBattery    bool
	PauseOnLock       bool
	PauseOnRemote     bool
}

// RulesFromConfig extracts the policy rules from the daemon config.
func RulesFromConfig(p config.PolicyConfig) Rules {
	return Rules{
		PauseOnFullscreen: p.PauseOnFullscreen,
		FullscreenScope:   p.FullscreenScope,
		PauseOnPowerSaver: p.PauseOnPowerSaver,
		PauseOnBattery:    p.PauseOnBattery,
		PauseOnLock:       p.PauseOnLock,
		PauseOnRemote:     p.PauseOnRemote,
	}
}

// Triggers is a snapshot of the global trigger state.
type Triggers struct {
	Fullscreen        bool       `json:"fullscreen"`
	FullscreenDisplay display.ID `json:"fullscreen_display,omitempty"`
	PowerSaver        bool       `json:"power_saver"`
	OnBattery         bool       `json:"on_battery"`
	SessionLocked     bool       `json:"session_locked"`
	RemoteSession     bool       `json:"remote_session"`
	PauseAll          bool       `json:"pause_all"`
}

// Engine computes the desired run state of each instance from the global
// triggers, the rules and per-instance overrides.
//
// Changes is a wake-up signal: consumers re-evaluate every instance after
// receiving from it, so a change dropped while the buffer is full loses
// nothing.
type Engine struct {
	logger *slog.Logger

	mu        sync.RWMutex
	rules     Rules
	triggers  Triggers
	overrides map[string]Override

	changes chan TriggerChange
}

func NewEngine(rules Rules, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:    logger,
		rules:     rules,
		overrides: make(map[string]Override),
		changes:   make(chan TriggerChange, 64),
	}
}

func (e *Engine) Changes() <-chan TriggerChange {
	return e.changes
}

// DesiredRunState applies the rules in order; the first match wins.
//
//  1. pause override (per instance, or pause-all) -> Paused
//  2. locked session or remote session -> Paused
//  3. fullscreen foreground app, unless the instance takes mouse input -> Paused
//  4. power saver or on battery -> Paused
//  5. Running
func (e *Engine) DesiredRunState(instanceID string, displayID display.ID) RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, t := e.rules, e.triggers
	ov := e.overrides[instanceID]

	if ov.Pause || t.PauseAll {
		return Paused
	}
	if (t.SessionLocked && r.PauseOnLock) || (t.RemoteSession && r.PauseOnRemote) {
		return Paused
	}
	if t.Fullscreen && r.PauseOnFullscreen && !ov.MouseInput {
		if r.FullscreenScope != config.FullscreenScopeDisplay || t.FullscreenDisplay == "" || t.FullscreenDisplay == displayID {
			return Paused
		}
	}
	if (t.PowerSaver && r.PauseOnPowerSaver) || (t.OnBattery && r.PauseOnBattery) {
		return Paused
	}
	return Running
}

// Apply records a trigger value reported by a source. Repeated values do
// not notify, except that every Fullscreen report counts as a focus change
// and is forwarded as Foreground.
func (e *Engine) Apply(c TriggerChange) {
	e.mu.Lock()
	t := &e.triggers
	changed := false
	switch c.Kind {
	case Fullscreen:
		id := c.DisplayID
		if !c.Value {
			id = ""
		}
		changed = t.Fullscreen != c.Value || t.FullscreenDisplay != id
		t.Fullscreen, t.FullscreenDisplay = c.Value, id
	case PowerSaver:
		changed = t.PowerSaver != c.Value
		t.PowerSaver = c.Value
	case OnBattery:
		changed = t.OnBattery != c.Value
		t.OnBattery = c.Value
	case SessionLocked:
		changed = t.SessionLocked != c.Value
		t.SessionLocked = c.Value
	case RemoteSession:
		changed = t.RemoteSession != c.Value
		t.RemoteSession = c.Value
	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	switch {
	case changed:
		e.logger.Info("trigger changed", "trigger", c.Kind.String(), "value", c.Value, "display", c.DisplayID)
		e.notify(c)
	case c.Kind == Fullscreen:
		e.notify(TriggerChange{Kind: Foreground, DisplayID: c.DisplayID})
	}
}

// SetOverride replaces the override of an instance.
func (e *Engine) SetOverride(instanceID string, ov Override) {
	e.mu.Lock()
	if ov == (Override{}) {
		delete(e.overrides, instanceID)
	} else {
		e.overrides[instanceID] = ov
	}
	e.mu.Unlock()
	e.notify(TriggerChange{Kind: Overrides, Value: ov.Pause})
}

func (e *Engine) ClearOverride(instanceID string) {
	e.mu.Lock()
	_, had := e.overrides[instanceID]
	delete(e.overrides, instanceID)
	e.mu.Unlock()
	if had {
		e.notify(TriggerChange{Kind: Overrides})
	}
}

// OverrideFor returns the override of an instance.
func (e *Engine) OverrideFor(instanceID string) Override {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overrides[instanceID]
}

// SetPauseAll applies or clears the user-level pause of every instance.
func (e *Engine) SetPauseAll(paused bool) {
	e.mu.Lock()
	changed := e.triggers.PauseAll != paused
	e.triggers.PauseAll = paused
	e.mu.Unlock()
	if changed {
		e.notify(TriggerChange{Kind: Overrides, Value: paused})
	}
}

// SetRules swaps the rules, typically after a config reload.
func (e *Engine) SetRules(r Rules) {
	e.mu.Lock()
	changed := e.rules != r
	e.rules = r
	e.mu.Unlock()
	if changed {
		e.notify(TriggerChange{Kind: Settings})
	}
}

// Triggers returns the current trigger state.
func (e *Engine) Triggers() Triggers {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.triggers
}

func (e *Engine) notify(c TriggerChange) {
	select {
	case e.changes <- c:
	default:
	}
}

// Run starts every source in its own goroutine and blocks until ctx is
// done. A source that fails is logged and not restarted; wrap it in a
// Fallback to degrade to polling.
func (e *Engine) Run(ctx context.Context, sources ...Source) {
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			e.logger.Info("trigger source started", "source", src.Name())
			if err := src.Run(ctx, e.Apply); err != nil && ctx.Err() == nil {
				e.logger.Warn("trigger source stopped", "source", src.Name(), "error", err)
			}
		}(src)
	}
	wg.Wait()
}
