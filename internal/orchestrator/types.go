package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/surface"
)

var (
	// ErrInvalidDisplay is returned for an unknown or disconnected display.
	ErrInvalidDisplay = errors.New("invalid display")
	// ErrUnsupportedType is returned for a wallpaper type without a renderer.
	ErrUnsupportedType = errors.New("unsupported wallpaper type")
	// ErrShuttingDown is returned for commands issued after Shutdown started.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// InstanceID identifies one wallpaper assignment. A crash relaunch keeps
// the ID; a new SetWallpaper call gets a new one.
type InstanceID string

// Request describes the wallpaper to show on a display.
type Request struct {
	Type   renderer.Type       `json:"type"`
	Source string              `json:"source"`
	Layout renderer.LayoutMode `json:"layout,omitempty"`
	// MouseInput marks an interactive wallpaper that keeps running while a
	// fullscreen application has focus.
	MouseInput bool `json:"mouse_input,omitempty"`
}

// Instance is the read-only view of a wallpaper instance.
type Instance struct {
	ID         InstanceID          `json:"id"`
	DisplayID  display.ID          `json:"display_id"`
	Type       renderer.Type       `json:"type"`
	Source     string              `json:"source"`
	Layout     renderer.LayoutMode `json:"layout"`
	State      renderer.State      `json:"state"`
	Desired    policy.RunState     `json:"desired"`
	Attached   bool                `json:"attached"`
	PID        int                 `json:"pid,omitempty"`
	Restarts   int                 `json:"restarts"`
	Generation uint64              `json:"generation"`
	Override   policy.Override     `json:"override"`
	LastError  string              `json:"last_error,omitempty"`
}

// State is a snapshot of the orchestrator, republished after every change.
type State struct {
	Instances []Instance        `json:"instances"`
	Displays  []display.Display `json:"displays"`
	Triggers  policy.Triggers   `json:"triggers"`
	Updated   time.Time         `json:"updated"`
}

// Instance returns the instance bound to a display.
func (s State) Instance(id display.ID) (Instance, bool) {
	for _, inst := range s.Instances {
		if inst.DisplayID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// EventKind classifies outbound events.
type EventKind int

const (
	InstanceStateChanged EventKind = iota
	LaunchFailed
	CrashRetryExhausted
	AttachDegraded
	DisplayTopologyChanged
)

var eventNames = [...]string{
	"instance_state_changed",
	"launch_failed",
	"crash_retry_exhausted",
	"attach_degraded",
	"display_topology_changed",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for i, name := range eventNames {
		if name == string(b) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is delivered to subscribers.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Time       time.Time      `json:"time"`
	InstanceID InstanceID     `json:"instance_id,omitempty"`
	DisplayID  display.ID     `json:"display_id,omitempty"`
	State      renderer.State `json:"state"`
	// Change is set for DisplayTopologyChanged: added, removed or resized.
	Change string         `json:"change,omitempty"`
	Bounds *platform.Rect `json:"bounds,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Settings are the tunables read from the config.
type Settings struct {
	MaxAutoRestarts int
	CrashCooldown   time.Duration
	ShutdownTimeout time.Duration
	// RetireTimeout bounds the termination of a replaced, removed or stale
	// renderer.
	RetireTimeout time.Duration
}

// retireMargin is added to the terminate grace for the kill and reap that
// follow it.
const retireMargin = 2 * time.Second

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxAutoRestarts: cfg.Limits.MaxAutoRestarts,
		CrashCooldown:   cfg.Timeouts.CrashCooldown,
		ShutdownTimeout: cfg.Timeouts.Shutdown,
		RetireTimeout:   cfg.Timeouts.TerminateGrace + retireMargin,
	}
}

func (s Settings) withDefaults() Settings {
	if s.MaxAutoRestarts < 0 {
		s.MaxAutoRestarts = 0
	}
	if s.CrashCooldown <= 0 {
		s.CrashCooldown = 60 * time.Second
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 5 * time.Second
	}
	if s.RetireTimeout <= 0 {
		s.RetireTimeout = 3*time.Second + retireMargin
	}
	return s
}

// Displays is the display registry as seen by the orchestrator.
type Displays interface {
	List() []display.Display
	Lookup(id display.ID) (display.Display, bool)
	Events() <-chan display.Event
}

// Renderers launches and controls renderer processes.
type Renderers interface {
	Supports(t renderer.Type) bool
	Start(ctx context.Context, spec renderer.Spec) (*renderer.Process, error)
	Pause(id string) error
	Resume(id string) error
	Resize(id string, bounds platform.Rect) error
	SetLayout(id string, layout renderer.LayoutMode) error
	Terminate(ctx context.Context, id string) error
	TerminateAll(ctx context.Context)
	Exits() <-chan renderer.Exit
}

// Surfaces places renderer windows on the desktop layer.
type Surfaces interface {
	Attach(ctx context.Context, instanceID string, window platform.WindowID, d display.Display) (surface.Handle, error)
	Reflow(displayID display.ID, bounds platform.Rect) error
	Detach(instanceID string) error
	RetryPending(ctx context.Context) []surface.Handle
	ReleaseAll()
	Events() <-chan surface.Event
}

// Policy decides the run state of each instance.
type Policy interface {
	DesiredRunState(instanceID string, displayID display.ID) policy.RunState
	Changes() <-chan policy.TriggerChange
	SetPauseAll(paused bool)
	SetOverride(instanceID string, ov policy.Override)
	ClearOverride(instanceID string)
	OverrideFor(instanceID string) policy.Override
	Triggers() policy.Triggers
}
