package renderer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/platform"
)

var (
	// ErrLaunchFailure wraps every reason a renderer could not be brought up.
	ErrLaunchFailure = errors.New("renderer launch failed")
	// ErrNotRunning is returned when a command targets an unknown or exited process.
	ErrNotRunning = errors.New("renderer not running")
)

// Type is a wallpaper content type. Each type maps to a renderer command.
type Type string

const (
	Video       Type = config.TypeVideo
	WebPage     Type = config.TypeWebPage
	Gif         Type = config.TypeGif
	Image       Type = config.TypeImage
	Application Type = config.TypeApplication
	Native      Type = config.TypeNative
)

// LayoutMode controls how content is scaled to the display.
type LayoutMode string

const (
	LayoutFill    LayoutMode = "fill"
	LayoutFit     LayoutMode = "fit"
	LayoutStretch LayoutMode = "stretch"
	LayoutTile    LayoutMode = "tile"
	LayoutCenter  LayoutMode = "center"
)

// ParseLayout validates a layout name. Empty selects fill.
func ParseLayout(s string) (LayoutMode, error) {
	switch LayoutMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutFill:
		return LayoutFill, nil
	case LayoutFit:
		return LayoutFit, nil
	case LayoutStretch:
		return LayoutStretch, nil
	case LayoutTile:
		return LayoutTile, nil
	case LayoutCenter:
		return LayoutCenter, nil
	}
	return "", fmt.Errorf("unknown layout %q (valid: fill, fit, stretch, tile, center)", s)
}

// State is the lifecycle state of a wallpaper instance.
//
//	Starting -> Running <-> Paused -> Terminating -> Stopped
//	Starting/Running/Paused -> Crashed on unexpected exit
//	Failed is terminal and set by the orchestrator.
type State int

const (
	Starting State = iota
	Running
	Paused
	Terminating
	Stopped
	Crashed
	Failed
)

var stateNames = [...]string{"starting", "running", "paused", "terminating", "stopped", "crashed", "failed"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Alive reports whether a process handle exists in this state.
func (s State) Alive() bool {
	return s == Starting || s == Running || s == Paused
}

// Spec describes one renderer launch.
type Spec struct {
	InstanceID string
	DisplayID  string
	Type       Type
	Source     string
	Bounds     platform.Rect
	Layout     LayoutMode
}

// Exit is reported once for every process returned by Start.
type Exit struct {
	InstanceID string
	PID        int
	ExitCode   int
	// Requested is false when the process exited without Terminate being called.
	Requested bool
	Err       error
}
