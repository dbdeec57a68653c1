package policy

import (
	"context"
	"log/slog"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/platform"
)

// Source reports trigger values. Run blocks until ctx is done, or returns
// an error early when the underlying hook is unavailable.
type Source interface {
	Name() string
	Run(ctx context.Context, post func(TriggerChange)) error
}

// Fallback runs Primary and switches to Secondary if Primary fails before
// ctx is done.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *slog.Logger
}

func (f Fallback) Name() string {
	return f.Primary.Name() + "|" + f.Secondary.Name()
}

func (f Fallback) Run(ctx context.Context, post func(TriggerChange)) error {
	err := f.Primary.Run(ctx, post)
	if ctx.Err() != nil {
		return nil
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("trigger source unavailable, falling back", "source", f.Primary.Name(), "fallback", f.Secondary.Name(), "error", err)
	return f.Secondary.Run(ctx, post)
}

// ForegroundSource reports whether a fullscreen application has focus.
type ForegroundSource struct {
	Watcher platform.ForegroundWatcher
	// Displays returns the connected displays used to locate the window and
	// to detect borderless fullscreen windows by geometry.
	Displays func() []display.Display
}

func (s ForegroundSource) Name() string { return "foreground" }

func (s ForegroundSource) Run(ctx context.Context, post func(TriggerChange)) error {
	err := s.Watcher.WatchForeground(ctx, func(fg platform.Foreground) {
		var displays []display.Display
		if s.Displays != nil {
			displays = s.Displays()
		}
		full, id := classifyForeground(fg, displays)
		post(TriggerChange{Kind: Fullscreen, Value: full, DisplayID: id})
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// classifyForeground decides whether fg is a fullscreen application and on
// which display. Desktop and dock windows never count.
func classifyForeground(fg platform.Foreground, displays []display.Display) (bool, display.ID) {
	if fg.Window == 0 || fg.Shell {
		return false, ""
	}

	var (
		on    display.Display
		found bool
	)
	cx, cy := fg.Bounds.Center()
	for _, d := range displays {
		if d.Connected && d.Bounds.Contains(cx, cy) {
			on, found = d, true
			break
		}
	}

	if fg.FullscreenHint {
		return true, on.ID
	}
	if found && fg.Bounds.Covers(on.Bounds) {
		return true, on.ID
	}
	return false, ""
}
