package hotkeys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
	"github.com/BurntSushi/xgbutil/xevent"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
)

const actionTimeout = 5 * time.Second

// Controller is the part of the orchestrator the bindings drive.
type Controller interface {
	Snapshot() orchestrator.State
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
}

// x11Accessor is an optional interface for backends that expose X11 internals.
type x11Accessor interface {
	XUtil() *xgbutil.XUtil
	RootWindow() xproto.Window
}

// Handler manages global keyboard shortcuts
type Handler struct {
	xu     *xgbutil.XUtil
	root   xproto.Window
	ctrl   Controller
	logger *slog.Logger

	mu    sync.Mutex
	bound config.HotkeysConfig
}

var ignoreModsOnce sync.Once

// NewHandler creates a new hotkey handler. Backends without an X connection
// yield a handler whose Bind only records the config.
func NewHandler(backend any, ctrl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{ctrl: ctrl, logger: logger}
	if accessor, ok := backend.(x11Accessor); ok {
		h.xu = accessor.XUtil()
		h.root = accessor.RootWindow()
	}
	if h.xu != nil {
		ignoreModsOnce.Do(func() {
			configureIgnoreMods(h.xu)
		})
	}
	return h
}

// Bind replaces the active bindings with cfg. Unchanged config is a no-op.
func (h *Handler) Bind(cfg config.HotkeysConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cfg == h.bound {
		return nil
	}
	if h.xu == nil {
		h.bound = cfg
		return nil
	}

	keybind.Detach(h.xu, h.root)
	h.bound = config.HotkeysConfig{}

	if cfg.TogglePause != "" {
		if err := h.registerFunc(cfg.TogglePause, h.TogglePause); err != nil {
			return fmt.Errorf("failed to register toggle_pause hotkey %q: %w", cfg.TogglePause, err)
		}
		h.logger.Info("hotkey registered", "action", "toggle_pause", "keys", cfg.TogglePause)
	}
	h.bound = cfg
	return nil
}

// TogglePause resumes when a pause-all is active and pauses otherwise.
func (h *Handler) TogglePause() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if h.ctrl.Snapshot().Triggers.PauseAll {
		if err := h.ctrl.ResumeAll(ctx); err != nil {
			h.logger.Warn("hotkey resume failed", "error", err)
		}
		return
	}
	if err := h.ctrl.PauseAll(ctx); err != nil {
		h.logger.Warn("hotkey pause failed", "error", err)
	}
}

func (h *Handler) registerFunc(keySequence string, callback func()) error {
	return keybind.KeyPressFun(func(xu *xgbutil.XUtil, ev xevent.KeyPressEvent) {
		// Callbacks run on the X event loop; orchestrator calls block.
		go callback()
	}).Connect(h.xu, h.root, keySequence, true)
}

func configureIgnoreMods(xu *xgbutil.XUtil) {
	// Always ignore CapsLock.
	caps := uint16(xproto.ModMaskLock)

	numLock := modMaskForKeysym(xu, "Num_Lock")
	scrollLock := modMaskForKeysym(xu, "Scroll_Lock")

	unique := make(map[uint16]struct{})
	add := func(mask uint16) {
		unique[mask] = struct{}{}
	}

	add(0)
	base := []uint16{caps}
	if numLock != 0 && numLock != caps {
		base = append(base, numLock)
	}
	if scrollLock != 0 && scrollLock != caps && scrollLock != numLock {
		base = append(base, scrollLock)
	}

	for subset := 1; subset < (1 << len(base)); subset++ {
		var mask uint16
		for bit := range base {
			if subset&(1<<bit) != 0 {
				mask |= base[bit]
			}
		}
		add(mask)
	}

	ignore := make([]uint16, 0, len(unique))
	for mask := range unique {
		ignore = append(ignore, mask)
	}

	xevent.IgnoreMods = ignore
}

func modMaskForKeysym(xu *xgbutil.XUtil, keysym string) uint16 {
	for _, keycode := range keybind.StrToKeycodes(xu, keysym) {
		if mask := keybind.ModGet(xu, keycode); mask != 0 {
			return mask
		}
	}
	return 0
}
