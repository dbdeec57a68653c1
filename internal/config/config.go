package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Wallpaper types accepted under renderers.<type>.
const (
	TypeVideo       = "video"
	TypeWebPage     = "webpage"
	TypeGif         = "gif"
	TypeImage       = "image"
	TypeApplication = "application"
	TypeNative      = "native"
)

// WallpaperTypes lists every wallpaper type in display order.
var WallpaperTypes = []string{TypeVideo, TypeWebPage, TypeGif, TypeImage, TypeApplication, TypeNative}

// Fullscreen scopes.
const (
	FullscreenScopeAll     = "all"     // any fullscreen window pauses every instance
	FullscreenScopeDisplay = "display" // only the instance on the fullscreen window's display
)

// Trigger backends.
const (
	TriggerBackendAuto = "auto"
	TriggerBackendDBus = "dbus"
	TriggerBackendPoll = "poll"
)

// PolicyConfig holds the user settings consulted by the playback policy.
type PolicyConfig struct {
	PauseOnFullscreen bool          `yaml:"pause_on_fullscreen"`
	FullscreenScope   string        `yaml:"fullscreen_scope"`
	PauseOnPowerSaver bool          `yaml:"pause_on_power_saver"`
	PauseOnBattery    bool          `yaml:"pause_on_battery"`
	PauseOnLock       bool          `yaml:"pause_on_lock"`
	PauseOnRemote     bool          `yaml:"pause_on_remote"`
	TriggerBackend    string        `yaml:"trigger_backend"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// Timeouts bounds every asynchronous wait the daemon performs.
type Timeouts struct {
	Launch            time.Duration `yaml:"launch"`
	TerminateGrace    time.Duration `yaml:"terminate_grace"`
	Shutdown          time.Duration `yaml:"shutdown"`
	CrashCooldown     time.Duration `yaml:"crash_cooldown"`
	DisplayDebounce   time.Duration `yaml:"display_debounce"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // 0 disables the periodic pass
	ConfigDebounce    time.Duration `yaml:"config_debounce"`
}

type Limits struct {
	MaxAutoRestarts   int `yaml:"max_auto_restarts"`
	AttachMaxAttempts int `yaml:"attach_max_attempts"`
}

// SurfaceConfig tunes desktop attachment.
type SurfaceConfig struct {
	// RequireIconHost makes attachment fail (and retry later) when no
	// desktop icon window exists. When false the host window is stacked at
	// the bottom of the root window instead.
	RequireIconHost bool `yaml:"require_icon_host"`
}

// RendererConfig describes how to launch the renderer for one wallpaper type.
//
// Command entries may contain placeholders: {{source}}, {{socket}},
// {{instance}}, {{display}}, {{x}}, {{y}}, {{width}}, {{height}}, {{layout}}.
type RendererConfig struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
	// IPC renderers connect to {{socket}} and report readiness themselves.
	// Others are controlled with job-control signals and considered ready
	// once a window owned by their PID appears.
	IPC bool `yaml:"ipc"`
}

// LoggingConfig configures the optional rotating daemon log file.
type LoggingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// HotkeysConfig holds global X11 key bindings in xgbutil keybind syntax,
// for example "Mod4-Shift-p". Empty disables a binding.
type HotkeysConfig struct {
	TogglePause string `yaml:"toggle_pause,omitempty"`
}

type Config struct {
	LogLevel   string                    `yaml:"log_level"`
	Display    string                    `yaml:"display,omitempty"`
	XAuthority string                    `yaml:"xauthority,omitempty"`
	Logging    LoggingConfig             `yaml:"logging"`
	Hotkeys    HotkeysConfig             `yaml:"hotkeys"`
	Policy     PolicyConfig              `yaml:"policy"`
	Timeouts   Timeouts                  `yaml:"timeouts"`
	Limits     Limits                    `yaml:"limits"`
	Surface    SurfaceConfig             `yaml:"surface"`
	Renderers  map[string]RendererConfig `yaml:"renderers"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Policy: PolicyConfig{
			PauseOnFullscreen: true,
			FullscreenScope:   FullscreenScopeAll,
			PauseOnPowerSaver: true,
			PauseOnBattery:    false,
			PauseOnLock:       true,
			PauseOnRemote:     true,
			TriggerBackend:    TriggerBackendAuto,
			PollInterval:      2 * time.Second,
		},
		Timeouts: Timeouts{
			Launch:            10 * time.Second,
			TerminateGrace:    3 * time.Second,
			Shutdown:          5 * time.Second,
			CrashCooldown:     60 * time.Second,
			DisplayDebounce:   400 * time.Millisecond,
			ReconcileInterval: 30 * time.Second,
			ConfigDebounce:    250 * time.Millisecond,
		},
		Limits: Limits{
			MaxAutoRestarts:   1,
			AttachMaxAttempts: 5,
		},
		Surface: SurfaceConfig{
			RequireIconHost: true,
		},
		Renderers: defaultRenderers(),
	}
}

func defaultRenderers() map[string]RendererConfig {
	mpv := func(extra ...string) RendererConfig {
		cmd := []string{
			"mpv",
			"--really-quiet",
			"--no-border",
			"--no-osc",
			"--no-input-default-bindings",
			"--no-audio",
			"--loop-file=inf",
			"--x11-name=deskpaper-{{instance}}",
			"--geometry={{width}}x{{height}}+{{x}}+{{y}}",
		}
		cmd = append(cmd, extra...)
		cmd = append(cmd, "{{source}}")
		return RendererConfig{Command: cmd}
	}
	return map[string]RendererConfig{
		TypeVideo: mpv(),
		TypeGif:   mpv(),
		TypeImage: mpv("--image-display-duration=inf"),
		TypeApplication: {
			Command: []string{"{{source}}"},
		},
	}
}

// GetLoggingConfig returns the logging configuration with defaults applied.
func (c *Config) GetLoggingConfig() LoggingConfig {
	if c == nil {
		return LoggingConfig{}
	}
	cfg := c.Logging
	if cfg.File == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = os.Getenv("HOME")
		}
		if home == "" {
			home = "."
		}
		cfg.File = filepath.Join(home, ".local/share/deskpaper/daemon.log")
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 3
	}
	return cfg
}

// Renderer returns the launch configuration for a wallpaper type.
func (c *Config) Renderer(wallpaperType string) (RendererConfig, bool) {
	if c == nil {
		return RendererConfig{}, false
	}
	r, ok := c.Renderers[wallpaperType]
	if !ok || len(r.Command) == 0 {
		return RendererConfig{}, false
	}
	return r, true
}

// SupportedTypes returns the wallpaper types with a configured renderer.
func (c *Config) SupportedTypes() []string {
	var out []string
	for _, t := range WallpaperTypes {
		if _, ok := c.Renderer(t); ok {
			out = append(out, t)
		}
	}
	return out
}

// SaveTo writes the configuration to path.
//
// Note: this marshals the effective config and will not preserve comments or
// include structure from the original YAML.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Save writes the configuration to the standard location.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}

	switch c.Policy.FullscreenScope {
	case FullscreenScopeAll, FullscreenScopeDisplay:
	default:
		return &ValidationError{Path: "policy.fullscreen_scope", Err: fmt.Errorf("fullscreen_scope must be one of: all, display")}
	}
	switch c.Policy.TriggerBackend {
	case TriggerBackendAuto, TriggerBackendDBus, TriggerBackendPoll:
	default:
		return &ValidationError{Path: "policy.trigger_backend", Err: fmt.Errorf("trigger_backend must be one of: auto, dbus, poll")}
	}
	if c.Policy.PollInterval < time.Second || c.Policy.PollInterval > 10*time.Second {
		return &ValidationError{Path: "policy.poll_interval", Err: fmt.Errorf("poll_interval must be between 1s and 10s")}
	}

	positive := []struct {
		path  string
		value time.Duration
	}{
		{"timeouts.launch", c.Timeouts.Launch},
		{"timeouts.terminate_grace", c.Timeouts.TerminateGrace},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
		{"timeouts.crash_cooldown", c.Timeouts.CrashCooldown},
		{"timeouts.display_debounce", c.Timeouts.DisplayDebounce},
		{"timeouts.config_debounce", c.Timeouts.ConfigDebounce},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ValidationError{Path: p.path, Err: fmt.Errorf("%s must be > 0", p.path[strings.LastIndex(p.path, ".")+1:])}
		}
	}
	if c.Timeouts.ReconcileInterval < 0 {
		return &ValidationError{Path: "timeouts.reconcile_interval", Err: fmt.Errorf("reconcile_interval must be >= 0")}
	}
	if c.Timeouts.Shutdown < c.Timeouts.TerminateGrace {
		return &ValidationError{Path: "timeouts.shutdown", Err: fmt.Errorf("shutdown must be >= terminate_grace")}
	}

	if c.Limits.MaxAutoRestarts < 0 {
		return &ValidationError{Path: "limits.max_auto_restarts", Err: fmt.Errorf("max_auto_restarts must be >= 0")}
	}
	if c.Limits.AttachMaxAttempts < 1 {
		return &ValidationError{Path: "limits.attach_max_attempts", Err: fmt.Errorf("attach_max_attempts must be >= 1")}
	}

	if c.Renderers == nil {
		return &ValidationError{Path: "renderers", Err: fmt.Errorf("renderers must not be null")}
	}
	for _, name := range sortedKeys(c.Renderers) {
		if !isWallpaperType(name) {
			return &ValidationError{Path: "renderers." + name, Err: fmt.Errorf("unknown wallpaper type %q (valid: %s)", name, strings.Join(WallpaperTypes, ", "))}
		}
		r := c.Renderers[name]
		if len(r.Command) == 0 || strings.TrimSpace(r.Command[0]) == "" {
			return &ValidationError{Path: "renderers." + name + ".command", Err: fmt.Errorf("command must not be empty")}
		}
	}

	if c.Logging.Enabled {
		if c.Logging.MaxSizeMB < 0 {
			return &ValidationError{Path: "logging.max_size_mb", Err: fmt.Errorf("max_size_mb must be >= 0")}
		}
		if c.Logging.MaxFiles < 0 {
			return &ValidationError{Path: "logging.max_files", Err: fmt.Errorf("max_files must be >= 0")}
		}
	}
	return nil
}

func isWallpaperType(name string) bool {
	for _, t := range WallpaperTypes {
		if t == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
