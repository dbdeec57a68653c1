package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawPolicy struct {
	PauseOnFullscreen *bool          `yaml:"pause_on_fullscreen"`
	FullscreenScope   *string        `yaml:"fullscreen_scope"`
	PauseOnPowerSaver *bool          `yaml:"pause_on_power_saver"`
	PauseOnBattery    *bool          `yaml:"pause_on_battery"`
	PauseOnLock       *bool          `yaml:"pause_on_lock"`
	PauseOnRemote     *bool          `yaml:"pause_on_remote"`
	TriggerBackend    *string        `yaml:"trigger_backend"`
	PollInterval      *time.Duration `yaml:"poll_interval"`
}

type RawTimeouts struct {
	Launch            *time.Duration `yaml:"launch"`
	TerminateGrace    *time.Duration `yaml:"terminate_grace"`
	Shutdown          *time.Duration `yaml:"shutdown"`
	CrashCooldown     *time.Duration `yaml:"crash_cooldown"`
	DisplayDebounce   *time.Duration `yaml:"display_debounce"`
	ReconcileInterval *time.Duration `yaml:"reconcile_interval"`
	ConfigDebounce    *time.Duration `yaml:"config_debounce"`
}

type RawLimits struct {
	MaxAutoRestarts   *int `yaml:"max_auto_restarts"`
	AttachMaxAttempts *int `yaml:"attach_max_attempts"`
}

type RawSurface struct {
	RequireIconHost *bool `yaml:"require_icon_host"`
}

type RawRenderer struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	IPC     *bool             `yaml:"ipc"`
}

type RawLoggingConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	File      *string `yaml:"file"`
	MaxSizeMB *int    `yaml:"max_size_mb"`
	MaxFiles  *int    `yaml:"max_files"`
}

type RawHotkeys struct {
	TogglePause *string `yaml:"toggle_pause"`
}

type RawConfig struct {
	Include    IncludeList            `yaml:"include"`
	LogLevel   *string                `yaml:"log_level"`
	Display    *string                `yaml:"display"`
	XAuthority *string                `yaml:"xauthority"`
	Logging    *RawLoggingConfig      `yaml:"logging"`
	Hotkeys    *RawHotkeys            `yaml:"hotkeys"`
	Policy     *RawPolicy             `yaml:"policy"`
	Timeouts   *RawTimeouts           `yaml:"timeouts"`
	Limits     *RawLimits             `yaml:"limits"`
	Surface    *RawSurface            `yaml:"surface"`
	Renderers  map[string]RawRenderer `yaml:"renderers"`
}

func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.LogLevel != nil {
		out.LogLevel = overlay.LogLevel
	}
	if overlay.Display != nil {
		out.Display = overlay.Display
	}
	if overlay.XAuthority != nil {
		out.XAuthority = overlay.XAuthority
	}

	if overlay.Logging != nil {
		if out.Logging == nil {
			out.Logging = &RawLoggingConfig{}
		}
		mergePtr(&out.Logging.Enabled, overlay.Logging.Enabled)
		mergePtr(&out.Logging.File, overlay.Logging.File)
		mergePtr(&out.Logging.MaxSizeMB, overlay.Logging.MaxSizeMB)
		mergePtr(&out.Logging.MaxFiles, overlay.Logging.MaxFiles)
	}

	if overlay.Hotkeys != nil {
		if out.Hotkeys == nil {
			out.Hotkeys = &RawHotkeys{}
		}
		mergePtr(&out.Hotkeys.TogglePause, overlay.Hotkeys.TogglePause)
	}

	if overlay.Policy != nil {
		if out.Policy == nil {
			out.Policy = &RawPolicy{}
		}
		mergePtr(&out.Policy.PauseOnFullscreen, overlay.Policy.PauseOnFullscreen)
		mergePtr(&out.Policy.FullscreenScope, overlay.Policy.FullscreenScope)
		mergePtr(&out.Policy.PauseOnPowerSaver, overlay.Policy.PauseOnPowerSaver)
		mergePtr(&out.Policy.PauseOnBattery, overlay.Policy.PauseOnBattery)
		mergePtr(&out.Policy.PauseOnLock, overlay.Policy.PauseOnLock)
		mergePtr(&out.Policy.PauseOnRemote, overlay.Policy.PauseOnRemote)
		mergePtr(&out.Policy.TriggerBackend, overlay.Policy.TriggerBackend)
		mergePtr(&out.Policy.PollInterval, overlay.Policy.PollInterval)
	}

	if overlay.Timeouts != nil {
		if out.Timeouts == nil {
			out.Timeouts = &RawTimeouts{}
		}
		mergePtr(&out.Timeouts.Launch, overlay.Timeouts.Launch)
		mergePtr(&out.Timeouts.TerminateGrace, overlay.Timeouts.TerminateGrace)
		mergePtr(&out.Timeouts.Shutdown, overlay.Timeouts.Shutdown)
		mergePtr(&out.Timeouts.CrashCooldown, overlay.Timeouts.CrashCooldown)
		mergePtr(&out.Timeouts.DisplayDebounce, overlay.Timeouts.DisplayDebounce)
		mergePtr(&out.Timeouts.ReconcileInterval, overlay.Timeouts.ReconcileInterval)
		mergePtr(&out.Timeouts.ConfigDebounce, overlay.Timeouts.ConfigDebounce)
	}

	if overlay.Limits != nil {
		if out.Limits == nil {
			out.Limits = &RawLimits{}
		}
		mergePtr(&out.Limits.MaxAutoRestarts, overlay.Limits.MaxAutoRestarts)
		mergePtr(&out.Limits.AttachMaxAttempts, overlay.Limits.AttachMaxAttempts)
	}

	if overlay.Surface != nil {
		if out.Surface == nil {
			out.Surface = &RawSurface{}
		}
		mergePtr(&out.Surface.RequireIconHost, overlay.Surface.RequireIconHost)
	}

	if overlay.Renderers != nil {
		merged := make(map[string]RawRenderer, len(out.Renderers)+len(overlay.Renderers))
		for name, r := range out.Renderers {
			merged[name] = r
		}
		for name, r := range overlay.Renderers {
			base, ok := merged[name]
			if !ok {
				merged[name] = r
				continue
			}
			merged[name] = mergeRawRenderer(base, r)
		}
		out.Renderers = merged
	}

	return out
}

func mergeRawRenderer(base RawRenderer, overlay RawRenderer) RawRenderer {
	out := base
	if overlay.Command != nil {
		out.Command = overlay.Command
	}
	if overlay.Env != nil {
		out.Env = mergeStringMap(out.Env, overlay.Env)
	}
	mergePtr(&out.IPC, overlay.IPC)
	return out
}

func mergePtr[T any](dst **T, overlay *T) {
	if overlay != nil {
		*dst = overlay
	}
}

func mergeStringMap(base map[string]string, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
