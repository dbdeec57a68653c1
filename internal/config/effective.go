package config

import "fmt"

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BuildEffectiveConfig applies raw (file-provided) values over DefaultConfig.
// Renderer entries merge per type: a file may override only env or ipc and
// keep the built-in command.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	setIf(&cfg.LogLevel, raw.LogLevel)
	setIf(&cfg.Display, raw.Display)
	setIf(&cfg.XAuthority, raw.XAuthority)

	if raw.Logging != nil {
		setIf(&cfg.Logging.Enabled, raw.Logging.Enabled)
		setIf(&cfg.Logging.File, raw.Logging.File)
		setIf(&cfg.Logging.MaxSizeMB, raw.Logging.MaxSizeMB)
		setIf(&cfg.Logging.MaxFiles, raw.Logging.MaxFiles)
	}

	if raw.Hotkeys != nil {
		setIf(&cfg.Hotkeys.TogglePause, raw.Hotkeys.TogglePause)
	}

	if p := raw.Policy; p != nil {
		setIf(&cfg.Policy.PauseOnFullscreen, p.PauseOnFullscreen)
		setIf(&cfg.Policy.FullscreenScope, p.FullscreenScope)
		setIf(&cfg.Policy.PauseOnPowerSaver, p.PauseOnPowerSaver)
		setIf(&cfg.Policy.PauseOnBattery, p.PauseOnBattery)
		setIf(&cfg.Policy.PauseOnLock, p.PauseOnLock)
		setIf(&cfg.Policy.PauseOnRemote, p.PauseOnRemote)
		setIf(&cfg.Policy.TriggerBackend, p.TriggerBackend)
		setIf(&cfg.Policy.PollInterval, p.PollInterval)
	}

	if t := raw.Timeouts; t != nil {
		setIf(&cfg.Timeouts.Launch, t.Launch)
		setIf(&cfg.Timeouts.TerminateGrace, t.TerminateGrace)
		setIf(&cfg.Timeouts.Shutdown, t.Shutdown)
		setIf(&cfg.Timeouts.CrashCooldown, t.CrashCooldown)
		setIf(&cfg.Timeouts.DisplayDebounce, t.DisplayDebounce)
		setIf(&cfg.Timeouts.ReconcileInterval, t.ReconcileInterval)
		setIf(&cfg.Timeouts.ConfigDebounce, t.ConfigDebounce)
	}

	if l := raw.Limits; l != nil {
		setIf(&cfg.Limits.MaxAutoRestarts, l.MaxAutoRestarts)
		setIf(&cfg.Limits.AttachMaxAttempts, l.AttachMaxAttempts)
	}

	if s := raw.Surface; s != nil {
		setIf(&cfg.Surface.RequireIconHost, s.RequireIconHost)
	}

	for _, name := range sortedKeys(raw.Renderers) {
		patch := raw.Renderers[name]
		r := cfg.Renderers[name]
		if patch.Command != nil {
			r.Command = append([]string(nil), patch.Command...)
		}
		if patch.Env != nil {
			r.Env = mergeStringMap(r.Env, patch.Env)
		}
		setIf(&r.IPC, patch.IPC)
		cfg.Renderers[name] = r
	}

	return cfg, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
