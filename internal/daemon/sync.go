package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/policy"
)

type rendererConfigurer interface {
	Configure(renderers map[string]config.RendererConfig, launchTimeout, grace time.Duration)
}

// Components are the running parts of the daemon that take reloaded
// settings. Nil members are skipped.
type Components struct {
	Level        *slog.LevelVar
	Registry     interface{ SetDebounce(time.Duration) }
	Renderers    rendererConfigurer
	Surfaces     interface{ Configure(requireIconHost bool, maxAttempts int) }
	Policy       interface{ SetRules(policy.Rules) }
	Orchestrator interface{ Configure(orchestrator.Settings) }
	Reconciler   interface{ SetInterval(time.Duration) }
	Watcher      interface{ SetFiles(paths []string) error }
	Hotkeys      interface{ Bind(config.HotkeysConfig) error }
}

// ConfigSynchronizer reloads the config file and pushes the result into
// every running component. A config that fails to load or validate leaves
// the running settings untouched.
type ConfigSynchronizer struct {
	path   string
	comps  Components
	logger *slog.Logger

	mu      sync.Mutex
	current *config.Config
}

// NewConfigSynchronizer creates a synchronizer for path. initial is the
// config the components were built with.
func NewConfigSynchronizer(path string, initial *config.Config, comps Components, logger *slog.Logger) *ConfigSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigSynchronizer{
		path:    path,
		comps:   comps,
		logger:  logger,
		current: initial,
	}
}

// Current returns the config in effect.
func (s *ConfigSynchronizer) Current() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reload loads the config and applies it.
func (s *ConfigSynchronizer) Reload() error {
	res, err := config.LoadFromPath(s.path)
	if err != nil {
		s.logger.Warn("config reload failed", "path", s.path, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.apply(res.Config)
	s.current = res.Config

	if s.comps.Watcher != nil {
		files := res.Files
		if len(files) == 0 {
			files = []string{s.path}
		}
		if err := s.comps.Watcher.SetFiles(files); err != nil {
			s.logger.Debug("config watch incomplete", "error", err)
		}
	}

	for _, key := range restartOnly(prev, res.Config) {
		s.logger.Warn("config change takes effect after restart", "key", key)
	}
	s.logger.Info("config reloaded", "path", s.path, "files", len(res.Files))
	return nil
}

func (s *ConfigSynchronizer) apply(cfg *config.Config) {
	c := s.comps
	if c.Level != nil {
		c.Level.Set(logging.ParseLevel(cfg.LogLevel))
	}
	if c.Registry != nil {
		c.Registry.SetDebounce(cfg.Timeouts.DisplayDebounce)
	}
	if c.Renderers != nil {
		c.Renderers.Configure(cfg.Renderers, cfg.Timeouts.Launch, cfg.Timeouts.TerminateGrace)
	}
	if c.Surfaces != nil {
		c.Surfaces.Configure(cfg.Surface.RequireIconHost, cfg.Limits.AttachMaxAttempts)
	}
	if c.Policy != nil {
		c.Policy.SetRules(policy.RulesFromConfig(cfg.Policy))
	}
	if c.Orchestrator != nil {
		c.Orchestrator.Configure(orchestrator.SettingsFromConfig(cfg))
	}
	if c.Reconciler != nil {
		c.Reconciler.SetInterval(cfg.Timeouts.ReconcileInterval)
	}
	if c.Hotkeys != nil {
		if err := c.Hotkeys.Bind(cfg.Hotkeys); err != nil {
			s.logger.Warn("hotkeys not bound", "error", err)
		}
	}
}

// restartOnly lists the changed keys that running components cannot adopt.
func restartOnly(prev, next *config.Config) []string {
	if prev == nil {
		return nil
	}
	var keys []string
	if prev.Display != next.Display {
		keys = append(keys, "display")
	}
	if prev.XAuthority != next.XAuthority {
		keys = append(keys, "xauthority")
	}
	if prev.GetLoggingConfig() != next.GetLoggingConfig() {
		keys = append(keys, "logging")
	}
	if prev.Policy.TriggerBackend != next.Policy.TriggerBackend {
		keys = append(keys, "policy.trigger_backend")
	}
	if prev.Policy.PollInterval != next.Policy.PollInterval {
		keys = append(keys, "policy.poll_interval")
	}
	return keys
}
