// Package daemon wires the wallpaper components together and runs them
// until the session ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/hotkeys"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/platform"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/runtimepath"
	"github.com/1broseidon/deskpaper/internal/surface"
)

// Options configures Run.
type Options struct {
	// ConfigPath defaults to config.DefaultConfigPath().
	ConfigPath string
	// SocketPath defaults to runtimepath.SocketPath().
	SocketPath string
}

// Run starts the daemon and blocks until SIGINT/SIGTERM, a SHUTDOWN
// request, a logind shutdown announcement or ctx cancellation. Every
// renderer is stopped before it returns.
func Run(ctx context.Context, opts Options) error {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}
	res, err := config.LoadFromPath(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := res.Config

	level := new(slog.LevelVar)
	logger, logCloser, err := logging.Setup(cfg, level)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	lockPath, err := runtimepath.LockPath()
	if err != nil {
		return err
	}
	lock, err := runtimepath.AcquireLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	if cfg.XAuthority != "" {
		os.Setenv("XAUTHORITY", cfg.XAuthority)
	}
	backend, err := platform.NewLinuxBackendFromDisplay(cfg.Display)
	if err != nil {
		return fmt.Errorf("failed to connect to display: %w", err)
	}
	defer backend.Disconnect()
	go backend.EventLoop()

	rendererDir, err := runtimepath.RendererDir()
	if err != nil {
		return err
	}

	clk := clock.Real()
	registry := display.NewRegistry(backend, display.Options{
		Clock:        clk,
		Debounce:     cfg.Timeouts.DisplayDebounce,
		PollInterval: cfg.Policy.PollInterval,
		Logger:       logging.Component(logger, "display"),
	})
	controller := renderer.NewController(renderer.Options{
		Renderers:      cfg.Renderers,
		Finder:         backend,
		Clock:          clk,
		LaunchTimeout:  cfg.Timeouts.Launch,
		TerminateGrace: cfg.Timeouts.TerminateGrace,
		RuntimeDir:     rendererDir,
		Logger:         logging.Component(logger, "renderer"),
	})
	defer controller.Close()
	binder := surface.NewBinder(backend, surface.Options{
		RequireIconHost: cfg.Surface.RequireIconHost,
		MaxAttempts:     cfg.Limits.AttachMaxAttempts,
		Logger:          logging.Component(logger, "surface"),
	})
	engine := policy.NewEngine(policy.RulesFromConfig(cfg.Policy), logging.Component(logger, "policy"))
	orch := orchestrator.New(orchestrator.Options{
		Displays:  registry,
		Renderers: controller,
		Surfaces:  binder,
		Policy:    engine,
		Settings:  orchestrator.SettingsFromConfig(cfg),
		Clock:     clk,
		Logger:    logging.Component(logger, "orchestrator"),
	})
	reconciler := NewReconciler(ReconcilerConfig{
		Interval: cfg.Timeouts.ReconcileInterval,
		Clock:    clk,
		Logger:   logging.Component(logger, "reconciler"),
	}, orch)

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	requestStop := func() { stopOnce.Do(func() { close(stopCh) }) }

	keys := hotkeys.NewHandler(backend, orch, logging.Component(logger, "hotkeys"))
	if err := keys.Bind(cfg.Hotkeys); err != nil {
		logger.Warn("hotkeys not bound", "error", err)
	}

	watcher := &ConfigWatcher{
		Debounce: cfg.Timeouts.ConfigDebounce,
		Clock:    clk,
		Logger:   logging.Component(logger, "config"),
	}
	syncer := NewConfigSynchronizer(path, cfg, Components{
		Level:        level,
		Registry:     registry,
		Renderers:    controller,
		Surfaces:     binder,
		Policy:       engine,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Watcher:      watcher,
		Hotkeys:      keys,
	}, logging.Component(logger, "config"))
	watcher.OnChange = func() { syncer.Reload() }
	files := res.Files
	if len(files) == 0 {
		files = []string{path}
	}
	watcher.SetFiles(files)

	server, err := ipc.NewServer(orch, ipc.ServerOptions{
		SocketPath: opts.SocketPath,
		Reload:     syncer.Reload,
		Shutdown:   requestStop,
		Logger:     logging.Component(logger, "ipc"),
	})
	if err != nil {
		return err
	}

	orchDone := make(chan error, 1)
	go func() { orchDone <- orch.Run(context.Background()) }()

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(bgCtx); err != nil && bgCtx.Err() == nil {
				logger.Warn("component stopped", "component", name, "error", err)
			}
		}()
	}

	spawn("display", registry.Run)
	spawn("policy", func(ctx context.Context) error {
		engine.Run(ctx, triggerSources(cfg, backend, registry, logger)...)
		return nil
	})
	spawn("reconciler", func(ctx context.Context) error {
		reconciler.Run(ctx)
		return nil
	})
	spawn("config-watch", watcher.Run)
	spawn("session", func(ctx context.Context) error {
		return WatchSessionEnd(ctx, requestStop, logging.Component(logger, "session"))
	})

	if err := server.Start(); err != nil {
		cancel()
		orch.Shutdown(context.Background())
		wg.Wait()
		return err
	}

	logger.Info("deskpaper daemon started", "pid", os.Getpid(), "config", path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading config")
				syncer.Reload()
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig.String())
			break wait
		case <-stopCh:
			break wait
		case <-ctx.Done():
			break wait
		case err := <-orchDone:
			// The worker only returns after a shutdown.
			logger.Warn("orchestrator stopped unexpectedly", "error", err)
			orchDone <- err
			break wait
		}
	}

	started := time.Now()
	if err := orch.Shutdown(context.Background()); err != nil && !errors.Is(err, orchestrator.ErrShuttingDown) {
		logger.Warn("shutdown incomplete", "error", err)
	}
	<-orchDone
	server.Stop()
	cancel()
	wg.Wait()
	logger.Info("deskpaper daemon stopped", "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// triggerSources selects the session and power sources for the configured
// backend. auto prefers D-Bus and falls back to polling per source.
func triggerSources(cfg *config.Config, fg platform.ForegroundWatcher, registry *display.Registry, logger *slog.Logger) []policy.Source {
	interval := cfg.Policy.PollInterval
	session := policy.SessionPoller{Interval: interval}
	power := policy.PowerPoller{Interval: interval, Battery: true}
	logind := policy.LogindSource{}
	upower := policy.PowerSource{Battery: true}

	var sources []policy.Source
	switch cfg.Policy.TriggerBackend {
	case config.TriggerBackendDBus:
		sources = append(sources, logind, upower)
	case config.TriggerBackendPoll:
		sources = append(sources, session, power)
	default:
		fallbackLogger := logging.Component(logger, "policy")
		sources = append(sources,
			policy.Fallback{Primary: logind, Secondary: session, Logger: fallbackLogger},
			policy.Fallback{Primary: upower, Secondary: power, Logger: fallbackLogger},
		)
	}

	connected := func() []display.Display {
		var out []display.Display
		for _, d := range registry.List() {
			if d.Connected {
				out = append(out, d)
			}
		}
		return out
	}
	return append(sources, policy.ForegroundSource{Watcher: fg, Displays: connected})
}
