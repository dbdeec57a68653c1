package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
)

// Target is reconciled on every tick.
type Target interface {
	Reconcile()
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	// Interval between passes. Zero disables the periodic pass; ReconcileNow
	// still works.
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Reconciler periodically asks the orchestrator to compare desired and
// actual state so attachments and pauses missed by event sources are
// corrected.
type Reconciler struct {
	target Target
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

// NewReconciler creates a new reconciler with the given configuration.
func NewReconciler(cfg ReconcilerConfig, target Target) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		target:   target,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		reset:    make(chan struct{}, 1),
	}
}

// SetInterval changes the period of a running loop.
func (r *Reconciler) SetInterval(d time.Duration) {
	r.mu.Lock()
	changed := d != r.interval
	r.interval = d
	r.mu.Unlock()
	if changed {
		select {
		case r.reset <- struct{}{}:
		default:
		}
	}
}

func (r *Reconciler) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", "interval", r.currentInterval())
	for r.runInterval(ctx) {
	}
	r.logger.Info("reconciler stopped")
}

// runInterval ticks at the current interval and reports whether the loop
// should restart with a new one.
func (r *Reconciler) runInterval(ctx context.Context) bool {
	var ticks <-chan time.Time
	if interval := r.currentInterval(); interval > 0 {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.reset:
			return true
		case <-ticks:
			r.reconcile()
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile() {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	r.target.Reconcile()
}

// ReconcileNow triggers an immediate reconciliation pass.
func (r *Reconciler) ReconcileNow() {
	r.reconcile()
}
