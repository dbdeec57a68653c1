package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/platform"
)

var (
	// ErrAttachFailure wraps every reason a renderer window could not be
	// placed on the desktop layer.
	ErrAttachFailure = errors.New("surface attach failed")
	// ErrIconHostNotFound means the desktop icon window is missing, usually
	// because the file manager is not running or is restarting.
	ErrIconHostNotFound = platform.ErrIconHostNotFound
)

// Handle is an attached renderer window.
type Handle struct {
	InstanceID string
	DisplayID  display.ID
	Host       platform.WindowID
	Window     platform.WindowID
	Bounds     platform.Rect
}

// Event reports that attachment for an instance keeps failing.
type Event struct {
	InstanceID string
	DisplayID  display.ID
	Attempts   int
	Err        error
}

type Options struct {
	RequireIconHost bool
	// MaxAttempts is the number of failed attempts after which a degraded
	// event is emitted. Retrying continues afterwards.
	MaxAttempts int
	Logger      *slog.Logger
}

type pendingAttach struct {
	window   platform.WindowID
	display  display.Display
	attempts int
	degraded bool
	lastErr  error
}

// Binder places renderer windows behind the desktop icons and keeps them
// sized to their display.
type Binder struct {
	host   platform.SurfaceHost
	logger *slog.Logger

	mu              sync.Mutex
	requireIconHost bool
	maxAttempts     int
	attached        map[string]Handle
	pending         map[string]*pendingAttach

	events chan Event
}

func NewBinder(host platform.SurfaceHost, opts Options) *Binder {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Binder{
		host:            host,
		logger:          opts.Logger,
		requireIconHost: opts.RequireIconHost,
		maxAttempts:     opts.MaxAttempts,
		attached:        make(map[string]Handle),
		pending:         make(map[string]*pendingAttach),
		events:          make(chan Event, 16),
	}
}

// Configure applies reloaded settings.
func (b *Binder) Configure(requireIconHost bool, maxAttempts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requireIconHost = requireIconHost
	if maxAttempts >= 1 {
		b.maxAttempts = maxAttempts
	}
}

// Events delivers degraded notices.
func (b *Binder) Events() <-chan Event {
	return b.events
}

// Attach embeds window on the desktop layer of d. On failure the request
// is remembered and retried by RetryPending.
func (b *Binder) Attach(ctx context.Context, instanceID string, window platform.WindowID, d display.Display) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrAttachFailure, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.attached[instanceID]; ok {
		if h.Window == window && h.DisplayID == d.ID {
			if h.Bounds != d.Bounds {
				if err := b.host.MoveResize(h.Host, h.Window, d.Bounds); err != nil {
					return h, fmt.Errorf("%w: %w", ErrAttachFailure, err)
				}
				h.Bounds = d.Bounds
				b.attached[instanceID] = h
			}
			return h, nil
		}
		b.releaseLocked(h)
		delete(b.attached, instanceID)
	}

	return b.attachLocked(instanceID, window, d)
}

func (b *Binder) attachLocked(instanceID string, window platform.WindowID, d display.Display) (Handle, error) {
	host, err := b.host.CreateHost(d.Bounds, b.requireIconHost)
	if err == nil {
		if err = b.host.Embed(host, window, d.Bounds); err != nil {
			b.host.Release(host, 0)
		}
	}
	if err != nil {
		b.recordFailureLocked(instanceID, window, d, err)
		return Handle{}, fmt.Errorf("%w: %w", ErrAttachFailure, err)
	}

	delete(b.pending, instanceID)
	h := Handle{
		InstanceID: instanceID,
		DisplayID:  d.ID,
		Host:       host,
		Window:     window,
		Bounds:     d.Bounds,
	}
	b.attached[instanceID] = h
	b.logger.Info("surface attached",
		"instance", instanceID,
		"display", d.ID,
		"host", fmt.Sprintf("0x%x", uint32(host)),
		"window", fmt.Sprintf("0x%x", uint32(window)),
	)
	return h, nil
}

func (b *Binder) recordFailureLocked(instanceID string, window platform.WindowID, d display.Display, err error) {
	p, ok := b.pending[instanceID]
	if !ok || p.window != window {
		p = &pendingAttach{window: window}
		b.pending[instanceID] = p
	}
	p.display = d
	p.attempts++
	p.lastErr = err

	b.logger.Debug("surface attach failed", "instance", instanceID, "display", d.ID, "attempt", p.attempts, "error", err)

	if p.attempts >= b.maxAttempts && !p.degraded {
		p.degraded = true
		b.logger.Warn("surface attach degraded", "instance", instanceID, "display", d.ID, "attempts", p.attempts, "error", err)
		select {
		case b.events <- Event{InstanceID: instanceID, DisplayID: d.ID, Attempts: p.attempts, Err: err}:
		default:
		}
	}
}

// Reflow moves and resizes every surface on a display in place.
func (b *Binder) Reflow(displayID display.ID, bounds platform.Rect) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for id, h := range b.attached {
		if h.DisplayID != displayID || h.Bounds == bounds {
			continue
		}
		if err := b.host.MoveResize(h.Host, h.Window, bounds); err != nil {
			errs = append(errs, fmt.Errorf("reflow %s: %w", id, err))
			continue
		}
		h.Bounds = bounds
		b.attached[id] = h
	}
	for _, p := range b.pending {
		if p.display.ID == displayID {
			p.display.Bounds = bounds
		}
	}
	return errors.Join(errs...)
}

// Detach releases the host window of an instance and forgets any pending
// attach. Detaching an unattached instance is a no-op.
func (b *Binder) Detach(instanceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, instanceID)
	h, ok := b.attached[instanceID]
	if !ok {
		return nil
	}
	delete(b.attached, instanceID)
	return b.releaseLocked(h)
}

func (b *Binder) releaseLocked(h Handle) error {
	if err := b.host.Release(h.Host, h.Window); err != nil {
		b.logger.Warn("surface release failed", "instance", h.InstanceID, "error", err)
		return err
	}
	b.logger.Info("surface detached", "instance", h.InstanceID, "display", h.DisplayID)
	return nil
}

// Handle returns the attachment of an instance.
func (b *Binder) Handle(instanceID string) (Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.attached[instanceID]
	return h, ok
}

// Pending lists instances waiting for a successful attach.
func (b *Binder) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RetryPending attempts every pending attach once and returns the handles
// that succeeded.
func (b *Binder) RetryPending(ctx context.Context) []Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var done []Handle
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		p := b.pending[id]
		h, err := b.attachLocked(id, p.window, p.display)
		if err == nil {
			done = append(done, h)
		}
	}
	return done
}

// ReleaseAll detaches every surface; used on shutdown.
func (b *Binder) ReleaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, h := range b.attached {
		b.releaseLocked(h)
		delete(b.attached, id)
	}
	for id := range b.pending {
		delete(b.pending, id)
	}
}
