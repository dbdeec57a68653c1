package display

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/deskpaper/internal/clock"
	"github.com/1broseidon/deskpaper/internal/platform"
)

// ID identifies a display for the lifetime of the daemon.
type ID string

// Display is a monitor known to the registry. Disconnected displays stay in
// the registry so an assignment can be restored when they come back.
type Display struct {
	ID        ID            `json:"id"`
	Name      string        `json:"name"`
	Bounds    platform.Rect `json:"bounds"`
	Primary   bool          `json:"primary"`
	Connected bool          `json:"connected"`
}

type EventKind int

const (
	Added EventKind = iota
	Removed
	Resized
	Warning
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Resized:
		return "resized"
	case Warning:
		return "warning"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports one topology change. For Resized, Previous holds the old
// bounds and Display the new ones. Warning events carry only Err.
type Event struct {
	Kind     EventKind
	Display  Display
	Previous platform.Rect
	Err      error
}

// Options configures a Registry. Zero values select defaults.
type Options struct {
	Clock    clock.Clock
	Debounce time.Duration
	// PollInterval enables polling when the source cannot push changes.
	PollInterval time.Duration
	Logger       *slog.Logger
}

const defaultDebounce = 400 * time.Millisecond

// Registry tracks the set of displays and turns raw change notifications
// into debounced Added/Removed/Resized events.
type Registry struct {
	source platform.DisplaySource
	clock  clock.Clock
	poll   time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	known    map[ID]Display
	debounce time.Duration
	timer    *clock.Timer

	trigger chan struct{}
	events  chan Event
}

func NewRegistry(source platform.DisplaySource, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		source:   source,
		clock:    opts.Clock,
		poll:     opts.PollInterval,
		logger:   opts.Logger,
		known:    make(map[ID]Display),
		debounce: opts.Debounce,
		trigger:  make(chan struct{}, 1),
		events:   make(chan Event, 64),
	}
}

// Events delivers topology changes. The channel is never closed.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// SetDebounce changes the quiescence window used for later notifications.
func (r *Registry) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.debounce = d
	r.mu.Unlock()
}

// List returns connected displays: primary first, then by X, Y and ID.
func (r *Registry) List() []Display {
	r.mu.RLock()
	out := make([]Display, 0, len(r.known))
	for _, d := range r.known {
		if d.Connected {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()

	sortDisplays(out)
	return out
}

// Lookup returns a display by ID, including disconnected ones.
func (r *Registry) Lookup(id ID) (Display, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.known[id]
	return d, ok
}

// Locate returns the connected display containing the center of rect.
func (r *Registry) Locate(rect platform.Rect) (Display, bool) {
	cx, cy := rect.Center()
	for _, d := range r.List() {
		if d.Bounds.Contains(cx, cy) {
			return d, true
		}
	}
	return Display{}, false
}

// Notify records a raw change. Bursts of notifications collapse into a
// single enumeration once the debounce window passes without another one.
func (r *Registry) Notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Reset(r.debounce)
		return
	}
	r.timer = r.clock.AfterFunc(r.debounce, r.fire)
}

func (r *Registry) fire() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run enumerates once, subscribes to source changes and re-enumerates after
// every debounced burst until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	r.refresh(ctx)

	var tick <-chan time.Time
	if err := r.source.WatchOutputs(ctx, r.Notify); err != nil {
		if r.poll <= 0 {
			return fmt.Errorf("watch outputs: %w", err)
		}
		r.logger.Warn("display change notifications unavailable, polling", "error", err, "interval", r.poll)
		ticker := r.clock.NewTicker(r.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.timer != nil {
				r.timer.Stop()
			}
			r.mu.Unlock()
			return nil
		case <-r.trigger:
			r.refresh(ctx)
		case <-tick:
			r.refresh(ctx)
		}
	}
}

// refresh enumerates outputs, applies the diff and publishes events.
// Enumeration failures keep the last known state and emit a Warning.
func (r *Registry) refresh(ctx context.Context) {
	outputs, err := r.source.Outputs()
	if err != nil {
		r.logger.Warn("display enumeration failed, keeping last known state", "error", err)
		r.publish(ctx, []Event{{Kind: Warning, Err: err}})
		return
	}

	r.mu.Lock()
	next, events := diff(r.known, outputs)
	r.known = next
	r.mu.Unlock()

	for _, ev := range events {
		r.logger.Info("display topology changed",
			"kind", ev.Kind.String(),
			"display", ev.Display.ID,
			"bounds", ev.Display.Bounds,
		)
	}
	r.publish(ctx, events)
}

func (r *Registry) publish(ctx context.Context, events []Event) {
	for _, ev := range events {
		select {
		case r.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// diff applies an enumeration to the known set. Outputs that were never
// seen connected are ignored; known outputs missing from the enumeration
// count as disconnected.
func diff(known map[ID]Display, outputs []platform.Output) (map[ID]Display, []Event) {
	next := make(map[ID]Display, len(known))
	for id, d := range known {
		next[id] = d
	}

	var events []Event
	present := make(map[ID]bool, len(outputs))
	for _, o := range outputs {
		if !o.Connected || o.Bounds.Empty() {
			continue
		}
		id := ID(o.ID)
		present[id] = true

		cur := Display{ID: id, Name: o.Name, Bounds: o.Bounds, Primary: o.Primary, Connected: true}
		prev, ok := known[id]
		next[id] = cur

		switch {
		case !ok || !prev.Connected:
			events = append(events, Event{Kind: Added, Display: cur})
		case prev.Bounds != cur.Bounds:
			events = append(events, Event{Kind: Resized, Display: cur, Previous: prev.Bounds})
		}
	}

	for id, prev := range known {
		if !prev.Connected || present[id] {
			continue
		}
		gone := prev
		gone.Connected = false
		gone.Primary = false
		next[id] = gone
		events = append(events, Event{Kind: Removed, Display: gone})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Kind != events[j].Kind {
			return events[i].Kind < events[j].Kind
		}
		return events[i].Display.ID < events[j].Display.ID
	})
	return next, events
}

func sortDisplays(ds []Display) {
	sort.Slice(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Primary != b.Primary {
			return a.Primary
		}
		if a.Bounds.X != b.Bounds.X {
			return a.Bounds.X < b.Bounds.X
		}
		if a.Bounds.Y != b.Bounds.Y {
			return a.Bounds.Y < b.Bounds.Y
		}
		return a.ID < b.ID
	})
}
