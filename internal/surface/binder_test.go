package surface

import (
	"context"
	"errors"
	"testing"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/platform"
)

type fakeHost struct {
	createErr error
	embedErr  error
	nextHost  platform.WindowID
	created   []platform.Rect
	embedded  map[platform.WindowID]platform.WindowID
	moved     []platform.Rect
	released  []platform.WindowID
}

func newFakeHost() *fakeHost {
	return &fakeHost{nextHost: 100, embedded: make(map[platform.WindowID]platform.WindowID)}
}

func (f *fakeHost) CreateHost(bounds platform.Rect, _ bool) (platform.WindowID, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextHost++
	f.created = append(f.created, bounds)
	return f.nextHost, nil
}

func (f *fakeHost) Embed(host, child platform.WindowID, _ platform.Rect) error {
	if f.embedErr != nil {
		return f.embedErr
	}
	f.embedded[host] = child
	return nil
}

func (f *fakeHost) MoveResize(_, _ platform.WindowID, bounds platform.Rect) error {
	f.moved = append(f.moved, bounds)
	return nil
}

func (f *fakeHost) Release(host, _ platform.WindowID) error {
	f.released = append(f.released, host)
	delete(f.embedded, host)
	return nil
}

var dp1 = display.Display{
	ID:        "DP-1",
	Bounds:    platform.Rect{Width: 1920, Height: 1080},
	Connected: true,
}

func TestAttach_EmbedsIntoHost(t *testing.T) {
	host := newFakeHost()
	b := NewBinder(host, Options{Logger: logging.Discard()})

	h, err := b.Attach(context.Background(), "w1", 7, dp1)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if host.embedded[h.Host] != 7 {
		t.Fatalf("expected window 7 embedded into host %d, got %v", h.Host, host.embedded)
	}
	if h.Bounds != dp1.Bounds {
		t.Fatalf("expected host sized to display, got %+v", h.Bounds)
	}

	again, err := b.Attach(context.Background(), "w1", 7, dp1)
	if err != nil || again.Host != h.Host || len(host.created) != 1 {
		t.Fatalf("expected re-attach of same window to be a no-op, got %+v %v (created %d)", again, err, len(host.created))
	}
}

func TestAttach_FailureQueuesAndDegradesOnce(t *testing.T) {
	host := newFakeHost()
	host.createErr = platform.ErrIconHostNotFound
	b := NewBinder(host, Options{MaxAttempts: 3, Logger: logging.Discard()})
	ctx := context.Background()

	_, err := b.Attach(ctx, "w1", 7, dp1)
	if !errors.Is(err, ErrAttachFailure) || !errors.Is(err, ErrIconHostNotFound) {
		t.Fatalf("expected attach failure wrapping icon host error, got %v", err)
	}
	if p := b.Pending(); len(p) != 1 || p[0] != "w1" {
		t.Fatalf("expected w1 pending, got %v", p)
	}

	for i := 0; i < 5; i++ {
		if got := b.RetryPending(ctx); len(got) != 0 {
			t.Fatalf("expected retries to keep failing, got %+v", got)
		}
	}

	select {
	case ev := <-b.Events():
		if ev.InstanceID != "w1" || ev.Attempts != 3 {
			t.Fatalf("unexpected degraded event %+v", ev)
		}
	default:
		t.Fatalf("expected a degraded event")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("expected degraded event only once, got second %+v", ev)
	default:
	}

	host.createErr = nil
	got := b.RetryPending(ctx)
	if len(got) != 1 || got[0].Window != 7 {
		t.Fatalf("expected pending attach to succeed, got %+v", got)
	}
	if len(b.Pending()) != 0 {
		t.Fatalf("expected nothing pending, got %v", b.Pending())
	}
}

func TestAttach_EmbedFailureReleasesHost(t *testing.T) {
	host := newFakeHost()
	host.embedErr = errors.New("BadWindow")
	b := NewBinder(host, Options{Logger: logging.Discard()})

	if _, err := b.Attach(context.Background(), "w1", 7, dp1); err == nil {
		t.Fatalf("expected attach to fail")
	}
	if len(host.released) != 1 {
		t.Fatalf("expected orphan host to be released, got %v", host.released)
	}
}

func TestReflow_ResizesInPlace(t *testing.T) {
	host := newFakeHost()
	b := NewBinder(host, Options{Logger: logging.Discard()})
	h, _ := b.Attach(context.Background(), "w1", 7, dp1)

	bigger := platform.Rect{Width: 2560, Height: 1440}
	if err := b.Reflow("DP-1", bigger); err != nil {
		t.Fatalf("reflow: %v", err)
	}
	if len(host.moved) != 1 || host.moved[0] != bigger {
		t.Fatalf("expected one move to %+v, got %v", bigger, host.moved)
	}
	got, _ := b.Handle("w1")
	if got.Host != h.Host || got.Bounds != bigger {
		t.Fatalf("expected same host with new bounds, got %+v", got)
	}
	if len(host.created) != 1 {
		t.Fatalf("expected no new host on reflow, got %d", len(host.created))
	}
}

func TestDetach(t *testing.T) {
	host := newFakeHost()
	b := NewBinder(host, Options{Logger: logging.Discard()})
	h, _ := b.Attach(context.Background(), "w1", 7, dp1)

	if err := b.Detach("w1"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if len(host.released) != 1 || host.released[0] != h.Host {
		t.Fatalf("expected host %d released, got %v", h.Host, host.released)
	}
	if _, ok := b.Handle("w1"); ok {
		t.Fatalf("expected handle to be gone")
	}
	if err := b.Detach("w1"); err != nil {
		t.Fatalf("second detach should be a no-op, got %v", err)
	}
}

func TestDetach_ClearsPending(t *testing.T) {
	host := newFakeHost()
	host.createErr = platform.ErrIconHostNotFound
	b := NewBinder(host, Options{Logger: logging.Discard()})
	b.Attach(context.Background(), "w1", 7, dp1)

	b.Detach("w1")
	if len(b.Pending()) != 0 {
		t.Fatalf("expected pending attach to be dropped, got %v", b.Pending())
	}
}
