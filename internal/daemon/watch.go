package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/1broseidon/deskpaper/internal/clock"
)

// ConfigWatcher calls OnChange once a burst of writes to any watched config
// file has settled. Parent directories are watched rather than the files so
// editors that replace the file on save are still seen.
type ConfigWatcher struct {
	Debounce time.Duration
	Clock    clock.Clock
	OnChange func()
	Logger   *slog.Logger

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
	w     *fsnotify.Watcher
	timer *clock.Timer
}

// SetFiles replaces the set of watched files. It may be called while Run is
// active, typically after a reload changed the include list.
func (c *ConfigWatcher) SetFiles(paths []string) error {
	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = files
	if c.w == nil {
		c.dirs = dirs
		return nil
	}
	return c.syncDirsLocked(dirs)
}

func (c *ConfigWatcher) syncDirsLocked(dirs map[string]struct{}) error {
	var firstErr error
	for dir := range c.dirs {
		if _, keep := dirs[dir]; !keep {
			c.w.Remove(dir)
		}
	}
	for dir := range dirs {
		if _, have := c.dirs[dir]; have {
			continue
		}
		if err := c.w.Add(dir); err != nil {
			// A missing config directory is not fatal; defaults are in use.
			c.Logger.Debug("config watch skipped", "dir", dir, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			delete(dirs, dir)
		}
	}
	c.dirs = dirs
	return firstErr
}

// Run watches until ctx is done.
func (c *ConfigWatcher) Run(ctx context.Context) error {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Debounce <= 0 {
		c.Debounce = 250 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()

	c.mu.Lock()
	c.w = w
	dirs := c.dirs
	c.dirs = nil
	c.syncDirsLocked(dirs)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.w = nil
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if c.watching(ev.Name) {
				c.schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.Logger.Warn("config watch error", "error", err)
		}
	}
}

func (c *ConfigWatcher) watching(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[abs]
	return ok
}

func (c *ConfigWatcher) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Reset(c.Debounce)
		return
	}
	c.timer = c.Clock.AfterFunc(c.Debounce, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		if c.OnChange != nil {
			c.OnChange()
		}
	})
}
