package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/phobos/internal/logging"
)

// DefaultDebounce is the quiet period before a rescan.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc receives the result of a rescan.
type ChangeFunc func(valid, invalid []*Info)

// Watcher rescans the loader's paths when plugin directories change.
// Bursts of filesystem events collapse into one rescan.
type Watcher struct {
	loader   *Loader
	onChange ChangeFunc
	delay    time.Duration
	logger   *logging.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	watched  map[string]bool
	closed   bool
	inflight sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l.WithComponent("plugin-watcher")
		}
	}
}

// NewWatcher creates a watcher for loader's paths.
func NewWatcher(loader *Loader, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		onChange: onChange,
		delay:    DefaultDebounce,
		logger:   logging.Nop().WithComponent("plugin-watcher"),
		fsw:      fsw,
		watched:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done, then closes the underlying watcher. It
// returns only after any rescan already under way has finished, and no
// rescan starts after it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	w.addTree()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					w.add(ev.Name)
				}
			}
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("plugin watch error", "error", err)
		}
	}
}

// addTree watches each search path and its immediate plugin directories.
func (w *Watcher) addTree() {
	for _, root := range w.loader.Paths() {
		if !w.add(root) {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				w.add(filepath.Join(root, e.Name()))
			}
		}
	}
}

func (w *Watcher) add(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[path] {
		return true
	}
	if err := w.fsw.Add(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("cannot watch plugin path", "path", path, "error", err)
		}
		return false
	}
	w.watched[path] = true
	return true
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	defer w.inflight.Done()
	w.rescan()
}

func (w *Watcher) rescan() {
	valid, invalid, err := w.loader.Discover()
	if err != nil {
		w.logger.Warn("plugin rescan failed", "error", err)
		return
	}
	w.logger.Debug("plugins rescanned", "valid", len(valid), "invalid", len(invalid))
	if w.onChange != nil {
		w.onChange(valid, invalid)
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
	w.inflight.Wait()
}
