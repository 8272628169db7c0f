package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and the newly loaded config together with
// their [Diff]. It is only called when the diff is non-empty, so a file
// rewritten with equivalent settings (comments, key order) is silent.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher keeps a config file loaded. Changes are picked up by polling the
// file's modification time or on demand through [Watcher.Reload].
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	onError  func(err error)

	// reloadMu serialises checks so Reload and the poll loop never hand the
	// same change to onChange twice.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// fileState identifies the content last seen on disk.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds. A
// negative interval disables polling; changes are then only seen through
// [Watcher.Reload].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d != 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler registers fn to be called when a changed file fails to
// load or validate. The previous config stays current.
func WithErrorHandler(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher loads the config at path and starts watching it. onChange may
// be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st

	if w.interval > 0 {
		w.wg.Add(1)
		go w.poll()
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now, ignoring the modification time, and applies
// it like a polled change. It reports whether the effective config changed.
// On error the previous config stays current.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

// Stop ends polling and waits for an in-flight check to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.check(false); err != nil {
				slog.Warn("config: reload failed", "path", w.path, "err", err)
				if w.onError != nil {
					w.onError(err)
				}
			}
		}
	}
}

// check loads the file when forced or when its mtime moved, and publishes
// it when the content hash and the resulting [Diff] both changed.
func (w *Watcher) check(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev, old := w.state, w.current
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			// Mid-rename or deleted; try again next tick.
			slog.Debug("config: stat failed", "path", w.path, "err", err)
			return false, nil
		}
		if info.ModTime().Equal(prev.mtime) {
			return false, nil
		}
	}

	cfg, st, err := readConfig(w.path)
	if err != nil {
		if info, serr := os.Stat(w.path); serr == nil {
			// Report a broken write once, not on every tick.
			w.mu.Lock()
			w.state.mtime = info.ModTime()
			w.mu.Unlock()
		}
		return false, err
	}
	if st.hash == prev.hash {
		w.mu.Lock()
		w.state = st
		w.mu.Unlock()
		return false, nil
	}

	d := Diff(old, cfg)
	w.mu.Lock()
	w.current, w.state = cfg, st
	w.mu.Unlock()
	if !d.Changed() {
		return false, nil
	}

	slog.Info("config: reloaded", "path", w.path, "rebuild", d.NeedsRebuild(), "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true, nil
}

func readConfig(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
