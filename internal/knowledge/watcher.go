package knowledge

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MrWong99/phonofix/internal/transcript"
)

// Watcher monitors a knowledge file and calls a callback with the reloaded
// entries whenever its content changes. It watches the file's directory with
// fsnotify (so editors that replace the file by rename are handled) and also
// polls, which covers filesystems where fsnotify is unavailable. Bursts of
// events are coalesced by a debounce delay.
type Watcher struct {
	path     string
	format   Format
	interval time.Duration
	debounce time.Duration
	onChange func(entries []transcript.Entry)
	onError  func(err error)

	mu          sync.Mutex
	current     []transcript.Entry
	lastHash    [sha256.Size]byte
	transcriber string

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithPollInterval sets the polling interval. The default is 5 seconds.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long the watcher waits after the last filesystem
// event before reloading. The default is 200ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithFormat forces the file format instead of detecting it from the
// extension.
func WithFormat(f Format) WatcherOption {
	return func(w *Watcher) {
		w.format = f
	}
}

// WithTranscriber filters snapshot representations for the named
// transcriber, as [LoadFor] does.
func WithTranscriber(name string) WatcherOption {
	return func(w *Watcher) {
		w.transcriber = name
	}
}

// WithErrorHandler registers fn to be called when a reload fails. The
// previous entries stay active.
func WithErrorHandler(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher loads the knowledge file at path immediately and starts watching
// it in the background.
func NewWatcher(path string, onChange func(entries []transcript.Entry), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	entries, hash, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("knowledge: watcher initial load: %w", err)
	}
	w.current = entries
	w.lastHash = hash

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// SetTranscriber changes the transcriber name used from the next reload on.
func (w *Watcher) SetTranscriber(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transcriber = name
}

// Current returns the most recently loaded valid entries.
func (w *Watcher) Current() []transcript.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("knowledge watcher: fsnotify not available, polling only", "err", err)
	} else {
		defer fw.Close()
		if err := fw.Add(filepath.Dir(w.path)); err != nil {
			slog.Warn("knowledge watcher: cannot watch directory, polling only", "path", w.path, "err", err)
		} else {
			events, errs = fw.Events, fw.Errors
		}
	}

	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
			} else {
				debounce.Reset(w.debounce)
			}
			fire = debounce.C

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("knowledge watcher: fsnotify error", "err", err)

		case <-fire:
			fire = nil
			w.check()

		case <-poll.C:
			w.check()
		}
	}
}

// check reloads the file and, if its content changed and is valid, updates
// the current entries and calls onChange.
func (w *Watcher) check() {
	entries, hash, err := w.loadAndHash()
	if err != nil {
		if os.IsNotExist(err) {
			// Mid-rename; the next event or poll picks up the new file.
			return
		}
		slog.Warn("knowledge watcher: failed to load knowledge", "path", w.path, "err", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.current = entries
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("knowledge watcher: knowledge reloaded", "path", w.path, "terms", len(entries))
	if w.onChange != nil {
		w.onChange(entries)
	}
}

func (w *Watcher) loadAndHash() ([]transcript.Entry, [sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, err
	}
	format := w.format
	if format == "" {
		if format, err = DetectFormat(w.path); err != nil {
			return nil, zero, err
		}
	}
	w.mu.Lock()
	transcriber := w.transcriber
	w.mu.Unlock()
	entries, err := load(bytes.NewReader(data), format, transcriber)
	if err != nil {
		return nil, zero, err
	}
	return entries, sha256.Sum256(data), nil
}
