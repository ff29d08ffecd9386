package transcript

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a file and calls a callback when its content
// changes. The file is polled (modification time first, then SHA-256) so
// changes on filesystems without inotify support are still seen; fsnotify
// events on the containing directory trigger an early check.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	onChange func()

	mu        sync.Mutex
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long the watcher waits after a filesystem event
// before checking the file, so that a burst of writes causes one reload.
// The default is 200 milliseconds.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher starts watching path. The current content is recorded as the
// baseline, so onChange only fires for later modifications. A missing file
// is not an error; its creation counts as a change.
func NewWatcher(path string, onChange func(), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: 5 * time.Second,
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	hash, mtime, err := w.hashFile()
	switch {
	case err == nil:
		w.lastHash, w.lastMtime = hash, mtime
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("transcript: watcher initial read: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(filepath.Dir(w.path)); err == nil {
			w.fsw = fsw
		} else {
			fsw.Close()
		}
	}
	if err != nil {
		slog.Warn("transcript watcher: filesystem events unavailable, polling only", "path", w.path, "err", err)
	}

	go w.run()
	return w, nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		<-w.stopped
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

func (w *Watcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.fsw != nil {
		events, errs = w.fsw.Events, w.fsw.Errors
	}

	var debounced <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		case <-debounced:
			debounced = nil
			w.check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			debounced = timer.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("transcript watcher: filesystem event error", "path", w.path, "err", err)
		}
	}
}

// check hashes the file if its modification time changed and calls
// onChange when the content differs from the last seen content.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("transcript watcher: cannot stat file", "path", w.path, "err", err)
		}
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	hash, newMtime, err := w.hashFile()
	if err != nil {
		slog.Warn("transcript watcher: cannot read file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, content identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("transcript watcher: file changed", "path", w.path)
	if w.onChange != nil {
		w.onChange()
	}
}

func (w *Watcher) hashFile() ([sha256.Size]byte, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return [sha256.Size]byte{}, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return [sha256.Size]byte{}, time.Time{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, time.Time{}, err
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, info.ModTime(), nil
}
