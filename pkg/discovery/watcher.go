package discovery

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher observes the configuration source paths and invokes a callback
// when any of them changes, so callers can trigger a fresh discovery run.
// Events are debounced: editors typically emit several write events per
// save.
type Watcher struct {
	fs       *fsnotify.Watcher
	paths    map[string]struct{}
	onChange func()
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher starts watching the parent directories of the given paths.
// onChange runs on the watcher's goroutine; callers needing serialization
// with their own state must arrange it themselves.
func NewWatcher(paths []string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		paths:    make(map[string]struct{}, len(paths)),
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		w.paths[filepath.Clean(p)] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := fs.Add(dir); err != nil {
			logger.Warn("cannot watch config directory", "dir", dir, "error", err)
		}
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if _, watched := w.paths[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, w.onChange)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
