package resource

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/careline-ai/careline/internal/event"
	"github.com/careline-ai/careline/internal/logging"
)

// Watcher reloads the directory when its backing file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     *Directory
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher creates a watcher for the directory's backing file.
// Returns nil if the directory runs on embedded data.
func NewWatcher(dir *Directory) (*Watcher, error) {
	path := dir.Path()
	if path == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the containing directory; editors replace files rather than
	// writing them in place, which a file-level watch misses.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	logging.Info().Str("path", path).Msg("resource directory watcher initialized")

	return &Watcher{
		watcher: w,
		dir:     dir,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	base := filepath.Base(w.dir.Path())
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 &&
				filepath.Base(ev.Name) == base {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("resource watcher error")
		}
	}
}

func (w *Watcher) reload() {
	if err := w.dir.Reload(); err != nil {
		logging.Warn().Err(err).Str("path", w.dir.Path()).Msg("resource reload failed, keeping previous directory")
		return
	}

	logging.Info().Str("path", w.dir.Path()).Int("count", w.dir.Count()).Msg("resource directory reloaded")

	event.Publish(event.Event{
		Type: event.ResourcesReloaded,
		Data: event.ResourcesReloadedData{Path: w.dir.Path(), Count: w.dir.Count()},
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
