package tui

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/ralph/internal/logging"
)

const debounce = 100 * time.Millisecond

// Watcher signals when files in a session directory change. Bursts of
// writes collapse into one signal.
type Watcher struct {
	watcher *fsnotify.Watcher
	names   map[string]bool
	changes chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	logger  *logging.Logger
	once    sync.Once
}

// NewWatcher watches dir. When names are given only those files count;
// otherwise any file does. The logger may be nil.
func NewWatcher(dir string, logger *logging.Logger, names ...string) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: files are replaced by rename on every save.
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		watcher: fw,
		names:   make(map[string]bool, len(names)),
		changes: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	for _, n := range names {
		w.names[n] = true
	}
	go w.loop()
	return w, nil
}

// Changes delivers a value after each settled burst of changes. It is
// closed when the watcher stops.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.changes)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if len(w.names) > 0 && !w.names[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
