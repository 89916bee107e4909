// Package watcher provides file system watching with debouncing for the
// registry root directory. The registry uses it to notice external writers
// and drop cached metadata, since nothing synchronizes another process
// touching the same root.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a registry root for changes and sends notifications.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	exts      []string
	aggregate string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Root is the registry directory to watch.
	Root string

	// Exts are the file extensions that matter (payload and metadata).
	Exts []string

	// AggregateFile, when non-empty, is also treated as relevant.
	AggregateFile string

	// DebounceDur coalesces bursts of events into one notification.
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(root string, exts ...string) Config {
	return Config{
		Root:        root,
		Exts:        exts,
		DebounceDur: 1 * time.Second,
	}
}

// New creates a new root-directory watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = 1 * time.Second
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      cfg.Root,
		exts:      cfg.Exts,
		aggregate: cfg.AggregateFile,
		debounce:  debounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the root directory.
// Returns a channel that receives a signal when registry files change.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.root); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.root, err)
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					// Drain the timer channel if it already fired
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// Keep watching on errors; callers who need visibility can
			// wrap the watcher.

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should trigger a notification.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		// Atomic-write temp files churn constantly; only the final
		// rename onto the real name matters.
		return false
	}
	if w.aggregate != "" && base == w.aggregate {
		return true
	}
	for _, ext := range w.exts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}
