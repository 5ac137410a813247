// Package watch re-runs a callback with the content of a file every time
// the file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives the full content of the watched file
type Handler func(content string)

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger for watcher errors and change events
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher calls its handler once at start and again after each burst of
// changes to one file. Handler calls never overlap.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
}

// New creates a watcher for path
func New(path string, debounce time.Duration, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: debounce,
		handler:  handler,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done. The parent directory is watched rather
// than the file so that editors replacing the file on save are seen.
func (w *Watcher) Run(ctx context.Context) error {
	target, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", w.path, err)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	w.fire(target)

	fire := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("file changed", "file", event.Name, "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.fire(target)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// fire reads the file and hands it to the handler. A file that vanished
// between the event and the read is skipped; the next event brings it back.
func (w *Watcher) fire(target string) {
	content, err := os.ReadFile(target)
	if err != nil {
		w.logger.Debug("skipping unreadable file", "file", target, "error", err)
		return
	}
	w.handler(string(content))
}
