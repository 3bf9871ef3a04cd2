package metadata

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates a factory when mapping files change.
type Watcher struct {
	factory  *Factory
	paths    []string
	logger   *slog.Logger
	onChange func(path string)

	mu     sync.Mutex
	active bool
	files  map[string]struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnChange registers a callback run after each invalidation.
func WithOnChange(fn func(path string)) WatchOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher creates a watcher over mapping paths (files or directories).
func NewWatcher(factory *Factory, paths []string, opts ...WatchOption) *Watcher {
	w := &Watcher{
		factory: factory,
		paths:   paths,
		logger:  slog.New(slog.DiscardHandler),
		files:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The watch loop ends when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, p := range w.paths {
		if err := w.add(fw, p); err != nil {
			_ = fw.Close()
			return err
		}
	}

	w.setActive(true)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer w.setActive(false)
		defer fw.Close()
		return w.loop(ctx, fw)
	}, lifecycle.WithErrorHandler(func(err error) {
		w.logger.Error("mapping watcher failed", "error", err)
	}))
	return nil
}

// Active reports whether the watch loop is running.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *Watcher) setActive(active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = active
}

func (w *Watcher) add(fw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if !info.IsDir() {
		abs, _ := filepath.Abs(path)
		w.files[filepath.Clean(abs)] = struct{}{}
		return fw.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.add(fw, event.Name)
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("mapping changed", "path", event.Name, "op", event.Op.String())
			w.factory.Invalidate()
			if w.onChange != nil {
				w.onChange(event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if len(w.files) > 0 {
		abs, _ := filepath.Abs(event.Name)
		if _, ok := w.files[filepath.Clean(abs)]; ok {
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".yml", ".yaml", ".xml":
		return true
	}
	return false
}
