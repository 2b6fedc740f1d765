// Package watcher reports schematic files that appear or change under the
// input directory.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a path must stay quiet before it is reported.
// Schematic exporters write in several chunks.
const DefaultDebounce = 300 * time.Millisecond

// Callback receives the absolute path of a settled file.
type Callback func(path string)

// Watcher watches a directory tree.
type Watcher struct {
	root     string
	accept   func(path string) bool
	logger   *slog.Logger
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher on root. accept filters which files are reported.
func New(root string, accept func(path string) bool, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		accept:   accept,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes file system events until ctx is cancelled. Paths written
// repeatedly within the debounce window are reported once. Directories
// created at runtime are watched too, and files already inside them are
// reported.
func (w *Watcher) Run(ctx context.Context, cb Callback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.root); err != nil {
		return err
	}

	w.logger.Info("watcher: started", slog.String("root", w.root))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func(p string) {
		pending[p] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			for _, p := range paths {
				if _, statErr := os.Stat(p); statErr != nil {
					continue
				}
				w.logger.Debug("watcher: settled", slog.String("path", p))
				cb(p)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			p := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, p); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", p),
							slog.String("error", addErr.Error()))
						continue
					}
					w.logger.Debug("watcher: watching new dir", slog.String("path", p))
					for _, f := range w.filesIn(p) {
						schedule(f)
					}
					continue
				}
			}

			if !w.accept(p) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(p)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, p)
				w.logger.Debug("watcher: gone", slog.String("path", p))
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) filesIn(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.accept(p) {
			return nil
		}
		out = append(out, p)
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
