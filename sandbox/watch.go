package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period Watch waits for before reporting.
const DefaultWatchDebounce = 150 * time.Millisecond

// skipDirs are never watched nor listed in the file tree.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".artificer":   true,
}

// SkipDir reports whether a directory name is excluded from watching and
// from file tree listings.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// Watch reports changes made under the sandbox root, typically by shell
// commands, until ctx is done. Changed paths are collected and delivered
// to fn after debounce of quiet time; paths are relative to the root.
// Directories created while watching are added to the watch.
//
// Watch blocks and returns nil when ctx is cancelled.
func (l *Local) Watch(ctx context.Context, debounce time.Duration, fn func(paths []string)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := l.addTree(watcher, l.root); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	var lastEvent time.Time

	ticker := time.NewTicker(debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			rel, err := filepath.Rel(l.root, event.Name)
			if err != nil {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = l.addTree(watcher, event.Name)
				}
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			lastEvent = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("sandbox watcher error", map[string]any{"error": err.Error()})

		case <-ticker.C:
			if len(pending) == 0 || time.Since(lastEvent) < debounce {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			fn(paths)
		}
	}
}

func (l *Local) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			// Vanished between the event and the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
