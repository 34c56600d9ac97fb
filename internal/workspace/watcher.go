package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceTime = 100 * time.Millisecond

// Watch follows file changes under the workspace until ctx is done, calling
// onChange whenever a file becomes dirty or clean again.
func (w *Workspace) Watch(ctx context.Context, onChange func(path string, dirty bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.root); err != nil {
		return err
	}
	w.logger.Info("Watching workspace for changes", zap.String("path", w.root))

	pending := make(map[string]struct{})
	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
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
			if shouldIgnoreEvent(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if isDir(event.Name) {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Warn("Failed to watch directory", zap.String("path", event.Name), zap.Error(err))
					}
					continue
				}
			}

			pending[w.rel(event.Name)] = struct{}{}
			if debounce == nil {
				debounce = time.NewTimer(debounceTime)
			} else {
				debounce.Reset(debounceTime)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			for path := range pending {
				if dirty, changed := w.refresh(path); changed {
					w.logger.Debug("Workspace file changed", zap.String("path", path), zap.Bool("dirty", dirty))
					if onChange != nil {
						onChange(path, dirty)
					}
				}
			}
			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Workspace) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := filepath.ToSlash(event.Name)

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.Contains(path, "/.git/") || base == ".git" {
		return true
	}
	if strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
