// Package workspace tracks the challenge checkout: which files were edited
// since the last submission and which commit new answers are based on.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type Workspace struct {
	root    string
	gitDir  string
	mainSHA string
	logger  *zap.Logger

	mu       sync.Mutex
	baseline map[string]Hash
	dirty    map[string]bool
}

// Open snapshots the files under path as the clean baseline. path does not
// have to be a git repository; without one, new answers are based on
// FallbackBaseRef.
func Open(path string, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace is not a directory: %s", abs)
	}

	w := &Workspace{
		root:    abs,
		mainSHA: FallbackBaseRef,
		logger:  logger,
		dirty:   make(map[string]bool),
	}

	gitDir, workDir, err := locateRepository(abs)
	if err != nil {
		logger.Info("Workspace is not a git repository", zap.String("path", abs), zap.Error(err))
	} else {
		w.gitDir, w.root = gitDir, workDir
		if sha, err := resolveRef(gitDir, mainBranchRef); err == nil {
			w.mainSHA = string(sha)
		} else {
			logger.Info("Main branch not found, using fallback base",
				zap.String("fallback", FallbackBaseRef), zap.Error(err))
		}
	}

	w.baseline, err = w.scan()
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	return w, nil
}

func (w *Workspace) Root() string   { return w.root }
func (w *Workspace) GitDir() string { return w.gitDir }

// MainBranchSHA is the sha of the local main branch when the workspace was
// opened, or FallbackBaseRef.
func (w *Workspace) MainBranchSHA() string { return w.mainSHA }

func (w *Workspace) scan() (map[string]Hash, error) {
	hashes := make(map[string]Hash)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		hash, err := HashFile(path)
		if err != nil {
			return err
		}
		hashes[w.rel(path)] = hash
		return nil
	})
	return hashes, err
}

func (w *Workspace) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Changes returns the content of every file that was added or modified since
// the baseline, keyed by slash-separated path. Deleted files are not reported.
func (w *Workspace) Changes() (map[string]string, error) {
	current, err := w.scan()
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	changes := make(map[string]string)
	dirty := make(map[string]bool)
	for path, hash := range current {
		if w.baseline[path] == hash {
			continue
		}
		content, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(path)))
		if err != nil {
			return nil, err
		}
		changes[path] = string(content)
		dirty[path] = true
	}
	w.dirty = dirty
	return changes, nil
}

// Save makes the current content of paths the new baseline.
func (w *Workspace) Save(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		hash, err := HashFile(filepath.Join(w.root, filepath.FromSlash(path)))
		if errors.Is(err, os.ErrNotExist) {
			delete(w.baseline, path)
			delete(w.dirty, path)
			continue
		}
		if err != nil {
			return err
		}
		w.baseline[path] = hash
		delete(w.dirty, path)
	}
	return nil
}

// Dirty lists the paths known to differ from the baseline, as last observed
// by Changes or the watcher.
func (w *Workspace) Dirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.dirty))
	for path := range w.dirty {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// refresh re-hashes one path and reports whether its dirty state changed.
func (w *Workspace) refresh(path string) (dirty, changed bool) {
	hash, err := HashFile(filepath.Join(w.root, filepath.FromSlash(path)))

	w.mu.Lock()
	defer w.mu.Unlock()

	was := w.dirty[path]
	dirty = err == nil && w.baseline[path] != hash
	if dirty {
		w.dirty[path] = true
	} else {
		delete(w.dirty, path)
	}
	return dirty, dirty != was
}
