package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errNoRepository = errors.New("not inside a git repository")

// locateRepository walks up from dir to the closest directory with a .git
// entry. It returns the git directory and that directory, the workspace root.
func locateRepository(dir string) (gitDir, root string, err error) {
	root = dir
	for {
		gitDir, err = gitDirOf(root)
		if err == nil {
			return gitDir, root, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", "", fmt.Errorf("%w: %s", errNoRepository, dir)
		}
		root = parent
	}
}

// gitDirOf returns the git directory of the checkout at root. .git is either
// the directory itself or, for worktrees and submodules, a "gitdir: <path>"
// file. Only what ref resolution reads is required to exist.
func gitDirOf(root string) (string, error) {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}

	gitDir := dotGit
	if !info.IsDir() {
		content, err := os.ReadFile(dotGit)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", dotGit, err)
		}
		target, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "gitdir:")
		if !ok {
			return "", fmt.Errorf("malformed .git file in %s", root)
		}
		gitDir = strings.TrimSpace(target)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(root, gitDir)
		}
		gitDir = filepath.Clean(gitDir)
	}

	for _, entry := range []string{"HEAD", "refs"} {
		if _, err := os.Stat(filepath.Join(gitDir, entry)); err != nil {
			return "", fmt.Errorf("%s is not a git directory: missing %s", gitDir, entry)
		}
	}
	return gitDir, nil
}
