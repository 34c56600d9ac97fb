package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FallbackBaseRef is used as base of new answers when the main branch
// cannot be resolved locally.
const FallbackBaseRef = "origin/main"

const mainBranchRef = "refs/heads/main"

var errRefNotFound = errors.New("ref not found")

// resolveRef returns the hash a ref points to, following symbolic refs.
// Loose refs take precedence over packed ones.
func resolveRef(gitDir, name string) (Hash, error) {
	return resolveRefDepth(gitDir, name, 0)
}

func resolveRefDepth(gitDir, name string, depth int) (Hash, error) {
	if depth > 5 {
		return "", fmt.Errorf("symbolic ref loop at %s", name)
	}

	content, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return resolvePackedRef(gitDir, name)
	}
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(string(content))
	if strings.HasPrefix(line, "ref: ") {
		return resolveRefDepth(gitDir, strings.TrimPrefix(line, "ref: "), depth+1)
	}

	hash, err := ParseHash(line)
	if err != nil {
		return "", fmt.Errorf("invalid hash in ref file %s: %w", name, err)
	}
	return hash, nil
}

// resolvePackedRef looks name up in packed-refs.
// Format: "<hash> <refname>" per line, "#" headers and "^" peeled lines.
func resolvePackedRef(gitDir, name string) (Hash, error) {
	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", errRefNotFound, name)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hash, ref, ok := strings.Cut(line, " ")
		if !ok || ref != name {
			continue
		}
		return ParseHash(hash)
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s", errRefNotFound, name)
}
