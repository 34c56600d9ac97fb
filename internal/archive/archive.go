// Package archive keeps the logs of concluded check runs. Those logs never
// change, so they only need to be fetched once.
package archive

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("archive: log not found")

// Archive stores finalized logs by repository and check run id.
type Archive interface {
	Get(ctx context.Context, repo, checkRunID string) (string, error)
	Put(ctx context.Context, repo, checkRunID, body string) error
}

// MemoryArchive is an Archive backed by a map.
type MemoryArchive struct {
	mu   sync.RWMutex
	logs map[string]string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{logs: make(map[string]string)}
}

func (a *MemoryArchive) Get(_ context.Context, repo, checkRunID string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	body, ok := a.logs[repo+"\x00"+checkRunID]
	if !ok {
		return "", ErrNotFound
	}
	return body, nil
}

func (a *MemoryArchive) Put(_ context.Context, repo, checkRunID, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs[repo+"\x00"+checkRunID] = body
	return nil
}

// Len returns the number of archived logs.
func (a *MemoryArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.logs)
}
