package answer

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrUnknownNode = errors.New("unknown tree node")

// Tree holds the current answer forest and its identity indexes. Every
// successful Reconcile or FastPathAppend replaces the forest wholesale and
// fires change listeners exactly once.
type Tree struct {
	mu         sync.RWMutex
	answers    []*Answer
	nodes      map[string]Node
	parents    map[string]*Answer
	byCheckRun map[string]*Commit

	listenersMu sync.Mutex
	listeners   []func()

	logger *zap.Logger
}

func NewTree(logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{
		nodes:      make(map[string]Node),
		parents:    make(map[string]*Answer),
		byCheckRun: make(map[string]*Commit),
		logger:     logger,
	}
}

// OnChange registers fn to run after every applied update.
func (t *Tree) OnChange(fn func()) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tree) notify() {
	t.listenersMu.Lock()
	listeners := append([]func(){}, t.listeners...)
	t.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Reconcile replaces the forest with answers and reports whether it did.
//
// Right after a submission is created the server briefly reports it with no
// check runs. When the leading answer keeps its identity but loses all of its
// commits, the update is dropped so the new submission does not flicker out.
func (t *Tree) Reconcile(answers []*Answer) bool {
	t.mu.Lock()
	if transientlyEmpty(t.answers, answers) {
		t.mu.Unlock()
		t.logger.Debug("Dropping transient empty answer update",
			zap.String("answer", answers[0].NodeID()))
		return false
	}
	t.replace(answers)
	t.mu.Unlock()

	t.notify()
	return true
}

func transientlyEmpty(old, next []*Answer) bool {
	return len(old) > 0 && len(next) > 0 &&
		old[0].NodeID() == next[0].NodeID() &&
		len(old[0].Commits) > 0 &&
		len(next[0].Commits) == 0
}

// FastPathAppend merges a freshly submitted answer without waiting for the
// next snapshot. If the answer is already tracked, only its newest commit is
// spliced onto the front of the existing commit list, or updates the commit
// with the same sha if there is one; otherwise the answer is
// inserted at the front of the forest. It reports whether the answer was new.
func (t *Tree) FastPathAppend(a *Answer) bool {
	t.mu.Lock()
	answers := append([]*Answer(nil), t.answers...)
	created := true
	for i, existing := range answers {
		if existing.NodeID() != a.NodeID() {
			continue
		}
		created = false
		if latest := a.Latest(); latest != nil {
			answers[i] = splice(existing, latest)
		}
		break
	}
	if created {
		answers = append([]*Answer{a}, answers...)
	}
	t.replace(answers)
	t.mu.Unlock()

	t.notify()
	return created
}

// splice returns a copy of a with c as its newest commit. A commit already
// tracked under the same sha is updated in place instead, keeping one node
// per sha.
func splice(a *Answer, c *Commit) *Answer {
	merged := a.clone()
	for j, existing := range merged.Commits {
		if existing.SHA == c.SHA {
			updated := *c
			updated.ParentSHA = existing.ParentSHA
			merged.Commits[j] = &updated
			return merged
		}
	}
	merged.Commits = append([]*Commit{c}, merged.Commits...)
	return merged
}

// replace swaps in a new forest and rebuilds the indexes. t.mu must be held.
func (t *Tree) replace(answers []*Answer) {
	nodes := make(map[string]Node, len(answers))
	parents := make(map[string]*Answer)
	byCheckRun := make(map[string]*Commit)
	for _, a := range answers {
		nodes[a.NodeID()] = a
		for _, c := range a.Commits {
			nodes[c.NodeID()] = c
			parents[c.NodeID()] = a
			byCheckRun[c.CheckRunID] = c
		}
	}
	t.answers = answers
	t.nodes = nodes
	t.parents = parents
	t.byCheckRun = byCheckRun
}

// Answers returns the current forest, most recent first.
func (t *Tree) Answers() []*Answer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Answer(nil), t.answers...)
}

// Lookup finds an answer or commit by identity.
func (t *Tree) Lookup(id string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// LookupCheckRun finds the commit carrying the given check-run id.
func (t *Tree) LookupCheckRun(checkRunID string) (*Commit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byCheckRun[checkRunID]
	return c, ok
}

// Parent returns the answer owning a commit.
func (t *Tree) Parent(id string) (*Answer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.parents[id]
	return a, ok
}

// Roots returns the top-level nodes.
func (t *Tree) Roots() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roots := make([]Node, 0, len(t.answers))
	for _, a := range t.answers {
		roots = append(roots, a)
	}
	return roots
}

// Children returns the commits of an answer. Commits are leaves.
func (t *Tree) Children(id string) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, ErrUnknownNode
	}
	a, ok := n.(*Answer)
	if !ok {
		return nil, nil
	}
	children := make([]Node, 0, len(a.Commits))
	for _, c := range a.Commits {
		children = append(children, c)
	}
	return children, nil
}

// LatestOpen returns the first answer whose pull request is still open.
func (t *Tree) LatestOpen() (*Answer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.answers {
		if a.Open {
			return a, true
		}
	}
	return nil, false
}
