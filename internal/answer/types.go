package answer

import (
	"fmt"
	"time"
)

// staleAfter is how long a commit may wait for a conclusion before it is
// considered abandoned.
const staleAfter = 10 * time.Minute

// DummyCheckRunPrefix marks check-run ids the server has not assigned yet.
const DummyCheckRunPrefix = "DUMMY-CHECK-RUN"

// Conclusion is the final outcome of a check run.
type Conclusion string

const (
	ConclusionActionRequired Conclusion = "ACTION_REQUIRED"
	ConclusionCancelled      Conclusion = "CANCELLED"
	ConclusionFailure        Conclusion = "FAILURE"
	ConclusionNeutral        Conclusion = "NEUTRAL"
	ConclusionSuccess        Conclusion = "SUCCESS"
	ConclusionSkipped        Conclusion = "SKIPPED"
	ConclusionStale          Conclusion = "STALE"
	ConclusionTimedOut       Conclusion = "TIMED_OUT"
)

// State is the display state of a node.
type State string

const (
	StateNone      State = ""
	StateRunning   State = "running"
	StateStale     State = "stale"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Kind discriminates the two node variants of the tree.
type Kind int

const (
	KindAnswer Kind = iota + 1
	KindCommit
)

func (k Kind) String() string {
	switch k {
	case KindAnswer:
		return "answer"
	case KindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Node is either an *Answer or a *Commit.
type Node interface {
	NodeID() string
	Kind() Kind
	Label() string
}

// Commit is one check-run result for a source commit.
type Commit struct {
	Title      string
	SHA        string
	CheckRunID string
	Time       time.Time
	Conclusion Conclusion // empty while the check run is in progress
	ParentSHA  string     // empty for the oldest commit
}

func (c *Commit) NodeID() string { return c.SHA }
func (c *Commit) Kind() Kind     { return KindCommit }
func (c *Commit) Label() string  { return c.Title }

// ShortSHA returns the 7-character display form of the commit hash.
func (c *Commit) ShortSHA() string {
	if len(c.SHA) <= 7 {
		return c.SHA
	}
	return c.SHA[:7]
}

// Running reports whether the check run has not concluded yet.
func (c *Commit) Running() bool {
	return c.Conclusion == ""
}

// Stale reports whether the commit is still running but older than the
// abandonment threshold at now.
func (c *Commit) Stale(now time.Time) bool {
	return c.Running() && c.Time.Before(now.Add(-staleAfter))
}

// State returns the display state at now.
func (c *Commit) State(now time.Time) State {
	switch {
	case c.Running() && c.Stale(now):
		return StateStale
	case c.Running():
		return StateRunning
	case c.Conclusion == ConclusionSuccess:
		return StateSucceeded
	default:
		return StateFailed
	}
}

// Answer is a submitted solution, backed by a pull request.
type Answer struct {
	Title            string
	BaseRepoFullName string
	HeadRepoFullName string
	Number           string
	Branch           string
	Time             time.Time
	Open             bool
	Accomplished     bool
	Commits          []*Commit // most recent first
}

func (a *Answer) NodeID() string { return a.HTMLURL() }
func (a *Answer) Kind() Kind     { return KindAnswer }
func (a *Answer) Label() string  { return a.Title }

// HTMLURL is the pull request page, which doubles as the answer identity.
func (a *Answer) HTMLURL() string {
	return fmt.Sprintf("https://github.com/%s/pull/%s", a.BaseRepoFullName, a.Number)
}

// Latest returns the most recent commit, or nil.
func (a *Answer) Latest() *Commit {
	if len(a.Commits) == 0 {
		return nil
	}
	return a.Commits[0]
}

// State mirrors the state of the latest commit.
func (a *Answer) State(now time.Time) State {
	if c := a.Latest(); c != nil {
		return c.State(now)
	}
	return StateNone
}

func (a *Answer) clone() *Answer {
	cp := *a
	cp.Commits = append([]*Commit(nil), a.Commits...)
	return &cp
}
