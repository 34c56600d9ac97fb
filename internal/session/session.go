// Package session is the application context of one challenge: it owns the
// answer tree and the log multiplexer and drives them from server events and
// user actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rybkr/legendlog/internal/answer"
	"github.com/rybkr/legendlog/internal/api"
	"github.com/rybkr/legendlog/internal/logmux"
)

// UI receives everything the session wants the user to see.
type UI interface {
	RefreshPullRequest(htmlURL string)
	Navigate(url string)
	FocusAnswers()
	SubmitButton(spinning bool, textID string)
	Info(message string)
	Error(message string)
}

// Submitter posts answers to the game server.
type Submitter interface {
	SubmitAnswer(ctx context.Context, missionID, challengeID string, req api.SubmitRequest) (*api.Response, error)
}

// Workspace exposes the locally edited files.
type Workspace interface {
	Changes() (map[string]string, error)
	Save(paths ...string) error
	MainBranchSHA() string
}

// Texts renders localized texts and timestamps.
type Texts interface {
	Text(key string, args ...string) string
	FormatTime(t time.Time) string
}

type Challenge struct {
	MissionID    string
	ChallengeID  string
	RepoFullName string
	// Entries ending in "/" allow every path below them; others match exactly.
	Whitelist  []string
	InitialURL string
}

// Deps are the collaborators of a Session. Tree and Logs are created when nil.
type Deps struct {
	Challenge Challenge
	Tree      *answer.Tree
	Logs      *logmux.Multiplexer
	Texts     Texts
	UI        UI
	Submitter Submitter
	Workspace Workspace
	Logger    *zap.Logger
}

type Session struct {
	challenge Challenge
	tree      *answer.Tree
	builder   *answer.Builder
	logs      *logmux.Multiplexer
	texts     Texts
	ui        UI
	submitter Submitter
	workspace Workspace
	logger    *zap.Logger

	mu       sync.Mutex
	activePR string
	location string

	submitMu sync.Mutex
}

func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		challenge: deps.Challenge,
		tree:      deps.Tree,
		logs:      deps.Logs,
		texts:     deps.Texts,
		ui:        deps.UI,
		submitter: deps.Submitter,
		workspace: deps.Workspace,
		logger:    logger,
		location:  deps.Challenge.InitialURL,
	}
	if s.tree == nil {
		s.tree = answer.NewTree(logger.Named("answers"))
	}
	if s.logs == nil {
		s.logs = logmux.New(logmux.WithLogger(logger.Named("logmux")), logmux.WithTranslator(s.texts))
	}
	if s.ui == nil {
		s.ui = nopUI{}
	}
	s.builder = answer.NewBuilder(s.texts)
	return s
}

func (s *Session) Tree() *answer.Tree        { return s.tree }
func (s *Session) Logs() *logmux.Multiplexer { return s.logs }
func (s *Session) Challenge() Challenge      { return s.challenge }

func (s *Session) text(key string, args ...string) string {
	if s.texts == nil {
		return key
	}
	return s.texts.Text(key, args...)
}

// Location is the page the user is currently looking at.
func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Session) SetLocation(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = url
}

// ActivePullRequest is the answer whose description is open, if any.
func (s *Session) ActivePullRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePR
}

func (s *Session) SetActivePullRequest(htmlURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePR = htmlURL
}

// LiveLog is the content of a check run log that was still running when the
// page was loaded.
type LiveLog struct {
	ID   string   `json:"id"`
	Logs []string `json:"logs"`
}

type InitData struct {
	Answers  []answer.RawAnswer `json:"answers"`
	LiveLogs []LiveLog          `json:"liveLogs"`
}

// Init applies the initial state and replays running logs.
func (s *Session) Init(ctx context.Context, data InitData) error {
	s.UpdateAnswers(data.Answers)

	unfinished := false
	for _, a := range s.tree.Answers() {
		if !a.Accomplished {
			unfinished = true
			break
		}
	}
	if len(data.LiveLogs) > 0 || unfinished {
		s.ui.FocusAnswers()
	}
	if len(data.LiveLogs) == 0 {
		return nil
	}

	for _, live := range data.LiveLogs {
		stream := s.logs.GetOrCreate(live.ID, s.LogName(live.ID), true)
		if err := stream.Append(live.Logs...); err != nil {
			return fmt.Errorf("replaying log %s: %w", live.ID, err)
		}
	}
	return s.ShowAnswerLog(ctx, data.LiveLogs[0].ID)
}

// UpdateAnswers reconciles the tree with a server snapshot. It reports
// whether the snapshot was applied.
func (s *Session) UpdateAnswers(raw []answer.RawAnswer) bool {
	old := s.tree.Answers()
	next := s.builder.Build(raw)
	if !s.tree.Reconcile(next) {
		return false
	}

	if active := s.ActivePullRequest(); active != "" {
		if commitsChanged(find(old, active), find(next, active)) {
			s.logger.Debug("Active pull request changed", zap.String("url", active))
			s.ui.RefreshPullRequest(active)
		}
	}
	return true
}

func find(answers []*answer.Answer, id string) *answer.Answer {
	for _, a := range answers {
		if a.NodeID() == id {
			return a
		}
	}
	return nil
}

func commitsChanged(old, next *answer.Answer) bool {
	var before, after []*answer.Commit
	if old != nil {
		before = old.Commits
	}
	if next != nil {
		after = next.Commits
	}
	if len(before) != len(after) {
		return true
	}
	return len(before) > 0 && before[0].Conclusion != after[0].Conclusion
}

// LogName is the display name of a check run log: the title of its commit,
// or the id itself.
func (s *Session) LogName(checkRunID string) string {
	if c, ok := s.tree.LookupCheckRun(checkRunID); ok {
		return c.Title
	}
	return checkRunID
}

// AppendLog appends lines of a running check run. Pending statuses are
// cleared first, a real log is about to take their place.
func (s *Session) AppendLog(checkRunID string, lines []string) error {
	s.logs.ClearAllPendingStatuses()
	stream := s.logs.GetOrCreate(checkRunID, s.LogName(checkRunID), true)
	stream.Activate()
	if err := stream.Append(lines...); err != nil {
		if errors.Is(err, logmux.ErrNotLive) {
			s.logger.Error("Log event for a finalized check run", zap.String("checkRunId", checkRunID))
		}
		return err
	}
	return nil
}

// ShowAnswerLog shows the log of a commit, or of the newest commit of an
// answer. id may also be a check run id. Unknown ids are ignored.
func (s *Session) ShowAnswerLog(ctx context.Context, id string) error {
	var commit *answer.Commit
	if node, ok := s.tree.Lookup(id); ok {
		switch n := node.(type) {
		case *answer.Commit:
			commit = n
		case *answer.Answer:
			commit = n.Latest()
		}
	} else if c, ok := s.tree.LookupCheckRun(id); ok {
		commit = c
	}

	if commit == nil {
		if stream, ok := s.logs.Lookup(id); ok {
			stream.Activate()
			return nil
		}
		s.logger.Info("Skip unrecognized answer", zap.String("id", id))
		return nil
	}
	return s.logs.ShowCheckRunLog(ctx, commit.CheckRunID, s.LogName(commit.CheckRunID), commit.Running())
}

type nopUI struct{}

func (nopUI) RefreshPullRequest(string) {}
func (nopUI) Navigate(string)           {}
func (nopUI) FocusAnswers()             {}
func (nopUI) SubmitButton(bool, string) {}
func (nopUI) Info(string)               {}
func (nopUI) Error(string)              {}
