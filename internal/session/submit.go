package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rybkr/legendlog/internal/answer"
	"github.com/rybkr/legendlog/internal/api"
)

// SubmitOutcome says how far a submission got.
type SubmitOutcome int

const (
	// SubmitAccomplished means the challenge is already done; nothing was sent.
	SubmitAccomplished SubmitOutcome = iota + 1
	// SubmitNothing means there were no local changes; nothing was sent.
	SubmitNothing
	// SubmitNotAllowed means some changed files are outside the whitelist.
	SubmitNotAllowed
	// SubmitFailed means the request failed or was rejected.
	SubmitFailed
	SubmitAccepted
)

func (o SubmitOutcome) String() string {
	switch o {
	case SubmitAccomplished:
		return "accomplished"
	case SubmitNothing:
		return "nothing"
	case SubmitNotAllowed:
		return "not-allowed"
	case SubmitFailed:
		return "failed"
	case SubmitAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Submit sends the local changes as a new commit of the open answer, or as a
// new answer based on the main branch.
func (s *Session) Submit(ctx context.Context) (SubmitOutcome, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	open, hasOpen := s.tree.LatestOpen()
	if !hasOpen && !onMainBranch(s.Location(), s.challenge.RepoFullName) {
		s.ui.Info(s.text("YouHaveAccomplishedThisChallenge"))
		s.resetButton()
		return SubmitAccomplished, nil
	}

	changes, err := s.workspace.Changes()
	if err != nil {
		s.ui.Error(err.Error())
		s.resetButton()
		return SubmitFailed, fmt.Errorf("collecting changes: %w", err)
	}
	if len(changes) == 0 {
		s.ui.Info(s.text("NothingToSubmit"))
		s.resetButton()
		return SubmitNothing, nil
	}

	paths := make([]string, 0, len(changes))
	var denied []string
	for path := range changes {
		paths = append(paths, path)
		if !s.inWhitelist(path) {
			denied = append(denied, path)
		}
	}
	sort.Strings(paths)
	if len(denied) > 0 {
		sort.Strings(denied)
		s.ui.Error(s.text("ChangesAreNotAllowed", strings.Join(denied, "\n")))
		s.resetButton()
		return SubmitNotAllowed, nil
	}

	req := api.SubmitRequest{Changes: changes}
	if hasOpen {
		req.PullRequestHTMLURL = open.HTMLURL()
	} else {
		req.BaseRef = s.workspace.MainBranchSHA()
	}

	pending := s.logs.ShowPendingStatus(s.text("SubmittingAnswer"))

	resp, err := s.submitter.SubmitAnswer(ctx, s.challenge.MissionID, s.challenge.ChallengeID, req)
	if err != nil {
		pending.StopPendingStatus()
		s.ui.Error(err.Error())
		s.resetButton()
		return SubmitFailed, err
	}
	if resp.StatusCode > 299 {
		pending.StopPendingStatus()
		s.ui.Error(s.text("HttpResponseError", strconv.Itoa(resp.StatusCode), resp.Body))
		s.resetButton()
		return SubmitFailed, fmt.Errorf("submit rejected with status %d", resp.StatusCode)
	}

	raw, err := answer.DecodeAnswer([]byte(resp.Body))
	if err != nil {
		pending.StopPendingStatus()
		s.ui.Error(err.Error())
		s.resetButton()
		return SubmitFailed, fmt.Errorf("decoding submitted answer: %w", err)
	}

	if err := s.workspace.Save(paths...); err != nil {
		s.logger.Warn("Failed to save workspace", zap.Error(err))
	}

	submitted := s.builder.BuildAnswer(raw)
	if s.tree.FastPathAppend(submitted) {
		location := s.Location()
		if url, ok := RewriteBranchURL(location, s.challenge.RepoFullName, submitted.Branch); ok {
			s.SetLocation(url)
			s.ui.Navigate(url)
		} else {
			s.logger.Warn("Can't switch branch", zap.String("branch", submitted.Branch), zap.String("url", location))
		}
		s.SetActivePullRequest(submitted.HTMLURL())
	}
	if active := s.ActivePullRequest(); active != "" {
		s.ui.RefreshPullRequest(active)
	}
	s.ui.FocusAnswers()
	s.ui.SubmitButton(true, "CheckingAnswer")

	s.logger.Info("Answer submitted",
		zap.String("answer", submitted.HTMLURL()),
		zap.Int("files", len(paths)),
	)
	return SubmitAccepted, nil
}

func (s *Session) resetButton() {
	s.ui.SubmitButton(false, "SubmitAnswer")
}

func (s *Session) inWhitelist(path string) bool {
	for _, item := range s.challenge.Whitelist {
		if strings.HasSuffix(item, "/") && strings.HasPrefix(path, item) {
			return true
		}
		if item == path {
			return true
		}
	}
	return false
}
