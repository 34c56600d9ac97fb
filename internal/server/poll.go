package server

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"
)

// pollStale re-broadcasts the answers whenever a running commit turns stale.
// Staleness depends on the clock only, so no event announces it.
func (s *Server) pollStale(ctx context.Context) {
	ticker := time.NewTicker(s.pollPeriod)
	defer ticker.Stop()

	s.logger.Debug("Stale polling started", zap.Duration("period", s.pollPeriod))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Stale polling stopped")
			return

		case <-ticker.C:
			func() {
				// One bad poll must not kill the server.
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("Panic in poll loop", zap.Any("panic", r))
					}
				}()
				s.pollOnce()
			}()
		}
	}
}

// pollOnce reports whether the set of stale commits changed since the last
// poll, broadcasting the answers if so.
func (s *Server) pollOnce() bool {
	stale := s.staleCommits()

	s.mu.RLock()
	changed := !maps.Equal(s.cached.stale, stale)
	s.mu.RUnlock()

	if !changed {
		return false
	}
	s.mu.Lock()
	s.cached.stale = stale
	s.mu.Unlock()

	s.logger.Debug("Stale commits changed, broadcasting update", zap.Int("stale", len(stale)))
	s.broadcastAnswers()
	return true
}

func (s *Server) staleCommits() map[string]bool {
	now := s.now()
	stale := make(map[string]bool)
	for _, a := range s.session.Tree().Answers() {
		for _, c := range a.Commits {
			if c.Stale(now) {
				stale[c.SHA] = true
			}
		}
	}
	return stale
}
