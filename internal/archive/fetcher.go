package archive

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rybkr/legendlog/internal/api"
	"github.com/rybkr/legendlog/internal/logmux"
)

// LogSource downloads check run logs.
type LogSource interface {
	FetchLog(ctx context.Context, repo, checkRunID string) (*api.Response, error)
}

// Fetcher serves check run logs for one repository. Successful responses for
// final logs are archived and served from the archive afterwards. A nil
// archive disables caching.
type Fetcher struct {
	source  LogSource
	repo    string
	archive Archive
	logger  *zap.Logger
}

func NewFetcher(source LogSource, repo string, archive Archive, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, repo: repo, archive: archive, logger: logger}
}

func (f *Fetcher) FetchLog(ctx context.Context, checkRunID string, final bool) (*logmux.FetchResult, error) {
	if final && f.archive != nil {
		body, err := f.archive.Get(ctx, f.repo, checkRunID)
		switch {
		case err == nil:
			f.logger.Debug("Serving archived log", zap.String("checkRunId", checkRunID))
			return &logmux.FetchResult{StatusCode: http.StatusOK, Body: body}, nil
		case !errors.Is(err, ErrNotFound):
			f.logger.Warn("Archive lookup failed", zap.String("checkRunId", checkRunID), zap.Error(err))
		}
	}

	resp, err := f.source.FetchLog(ctx, f.repo, checkRunID)
	if err != nil {
		return nil, err
	}

	if final && f.archive != nil && resp.StatusCode == http.StatusOK {
		if err := f.archive.Put(ctx, f.repo, checkRunID, resp.Body); err != nil {
			f.logger.Warn("Failed to archive log", zap.String("checkRunId", checkRunID), zap.Error(err))
		}
	}
	return &logmux.FetchResult{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
