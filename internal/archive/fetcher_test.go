package archive

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rybkr/legendlog/internal/api"
)

type countingSource struct {
	calls int
	resp  *api.Response
	err   error
}

func (s *countingSource) FetchLog(_ context.Context, repo, checkRunID string) (*api.Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestFetcherArchivesFinalLogs(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{resp: &api.Response{StatusCode: http.StatusOK, Body: "done"}}
	store := NewMemoryArchive()
	f := NewFetcher(src, "o/r", store, nil)

	for range 3 {
		res, err := f.FetchLog(ctx, "5", true)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "done", res.Body)
	}
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, store.Len())
}

func TestFetcherDoesNotArchiveLiveOrFailedLogs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryArchive()

	live := &countingSource{resp: &api.Response{StatusCode: http.StatusOK, Body: "partial"}}
	f := NewFetcher(live, "o/r", store, nil)
	_, err := f.FetchLog(ctx, "1", false)
	require.NoError(t, err)
	_, err = f.FetchLog(ctx, "1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, live.calls)

	gone := &countingSource{resp: &api.Response{StatusCode: http.StatusGone}}
	f = NewFetcher(gone, "o/r", store, nil)
	res, err := f.FetchLog(ctx, "2", true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, res.StatusCode)

	assert.Zero(t, store.Len())
}

func TestFetcherPropagatesTransportErrors(t *testing.T) {
	src := &countingSource{err: errors.New("dial tcp: refused")}
	f := NewFetcher(src, "o/r", nil, nil)

	_, err := f.FetchLog(context.Background(), "1", true)
	assert.EqualError(t, err, "dial tcp: refused")
}
