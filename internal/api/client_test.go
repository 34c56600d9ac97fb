package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLogSendsQueryAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/game/api/log", r.URL.Path)
		assert.Equal(t, "owner/repo", r.URL.Query().Get("repo"))
		assert.Equal(t, "123", r.URL.Query().Get("checkRunId"))
		assert.Equal(t, "github1s", r.Header.Get("X-ByteLegend-From"))
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)
		w.Write([]byte("line 1\nline 2"))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL + "/").FetchLog(context.Background(), "owner/repo", "123")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "line 1\nline 2", resp.Body)
}

func TestNonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).FetchLog(context.Background(), "o/r", "1")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "gone\n", resp.Body)
}

func TestSubmitAnswerPostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/game/api/mission/m1/c1/code", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "cli", r.Header.Get("X-ByteLegend-From"))

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, map[string]any{
			"changes": map[string]any{"a.txt": "hello"},
			"baseRef": "abc",
		}, got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":7}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithFrom("cli"))
	resp, err := c.SubmitAnswer(context.Background(), "m1", "c1", SubmitRequest{
		Changes: map[string]string{"a.txt": "hello"},
		BaseRef: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"number":7}`, resp.Body)
}

func TestTransportFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.FetchLog(context.Background(), "o/r", "1")
	assert.Error(t, err)
}
