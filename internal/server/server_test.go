package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rybkr/legendlog/internal/logmux"
	"github.com/rybkr/legendlog/internal/session"
)

const snapshot = `[
  {"baseRepoFullName":"o/r","headRepoFullName":"p/r","number":2,"branch":"b2",
   "lastUpdatedTime":"2024-05-01T12:00:00Z","open":true,"accomplished":false,
   "checkRuns":[
     {"id":11,"sha":"s2","time":"2024-05-01T12:00:00Z"},
     {"id":10,"sha":"s1","time":"2024-05-01T11:00:00Z","conclusion":"FAILURE"}
   ]},
  {"baseRepoFullName":"o/r","headRepoFullName":"p/r","number":1,"branch":"b1",
   "lastUpdatedTime":"2024-04-01T12:00:00Z","open":false,"accomplished":true,
   "checkRuns":[]}
]`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testServer struct {
	server *Server
	http   *httptest.Server
	clock  *clock
	sess   *session.Session
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := &clock{now: time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)}
	hub := NewHub(nil)
	logs := logmux.New(logmux.WithTickInterval(time.Hour))
	sess := session.New(session.Deps{
		Challenge: session.Challenge{RepoFullName: "o/r"},
		Logs:      logs,
		UI:        hub,
	})
	srv := New(sess, hub, "", WithClock(clk.Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		<-done
		logs.Close()
		ts.Close()
	})
	return &testServer{server: srv, http: ts, clock: clk, sess: sess}
}

func (ts *testServer) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) getItems(t *testing.T, path string) (int, []TreeItem) {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var items []TreeItem
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	}
	return resp.StatusCode, items
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (MessageType, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type MessageType     `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Data
}

func TestAnswersRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/answers", snapshot)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, roots := ts.getItems(t, "/api/answers")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, roots, 2)
	assert.Equal(t, "https://github.com/o/r/pull/2", roots[0].ID)
	assert.Equal(t, "answer", roots[0].Kind)
	assert.Equal(t, "running", roots[0].State)
	assert.True(t, roots[0].Open)
	assert.Empty(t, roots[0].Children)

	status, children := ts.getItems(t, "/api/answers/children?id="+roots[0].ID)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, children, 2)
	assert.Equal(t, TreeItem{ID: "s2", Kind: "commit", Label: children[0].Label, State: "running", CheckRunID: "11", ParentSHA: "s1"}, children[0])
	assert.Equal(t, "failed", children[1].State)

	status, _ = ts.getItems(t, "/api/answers/children?id=missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBadSnapshotIsRejected(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/answers", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventSocketGetsInitialStateAndUpdates(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/api/ws")

	msgType, data := readMessage(t, conn)
	assert.Equal(t, MessageTypeAnswers, msgType)
	assert.JSONEq(t, `[]`, string(data))

	// No open answer and not on the main branch.
	resp := ts.post(t, "/api/submit", "")
	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, map[string]string{"outcome": "accomplished"}, result)

	msgType, data = readMessage(t, conn)
	assert.Equal(t, MessageTypeMessage, msgType)
	assert.JSONEq(t, `{"level":"info","text":"YouHaveAccomplishedThisChallenge"}`, string(data))
	msgType, data = readMessage(t, conn)
	assert.Equal(t, MessageTypeButton, msgType)
	assert.JSONEq(t, `{"spinning":false,"textId":"SubmitAnswer"}`, string(data))

	ts.post(t, "/api/answers", snapshot)

	msgType, data = readMessage(t, conn)
	require.Equal(t, MessageTypeAnswers, msgType)
	var items []TreeItem
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 2)
	assert.Len(t, items[0].Children, 2)
}

func TestAppendLogContract(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/logs/append", `{"checkRunId":"7","lines":["a","b"]}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stream, ok := ts.sess.Logs().Lookup("7")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, stream.Lines())

	ts.sess.Logs().GetOrCreate("8", "final", false)
	resp = ts.post(t, "/api/logs/append", `{"checkRunId":"8","lines":["x"]}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.post(t, "/api/logs/append", `{"lines":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogSocketReplaysAndFollows(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.sess.AppendLog("7", []string{"one", "two"}))

	conn := ts.dial(t, "/api/logs/ws?id=7")
	var got []string
	for range 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, line, err := conn.ReadMessage()
		require.NoError(t, err)
		got = append(got, string(line))
	}
	assert.Equal(t, []string{"one", "two"}, got)

	require.NoError(t, ts.sess.AppendLog("7", []string{"three"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, line, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "three", string(line))
}

func TestLogSocketUnknownStream(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.http.URL + "/api/logs/ws?id=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPollOnceDetectsStaleCommits(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/answers", snapshot)

	assert.False(t, ts.server.pollOnce())

	ts.clock.Set(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC))
	assert.True(t, ts.server.pollOnce())
	assert.False(t, ts.server.pollOnce())

	_, roots := ts.getItems(t, "/api/answers")
	require.NotEmpty(t, roots)
	assert.Equal(t, "stale", roots[0].State)
}

func TestHubDropsWhenQueueIsFull(t *testing.T) {
	hub := NewHub(nil)
	for range cap(hub.broadcast) + 10 {
		hub.Info("x")
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestLocationUpdatesSession(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"url": "/o/r/tree/main"})
	resp, err := http.Post(ts.http.URL+"/api/location", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "/o/r/tree/main", ts.sess.Location())
}
