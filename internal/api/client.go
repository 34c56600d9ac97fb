// Package api talks to the game server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultServer  = "https://bytelegend.com"
	DefaultFrom    = "github1s"
	DefaultTimeout = 30 * time.Second

	// maxBodySize caps how much of a response body is read into memory.
	maxBodySize = 16 << 20
)

// Response is a completed HTTP exchange. Non-2xx statuses are not errors.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// SubmitRequest is the payload of an answer submission. Exactly one of
// PullRequestHTMLURL and BaseRef is set.
type SubmitRequest struct {
	Changes            map[string]string `json:"changes"`
	PullRequestHTMLURL string            `json:"pullRequestHtmlUrl,omitempty"`
	BaseRef            string            `json:"baseRef,omitempty"`
}

type Client struct {
	server string
	from   string
	http   *http.Client
	logger *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithFrom(from string) Option {
	return func(cl *Client) { cl.from = from }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates a client for the game server at server.
func NewClient(server string, opts ...Option) *Client {
	if server == "" {
		server = DefaultServer
	}
	c := &Client{
		server: strings.TrimRight(server, "/"),
		from:   DefaultFrom,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Server returns the base URL requests are sent to.
func (c *Client) Server() string {
	return c.server
}

// FetchLog downloads the log of a check run of repo.
func (c *Client) FetchLog(ctx context.Context, repo, checkRunID string) (*Response, error) {
	q := url.Values{}
	q.Set("repo", repo)
	q.Set("checkRunId", checkRunID)
	return c.do(ctx, http.MethodGet, "/game/api/log?"+q.Encode(), nil)
}

// SubmitAnswer posts changed files for a challenge of a mission.
func (c *Client) SubmitAnswer(ctx context.Context, missionID, challengeID string, req SubmitRequest) (*Response, error) {
	path := fmt.Sprintf("/game/api/mission/%s/%s/code", url.PathEscape(missionID), url.PathEscape(challengeID))
	return c.do(ctx, http.MethodPost, path, req)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Forces a CORS preflight when the same request comes from a browser.
	req.Header.Set("X-ByteLegend-From", c.from)
	req.Header.Set("X-Request-Id", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", method, path, err)
	}

	c.logger.Debug("API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("requestId", req.Header.Get("X-Request-Id")),
	)
	return &Response{StatusCode: resp.StatusCode, Body: string(data)}, nil
}
