// Package server exposes a session over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rybkr/legendlog/internal/session"
	"github.com/rybkr/legendlog/internal/workspace"
)

const (
	defaultPollPeriod = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithPollPeriod(d time.Duration) Option {
	return func(s *Server) { s.pollPeriod = d }
}

// WithWorkspace makes the server watch ws and report dirty files.
func WithWorkspace(ws *workspace.Workspace) Option {
	return func(s *Server) { s.workspace = ws }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

type Server struct {
	session    *session.Session
	hub        *Hub
	addr       string
	workspace  *workspace.Workspace
	pollPeriod time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	cached struct {
		stale map[string]bool
	}
}

func New(sess *session.Session, hub *Hub, addr string, opts ...Option) *Server {
	s := &Server{
		session:    sess,
		hub:        hub,
		addr:       addr,
		pollPeriod: defaultPollPeriod,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cached.stale = s.staleCommits()

	sess.Tree().OnChange(s.broadcastAnswers)
	hub.OnConnect(s.initialState)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/answers", s.handleAnswers)
	mux.HandleFunc("GET /api/answers/children", s.handleChildren)
	mux.HandleFunc("POST /api/answers", s.handleUpdateAnswers)
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/location", s.handleLocation)
	mux.HandleFunc("POST /api/logs/append", s.handleAppendLog)
	mux.HandleFunc("POST /api/logs/show", s.handleShowLog)
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/ws", s.hub.ServeWS)
	mux.HandleFunc("GET /api/logs/ws", s.handleLogSocket)
	return mux
}

// Start serves until ctx is done or a component fails.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.pollStale(ctx)
		return nil
	})
	if s.workspace != nil {
		g.Go(func() error {
			return s.workspace.Watch(ctx, s.onWorkspaceChange)
		})
	}
	g.Go(func() error {
		s.logger.Info("Listening", zap.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		// Terminal sockets are hijacked connections; Shutdown does not close them.
		s.session.Logs().Close()
		return err
	})
	return g.Wait()
}

func (s *Server) snapshot() []TreeItem {
	return toItems(s.session.Tree().Roots(), s.now(), true)
}

func (s *Server) broadcastAnswers() {
	s.hub.Broadcast(MessageTypeAnswers, s.snapshot())
}

func (s *Server) initialState() []UpdateMessage {
	msgs := []UpdateMessage{{Type: MessageTypeAnswers, Data: s.snapshot()}}
	if s.workspace != nil {
		msgs = append(msgs, UpdateMessage{Type: MessageTypeWorkspace, Data: s.workspaceState()})
	}
	return msgs
}

func (s *Server) workspaceState() map[string]any {
	return map[string]any{"dirty": s.workspace.Dirty()}
}

func (s *Server) onWorkspaceChange(path string, dirty bool) {
	s.hub.Broadcast(MessageTypeWorkspace, s.workspaceState())
}
