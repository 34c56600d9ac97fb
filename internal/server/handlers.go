package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rybkr/legendlog/internal/answer"
	"github.com/rybkr/legendlog/internal/logmux"
	"github.com/rybkr/legendlog/internal/session"
)

const maxRequestBody = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// handleAnswers serves the root nodes of the answer tree.
func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toItems(s.session.Tree().Roots(), s.now(), false))
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.session.Tree().Children(r.URL.Query().Get("id"))
	if errors.Is(err, answer.ErrUnknownNode) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(children, s.now(), false))
}

// handleUpdateAnswers takes a full snapshot from the game server.
func (s *Server) handleUpdateAnswers(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := answer.DecodeSnapshot(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	applied := s.session.UpdateAnswers(raw)
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var data session.InitData
	if !decodeBody(w, r, &data) {
		return
	}
	if err := s.session.Init(r.Context(), data); err != nil {
		s.logger.Warn("Init failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.session.SetLocation(req.URL)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckRunID string   `json:"checkRunId"`
		Lines      []string `json:"lines"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CheckRunID == "" {
		writeError(w, http.StatusBadRequest, errors.New("checkRunId is required"))
		return
	}
	if err := s.session.AppendLog(req.CheckRunID, req.Lines); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, logmux.ErrNotLive) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShowLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.session.ShowAnswerLog(r.Context(), req.ID); err != nil {
		// The failure is already visible in the log itself.
		s.logger.Info("Showing log failed", zap.String("id", req.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.session.Submit(r.Context())
	resp := map[string]string{"outcome": outcome.String()}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogSocket attaches the connection as the terminal of one log. The
// buffered lines are replayed first.
func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	logs := s.session.Logs()
	if _, ok := logs.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, logmux.ErrUnknownStream)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	sink := newTerminalSink(conn)
	if err := logs.Attach(id, sink); err != nil {
		sink.Dispose()
		return
	}
	s.logger.Debug("Terminal attached", zap.String("log", id))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logs.Detach(id, sink)
			sink.Dispose()
			s.logger.Debug("Terminal detached", zap.String("log", id))
			return
		}
	}
}
