package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/analytics-mcp/bridge/session"
)

const maxBodySize = 4 * 1024 * 1024

// handleMessage serves POST on the message endpoint. The endpoint is
// deliberately asynchronous: requests are acknowledged with 202 and the
// correlated result arrives on the session's open stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get(sessionIdQuery)
	if id == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	sess, ok := s.registry.Get(id)
	if !ok {
		// Unknown id mutates nothing.
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	sess.Touch()
	if err := sess.Post(body); err != nil {
		s.logger.Warn().Err(err).Str("session", id).Msg("message rejected")
		switch {
		case errors.Is(err, session.ErrInvalidPayload),
			errors.Is(err, session.ErrDuplicateRequestId):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, session.ErrNoSink):
			http.Error(w, "no open stream for this session", http.StatusConflict)
		case errors.Is(err, session.ErrClosed):
			http.Error(w, "session closed", http.StatusGone)
		default:
			http.Error(w, "failed to forward message", http.StatusBadGateway)
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}
