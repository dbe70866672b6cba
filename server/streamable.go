package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/analytics-mcp/bridge/session"
)

// handleStreamable serves POST on the single-shot endpoint: one JSON-RPC
// message in, its correlated reply out on the same exchange. Session
// continuity across exchanges rides on the Mcp-Session-Id header; a request
// without one gets a fresh session whose id is echoed back.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var sess *session.Session
	if id := r.Header.Get(sessionIdHeader); id != "" {
		var ok bool
		if sess, ok = s.registry.Get(id); !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sess.Touch()
	} else {
		if sess, err = s.registry.Create(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("failed to create session")
			http.Error(w, "failed to start backend", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set(sessionIdHeader, sess.ID)

	response, err := sess.Call(r.Context(), body)
	if err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID).Msg("exchange failed")
		switch {
		case errors.Is(err, session.ErrInvalidPayload),
			errors.Is(err, session.ErrDuplicateRequestId):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, session.ErrClosed):
			http.Error(w, "session closed", http.StatusGone)
		default:
			http.Error(w, "failed to forward message", http.StatusBadGateway)
		}
		return
	}
	if response == nil {
		// Notifications have no reply.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	data, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	if acceptsEventStream(r) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
