// Package server exposes the HTTP surface of the bridge: the legacy SSE
// stream endpoint pair, the single-shot streamable endpoint and the health
// probe, all in front of a shared session registry.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/analytics-mcp/bridge/session"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "0.0.0.0:8000"

	defaultSSEURI        = "/sse"
	defaultMessageURI    = "/sse/message"
	defaultStreamableURI = "/mcp"
	defaultKeepalive     = 15 * time.Second

	// sessionIdHeader carries session continuity on the streamable endpoint.
	sessionIdHeader = "Mcp-Session-Id"
	// sessionIdQuery identifies the session on the message endpoint.
	sessionIdQuery = "sessionId"
)

// Server routes HTTP traffic onto bridge sessions.
type Server struct {
	registry *session.Registry
	logger   zerolog.Logger

	cors      *Cors
	keepalive time.Duration

	sseURI        string
	messageURI    string
	streamableURI string
}

// New creates a server fronting the supplied registry.
func New(registry *session.Registry, options ...Option) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry was nil")
	}
	result := &Server{
		registry:      registry,
		logger:        zerolog.Nop(),
		cors:          defaultCors(),
		keepalive:     defaultKeepalive,
		sseURI:        defaultSSEURI,
		messageURI:    defaultMessageURI,
		streamableURI: defaultStreamableURI,
	}
	for _, option := range options {
		option(result)
	}
	return result, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(s.sseURI, s.handleStream)
	mux.HandleFunc(s.messageURI, s.handleMessage)
	mux.HandleFunc(s.streamableURI, s.handleStreamable)
	cors := &corsHandler{Cors: s.cors}
	return chainMiddlewareHandlers(mux, cors.Middleware)
}

// HTTP builds an http.Server bound to addr, falling back to DefaultAddr.
func (s *Server) HTTP(ctx context.Context, addr string) *http.Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
