package server

import (
	"time"

	"github.com/rs/zerolog"
)

// Option customizes a server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCORS replaces the default permissive CORS policy.
func WithCORS(cors *Cors) Option {
	return func(s *Server) {
		if cors != nil {
			s.cors = cors
		}
	}
}

// WithKeepaliveInterval sets the period of SSE keepalive comments.
func WithKeepaliveInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.keepalive = interval
		}
	}
}

// WithSSEURI overrides the stream endpoint location.
func WithSSEURI(uri string) Option {
	return func(s *Server) {
		s.sseURI = uri
	}
}

// WithMessageURI overrides the message submission endpoint location.
func WithMessageURI(uri string) Option {
	return func(s *Server) {
		s.messageURI = uri
	}
}

// WithStreamableURI overrides the single-shot endpoint location.
func WithStreamableURI(uri string) Option {
	return func(s *Server) {
		s.streamableURI = uri
	}
}
