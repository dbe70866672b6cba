package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"
)

// streamSink buffers backend-originated payloads for the stream pump. Send
// never blocks the session read loop; a client too slow to drain its buffer
// loses messages rather than stalling the backend.
type streamSink struct {
	ch chan []byte
}

func newStreamSink(size int) *streamSink {
	return &streamSink{ch: make(chan []byte, size)}
}

func (s *streamSink) Send(payload []byte) error {
	select {
	case s.ch <- payload:
		return nil
	default:
		return errors.New("stream subscriber is backpressured")
	}
}

// handleStream serves GET on the stream endpoint: mint a session, announce
// the message endpoint, then pump backend traffic and keepalives until the
// client disconnects or the session dies.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get(sessionIdQuery) != "" {
		// Session ids are minted by the server, never accepted from the
		// client.
		http.Error(w, "sessionId must not be supplied on stream setup", http.StatusBadRequest)
		return
	}
	sess, err := s.registry.Create(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create session")
		http.Error(w, "failed to start backend", http.StatusInternalServerError)
		return
	}
	defer s.registry.Destroy(sess.ID)

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stream upgrade failed")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sink := newStreamSink(128)
	sess.AttachSink(sink)
	defer sess.DetachSink()

	// The first event tells the client where to POST, carrying the minted
	// session id.
	endpoint := &sse.Message{Type: sse.Type("endpoint")}
	endpoint.AppendData(fmt.Sprintf("%s?%s=%s", s.messageURI, sessionIdQuery, sess.ID))
	if err := stream.Send(endpoint); err != nil {
		return
	}
	_ = stream.Flush()

	s.logger.Debug().Str("session", sess.ID).Msg("stream established")
	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug().Str("session", sess.ID).Msg("client disconnected")
			return
		case <-sess.Done():
			return
		case payload := <-sink.ch:
			message := &sse.Message{Type: sse.Type("message")}
			message.AppendData(string(payload))
			if err := stream.Send(message); err != nil {
				return
			}
			_ = stream.Flush()
		case <-keepalive.C:
			ping := &sse.Message{}
			ping.AppendComment("keepalive")
			if err := stream.Send(ping); err != nil {
				return
			}
			_ = stream.Flush()
		}
	}
}
