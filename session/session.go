// Package session multiplexes independent client sessions, each bound to its
// own backend process. A session owns the backend handle, the framing state
// of its output stream and the table of outstanding requests awaiting
// correlation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/syncmap"

	"github.com/analytics-mcp/bridge/backend"
	"github.com/analytics-mcp/bridge/framer"
	"github.com/analytics-mcp/bridge/schema"
)

var (
	// ErrClosed indicates an operation against a destroyed session.
	ErrClosed = errors.New("session closed")
	// ErrInvalidPayload indicates a body that is not a JSON-RPC envelope.
	ErrInvalidPayload = errors.New("invalid JSON-RPC payload")
	// ErrDuplicateRequestId indicates a caller reused an id while a prior
	// request with that id was still outstanding. Ids only have to be unique
	// among currently outstanding requests; reuse before resolution is a
	// caller error.
	ErrDuplicateRequestId = errors.New("request id already outstanding")
	// ErrTransportWrite indicates the serialized envelope could not be
	// written to the backend standard input.
	ErrTransportWrite = errors.New("failed to write to backend")
	// ErrNoSink indicates an asynchronous post on a session without an open
	// client stream to deliver the eventual result to.
	ErrNoSink = errors.New("session has no open stream")
)

// State describes the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return "closed"
}

// Sink receives backend originated messages and asynchronously resolved
// results, one serialized JSON-RPC envelope per call. It is present only
// while the client stream is connected.
type Sink interface {
	Send(payload []byte) error
}

type outcome struct {
	response *jsonrpc.Response
}

type pending struct {
	id     jsonrpc.RequestId
	method string
	ch     chan outcome
	timer  *time.Timer
}

// Session is one client-visible logical connection with its dedicated
// backend process, framer state and pending-request table.
type Session struct {
	ID string

	logger  zerolog.Logger
	process *backend.Process

	pending   *syncmap.Map[string, *pending]
	pendingMu sync.Mutex

	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
	sink         Sink

	timeout time.Duration
	maxLine int

	done      chan struct{}
	closeOnce sync.Once
}

// envelope is the minimal JSON-RPC shape needed to classify and correlate a
// message without interpreting its content.
type envelope struct {
	Jsonrpc string            `json:"jsonrpc"`
	Id      jsonrpc.RequestId `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *jsonrpc.Error    `json:"error,omitempty"`
}

// idKey canonicalizes a request id so that outstanding entries are unique
// per session across both numeric and string ids.
func idKey(id jsonrpc.RequestId) string {
	switch actual := id.(type) {
	case string:
		return "s:" + actual
	case float64:
		return "n:" + strconv.FormatFloat(actual, 'f', -1, 64)
	case int:
		return "n:" + strconv.Itoa(actual)
	case int64:
		return "n:" + strconv.FormatInt(actual, 10)
	case uint64:
		return "n:" + strconv.FormatUint(actual, 10)
	case json.Number:
		return "n:" + actual.String()
	}
	return fmt.Sprintf("v:%v", id)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns the last traffic timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records a traffic event. Both client-initiated and backend-originated
// traffic counts, so a session kept busy purely by backend notifications is
// not reaped.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AttachSink binds the outbound client stream.
func (s *Session) AttachSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// DetachSink unbinds the outbound client stream.
func (s *Session) DetachSink() {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

// Done is closed once the session reached StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Backend exposes the owned process handle, for diagnostics.
func (s *Session) Backend() *backend.Process {
	return s.process
}

// PendingCount returns the number of outstanding requests.
func (s *Session) PendingCount() int {
	return s.pending.Size()
}

// Call forwards one raw JSON-RPC payload to the backend and, for requests,
// awaits the correlated reply. Notifications and client-supplied responses
// resolve as soon as the write succeeds, with a nil response.
//
// Timeouts, session teardown, write failures on registered requests and
// backend error replies all surface as a response envelope preserving the
// original request id; only caller errors are returned as Go errors.
func (s *Session) Call(ctx context.Context, payload []byte) (*jsonrpc.Response, error) {
	env, err := s.classify(payload)
	if err != nil {
		return nil, err
	}
	if env.Method == "" || env.Id == nil {
		// Notification, or a client response to a backend-originated
		// request: write through, nothing to await.
		return nil, s.write(payload)
	}
	entry, err := s.register(env)
	if err != nil {
		return nil, err
	}
	if err := s.write(payload); err != nil {
		s.unregister(entry)
		return &jsonrpc.Response{
			Jsonrpc: jsonrpc.Version,
			Id:      env.Id,
			Error:   schema.NewBackendUnavailable(err.Error()),
		}, nil
	}
	select {
	case out := <-entry.ch:
		return out.response, nil
	case <-ctx.Done():
		s.unregister(entry)
		return nil, ctx.Err()
	}
}

// Post forwards one raw JSON-RPC payload without blocking on the reply; the
// eventual result of a request is delivered to the session sink. Errors that
// can be detected before the write are returned synchronously.
func (s *Session) Post(payload []byte) error {
	env, err := s.classify(payload)
	if err != nil {
		return err
	}
	if env.Method == "" || env.Id == nil {
		return s.write(payload)
	}
	if !s.hasSink() {
		return ErrNoSink
	}
	entry, err := s.register(env)
	if err != nil {
		return err
	}
	if err := s.write(payload); err != nil {
		s.unregister(entry)
		return err
	}
	go func() {
		out := <-entry.ch
		data, err := json.Marshal(out.response)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to marshal response")
			return
		}
		s.deliver(data)
	}()
	return nil
}

// Send marshals and forwards a request, awaiting its correlated reply.
func (s *Session) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request.Jsonrpc == "" {
		request.Jsonrpc = jsonrpc.Version
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, data)
}

// Notify marshals and forwards a notification.
func (s *Session) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	_, err = s.Call(ctx, data)
	return err
}

func (s *Session) classify(payload []byte) (*envelope, error) {
	env := &envelope{}
	if err := json.Unmarshal(payload, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Method == "" && env.Id == nil {
		return nil, fmt.Errorf("%w: neither method nor id present", ErrInvalidPayload)
	}
	if env.Method != "" && env.Jsonrpc != jsonrpc.Version {
		return nil, fmt.Errorf("%w: invalid JSON-RPC version %q", ErrInvalidPayload, env.Jsonrpc)
	}
	return env, nil
}

// register adds a pending entry ahead of the write so a fast reply can never
// race the registration, and arms its deadline timer.
func (s *Session) register(env *envelope) (*pending, error) {
	entry := &pending{
		id:     env.Id,
		method: env.Method,
		ch:     make(chan outcome, 1),
	}
	key := idKey(env.Id)
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.State() >= StateClosing {
		return nil, ErrClosed
	}
	if _, found := s.pending.Get(key); found {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateRequestId, env.Id)
	}
	s.pending.Put(key, entry)
	entry.timer = time.AfterFunc(s.timeout, func() {
		if s.claimIf(key, entry) {
			entry.ch <- outcome{response: &jsonrpc.Response{
				Jsonrpc: jsonrpc.Version,
				Id:      entry.id,
				Error:   schema.NewRequestTimeout(entry.method),
			}}
		}
	})
	return entry, nil
}

func (s *Session) unregister(entry *pending) {
	if s.claimIf(idKey(entry.id), entry) && entry.timer != nil {
		entry.timer.Stop()
	}
}

// claim atomically removes a pending entry so a given id is resolved at most
// once, whichever of reply, timeout or teardown gets there first.
func (s *Session) claim(key string) (*pending, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	entry, ok := s.pending.Get(key)
	if ok {
		s.pending.Delete(key)
	}
	return entry, ok
}

// claimIf removes the entry under key only when it is the caller's own. A
// stale timer or a cancellation racing a resolved-and-reused id must never
// claim the entry that replaced theirs.
func (s *Session) claimIf(key string, entry *pending) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	stored, ok := s.pending.Get(key)
	if !ok || stored != entry {
		return false
	}
	s.pending.Delete(key)
	return true
}

func (s *Session) write(payload []byte) error {
	if s.State() >= StateClosing {
		return ErrClosed
	}
	if err := s.process.WriteLine(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWrite, err)
	}
	s.Touch()
	return nil
}

// pump reads the backend output stream, reassembles lines across arbitrary
// chunk boundaries and dispatches each parsed envelope. It exits when the
// stream closes, which follows backend exit.
func (s *Session) pump() {
	frames := framer.New(s.maxLine)
	buffer := make([]byte, 32*1024)
	reader := s.process.Stdout()
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			lines, frameErr := frames.Push(buffer[:n])
			if frameErr != nil {
				s.logger.Warn().Err(frameErr).Msg("framing error")
			}
			for _, line := range lines {
				s.dispatch(line)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) dispatch(line []byte) {
	// The line aliases the read buffer; copy before it is reused.
	line = append([]byte(nil), line...)
	env := &envelope{}
	if err := json.Unmarshal(line, env); err != nil {
		s.logger.Warn().Err(err).Msg("dropping unparsable backend output")
		return
	}
	s.Touch()
	if env.Id != nil && env.Method == "" {
		if entry, ok := s.claim(idKey(env.Id)); ok {
			entry.timer.Stop()
			entry.ch <- outcome{response: &jsonrpc.Response{
				Jsonrpc: jsonrpc.Version,
				Id:      env.Id,
				Result:  env.Result,
				Error:   env.Error,
			}}
			return
		}
	}
	// Everything without a matching pending id, including backend-originated
	// requests, is treated as a notification for the client stream.
	s.deliver(line)
}

func (s *Session) hasSink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

func (s *Session) deliver(payload []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		s.logger.Debug().Msg("no stream attached, dropping backend message")
		return
	}
	if err := sink.Send(payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to deliver message to stream")
	}
}

// close tears the session down exactly once: terminate the backend, fail
// every outstanding request and release the sink.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.process.Terminate()

		s.pendingMu.Lock()
		var orphans []*pending
		var keys []string
		s.pending.Range(func(key string, entry *pending) bool {
			keys = append(keys, key)
			orphans = append(orphans, entry)
			return true
		})
		for _, key := range keys {
			s.pending.Delete(key)
		}
		s.pendingMu.Unlock()

		for _, entry := range orphans {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			entry.ch <- outcome{response: &jsonrpc.Response{
				Jsonrpc: jsonrpc.Version,
				Id:      entry.id,
				Error:   schema.NewSessionTerminated(),
			}}
		}

		s.DetachSink()
		s.setState(StateClosed)
		close(s.done)
	})
}
