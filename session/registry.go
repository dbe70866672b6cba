package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/viant/mcp-protocol/syncmap"

	"github.com/analytics-mcp/bridge/backend"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultIdleThreshold  = 30 * time.Minute
	defaultSweepInterval  = 5 * time.Minute
	defaultMaxLine        = 4 * 1024 * 1024
)

// Registry owns the id-keyed session table and the background reaper that
// expires idle sessions.
type Registry struct {
	sessions   *syncmap.Map[string, *Session]
	backendCfg backend.Config
	logger     zerolog.Logger

	requestTimeout time.Duration
	idleThreshold  time.Duration
	sweepInterval  time.Duration
	maxLine        int

	stop     chan struct{}
	stopOnce sync.Once
}

// Option customizes a registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.requestTimeout = timeout
	}
}

// WithIdleThreshold sets the inactivity age past which the reaper destroys a
// session.
func WithIdleThreshold(threshold time.Duration) Option {
	return func(r *Registry) {
		r.idleThreshold = threshold
	}
}

// WithSweepInterval sets the reaper period.
func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = interval
	}
}

// WithMaxMessageSize caps the size of a single backend output line.
func WithMaxMessageSize(limit int) Option {
	return func(r *Registry) {
		r.maxLine = limit
	}
}

// New creates a registry spawning backends per cfg and starts its reaper.
func New(cfg backend.Config, options ...Option) *Registry {
	result := &Registry{
		sessions:       syncmap.NewMap[string, *Session](),
		backendCfg:     cfg,
		logger:         zerolog.Nop(),
		requestTimeout: defaultRequestTimeout,
		idleThreshold:  defaultIdleThreshold,
		sweepInterval:  defaultSweepInterval,
		maxLine:        defaultMaxLine,
		stop:           make(chan struct{}),
	}
	for _, option := range options {
		option(result)
	}
	go result.reap()
	return result
}

// Create mints a session id, spawns a dedicated backend process and registers
// the session. The session only becomes visible once its backend is running.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	logger := r.logger.With().Str("session", id).Logger()
	now := time.Now()
	result := &Session{
		ID:           id,
		logger:       logger,
		pending:      syncmap.NewMap[string, *pending](),
		state:        StateConnecting,
		createdAt:    now,
		lastActivity: now,
		timeout:      r.requestTimeout,
		maxLine:      r.maxLine,
		done:         make(chan struct{}),
	}
	process, err := backend.Start(r.backendCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to spawn backend")
		return nil, err
	}
	result.process = process
	result.setState(StateActive)
	r.sessions.Put(id, result)
	go result.pump()
	go r.watch(result)
	logger.Info().Int("pid", process.Pid()).Msg("session created")
	return result, nil
}

// watch destroys the session when its backend exits on its own, failing any
// requests outstanding at crash time.
func (r *Registry) watch(s *Session) {
	select {
	case <-s.process.Done():
		if s.State() < StateClosing {
			event := s.logger.Warn()
			if err := s.process.ExitErr(); err != nil {
				event = event.Err(err)
			}
			event.Msg("backend exited unexpectedly")
			r.Destroy(s.ID)
		}
	case <-s.done:
	}
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Touch records activity on the identified session.
func (r *Registry) Touch(id string) bool {
	s, ok := r.sessions.Get(id)
	if ok {
		s.Touch()
	}
	return ok
}

// Size returns the number of live sessions.
func (r *Registry) Size() int {
	return r.sessions.Size()
}

// Destroy removes and tears down a session. Destroying an unknown or already
// destroyed session is a no-op, so disconnect, crash and reaper teardown
// paths can race safely.
func (r *Registry) Destroy(id string) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return
	}
	r.sessions.Delete(id)
	s.close()
	s.logger.Info().Msg("session destroyed")
}

// Close stops the reaper and destroys every live session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	var ids []string
	r.sessions.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		r.Destroy(id)
	}
}

func (r *Registry) reap() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep destroys every session idle past the threshold.
func (r *Registry) sweep(now time.Time) {
	var expired []string
	r.sessions.Range(func(id string, s *Session) bool {
		if now.Sub(s.LastActivity()) > r.idleThreshold {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		r.logger.Info().Str("session", id).Msg("reaping idle session")
		r.Destroy(id)
	}
}
