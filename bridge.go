package bridge

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/analytics-mcp/bridge/backend"
	"github.com/analytics-mcp/bridge/server"
	"github.com/analytics-mcp/bridge/session"
)

const shutdownGrace = 10 * time.Second

// Service wires the session registry and HTTP surface from resolved options.
type Service struct {
	options  *Options
	logger   zerolog.Logger
	registry *session.Registry
	server   *server.Server
}

// New builds a service from options.
func New(ctx context.Context, options *Options) (*Service, error) {
	if options == nil {
		options = &Options{}
		if err := options.Init(ctx); err != nil {
			return nil, err
		}
	}
	logger := newLogger(options)

	requestTimeout, err := options.duration(options.RequestTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	idleThreshold, err := options.duration(options.IdleThreshold, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := options.duration(options.SweepInterval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	keepalive, err := options.duration(options.Keepalive, 15*time.Second)
	if err != nil {
		return nil, err
	}

	registry := session.New(backend.Config{
		Command:     options.BackendCommand,
		LocalPath:   options.BackendLocalPath,
		Args:        options.BackendArgs,
		Dir:         options.BackendDir,
		PackageRoot: options.PackageRoot,
	},
		session.WithLogger(logger),
		session.WithRequestTimeout(requestTimeout),
		session.WithIdleThreshold(idleThreshold),
		session.WithSweepInterval(sweepInterval),
	)

	serverOptions := []server.Option{
		server.WithLogger(logger),
		server.WithKeepaliveInterval(keepalive),
	}
	if options.Cors != nil {
		serverOptions = append(serverOptions, server.WithCORS(options.Cors))
	}
	httpServer, err := server.New(registry, serverOptions...)
	if err != nil {
		registry.Close()
		return nil, err
	}
	return &Service{
		options:  options,
		logger:   logger,
		registry: registry,
		server:   httpServer,
	}, nil
}

func newLogger(options *Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if options.Verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Str("app", "analytics-bridge").Logger()
}

// Registry exposes the session registry.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// HTTP builds the HTTP server bound to addr, defaulting to the configured
// address.
func (s *Service) HTTP(ctx context.Context, addr string) *http.Server {
	if addr == "" {
		addr = s.options.Addr()
	}
	return s.server.HTTP(ctx, addr)
}

// Shutdown tears down every live session and stops the reaper.
func (s *Service) Shutdown() {
	s.registry.Close()
}

// Run parses args, starts the bridge and serves until interrupted.
func Run(args []string) error {
	ctx := context.Background()
	options, err := NewOptions(ctx, args)
	if err != nil {
		return err
	}
	service, err := New(ctx, options)
	if err != nil {
		return err
	}
	defer service.Shutdown()

	httpServer := service.HTTP(ctx, "")
	errs := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	service.logger.Info().Str("addr", httpServer.Addr).Msg("analytics bridge listening")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case sig := <-signals:
		service.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
