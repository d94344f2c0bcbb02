package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/reelpulse/reelpulse/internal/config"
)

// Server hosts the trigger API, health and metrics endpoints. It runs as a
// supervised service: every Serve call builds a fresh http.Server so a
// restart after a listener failure starts clean.
type Server struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	handler http.Handler

	mu      sync.Mutex
	current *http.Server
}

func New(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) *Server {
	return &Server{cfg: cfg, logger: logger, handler: handler}
}

// Addr is the listen address derived from the configured port.
func (s *Server) Addr() string {
	return net.JoinHostPort("", s.cfg.Port)
}

// Serve listens until ctx is cancelled, then shuts down gracefully and
// returns ctx.Err().
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.Addr(), err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.current = srv
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.current
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("draining http server", "timeout", s.cfg.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) String() string {
	return "http-server"
}
