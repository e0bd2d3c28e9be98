// Package server runs the HTTP listener and shuts it and its dependent
// components down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownFunc shuts down a component gracefully.
type ShutdownFunc func(ctx context.Context) error

// Server wraps http.Server with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
	shutdownFuncs   []ShutdownFunc
	mu              sync.Mutex
}

// New creates a Server listening on port.
func New(
	handler http.Handler,
	port int,
	readTimeout, writeTimeout, shutdownTimeout time.Duration,
	log *zap.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log.With(zap.String("component", "server")),
	}
}

// OnShutdown registers fn to run after the HTTP server stops. Functions
// run in reverse registration order.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdownFuncs = append(s.shutdownFuncs, func(ctx context.Context) error {
		s.log.Info("shutting down component", zap.String("name", name))
		if err := fn(ctx); err != nil {
			s.log.Error("component shutdown error", zap.String("name", name), zap.Error(err))
			return err
		}
		s.log.Info("component stopped", zap.String("name", name))
		return nil
	})
}

// Listen binds the configured address without serving on it.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return ln, nil
}

// Serve handles requests on ln and blocks until SIGINT, SIGTERM or ctx
// cancellation, then shuts down gracefully. Registered components are also
// shut down when the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		s.log.Error("server failed", zap.Error(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("server error: %w", err), s.stopComponents(stopCtx))
	case <-ctx.Done():
		s.log.Info("shutdown requested")
		return s.gracefulShutdown()
	}
}

// gracefulShutdown stops the HTTP server, then every registered component.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", zap.Error(err))
	}
	s.log.Info("HTTP server stopped")

	if err := s.stopComponents(ctx); err != nil {
		return err
	}

	s.log.Info("server stopped gracefully")
	return nil
}

// stopComponents runs the shutdown functions in reverse registration order.
func (s *Server) stopComponents(ctx context.Context) error {
	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
