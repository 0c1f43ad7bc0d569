package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Server runs the HTTP API as a registry service.
type Server struct {
	Address         string
	ShutdownTimeout time.Duration
	Handler         http.Handler
	Hub             *KnockHub
	Logger          zerolog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server around an already built router.
func NewServer(address string, shutdownTimeout time.Duration, handler http.Handler, hub *KnockHub, logger zerolog.Logger) *Server {
	return &Server{
		Address:         address,
		ShutdownTimeout: shutdownTimeout,
		Handler:         handler,
		Hub:             hub,
		Logger:          logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("http server already running")
	}

	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	if s.Hub != nil {
		s.Hub.Start()
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := s.srv
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	s.Logger.Info().Str("address", ln.Addr().String()).Msg("HTTP server started")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop disconnects WebSocket clients and drains in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Logger.Info().Msg("HTTP server stopped")
	return nil
}
