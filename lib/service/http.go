// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultShutdownTimeout bounds how long Serve waits for in-flight
// requests after its context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Name labels the server in log lines ("metrics", "stub").
	Name string

	// Address is the TCP listen address. Port 0 picks a free port;
	// Addr reports the one chosen.
	Address string

	Handler http.Handler

	// ShutdownTimeout defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// HTTPServer serves one handler on a TCP address with the same
// lifecycle as SocketServer: Serve blocks until its context is
// cancelled and in-flight requests drain. The agent serves Prometheus
// metrics through it and statesync-stub the fake remote endpoints.
type HTTPServer struct {
	config HTTPServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHTTPServer validates config and returns an unbound server.
func NewHTTPServer(config HTTPServerConfig) (*HTTPServer, error) {
	if config.Address == "" {
		return nil, errors.New("http server: address is required")
	}
	if config.Handler == nil {
		return nil, errors.New("http server: handler is required")
	}
	if config.Name == "" {
		config.Name = "http"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		config: config,
		logger: logger.With("server", config.Name),
		ready:  make(chan struct{}),
	}, nil
}

// Listen binds the address without serving, so a caller can fail
// before starting anything else. Serve calls it when needed.
func (s *HTTPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("%s server: listening on %s: %w", s.config.Name, s.config.Address, err)
	}
	s.listener = listener
	close(s.ready)
	return nil
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Listen.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully within the shutdown timeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()
	s.logger.Info("http server listening", "address", listener.Addr().String())

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", s.config.Name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown incomplete", "error", err)
		return fmt.Errorf("%s server shutdown: %w", s.config.Name, err)
	}
	s.logger.Info("http server stopped")
	return nil
}
