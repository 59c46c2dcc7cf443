// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/statesync/lib/codec"
)

const (
	// readTimeout bounds how long a client may take to send its
	// request after connecting.
	readTimeout = 30 * time.Second

	// writeTimeout bounds writing the response.
	writeTimeout = 10 * time.Second

	// maxRequestSize caps one CBOR request. A notify batch carrying a
	// full bit-log catalog is the largest request the host sends, a
	// few tens of kilobytes.
	maxRequestSize = 1024 * 1024
)

// ActionFunc handles one action. raw is the complete CBOR request,
// "action" field included; the handler decodes its own fields from it.
// A nil result produces {ok: true}; anything else is encoded into the
// response's data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every socket response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServerConfig configures a SocketServer.
type SocketServerConfig struct {
	// Path is the Unix socket path. Any stale file there is removed
	// when Serve starts.
	Path string

	// Observe, when set, is called after every dispatched action with
	// its latency and the handler's error.
	Observe func(action string, elapsed time.Duration, err error)

	Logger *slog.Logger
}

// SocketServer serves one CBOR request and one CBOR response per
// connection on a Unix socket. The host pushes change notifications
// through it and operators query status and snapshots. Register
// actions with Handle before Serve.
type SocketServer struct {
	config   SocketServerConfig
	logger   *slog.Logger
	handlers map[string]ActionFunc
	ready    chan struct{}

	// connections tracks in-flight requests so Serve can drain them.
	connections sync.WaitGroup
}

// NewSocketServer returns a server for config.Path.
func NewSocketServer(config SocketServerConfig) *SocketServer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		config:   config,
		logger:   logger,
		handlers: make(map[string]ActionFunc),
		ready:    make(chan struct{}),
	}
}

// Handle registers handler for action. Registering an action twice
// panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Actions returns the registered action names, sorted.
func (s *SocketServer) Actions() []string {
	actions := make([]string, 0, len(s.handlers))
	for action := range s.handlers {
		actions = append(actions, action)
	}
	slices.Sort(actions)
	return actions
}

// Ready is closed once the socket accepts connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens on the socket (mode 0600) and handles connections
// until ctx is cancelled. It then stops accepting, waits for in-flight
// requests, and removes the socket file.
func (s *SocketServer) Serve(ctx context.Context) error {
	path := s.config.Path
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", path, err)
	}
	defer os.Remove(path)
	defer listener.Close()
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", path, err)
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("socket server listening", "path", path, "actions", s.Actions())
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			defer conn.Close()
			s.serveConn(ctx, conn)
		}()
	}

	s.connections.Wait()
	return nil
}

// serveConn runs one request-response cycle.
func (s *SocketServer) serveConn(ctx context.Context, conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	action, raw, err := readRequest(conn)
	if errors.Is(err, io.EOF) {
		return
	}
	if err != nil {
		s.respond(conn, Response{Error: err.Error()})
		return
	}
	handler, ok := s.handlers[action]
	if !ok {
		s.respond(conn, Response{Error: fmt.Sprintf("unknown action %q", action)})
		return
	}

	started := time.Now()
	result, err := s.dispatch(ctx, action, handler, raw)
	if s.config.Observe != nil {
		s.config.Observe(action, time.Since(started), err)
	}
	if err != nil {
		s.logger.Debug("action failed", "action", action, "error", err)
		s.respond(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.respond(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.respond(conn, response)
}

// readRequest decodes one CBOR value and extracts its action name.
func readRequest(conn net.Conn) (string, []byte, error) {
	var raw codec.RawMessage
	switch err := codec.Read(conn, maxRequestSize, &raw); {
	case errors.Is(err, io.EOF):
		return "", nil, io.EOF
	case errors.Is(err, codec.ErrTooLarge):
		return "", nil, fmt.Errorf("request exceeds %d bytes", maxRequestSize)
	case err != nil:
		return "", nil, fmt.Errorf("invalid request: %v", err)
	}
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return "", nil, fmt.Errorf("invalid request: %v", err)
	}
	if header.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	return header.Action, raw, nil
}

// dispatch runs handler, turning a panic into an error response so one
// bad request cannot take the agent down.
func (s *SocketServer) dispatch(ctx context.Context, action string, handler ActionFunc, raw []byte) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("action panicked", "action", action, "panic", recovered)
			result, err = nil, fmt.Errorf("internal error in action %q", action)
		}
	}()
	return handler(ctx, raw)
}

func (s *SocketServer) respond(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.Write(conn, response); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}
