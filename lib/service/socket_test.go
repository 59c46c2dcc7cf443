// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/statesync/lib/codec"
	"github.com/bureau-foundation/statesync/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a SocketServer with the given handlers until the
// test ends and returns its socket path.
func startServer(t *testing.T, handlers map[string]ActionFunc) string {
	t.Helper()
	socketPath := testutil.SocketPath(t, "agent.sock")
	server := NewSocketServer(SocketServerConfig{Path: socketPath, Logger: testLogger()})
	for action, handler := range handlers {
		server.Handle(action, handler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	testutil.RequireClosed(t, server.ready, 5*time.Second, "socket server ready")
	return socketPath
}

type echoRequest struct {
	Action string `cbor:"action"`
	Value  int    `cbor:"value"`
}

type echoResponse struct {
	Doubled int `cbor:"doubled"`
}

func echoHandlers() map[string]ActionFunc {
	return map[string]ActionFunc{
		"double": func(_ context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return echoResponse{Doubled: request.Value * 2}, nil
		},
		"fail": func(context.Context, []byte) (any, error) {
			return nil, errors.New("deliberate failure")
		},
		"empty": func(context.Context, []byte) (any, error) {
			return nil, nil
		},
		"panic": func(context.Context, []byte) (any, error) {
			panic("handler bug")
		},
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	socketPath := startServer(t, echoHandlers())
	client := NewClient(socketPath)

	var response echoResponse
	if err := client.Call(context.Background(), "double", map[string]any{"value": 21}, &response); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.Doubled != 42 {
		t.Errorf("Doubled = %d, want 42", response.Doubled)
	}

	if err := client.Call(context.Background(), "empty", nil, nil); err != nil {
		t.Errorf("Call(empty): %v", err)
	}
}

func TestClientCallStructFields(t *testing.T) {
	socketPath := startServer(t, echoHandlers())
	client := NewClient(socketPath)

	var response echoResponse
	fields := struct {
		Value int `cbor:"value"`
	}{Value: 8}
	if err := client.Call(context.Background(), "double", fields, &response); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.Doubled != 16 {
		t.Errorf("Doubled = %d, want 16", response.Doubled)
	}

	var nilFields map[string]any
	if err := client.Call(context.Background(), "empty", nilFields, nil); err != nil {
		t.Errorf("Call with nil map: %v", err)
	}
}

func TestClientCallRejectsBadFields(t *testing.T) {
	client := NewClient(testutil.SocketPath(t, "unused.sock"))

	err := client.Call(context.Background(), "double", map[string]any{"action": "fail"}, nil)
	if err == nil || !strings.Contains(err.Error(), `must not set "action"`) {
		t.Errorf("action in fields = %v", err)
	}
	if err := client.Call(context.Background(), "double", []int{1, 2}, nil); err == nil {
		t.Error("non-map fields were accepted")
	}
}

func TestClientCallActionErrors(t *testing.T) {
	socketPath := startServer(t, echoHandlers())
	client := NewClient(socketPath)

	err := client.Call(context.Background(), "fail", nil, nil)
	var actionError *ActionError
	if !errors.As(err, &actionError) {
		t.Fatalf("Call(fail) error = %v, want *ActionError", err)
	}
	if actionError.Message != "deliberate failure" {
		t.Errorf("Message = %q", actionError.Message)
	}

	err = client.Call(context.Background(), "teleport", nil, nil)
	if !errors.As(err, &actionError) || actionError.Message != `unknown action "teleport"` {
		t.Errorf("Call(teleport) error = %v", err)
	}
}

func TestServerRejectsMissingAction(t *testing.T) {
	socketPath := startServer(t, echoHandlers())

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := codec.Write(conn, map[string]any{"value": 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var response Response
	if err := codec.Read(conn, maxRequestSize, &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.OK || response.Error != "missing required field: action" {
		t.Errorf("response = %+v", response)
	}
}

func TestServerSocketPermissions(t *testing.T) {
	socketPath := startServer(t, echoHandlers())
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("socket mode = %o, want 600", mode)
	}
}

func TestClientConnectFailure(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	err := client.Call(context.Background(), "double", nil, nil)
	var actionError *ActionError
	if err == nil || errors.As(err, &actionError) {
		t.Errorf("Call on missing socket = %v, want a connection error", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer(SocketServerConfig{Path: filepath.Join(t.TempDir(), "x.sock"), Logger: testLogger()})
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	socketPath := startServer(t, echoHandlers())
	client := NewClient(socketPath)

	err := client.Call(context.Background(), "panic", nil, nil)
	var actionError *ActionError
	if !errors.As(err, &actionError) || actionError.Message != `internal error in action "panic"` {
		t.Fatalf("Call(panic) = %v", err)
	}

	// The server keeps serving.
	var response echoResponse
	if err := client.Call(context.Background(), "double", map[string]any{"value": 2}, &response); err != nil || response.Doubled != 4 {
		t.Errorf("Call(double) after panic = %+v, %v", response, err)
	}
}

func TestServerObservesActions(t *testing.T) {
	type observation struct {
		action string
		failed bool
	}
	var mu sync.Mutex
	var observed []observation

	socketPath := testutil.SocketPath(t, "agent.sock")
	server := NewSocketServer(SocketServerConfig{
		Path:   socketPath,
		Logger: testLogger(),
		Observe: func(action string, elapsed time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, observation{action, err != nil})
		},
	})
	for action, handler := range echoHandlers() {
		server.Handle(action, handler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")

	client := NewClient(socketPath)
	client.Call(context.Background(), "double", map[string]any{"value": 1}, nil)
	client.Call(context.Background(), "fail", nil, nil)
	client.Call(context.Background(), "teleport", nil, nil)

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for shutdown"); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []observation{{"double", false}, {"fail", true}}
	if !slices.Equal(observed, want) {
		t.Errorf("observed %+v, want %+v", observed, want)
	}
	if _, err := os.Stat(socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file left behind: %v", err)
	}
}
