// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/statesync/lib/codec"
)

const (
	dialTimeout = 5 * time.Second

	// DefaultCallTimeout bounds a Call whose context has no deadline.
	// It covers the server's read and write budgets plus handler time.
	DefaultCallTimeout = readTimeout + writeTimeout + 5*time.Second
)

// ActionError is a failure reported by the server in the response
// envelope, as opposed to a failure to reach the server at all.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed: %s", e.Action, e.Message)
}

// Client calls actions on a SocketServer, one connection per call.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath. Nothing is
// dialed until Call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call runs action on the server. fields is a map or struct whose
// CBOR encoding is a map; its entries become the request's fields
// next to "action". fields may be nil. When result is non-nil the
// response data is decoded into it.
func (c *Client) Call(ctx context.Context, action string, fields, result any) error {
	request, err := buildRequest(action, fields)
	if err != nil {
		return fmt.Errorf("encoding %q request: %w", action, err)
	}

	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ActionError{Action: action, Message: response.Error}
	}
	if result == nil || len(response.Data) == 0 {
		return nil
	}
	if err := codec.Unmarshal(response.Data, result); err != nil {
		return fmt.Errorf("decoding %q response: %w", action, err)
	}
	return nil
}

// buildRequest merges fields and the action name into one CBOR map.
func buildRequest(action string, fields any) (map[string]codec.RawMessage, error) {
	var request map[string]codec.RawMessage
	if fields != nil {
		encoded, err := codec.Marshal(fields)
		if err != nil {
			return nil, err
		}
		// A nil map encodes as CBOR null and decodes back to nil.
		if err := codec.Unmarshal(encoded, &request); err != nil {
			return nil, fmt.Errorf("fields must encode as a map: %w", err)
		}
		if _, ok := request["action"]; ok {
			return nil, errors.New(`fields must not set "action"`)
		}
	}
	if request == nil {
		request = make(map[string]codec.RawMessage, 1)
	}
	name, err := codec.Marshal(action)
	if err != nil {
		return nil, err
	}
	request["action"] = name
	return request, nil
}

func (c *Client) roundTrip(ctx context.Context, request any) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := codec.Write(conn, request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	// The server reads exactly one value; half-closing lets it see a
	// clean end of stream on a malformed one.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.Read(conn, maxRequestSize, &response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
