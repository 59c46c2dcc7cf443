// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds how much of a remote HTTP response the agent
// will read. The remote sync service is not under the agent's control;
// a misbehaving endpoint must not be able to make it allocate without
// limit or hang on a body it never finishes sending.
package netutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxResponseSize bounds response body reads: 16 MB. Manifests carry
// a few thousand integers and submission acknowledgements are empty.
const MaxResponseSize int64 = 16 << 20

// maxErrorBody bounds the body text quoted in a status error.
const maxErrorBody = 512

// ReadResponse reads all of body. A body longer than MaxResponseSize
// is an error rather than a silent truncation.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxResponseSize)
	}
	return data, nil
}

// CheckStatus returns nil for a 2xx response. Otherwise it returns an
// error quoting the status and the start of the body.
func CheckStatus(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode <= 299 {
		return nil
	}
	return fmt.Errorf("HTTP %d: %s", response.StatusCode, ErrorBody(response.Body))
}

// ErrorBody returns the first part of an error body for diagnostics,
// whitespace-trimmed. Read errors are ignored; a partial body is still
// useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody+1))
	text := strings.TrimSpace(string(data))
	if len(data) > maxErrorBody {
		text = strings.TrimSpace(string(data[:maxErrorBody])) + "..."
	}
	return text
}

// Drain discards the rest of body, up to MaxResponseSize, so the
// connection can be reused.
func Drain(body io.Reader) {
	io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}
