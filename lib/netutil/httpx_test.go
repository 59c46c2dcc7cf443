// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"version":4}`))
	if err != nil || string(data) != `{"version":4}` {
		t.Fatalf("ReadResponse = %q, %v", data, err)
	}

	oversized := io.LimitReader(zeros{}, MaxResponseSize+1)
	if _, err := ReadResponse(oversized); err == nil {
		t.Error("oversized body was accepted")
	}

	if _, err := ReadResponse(failReader{}); err == nil {
		t.Error("read error was not returned")
	}
}

func TestCheckStatus(t *testing.T) {
	response := func(status int, body string) *http.Response {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
	}

	if err := CheckStatus(response(http.StatusNoContent, "")); err != nil {
		t.Errorf("204: %v", err)
	}
	err := CheckStatus(response(http.StatusBadGateway, "  upstream down\n"))
	if err == nil || err.Error() != "HTTP 502: upstream down" {
		t.Errorf("502 = %v", err)
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(failReader{}); got != "" {
		t.Errorf("failing reader = %q, want empty", got)
	}

	long := bytes.Repeat([]byte("x"), maxErrorBody*2)
	got := ErrorBody(bytes.NewReader(long))
	if len(got) != maxErrorBody+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("long body quoted as %d bytes", len(got))
	}
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type failReader struct{}

func (failReader) Read([]byte) (int, error) {
	return 0, errors.New("simulated read failure")
}
