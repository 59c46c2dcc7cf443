// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncmetrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.Tick("sent")
	metrics.Submission("success")
	metrics.Rollback("applied")
	metrics.ManifestCheck("updated")
	metrics.ManifestVersion(4)
	metrics.PendingFields(3)
	metrics.QueryRequest("websocket")
	metrics.SocketAction("notify", time.Millisecond, nil)
}

func TestCountersAccumulate(t *testing.T) {
	metrics := New()
	metrics.Tick("gated")
	metrics.Tick("gated")
	metrics.Tick("sent")

	output := scrape(t, metrics)
	for _, want := range []string{
		`statesync_ticks_total{outcome="gated"} 2`,
		`statesync_ticks_total{outcome="sent"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	metrics := New()
	metrics.ManifestVersion(7)

	output := scrape(t, metrics)
	if !strings.Contains(output, "statesync_manifest_version 7") {
		t.Fatalf("metrics output missing manifest version:\n%s", output)
	}
}

func TestSocketActionHistogram(t *testing.T) {
	metrics := New()
	metrics.SocketAction("notify", 2*time.Millisecond, nil)
	metrics.SocketAction("notify", time.Millisecond, errors.New("bad batch"))
	metrics.SocketAction("status", time.Millisecond, nil)

	output := scrape(t, metrics)
	for _, want := range []string{
		`statesync_socket_action_seconds_count{action="notify",result="ok"} 1`,
		`statesync_socket_action_seconds_count{action="notify",result="error"} 1`,
		`statesync_socket_action_seconds_count{action="status",result="ok"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}
