// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/config"
	"github.com/bureau-foundation/statesync/lib/fieldwatch"
	"github.com/bureau-foundation/statesync/lib/service"
	"github.com/bureau-foundation/statesync/lib/stubserver"
	"github.com/bureau-foundation/statesync/lib/testutil"
)

const seedManifest = `// Matches the stub's version so the first check finds nothing new.
{
	"version": 4,
	"varbits": [4101],
	"varps": [5, 6],
}
`

type agentHarness struct {
	agent  *Agent
	stub   *stubserver.Server
	client *service.Client
}

func startAgent(t *testing.T) *agentHarness {
	t.Helper()

	stub := stubserver.New(stubserver.Config{})
	remote := httptest.NewServer(stub.Handler())
	t.Cleanup(remote.Close)

	cfg := config.Default()
	cfg.Endpoints = config.EndpointsConfig{
		Manifest: remote.URL + "/manifest",
		Version:  remote.URL + "/check_manifest",
		Submit:   remote.URL + "/submit",
	}
	cfg.Manifest.SeedFile = testutil.WriteFile(t, "seed.jsonc", seedManifest)
	cfg.Query.Enabled = false
	cfg.Socket.Path = testutil.SocketPath(t, "agent.sock")
	// Periodic loops never fire on the fake clock; the test drives
	// ticks through the sync action.
	cfg.Submission.Period = time.Hour
	cfg.Submission.Timeout = 5 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agent, err := newAgent(cfg, clock.Fake(time.Unix(1_700_000_000, 0)), logger)
	if err != nil {
		t.Fatalf("newAgent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 10*time.Second, "waiting for agent shutdown"); err != nil {
			t.Errorf("Run returned %v", err)
		}
	})

	testutil.RequireClosed(t, agent.socket.Ready(), 5*time.Second, "waiting for socket")
	return &agentHarness{agent: agent, stub: stub, client: service.NewClient(cfg.Socket.Path)}
}

func (h *agentHarness) sync(t *testing.T) string {
	t.Helper()
	var response syncResponse
	if err := h.client.Call(context.Background(), "sync", nil, &response); err != nil {
		t.Fatalf("sync: %v", err)
	}
	return response.Outcome
}

func (h *agentHarness) notify(t *testing.T, batch ...fieldwatch.WireNotification) error {
	t.Helper()
	var response notifyResponse
	err := h.client.Call(context.Background(), "notify", map[string]any{"notifications": batch}, &response)
	if err == nil && response.Applied != len(batch) {
		t.Errorf("applied %d notifications, want %d", response.Applied, len(batch))
	}
	return err
}

func TestAgentEndToEnd(t *testing.T) {
	h := startAgent(t)

	if outcome := h.sync(t); outcome != "no_session" {
		t.Errorf("sync before login = %q, want no_session", outcome)
	}

	err := h.notify(t,
		fieldwatch.WireNotification{Kind: "session", Identity: "Zezima", Mode: "STANDARD", LoggedIn: true},
		fieldwatch.WireNotification{Kind: "packed_definitions", Definitions: []fieldwatch.PackedField{
			{ID: 4101, Container: 83, Low: 0, High: 0},
		}},
		fieldwatch.WireNotification{Kind: "container", ID: 83, Value: 1},
		fieldwatch.WireNotification{Kind: "flat", ID: 5, Value: 42},
		fieldwatch.WireNotification{Kind: "flat", ID: 99, Value: 7},
		fieldwatch.WireNotification{Kind: "level", Name: "Prayer", Value: 43},
		fieldwatch.WireNotification{Kind: "bitlog_count", Value: 3},
	)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var snap snapshotResponse
	if err := h.client.Call(context.Background(), "snapshot", nil, &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ManifestVersion != 4 || snap.Identity != "Zezima" {
		t.Errorf("snapshot header = version %d identity %q", snap.ManifestVersion, snap.Identity)
	}
	if snap.Data.Varb[4101] != 1 || snap.Data.Varp[5] != 42 || snap.Data.Level["Prayer"] != 43 {
		t.Errorf("snapshot data = %+v", snap.Data)
	}
	if _, ok := snap.Data.Varp[99]; ok {
		t.Error("untracked flat field appeared in the snapshot")
	}
	if snap.Data.CollectionLogItemCount == nil || *snap.Data.CollectionLogItemCount != 3 {
		t.Errorf("collection log count = %v, want 3", snap.Data.CollectionLogItemCount)
	}

	if outcome := h.sync(t); outcome != "sent" {
		t.Fatalf("first sync = %q, want sent", outcome)
	}
	h.agent.engine.Wait()

	received := h.stub.Received()
	if len(received) != 1 {
		t.Fatalf("stub received %d submissions, want 1", len(received))
	}
	submission := received[0].Submission
	if submission.Username != "Zezima" || submission.Profile != "STANDARD" {
		t.Errorf("submission header = %q/%q", submission.Username, submission.Profile)
	}
	if submission.Data.Varb[4101] != 1 || submission.Data.Varp[5] != 42 {
		t.Errorf("submission data = %+v", submission.Data)
	}

	if outcome := h.sync(t); outcome != "idle" {
		t.Errorf("sync with nothing new = %q, want idle", outcome)
	}

	var status statusResponse
	if err := h.client.Call(context.Background(), "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ManifestVersion != 4 {
		t.Errorf("status manifest version = %d, want 4", status.ManifestVersion)
	}
	if status.PendingFields != 0 {
		t.Errorf("pending fields = %d, want 0", status.PendingFields)
	}
	if len(status.Sessions) != 1 {
		t.Fatalf("status sessions = %+v", status.Sessions)
	}
	if session := status.Sessions[0]; !session.HasBaseline || session.Succeeded != 1 || session.BackoffCounter != 0 {
		t.Errorf("session status = %+v", session)
	}
}

func TestAgentRejectsInvalidBatch(t *testing.T) {
	h := startAgent(t)

	err := h.notify(t,
		fieldwatch.WireNotification{Kind: "flat", ID: 5, Value: 42},
		fieldwatch.WireNotification{Kind: "manifest"},
	)
	var actionErr *service.ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}

	// Nothing from the rejected batch was applied.
	var snap snapshotResponse
	if err := h.client.Call(context.Background(), "snapshot", nil, &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, ok := snap.Data.Varp[5]; ok {
		t.Error("flat field from a rejected batch was applied")
	}

	if err := h.client.Call(context.Background(), "notify", map[string]any{}, nil); err == nil {
		t.Error("empty notify request was accepted")
	}
}

func TestAgentBetaSessionIsNotSynced(t *testing.T) {
	h := startAgent(t)

	err := h.notify(t,
		fieldwatch.WireNotification{Kind: "session", Identity: "Zezima", Mode: "BETA", LoggedIn: true},
		fieldwatch.WireNotification{Kind: "flat", ID: 5, Value: 42},
	)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if outcome := h.sync(t); outcome != "no_session" {
		t.Errorf("beta sync = %q, want no_session", outcome)
	}
	if len(h.stub.Received()) != 0 {
		t.Error("beta session was submitted")
	}
}
