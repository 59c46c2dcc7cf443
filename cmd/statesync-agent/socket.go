// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bureau-foundation/statesync/lib/codec"
	"github.com/bureau-foundation/statesync/lib/fieldwatch"
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/service"
	"github.com/bureau-foundation/statesync/lib/submit"
)

// notifyRequest is the wire format for the "notify" action.
type notifyRequest struct {
	Notifications []fieldwatch.WireNotification `cbor:"notifications"`
}

type notifyResponse struct {
	Applied int `cbor:"applied"`
}

// statusResponse is the wire format for the "status" action.
type statusResponse struct {
	UptimeSeconds     float64                `cbor:"uptime_seconds"`
	ManifestVersion   int                    `cbor:"manifest_version"`
	PendingFields     int                    `cbor:"pending_fields"`
	TrackedContainers int                    `cbor:"tracked_containers"`
	BitLogEntries     int                    `cbor:"bitlog_entries"`
	QueryAddress      string                 `cbor:"query_address,omitempty"`
	Sessions          []submit.SessionStatus `cbor:"sessions"`
}

// snapshotResponse is the wire format for the "snapshot" action.
type snapshotResponse struct {
	ManifestVersion int             `cbor:"manifest_version"`
	Identity        string          `cbor:"identity,omitempty"`
	Data            playerdata.Data `cbor:"data"`
}

type syncResponse struct {
	Outcome string `cbor:"outcome"`
}

// registerActions registers the agent's socket API actions.
func (a *Agent) registerActions(server *service.SocketServer) {
	server.Handle("notify", a.handleNotify)
	server.Handle("status", a.handleStatus)
	server.Handle("snapshot", a.handleSnapshot)
	server.Handle("sync", a.handleSync)
}

// handleNotify applies a batch of host notifications in order before
// responding, so a "sync" sent after "notify" sees the whole batch.
// An invalid entry rejects the batch without applying any of it.
func (a *Agent) handleNotify(_ context.Context, raw []byte) (any, error) {
	var request notifyRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, errors.New("invalid notify request")
	}
	if len(request.Notifications) == 0 {
		return nil, errors.New("notify request must contain at least one notification")
	}

	notifications, err := fieldwatch.ConvertWire(request.Notifications)
	if err != nil {
		return nil, fmt.Errorf("invalid notify request: %w", err)
	}
	for _, notification := range notifications {
		a.observer.Apply(notification)
	}
	return &notifyResponse{Applied: len(notifications)}, nil
}

// handleStatus returns liveness and per-session sync state.
func (a *Agent) handleStatus(_ context.Context, _ []byte) (any, error) {
	manifestVersion := manifest.NoVersion
	if m := a.resolver.Current(); m != nil {
		manifestVersion = m.Version
	}

	sessions := a.engine.Status()
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Identity != sessions[j].Identity {
			return sessions[i].Identity < sessions[j].Identity
		}
		return sessions[i].Mode < sessions[j].Mode
	})

	response := &statusResponse{
		UptimeSeconds:     a.clock.Now().Sub(a.startedAt).Seconds(),
		ManifestVersion:   manifestVersion,
		PendingFields:     a.store.Len(),
		TrackedContainers: a.observer.TrackedContainers(),
		BitLogEntries:     a.bitLog.Len(),
		Sessions:          sessions,
	}
	if a.query != nil {
		if addr := a.query.Addr(); addr != nil {
			response.QueryAddress = addr.String()
		}
	}
	return response, nil
}

// handleSnapshot returns the full current snapshot, the same one the
// query service serves.
func (a *Agent) handleSnapshot(_ context.Context, _ []byte) (any, error) {
	a.metrics.QueryRequest("socket")
	m, current := a.buildSnapshot()
	response := &snapshotResponse{
		ManifestVersion: manifest.NoVersion,
		Identity:        a.username(),
		Data:            current.Wire(),
	}
	if m != nil {
		response.ManifestVersion = m.Version
	}
	return response, nil
}

// handleSync runs one submission tick immediately. The submission it
// may start completes in the background; its result shows up in
// "status".
func (a *Agent) handleSync(ctx context.Context, _ []byte) (any, error) {
	outcome := a.engine.Tick(ctx)
	a.logger.Info("manual sync", "outcome", outcome.String())
	return &syncResponse{Outcome: outcome.String()}, nil
}
