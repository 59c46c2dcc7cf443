// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package query serves the current full snapshot to local browser tools
// over a websocket.
//
// The server binds 127.0.0.1 on the first free port in a configured
// range and accepts upgrades only on "/" from an allow-listed Origin
// host. Clients receive a UsernameChanged message on connect and on
// every identity change, and may send GetPlayer requests, each
// answered with the snapshot produced by the configured SnapshotFunc.
// The service keeps no delta or retry state of its own.
//
// [Server.EnsureActive] is meant to be called periodically (Run does
// so on a ticker): when no listener is bound it walks the port range
// once, so a port held by another process is retried on the next
// period rather than in a tight loop.
package query
