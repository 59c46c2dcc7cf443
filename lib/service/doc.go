// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the process scaffolding shared by the
// statesync binaries.
//
//   - Socket server: a CBOR request-response server on a Unix socket
//     with action dispatch, connection timeouts, and graceful
//     shutdown. The host process pushes change notifications to the
//     agent through it.
//   - Client: the matching one-request-per-connection caller.
//   - HTTP server: a TCP listener with readiness signalling and
//     graceful shutdown, used for metrics and for the stub remote
//     service.
//   - Logger: the JSON slog logger every binary installs at startup.
//
// Binaries compose these in their own main() function. The package
// provides building blocks, not a runtime.
package service
