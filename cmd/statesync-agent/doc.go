// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Statesync-agent is the incremental state sync engine. It runs next to
// the game host, receives field change notifications over its CBOR
// service socket, and periodically submits the fields that changed
// since the last accepted submission to the remote sync service.
//
// Data flow:
//
//	host → "notify" action → observer → delta store → engine tick → POST /submit
//
// The tracked field set comes from the remote manifest. The resolver
// polls the version endpoint every manifest.check_period and refetches
// the manifest when the version moves; a changed manifest marks every
// session dirty, so the next tick diffs the new field set against the
// acknowledged baseline.
//
// Socket actions:
//   - notify: apply a batch of field, level, bit-log, and session notifications
//   - status: uptime, manifest version, pending fields, per-session sync state
//   - snapshot: the full current snapshot for the logged-in session
//   - sync: run one submission tick immediately
//
// When query.enabled is set the agent also serves the same snapshot to
// browser tools over a localhost websocket, bound to the first free
// port in query.port_min..query.port_max.
package main
