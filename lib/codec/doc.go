// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by the agent's
// local protocols.
//
// The sync agent speaks two formats with a clear boundary:
//
//   - JSON for the remote sync service (manifest, version probe,
//     submission) and for the browser-facing query websocket. Those
//     contracts are owned by other parties.
//   - CBOR for the host-facing unix socket: change notifications,
//     snapshot queries, and status.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so a
// given snapshot always produces identical bytes.
//
// Socket payloads are bounded by the reader, not the writer: Read takes
// a byte limit and reports ErrTooLarge, so a misbehaving host process
// cannot make the agent buffer an unbounded request.
//
// Types that cross both the socket and a JSON boundary carry both tags
// with the same names. fxamacker/cbor falls back to `json` tags when a
// field has no `cbor` tag, so types owned by the JSON side (the
// submission body, for one) encode over the socket unchanged.
package codec
