// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package submit sends per-session deltas to the remote sync service.
//
// The [Engine] owns the last acknowledged snapshot and the backoff
// counter of every session it has seen, keyed by [session.Key]. Each
// tick is serialized per session through a one-slot channel, so a
// slow submission for one session never overlaps a second submission
// for the same session, while other sessions proceed independently.
//
// Backoff is quadratic in ticks, not exponential in time. The counter
// increments on every tick that has something to send, and a
// submission is attempted only when the counter is a perfect square:
// after a failure, retries happen on the 4th, 9th, 16th, ... tick. A
// successful submission resets the counter.
//
// [HTTPTransport] is the production [Transport]: a JSON POST with an
// optional gzip or zstd body and a fresh X-Request-Id per attempt.
package submit
