// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest resolves the server-defined schema of tracked
// fields.
//
// A [Manifest] lists the bit-packed fields ("varbits") and flat fields
// ("varps") the agent observes, plus the canonical order of bit-log
// entries ("collections"). [AssignBitIndices] turns that order, plus
// any entries the host knows about that the server has not published
// yet, into the stable positional layout of the encoded bit-log.
//
// The [Resolver] keeps the active manifest current. It polls a cheap
// version endpoint on a fixed period and fetches the full body only
// when the version changes. Fetch and parse failures are logged and
// leave the previous manifest active.
package manifest
