// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package playerdata defines the data model shared by every part of
// the sync engine: the [Snapshot] of tracked player state, the
// [Field] identity used to key individual changes, and the JSON wire
// formats exchanged with the remote sync service.
//
// A Snapshot is the complete known state for one session. A delta is
// a Snapshot that holds only the fields that differ from a baseline;
// it is produced by [Snapshot.Subtract] and folded back into the
// baseline by [Snapshot.Merge]. A field missing from a delta means
// "unchanged", never "reset".
//
// The bit-log (collection log slots) travels as an opaque byte string
// and is compared by full byte equality. A nil BitLog means absent; a
// non-nil empty BitLog is a present, empty bit-log.
//
// This package depends on no other statesync packages.
package playerdata
