// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot assembles the full point-in-time state of every
// tracked field. The submission engine diffs the result against the
// last acknowledged snapshot; the query service returns it as-is.
package snapshot

import (
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
)

// Fields reads the observer's caches. *fieldwatch.Observer
// implements it.
type Fields interface {
	PackedValue(id int) (int, bool)
	FlatValue(id int) (int, bool)
	Levels() map[string]int
}

// BitLog reads the bit-log buffer. *bitlog.Log implements it.
type BitLog interface {
	Encode(m *manifest.Manifest) []byte
	Count() (int, bool)
}

// Build returns the snapshot of every field m tracks. A field is
// included only once a value for it has been observed. Levels are not
// manifest-controlled and are all included. The bit-log is always
// present; its count only once the host has reported one.
//
// A nil manifest tracks nothing, so only levels and the bit-log are
// returned.
func Build(m *manifest.Manifest, fields Fields, bitLog BitLog) playerdata.Snapshot {
	result := playerdata.NewSnapshot()

	if m != nil {
		for _, id := range m.Varbits() {
			if value, ok := fields.PackedValue(id); ok {
				result.Varbits[id] = value
			}
		}
		for _, id := range m.Varps() {
			if value, ok := fields.FlatValue(id); ok {
				result.Varps[id] = value
			}
		}
	}
	for name, value := range fields.Levels() {
		result.Levels[name] = value
	}

	result.BitLog = bitLog.Encode(m)
	if count, ok := bitLog.Count(); ok {
		result.BitLogCount = &count
	}
	return result
}
