// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bitlog buffers the sparse achievement-style flags that are
// sent to the server as a positional bitset.
//
// The [Log] stores the ids of observed entries, not bit positions.
// Positions depend on the active manifest and on the host's catalog
// of known entries (see manifest.AssignBitIndices), and both can
// change while entries are being observed. Keeping ids lets a newer
// mapping place entries that an older mapping could not.
package bitlog

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/statesync/lib/manifest"
)

// Log is the bit-log buffer. All methods are safe for concurrent use.
type Log struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int]struct{}
	count   *int
	catalog []int

	// Cached mapping, valid while mappingFor is the active manifest
	// and catalogGeneration has not moved.
	mapping           map[int]int
	mappingFor        *manifest.Manifest
	mappingGeneration uint64
	catalogGeneration uint64

	// unplaced records entry ids already reported as missing from
	// the mapping, so each is logged once per mapping.
	unplaced map[int]struct{}
}

// New creates an empty Log.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger:   logger,
		entries:  make(map[int]struct{}),
		unplaced: make(map[int]struct{}),
	}
}

// Observe records that entry id is set. It reports whether the entry
// was new.
func (l *Log) Observe(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; ok {
		return false
	}
	l.entries[id] = struct{}{}
	return true
}

// SetCount records the host-reported number of obtained entries. It
// reports whether the value changed.
func (l *Log) SetCount(count int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count != nil && *l.count == count {
		return false
	}
	l.count = &count
	return true
}

// Count returns the host-reported count and whether one was reported.
func (l *Log) Count() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == nil {
		return 0, false
	}
	return *l.count, true
}

// SetCatalog replaces the set of entry ids the host knows about. Ids
// the manifest does not list are appended to the mapping in
// ascending order.
func (l *Log) SetCatalog(ids []int) {
	catalog := slices.Clone(ids)
	slices.Sort(catalog)
	catalog = slices.Compact(catalog)

	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Equal(catalog, l.catalog) {
		return
	}
	l.catalog = catalog
	l.catalogGeneration++
}

// Catalog returns a copy of the host catalog in ascending order.
func (l *Log) Catalog() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.catalog)
}

// Reset clears observed entries and the reported count. The host
// sends this when its view of the flags becomes invalid, such as on a
// world hop or a lost connection. The catalog is kept.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.count = nil
}

// Entries returns the observed entry ids in ascending order.
func (l *Log) Entries() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.entries))
}

// Len returns the number of observed entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Mapping returns the bit position of every entry id for m and the
// current catalog. The result is cached until either changes and must
// not be modified.
func (l *Log) Mapping(m *manifest.Manifest) map[int]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mappingLocked(m)
}

func (l *Log) mappingLocked(m *manifest.Manifest) map[int]int {
	if l.mapping != nil && l.mappingFor == m && l.mappingGeneration == l.catalogGeneration {
		return l.mapping
	}
	l.mapping = manifest.AssignBitIndices(m, l.catalog)
	l.mappingFor = m
	l.mappingGeneration = l.catalogGeneration
	clear(l.unplaced)
	return l.mapping
}

// Encode returns the positional encoding of the observed entries
// under the mapping for m. Entries without a position are logged once
// and left out.
func (l *Log) Encode(m *manifest.Manifest) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	mapping := l.mappingLocked(m)
	positions := make([]int, 0, len(l.entries))
	for id := range l.entries {
		position, ok := mapping[id]
		if !ok {
			if _, reported := l.unplaced[id]; !reported {
				l.unplaced[id] = struct{}{}
				l.logger.Warn("bit-log entry has no position in the current mapping",
					"entry_id", id,
					"mapping_size", len(mapping),
				)
			}
			continue
		}
		positions = append(positions, position)
	}
	return EncodePositions(positions)
}

// EncodePositions packs bit positions into bytes, least significant
// bit first: position p is bit p%8 of byte p/8. Trailing zero bytes
// are trimmed, so no positions encode as an empty, non-nil slice.
func EncodePositions(positions []int) []byte {
	highest := -1
	for _, position := range positions {
		if position > highest {
			highest = position
		}
	}
	encoded := make([]byte, highest/8+1)
	if highest < 0 {
		return encoded[:0]
	}
	for _, position := range positions {
		if position < 0 {
			continue
		}
		encoded[position/8] |= 1 << (position % 8)
	}
	return encoded
}
