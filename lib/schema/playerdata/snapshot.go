// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playerdata

import (
	"bytes"
	"maps"
)

// Snapshot is the state of every tracked field for one session at one
// point in time, or (when produced by Subtract) the subset of fields
// that changed. The zero value is an empty snapshot.
type Snapshot struct {
	Varbits map[int]int
	Varps   map[int]int
	Levels  map[string]int

	// BitLog is the encoded bit-log. Nil means absent.
	BitLog []byte

	// BitLogCount is the host-reported count of obtained bit-log
	// entries. Nil until the host has reported one.
	BitLogCount *int
}

// NewSnapshot returns a Snapshot with allocated maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Varbits: make(map[int]int),
		Varps:   make(map[int]int),
		Levels:  make(map[string]int),
	}
}

// Get returns the value of field and whether it is present.
func (s Snapshot) Get(field Field) (int, bool) {
	var value int
	var ok bool
	switch field.Kind {
	case KindVarbit:
		value, ok = s.Varbits[field.ID]
	case KindVarp:
		value, ok = s.Varps[field.ID]
	case KindLevel:
		value, ok = s.Levels[field.Name]
	}
	return value, ok
}

// Set stores value for field, allocating the target map if needed.
func (s *Snapshot) Set(field Field, value int) {
	switch field.Kind {
	case KindVarbit:
		if s.Varbits == nil {
			s.Varbits = make(map[int]int)
		}
		s.Varbits[field.ID] = value
	case KindVarp:
		if s.Varps == nil {
			s.Varps = make(map[int]int)
		}
		s.Varps[field.ID] = value
	case KindLevel:
		if s.Levels == nil {
			s.Levels = make(map[string]int)
		}
		s.Levels[field.Name] = value
	}
}

// Each calls fn for every scalar field in the snapshot. Order is
// unspecified.
func (s Snapshot) Each(fn func(field Field, value int)) {
	for id, value := range s.Varbits {
		fn(Varbit(id), value)
	}
	for id, value := range s.Varps {
		fn(Varp(id), value)
	}
	for name, value := range s.Levels {
		fn(Level(name), value)
	}
}

// FieldCount returns the number of scalar fields plus one for each
// present bit-log component.
func (s Snapshot) FieldCount() int {
	count := len(s.Varbits) + len(s.Varps) + len(s.Levels)
	if s.BitLog != nil {
		count++
	}
	if s.BitLogCount != nil {
		count++
	}
	return count
}

// IsEmpty reports whether the snapshot carries no fields at all.
func (s Snapshot) IsEmpty() bool {
	return s.FieldCount() == 0
}

// Subtract returns the fields of s that are absent from base or whose
// value differs from base. A present field always differs from an
// absent one. The bit-log is compared by byte equality and is omitted
// from the result when equal, never zeroed.
func (s Snapshot) Subtract(base Snapshot) Snapshot {
	delta := NewSnapshot()
	for id, value := range s.Varbits {
		if old, ok := base.Varbits[id]; !ok || old != value {
			delta.Varbits[id] = value
		}
	}
	for id, value := range s.Varps {
		if old, ok := base.Varps[id]; !ok || old != value {
			delta.Varps[id] = value
		}
	}
	for name, value := range s.Levels {
		if old, ok := base.Levels[name]; !ok || old != value {
			delta.Levels[name] = value
		}
	}
	if s.BitLog != nil && (base.BitLog == nil || !bytes.Equal(s.BitLog, base.BitLog)) {
		delta.BitLog = bytes.Clone(s.BitLog)
	}
	if s.BitLogCount != nil && (base.BitLogCount == nil || *base.BitLogCount != *s.BitLogCount) {
		count := *s.BitLogCount
		delta.BitLogCount = &count
	}
	return delta
}

// Merge folds delta into s field by field: present fields overwrite
// or insert, absent fields leave s untouched.
func (s *Snapshot) Merge(delta Snapshot) {
	delta.Each(func(field Field, value int) {
		s.Set(field, value)
	})
	if delta.BitLog != nil {
		s.BitLog = bytes.Clone(delta.BitLog)
	}
	if delta.BitLogCount != nil {
		count := *delta.BitLogCount
		s.BitLogCount = &count
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	clone := Snapshot{
		Varbits: maps.Clone(s.Varbits),
		Varps:   maps.Clone(s.Varps),
		Levels:  maps.Clone(s.Levels),
		BitLog:  bytes.Clone(s.BitLog),
	}
	if clone.Varbits == nil {
		clone.Varbits = make(map[int]int)
	}
	if clone.Varps == nil {
		clone.Varps = make(map[int]int)
	}
	if clone.Levels == nil {
		clone.Levels = make(map[string]int)
	}
	if s.BitLogCount != nil {
		count := *s.BitLogCount
		clone.BitLogCount = &count
	}
	return clone
}

// Equal reports whether s and other hold the same fields with the
// same values. Nil and empty maps are equal; a nil BitLog is not
// equal to an empty one.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Subtract(other).IsEmpty() && other.Subtract(s).IsEmpty()
}
