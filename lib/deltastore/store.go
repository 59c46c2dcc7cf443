// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deltastore accumulates field changes between submissions.
//
// The [Store] is written from two directions: the field observer
// records every value change as it happens, and the submission engine
// restores the fields of a failed submission. Restores use
// [Store.RecordIfAbsent] so a value observed while the request was in
// flight is never replaced by the older value being restored.
//
// [Store.Drain] hands the accumulated changes to the submission
// engine and empties the store in one step.
package deltastore

import (
	"sync"

	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
)

// Store is a last-write-wins buffer of changed fields. All methods
// are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	pending playerdata.Snapshot
}

// New creates an empty Store.
func New() *Store {
	return &Store{pending: playerdata.NewSnapshot()}
}

// Record stores value for field, replacing any pending value.
func (s *Store) Record(field playerdata.Field, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Set(field, value)
}

// RecordIfAbsent stores value for field only if nothing is pending
// for it. It reports whether the value was stored.
func (s *Store) RecordIfAbsent(field playerdata.Field, value int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending.Get(field); ok {
		return false
	}
	s.pending.Set(field, value)
	return true
}

// Restore applies RecordIfAbsent to every scalar field of delta and
// returns how many fields were restored. The bit-log components of
// delta are ignored; the submission engine tracks those itself.
func (s *Store) Restore(delta playerdata.Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	delta.Each(func(field playerdata.Field, value int) {
		if _, ok := s.pending.Get(field); ok {
			return
		}
		s.pending.Set(field, value)
		restored++
	})
	return restored
}

// Drain returns the pending fields and empties the store. Draining an
// empty store returns an empty snapshot.
func (s *Store) Drain() playerdata.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pending
	s.pending = playerdata.NewSnapshot()
	return drained
}

// Len returns the number of pending fields.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.FieldCount()
}
