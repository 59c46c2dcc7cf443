// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session derives the key that partitions per-session sync
// state.
//
// A session is an (identity, mode) pair. The host reports both and
// may change either at any moment, so the key is resolved fresh on
// every submission tick and never cached across ticks.
package session

import "sync"

// Mode names reported by the host. Any other non-empty mode string is
// accepted as-is.
const (
	ModeStandard = "STANDARD"

	// ModeBeta sessions are never synchronized.
	ModeBeta = "BETA"
)

// Key identifies one session. Keys are comparable and used directly
// as map keys.
type Key struct {
	Identity string
	Mode     string
}

func (k Key) String() string {
	return k.Identity + "/" + k.Mode
}

// State is what the host last reported about the active session.
type State struct {
	Identity string
	Mode     string
	LoggedIn bool
}

// Resolve returns the session key for state. It reports false when
// there is no session to synchronize: the host is logged out, the
// identity is empty, or the mode is beta.
func Resolve(state State) (Key, bool) {
	if !state.LoggedIn || state.Identity == "" || state.Mode == ModeBeta {
		return Key{}, false
	}
	mode := state.Mode
	if mode == "" {
		mode = ModeStandard
	}
	return Key{Identity: state.Identity, Mode: mode}, true
}

// Tracker holds the latest host-reported State. Safe for concurrent
// use.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker returns a Tracker in the logged-out state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Set replaces the tracked state and reports whether the identity
// changed.
func (t *Tracker) Set(state State) (identityChanged bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	identityChanged = t.state.Identity != state.Identity
	t.state = state
	return identityChanged
}

// State returns the tracked state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current resolves the tracked state into a session key.
func (t *Tracker) Current() (Key, bool) {
	return Resolve(t.State())
}
