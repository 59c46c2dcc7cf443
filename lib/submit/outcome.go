// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package submit

import "fmt"

// Outcome is the transition a tick took.
type Outcome uint8

const (
	// OutcomeIdle: nothing differs from the acknowledged snapshot, or
	// the engine is closed. No network call was made.
	OutcomeIdle Outcome = iota + 1

	// OutcomeGated: a delta exists but the backoff counter is not a
	// perfect square. Nothing but the counter changed.
	OutcomeGated

	// OutcomeSent: a submission was started. Its result is applied
	// asynchronously.
	OutcomeSent

	// OutcomeBusy: the previous submission for this session has not
	// finished.
	OutcomeBusy

	// OutcomeNoSession: no session is active, or the active session
	// is excluded from sync.
	OutcomeNoSession

	// OutcomeNoManifest: no manifest has been resolved yet.
	OutcomeNoManifest
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeIdle:
		return "idle"
	case OutcomeGated:
		return "gated"
	case OutcomeSent:
		return "sent"
	case OutcomeBusy:
		return "busy"
	case OutcomeNoSession:
		return "no_session"
	case OutcomeNoManifest:
		return "no_manifest"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(outcome))
	}
}
