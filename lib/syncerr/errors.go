// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncerr defines the error taxonomy of the sync engine.
//
// Every failure the engine can observe falls into one of four kinds,
// and every kind is recoverable: the component that observes it logs
// it, degrades to "try again next cycle", and never lets it cross the
// submission engine's tick entry point.
//
//   - [Network]: connect, timeout, I/O, or non-2xx responses. Triggers
//     rollback and backoff.
//   - [Schema]: a well-formed manifest that lacks the tracked-field
//     arrays or has them in the wrong shape. The previous manifest
//     stays active.
//   - [Parse]: a malformed body on any endpoint. Treated like Schema.
//   - [Consistency]: a submission outcome for a session that is no
//     longer current. The rollback is discarded.
//
// Callers classify with [IsKind]:
//
//	if syncerr.IsKind(err, syncerr.Schema) { ... }
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind uint8

const (
	Network Kind = iota + 1
	Schema
	Parse
	Consistency
)

func (kind Kind) String() string {
	switch kind {
	case Network:
		return "network"
	case Schema:
		return "schema"
	case Parse:
		return "parse"
	case Consistency:
		return "consistency"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(kind))
	}
}

// Error is a classified engine error. Op names the operation that
// failed ("fetch manifest", "submit"); Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err is, or wraps, an *Error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// zero if there is none.
func KindOf(err error) Kind {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return 0
}
