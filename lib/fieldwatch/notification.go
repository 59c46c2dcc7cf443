// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fieldwatch

import (
	"fmt"

	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/session"
)

// NotificationKind identifies what a Notification reports.
type NotificationKind uint8

const (
	// KindContainer: container ID now holds Value.
	KindContainer NotificationKind = iota + 1

	// KindFlat: flat field ID now holds Value.
	KindFlat

	// KindLevel: level Name is now Value.
	KindLevel

	// KindBitLogEntry: bit-log entry ID is set.
	KindBitLogEntry

	// KindBitLogCount: the host counts Value obtained entries.
	KindBitLogCount

	// KindBitLogCatalog: IDs is the host's full list of known
	// bit-log entries.
	KindBitLogCatalog

	// KindBitLogReset: observed bit-log entries are no longer valid.
	KindBitLogReset

	// KindSession: the host's session is now Session.
	KindSession

	// KindDefinitions: Definitions are packed field layouts, added to
	// or replacing the known ones by ID.
	KindDefinitions

	// KindManifest: Manifest became the active manifest.
	KindManifest
)

var notificationKindNames = map[NotificationKind]string{
	KindContainer:     "container",
	KindFlat:          "flat",
	KindLevel:         "level",
	KindBitLogEntry:   "bitlog_entry",
	KindBitLogCount:   "bitlog_count",
	KindBitLogCatalog: "bitlog_catalog",
	KindBitLogReset:   "bitlog_reset",
	KindSession:       "session",
	KindDefinitions:   "packed_definitions",
	KindManifest:      "manifest",
}

func (kind NotificationKind) String() string {
	if name, ok := notificationKindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(kind))
}

// ParseNotificationKind maps a wire name back to its kind.
func ParseNotificationKind(name string) (NotificationKind, error) {
	for kind, candidate := range notificationKindNames {
		if candidate == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown notification kind %q", name)
}

// Notification is one raw change reported by the host, or one
// internal event that changes how host changes are interpreted.
// Which fields are meaningful depends on Kind.
type Notification struct {
	Kind        NotificationKind
	ID          int
	Value       int
	Name        string
	IDs         []int
	Session     session.State
	Definitions []PackedField
	Manifest    *manifest.Manifest
}
