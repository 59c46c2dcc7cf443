// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fieldwatch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/statesync/lib/session"
)

// WireNotification is the host-facing encoding of a Notification, as
// carried by the agent's "notify" socket action and by notification
// files. Which members are meaningful depends on Kind.
type WireNotification struct {
	Kind        string        `json:"kind"                  cbor:"kind"`
	ID          int           `json:"id,omitempty"          cbor:"id,omitempty"`
	Value       int           `json:"value,omitempty"       cbor:"value,omitempty"`
	Name        string        `json:"name,omitempty"        cbor:"name,omitempty"`
	IDs         []int         `json:"ids,omitempty"         cbor:"ids,omitempty"`
	Identity    string        `json:"identity,omitempty"    cbor:"identity,omitempty"`
	Mode        string        `json:"mode,omitempty"        cbor:"mode,omitempty"`
	LoggedIn    bool          `json:"logged_in,omitempty"   cbor:"logged_in,omitempty"`
	Definitions []PackedField `json:"definitions,omitempty" cbor:"definitions,omitempty"`
}

// Notification validates w and converts it. The manifest kind is
// internal to the agent and is rejected here.
func (w WireNotification) Notification() (Notification, error) {
	kind, err := ParseNotificationKind(w.Kind)
	if err != nil {
		return Notification{}, err
	}

	notification := Notification{Kind: kind}
	switch kind {
	case KindContainer:
		if w.ID < 0 || w.ID >= MaxContainerID {
			return Notification{}, fmt.Errorf("container id %d out of range", w.ID)
		}
		notification.ID, notification.Value = w.ID, w.Value
	case KindFlat:
		if w.ID < 0 {
			return Notification{}, fmt.Errorf("flat field id %d is negative", w.ID)
		}
		notification.ID, notification.Value = w.ID, w.Value
	case KindLevel:
		if w.Name == "" {
			return Notification{}, fmt.Errorf("level notification without a name")
		}
		notification.Name, notification.Value = w.Name, w.Value
	case KindBitLogEntry:
		notification.ID = w.ID
	case KindBitLogCount:
		if w.Value < 0 {
			return Notification{}, fmt.Errorf("bit-log count %d is negative", w.Value)
		}
		notification.Value = w.Value
	case KindBitLogCatalog:
		notification.IDs = w.IDs
	case KindBitLogReset:
	case KindSession:
		notification.Session = session.State{
			Identity: w.Identity,
			Mode:     w.Mode,
			LoggedIn: w.LoggedIn,
		}
	case KindDefinitions:
		if len(w.Definitions) == 0 {
			return Notification{}, fmt.Errorf("definitions notification without definitions")
		}
		notification.Definitions = w.Definitions
	default:
		return Notification{}, fmt.Errorf("notification kind %q cannot be sent by the host", w.Kind)
	}
	return notification, nil
}

// ConvertWire converts a batch, failing on the first invalid entry so
// that a batch is applied entirely or not at all.
func ConvertWire(batch []WireNotification) ([]Notification, error) {
	notifications := make([]Notification, 0, len(batch))
	for i, wire := range batch {
		notification, err := wire.Notification()
		if err != nil {
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

// LoadWireFile reads a JSONC array of notifications and validates it
// as a batch.
func LoadWireFile(path string) ([]WireNotification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notifications: %w", err)
	}
	var batch []WireNotification
	if err := json.Unmarshal(jsonc.ToJSON(data), &batch); err != nil {
		return nil, fmt.Errorf("parsing notifications %s: %w", path, err)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("%s: no notifications", path)
	}
	if _, err := ConvertWire(batch); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return batch, nil
}
