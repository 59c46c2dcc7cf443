// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fieldwatch

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/statesync/lib/codec"
	"github.com/bureau-foundation/statesync/lib/session"
)

func TestWireNotificationConversion(t *testing.T) {
	tests := []struct {
		name  string
		wire  WireNotification
		check func(t *testing.T, n Notification)
	}{
		{
			name: "container",
			wire: WireNotification{Kind: "container", ID: 3, Value: 0x5},
			check: func(t *testing.T, n Notification) {
				if n.Kind != KindContainer || n.ID != 3 || n.Value != 5 {
					t.Errorf("got %+v", n)
				}
			},
		},
		{
			name: "level",
			wire: WireNotification{Kind: "level", Name: "Prayer", Value: 43},
			check: func(t *testing.T, n Notification) {
				if n.Kind != KindLevel || n.Name != "Prayer" || n.Value != 43 {
					t.Errorf("got %+v", n)
				}
			},
		},
		{
			name: "catalog",
			wire: WireNotification{Kind: "bitlog_catalog", IDs: []int{7, 1}},
			check: func(t *testing.T, n Notification) {
				if n.Kind != KindBitLogCatalog || !slices.Equal(n.IDs, []int{7, 1}) {
					t.Errorf("got %+v", n)
				}
			},
		},
		{
			name: "reset",
			wire: WireNotification{Kind: "bitlog_reset"},
			check: func(t *testing.T, n Notification) {
				if n.Kind != KindBitLogReset {
					t.Errorf("got %+v", n)
				}
			},
		},
		{
			name: "session",
			wire: WireNotification{Kind: "session", Identity: "Zezima", Mode: "STANDARD", LoggedIn: true},
			check: func(t *testing.T, n Notification) {
				want := session.State{Identity: "Zezima", Mode: "STANDARD", LoggedIn: true}
				if n.Kind != KindSession || n.Session != want {
					t.Errorf("got %+v", n)
				}
			},
		},
		{
			name: "definitions",
			wire: WireNotification{Kind: "packed_definitions", Definitions: []PackedField{{ID: 10, Container: 3, Low: 0, High: 1}}},
			check: func(t *testing.T, n Notification) {
				if n.Kind != KindDefinitions || len(n.Definitions) != 1 || n.Definitions[0].Container != 3 {
					t.Errorf("got %+v", n)
				}
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n, err := test.wire.Notification()
			if err != nil {
				t.Fatalf("Notification: %v", err)
			}
			test.check(t, n)
		})
	}
}

func TestWireNotificationRejects(t *testing.T) {
	tests := []struct {
		name    string
		wire    WireNotification
		wantErr string
	}{
		{"unknown kind", WireNotification{Kind: "teleport"}, "unknown notification kind"},
		{"manifest from host", WireNotification{Kind: "manifest"}, "cannot be sent by the host"},
		{"container out of range", WireNotification{Kind: "container", ID: MaxContainerID}, "out of range"},
		{"negative flat", WireNotification{Kind: "flat", ID: -1}, "negative"},
		{"unnamed level", WireNotification{Kind: "level", Value: 1}, "without a name"},
		{"negative count", WireNotification{Kind: "bitlog_count", Value: -3}, "negative"},
		{"empty definitions", WireNotification{Kind: "packed_definitions"}, "without definitions"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.wire.Notification()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not contain %q", err, test.wantErr)
			}
		})
	}
}

func TestConvertWireIsAllOrNothing(t *testing.T) {
	_, err := ConvertWire([]WireNotification{
		{Kind: "flat", ID: 5, Value: 1},
		{Kind: "level"},
	})
	if err == nil || !strings.Contains(err.Error(), "notification 1") {
		t.Fatalf("expected error naming notification 1, got %v", err)
	}

	notifications, err := ConvertWire([]WireNotification{
		{Kind: "flat", ID: 5, Value: 1},
		{Kind: "bitlog_entry", ID: 9},
	})
	if err != nil {
		t.Fatalf("ConvertWire: %v", err)
	}
	if len(notifications) != 2 || notifications[1].Kind != KindBitLogEntry || notifications[1].ID != 9 {
		t.Errorf("got %+v", notifications)
	}
}

func TestWireNotificationCBORNames(t *testing.T) {
	encoded, err := codec.Marshal(map[string]any{
		"kind":      "session",
		"identity":  "Zezima",
		"mode":      "BETA",
		"logged_in": true,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var wire WireNotification
	if err := codec.Unmarshal(encoded, &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if wire.Kind != "session" || wire.Identity != "Zezima" || wire.Mode != "BETA" || !wire.LoggedIn {
		t.Errorf("decoded %+v", wire)
	}
}

func TestLoadWireFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	batch, err := LoadWireFile(write("login.jsonc", `[
		// log in, then flip a tracked varp
		{"kind": "session", "identity": "Zezima", "mode": "STANDARD", "logged_in": true},
		{"kind": "flat", "id": 5, "value": 42},
	]`))
	if err != nil {
		t.Fatalf("LoadWireFile: %v", err)
	}
	if len(batch) != 2 || batch[0].Identity != "Zezima" || batch[1].Value != 42 {
		t.Errorf("batch = %+v", batch)
	}

	for name, content := range map[string]string{
		"empty.jsonc":   `[]`,
		"invalid.jsonc": `[{"kind": "level"}]`,
		"garbage.jsonc": `{"kind": "flat"`,
	} {
		if _, err := LoadWireFile(write(name, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadWireFile(filepath.Join(dir, "missing.jsonc")); err == nil {
		t.Error("missing file: expected error")
	}
}
