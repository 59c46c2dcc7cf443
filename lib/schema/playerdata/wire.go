// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playerdata

import (
	"encoding/base64"
	"fmt"
	"maps"
)

// Submission is the JSON body POSTed to the remote submit endpoint.
type Submission struct {
	Username string `json:"username"`
	Profile  string `json:"profile"`
	Data     Data   `json:"data"`
}

// Data is the wire form of a Snapshot. It is also the payload of the
// on-demand query responses (JSON on the websocket, CBOR on the host
// socket via the json-tag fallback).
//
// The three scalar maps are always present, possibly empty. The
// bit-log fields are omitted when absent.
type Data struct {
	Varb  map[int]int    `json:"varb"`
	Varp  map[int]int    `json:"varp"`
	Level map[string]int `json:"level"`

	// CollectionLogSlots is the standard base64 encoding of the
	// bit-log bytes.
	CollectionLogSlots *string `json:"collectionLogSlots,omitempty"`

	CollectionLogItemCount *int `json:"collectionLogItemCount,omitempty"`
}

// Wire converts the snapshot to its wire form.
func (s Snapshot) Wire() Data {
	data := Data{
		Varb:  maps.Clone(s.Varbits),
		Varp:  maps.Clone(s.Varps),
		Level: maps.Clone(s.Levels),
	}
	if data.Varb == nil {
		data.Varb = map[int]int{}
	}
	if data.Varp == nil {
		data.Varp = map[int]int{}
	}
	if data.Level == nil {
		data.Level = map[string]int{}
	}
	if s.BitLog != nil {
		encoded := base64.StdEncoding.EncodeToString(s.BitLog)
		data.CollectionLogSlots = &encoded
	}
	if s.BitLogCount != nil {
		count := *s.BitLogCount
		data.CollectionLogItemCount = &count
	}
	return data
}

// Snapshot converts wire data back into a Snapshot. Used by the stub
// service and by tests that inspect submitted bodies.
func (d Data) Snapshot() (Snapshot, error) {
	snapshot := Snapshot{
		Varbits: maps.Clone(d.Varb),
		Varps:   maps.Clone(d.Varp),
		Levels:  maps.Clone(d.Level),
	}
	if snapshot.Varbits == nil {
		snapshot.Varbits = make(map[int]int)
	}
	if snapshot.Varps == nil {
		snapshot.Varps = make(map[int]int)
	}
	if snapshot.Levels == nil {
		snapshot.Levels = make(map[string]int)
	}
	if d.CollectionLogSlots != nil {
		decoded, err := base64.StdEncoding.DecodeString(*d.CollectionLogSlots)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decoding collectionLogSlots: %w", err)
		}
		if decoded == nil {
			decoded = []byte{}
		}
		snapshot.BitLog = decoded
	}
	if d.CollectionLogItemCount != nil {
		count := *d.CollectionLogItemCount
		snapshot.BitLogCount = &count
	}
	return snapshot, nil
}

// VersionProbe is the body of the version endpoint.
type VersionProbe struct {
	Version int `json:"version"`
}
