// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/statesync/lib/syncerr"
)

// NoVersion is the version of a manifest whose body carried none, and
// the previous version passed to Resolve when nothing has been fetched
// yet.
const NoVersion = -1

// Manifest is a server-published description of which fields the
// agent tracks. It is immutable once parsed; a newer fetch replaces
// it wholesale.
type Manifest struct {
	// Version is compared, never diffed. Any change means every index
	// assignment derived from the old manifest is stale.
	Version int

	varbits     []int
	varps       []int
	collections []int

	varbitSet map[int]struct{}
	varpSet   map[int]struct{}
}

// New builds a Manifest from its parts. The tracked id lists are
// deduplicated; collections keeps its order exactly, duplicates
// included, because the server reads the bit-log positionally.
func New(version int, varbits, varps, collections []int) *Manifest {
	m := &Manifest{
		Version:     version,
		collections: slices.Clone(collections),
		varbitSet:   make(map[int]struct{}, len(varbits)),
		varpSet:     make(map[int]struct{}, len(varps)),
	}
	for _, id := range varbits {
		m.varbitSet[id] = struct{}{}
	}
	for _, id := range varps {
		m.varpSet[id] = struct{}{}
	}
	m.varbits = sortedKeys(m.varbitSet)
	m.varps = sortedKeys(m.varpSet)
	return m
}

func sortedKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for id := range set {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

// TracksVarbit reports whether the bit-packed field id is tracked.
func (m *Manifest) TracksVarbit(id int) bool {
	_, ok := m.varbitSet[id]
	return ok
}

// TracksVarp reports whether the flat field id is tracked.
func (m *Manifest) TracksVarp(id int) bool {
	_, ok := m.varpSet[id]
	return ok
}

// Varbits returns the tracked bit-packed field ids in ascending order.
// The caller must not modify the returned slice.
func (m *Manifest) Varbits() []int { return m.varbits }

// Varps returns the tracked flat field ids in ascending order. The
// caller must not modify the returned slice.
func (m *Manifest) Varps() []int { return m.varps }

// Collections returns the canonical bit-log entry order. The caller
// must not modify the returned slice.
func (m *Manifest) Collections() []int { return m.collections }

// Parse decodes a manifest response body.
//
// A body that is not a JSON object is a [syncerr.Parse] error. A
// well-formed object whose "varbits" or "varps" member is missing or
// not an array of integers is a [syncerr.Schema] error. A missing or
// null "collections" member means an empty canonical order.
func Parse(body []byte) (*Manifest, error) {
	const op = "parse manifest"

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, syncerr.New(syncerr.Parse, op, err)
	}

	version := NoVersion
	if encoded, ok := raw["version"]; ok && !isNull(encoded) {
		if err := json.Unmarshal(encoded, &version); err != nil {
			return nil, syncerr.Errorf(syncerr.Parse, op, "version: %w", err)
		}
	}

	varbits, err := intArray(raw, "varbits", true)
	if err != nil {
		return nil, syncerr.New(syncerr.Schema, op, err)
	}
	varps, err := intArray(raw, "varps", true)
	if err != nil {
		return nil, syncerr.New(syncerr.Schema, op, err)
	}
	collections, err := intArray(raw, "collections", false)
	if err != nil {
		return nil, syncerr.New(syncerr.Schema, op, err)
	}

	return New(version, varbits, varps, collections), nil
}

func intArray(raw map[string]json.RawMessage, name string, required bool) ([]int, error) {
	encoded, ok := raw[name]
	if !ok || isNull(encoded) {
		if required {
			return nil, fmt.Errorf("missing %q", name)
		}
		return nil, nil
	}
	var values []int
	if err := json.Unmarshal(encoded, &values); err != nil {
		return nil, fmt.Errorf("%q is not an array of integers: %w", name, err)
	}
	return values, nil
}

func isNull(encoded json.RawMessage) bool {
	return string(encoded) == "null"
}

// document is the wire form of a manifest response body.
type document struct {
	Version     *int  `json:"version,omitempty"`
	Varbits     []int `json:"varbits"`
	Varps       []int `json:"varps"`
	Collections []int `json:"collections"`
}

// MarshalJSON encodes m in the form [Parse] accepts. Tracked ids come
// out deduplicated and sorted; a NoVersion manifest omits "version".
func (m *Manifest) MarshalJSON() ([]byte, error) {
	encoded := document{
		Varbits:     nonNil(m.varbits),
		Varps:       nonNil(m.varps),
		Collections: nonNil(m.collections),
	}
	if m.Version != NoVersion {
		version := m.Version
		encoded.Version = &version
	}
	return json.Marshal(encoded)
}

func nonNil(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}

// LoadFile reads a manifest from a JSONC file (JSON with comments and
// trailing commas). Used for the seed manifest that stands in until
// the first successful fetch.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	m, err := Parse(jsonc.ToJSON(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// AssignBitIndices maps every bit-log entry id to its position in the
// encoded bit-log.
//
// Entries in the manifest's canonical order receive their position in
// that order, starting at 0. If an id appears more than once, its
// last position wins and the earlier position stays unused, matching
// the server's positional reading of the list. Ids in localIDs that
// the manifest does not mention follow, in ascending numeric order.
//
// The result depends only on the inputs, so repeated calls with the
// same manifest and ids produce identical mappings. A nil manifest is
// treated as one with an empty canonical order.
func AssignBitIndices(m *Manifest, localIDs []int) map[int]int {
	var canonical []int
	if m != nil {
		canonical = m.collections
	}

	mapping := make(map[int]int, len(canonical)+len(localIDs))
	for position, id := range canonical {
		mapping[id] = position
	}

	var extra []int
	for _, id := range localIDs {
		if _, ok := mapping[id]; !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	extra = slices.Compact(extra)

	next := len(canonical)
	for _, id := range extra {
		mapping[id] = next
		next++
	}
	return mapping
}
