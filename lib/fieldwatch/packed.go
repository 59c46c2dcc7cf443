// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fieldwatch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// PackedField describes a sub-field stored in bits Low through High
// (inclusive) of a container value.
type PackedField struct {
	ID        int `json:"id"        cbor:"id"`
	Container int `json:"container" cbor:"container"`
	Low       int `json:"low"       cbor:"low"`
	High      int `json:"high"      cbor:"high"`
}

// Extract returns the sub-field's value from a container value. The
// container is treated as an unsigned 32-bit word.
func (f PackedField) Extract(container int) int {
	width := f.High - f.Low + 1
	mask := uint32(uint64(1)<<width - 1)
	return int((uint32(container) >> f.Low) & mask)
}

// Validate checks the bit range and container id.
func (f PackedField) Validate() error {
	if f.Container < 0 || f.Container > MaxContainerID {
		return fmt.Errorf("packed field %d: container %d out of range [0, %d]", f.ID, f.Container, MaxContainerID)
	}
	if f.Low < 0 || f.High > 31 || f.Low > f.High {
		return fmt.Errorf("packed field %d: invalid bit range %d..%d", f.ID, f.Low, f.High)
	}
	return nil
}

// LoadDefinitions reads packed field definitions from a JSONC file
// holding an array of {"id", "container", "low", "high"} objects.
func LoadDefinitions(path string) ([]PackedField, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	var definitions []PackedField
	if err := json.Unmarshal(jsonc.ToJSON(data), &definitions); err != nil {
		return nil, fmt.Errorf("parsing definitions %s: %w", path, err)
	}
	for _, definition := range definitions {
		if err := definition.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return definitions, nil
}
