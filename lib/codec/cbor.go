// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrTooLarge is returned by Read when a value does not fit in the
// caller's size limit.
var ErrTooLarge = errors.New("codec: value exceeds size limit")

// RawMessage is an encoded CBOR value whose decoding is deferred, used
// for request bodies whose shape depends on the action.
type RawMessage = cbor.RawMessage

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("codec: encoder options: %v", err))
	}
	decMode, err = cbor.DecOptions{
		// map[string]any, not map[any]any, so decoded values can go
		// straight to encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// A notification with "value" twice is malformed, not
		// last-one-wins.
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: decoder options: %v", err))
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Write encodes v onto w as a single CBOR value.
func Write(w io.Writer, v any) error {
	return encMode.NewEncoder(w).Encode(v)
}

// Read decodes one CBOR value from r into v, reading at most limit
// bytes. CBOR is self-delimiting, so no framing is needed around the
// value. A clean end of stream before any byte returns io.EOF; a
// value longer than limit returns ErrTooLarge.
func Read(r io.Reader, limit int64, v any) error {
	bounded := &limitedReader{r: r, remaining: limit}
	err := decMode.NewDecoder(bounded).Decode(v)
	if err != nil && bounded.exceeded {
		return ErrTooLarge
	}
	return err
}

// limitedReader is io.LimitedReader that remembers whether the caller
// tried to read past the limit, so Read can tell truncation from a
// malformed value.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		l.exceeded = true
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
