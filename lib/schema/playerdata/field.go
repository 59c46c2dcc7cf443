// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playerdata

import "fmt"

// FieldKind identifies which map of a Snapshot a field lives in.
type FieldKind uint8

const (
	// KindVarbit is a bit-packed field extracted from a wider
	// container value.
	KindVarbit FieldKind = iota + 1

	// KindVarp is a flat scalar field.
	KindVarp

	// KindLevel is a named progress level.
	KindLevel
)

// String returns the wire name of the kind.
func (kind FieldKind) String() string {
	switch kind {
	case KindVarbit:
		return "varb"
	case KindVarp:
		return "varp"
	case KindLevel:
		return "level"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(kind))
	}
}

// Field identifies one tracked scalar. Varbits and varps are keyed by
// ID; levels are keyed by Name. Field is comparable and is used as a
// map key by the delta store.
type Field struct {
	Kind FieldKind
	ID   int
	Name string
}

// Varbit returns the Field for packed field id.
func Varbit(id int) Field { return Field{Kind: KindVarbit, ID: id} }

// Varp returns the Field for flat field id.
func Varp(id int) Field { return Field{Kind: KindVarp, ID: id} }

// Level returns the Field for the named level.
func Level(name string) Field { return Field{Kind: KindLevel, Name: name} }

func (field Field) String() string {
	if field.Kind == KindLevel {
		return field.Kind.String() + "[" + field.Name + "]"
	}
	return fmt.Sprintf("%s[%d]", field.Kind, field.ID)
}
