package workspace

import (
	"context"
	"fmt"
)

// PrimitiveKind is the tag of an inline primitive descriptor.
// The numeric values match the serialized document format.
type PrimitiveKind int

const (
	PrimitiveNumber         PrimitiveKind = 4
	PrimitivePositiveNumber PrimitiveKind = 5
	PrimitiveWholeNumber    PrimitiveKind = 6
	PrimitiveInteger        PrimitiveKind = 7
	PrimitiveAngle          PrimitiveKind = 8
	PrimitiveColor          PrimitiveKind = 9
	PrimitiveText           PrimitiveKind = 10
	PrimitiveBroadcast      PrimitiveKind = 11
	PrimitiveVariable       PrimitiveKind = 12
	PrimitiveList           PrimitiveKind = 13
)

var primitiveKindNames = map[PrimitiveKind]string{
	PrimitiveNumber:         "number",
	PrimitivePositiveNumber: "positive_number",
	PrimitiveWholeNumber:    "whole_number",
	PrimitiveInteger:        "integer",
	PrimitiveAngle:          "angle",
	PrimitiveColor:          "color",
	PrimitiveText:           "text",
	PrimitiveBroadcast:      "broadcast",
	PrimitiveVariable:       "variable",
	PrimitiveList:           "list",
}

// Valid reports whether k is a known primitive tag.
func (k PrimitiveKind) Valid() bool {
	_, ok := primitiveKindNames[k]
	return ok
}

func (k PrimitiveKind) String() string {
	if name, ok := primitiveKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("primitive(%d)", int(k))
}

// IsNumeric reports whether the primitive carries a number literal.
func (k PrimitiveKind) IsNumeric() bool {
	switch k {
	case PrimitiveNumber, PrimitivePositiveNumber, PrimitiveWholeNumber, PrimitiveInteger, PrimitiveAngle:
		return true
	}
	return false
}

// Primitive is an inline value: a literal, or a named reference to a
// broadcast channel, variable or list.
type Primitive struct {
	Kind  PrimitiveKind
	Value string
	ID    string
}

// Ref returns what the primitive refers to: the ID of a named reference
// (falling back to its name), or the literal text itself.
func (p Primitive) Ref() string {
	switch p.Kind {
	case PrimitiveBroadcast, PrimitiveVariable, PrimitiveList:
		if p.ID != "" {
			return p.ID
		}
	}
	return p.Value
}

// Fetch returns the live value. Only variables perform an external read;
// every other kind is a projection of the tuple.
func (p Primitive) Fetch(ctx context.Context, store VariableStore) (any, error) {
	switch {
	case p.Kind == PrimitiveVariable:
		if store == nil {
			return nil, fmt.Errorf("%w: %s (no variable store)", ErrVariableNotFound, p.Value)
		}
		v, err := store.GetVariable(ctx, p.Ref())
		if err != nil {
			return nil, fmt.Errorf("reading variable %q: %w", p.Value, err)
		}
		return v, nil
	case p.Kind.IsNumeric():
		if f, ok := parseNumber(p.Value); ok {
			return f, nil
		}
		return p.Value, nil
	default:
		// Broadcasts resolve to their channel name; lists, colours and text to their literal.
		return p.Value, nil
	}
}
