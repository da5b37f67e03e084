package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ShadowKind is the first element of a serialized input tuple.
type ShadowKind int

const (
	// ShadowNone marks an input that was stored as a plain literal.
	ShadowNone ShadowKind = 0

	// ShadowSame: the input holds only its shadow (default) value.
	ShadowSame ShadowKind = 1

	// ShadowNoShadow: the input holds a block with no default behind it.
	ShadowNoShadow ShadowKind = 2

	// ShadowObscured: a block sits on top of a different shadow default.
	ShadowObscured ShadowKind = 3
)

// Input is a block input, decided once at parse time.
// It is one of LiteralInput, BlockInput, PrimitiveInput or MalformedInput.
type Input interface {
	isInput()
}

// LiteralInput is a value stored directly, returned unchanged.
type LiteralInput struct {
	Value any
}

// BlockInput references another block in the same tab.
type BlockInput struct {
	Shadow  ShadowKind
	BlockID string

	// ShadowBlockID or ShadowPrimitive hold the default hidden behind an
	// obscuring block (ShadowObscured only).
	ShadowBlockID   string
	ShadowPrimitive *Primitive
}

// PrimitiveInput is an inline primitive descriptor.
type PrimitiveInput struct {
	Shadow    ShadowKind
	Primitive Primitive
}

// MalformedInput is an input whose serialized form could not be decoded.
// The rest of the document still loads; reading the input fails.
type MalformedInput struct {
	Err error
}

func (LiteralInput) isInput()   {}
func (BlockInput) isInput()     {}
func (PrimitiveInput) isInput() {}
func (MalformedInput) isInput() {}

// decodeInput turns a serialized input into its closed form.
//
// Accepted shapes:
//
//	"text" | 5 | true              literal
//	[1, "blockId"]                 block reference (shadow only)
//	[2, "blockId"]                 block reference
//	[3, "blockId", [4, "10"]]      block obscuring a primitive default
//	[1, [10, "hello"]]             primitive descriptor
//	[3, [12, "x", "varId"], ...]   primitive obscuring a default
func decodeInput(raw json.RawMessage) (Input, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPrimitive, err)
		}
		return LiteralInput{Value: v}, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrimitive, err)
	}
	if len(parts) == 0 {
		return LiteralInput{Value: nil}, nil
	}

	var shadow int
	if err := json.Unmarshal(parts[0], &shadow); err != nil {
		// Not a tagged tuple: keep the array as a literal list.
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPrimitive, err)
		}
		return LiteralInput{Value: v}, nil
	}
	kind := ShadowKind(shadow)
	if kind < ShadowSame || kind > ShadowObscured {
		return nil, fmt.Errorf("%w: shadow type %d", ErrMalformedPrimitive, shadow)
	}
	if len(parts) < 2 {
		return LiteralInput{Value: nil}, nil
	}

	value := bytes.TrimSpace(parts[1])
	if isJSONNull(value) {
		// An empty slot; fall back to the shadow when one is serialized.
		if len(parts) > 2 && !isJSONNull(parts[2]) {
			return decodeSlot(ShadowSame, parts[2])
		}
		return LiteralInput{Value: nil}, nil
	}
	in, err := decodeSlot(kind, value)
	if err != nil {
		return nil, err
	}
	if bi, ok := in.(BlockInput); ok && kind == ShadowObscured && len(parts) > 2 {
		if err := decodeShadowDefault(parts[2], &bi); err != nil {
			return nil, err
		}
		return bi, nil
	}
	return in, nil
}

// decodeSlot decodes the value half of a tagged input: a block ID or a primitive.
func decodeSlot(kind ShadowKind, raw json.RawMessage) (Input, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPrimitive, err)
		}
		return BlockInput{Shadow: kind, BlockID: id}, nil
	case len(raw) > 0 && raw[0] == '[':
		p, err := decodePrimitive(raw)
		if err != nil {
			return nil, err
		}
		return PrimitiveInput{Shadow: kind, Primitive: p}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected input value %s", ErrMalformedPrimitive, string(raw))
	}
}

func decodeShadowDefault(raw json.RawMessage, in *BlockInput) error {
	raw = bytes.TrimSpace(raw)
	switch {
	case isJSONNull(raw):
		return nil
	case raw[0] == '"':
		return json.Unmarshal(raw, &in.ShadowBlockID)
	case raw[0] == '[':
		p, err := decodePrimitive(raw)
		if err != nil {
			return err
		}
		in.ShadowPrimitive = &p
		return nil
	default:
		return fmt.Errorf("%w: unexpected shadow %s", ErrMalformedPrimitive, string(raw))
	}
}

// decodePrimitive decodes [kind, value] or [kind, name, id, ...].
func decodePrimitive(raw json.RawMessage) (Primitive, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Primitive{}, fmt.Errorf("%w: %v", ErrMalformedPrimitive, err)
	}
	if len(parts) < 2 {
		return Primitive{}, fmt.Errorf("%w: primitive needs a kind and a value", ErrMalformedPrimitive)
	}
	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return Primitive{}, fmt.Errorf("%w: primitive kind: %v", ErrMalformedPrimitive, err)
	}
	p := Primitive{Kind: PrimitiveKind(kind), Value: rawText(parts[1])}
	if !p.Kind.Valid() {
		return Primitive{}, fmt.Errorf("%w: primitive kind %d", ErrMalformedPrimitive, kind)
	}
	if len(parts) > 2 {
		p.ID = rawText(parts[2])
	}
	return p, nil
}

// decodeField decodes ["value", "referenceId"] or a bare value.
func decodeField(raw json.RawMessage) (Field, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Field{Value: rawText(trimmed)}, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return Field{}, fmt.Errorf("%w: field: %v", ErrInvalidDocument, err)
	}
	var f Field
	if len(parts) > 0 {
		f.Value = rawText(parts[0])
	}
	if len(parts) > 1 {
		f.ReferenceID = rawText(parts[1])
	}
	return f, nil
}

// rawText renders a JSON scalar as text: strings unquoted, null as "".
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if isJSONNull(raw) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}

func isJSONNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
