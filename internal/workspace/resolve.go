package workspace

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// menuPlaceholder is the text an unset menu carries in saved documents.
const menuPlaceholder = "-"

// Input resolves a named input.
//
// Literal inputs are returned unchanged. A block reference is evaluated when
// fetch is true (and the result cached under ValueKeyLastChild); otherwise
// the referenced block ID is returned. A primitive returns its live value
// when fetch is true and its reference otherwise. An input that failed to
// decode fails here with ErrMalformedPrimitive.
func (b *Block) Input(ctx context.Context, name string, fetch bool) (any, error) {
	in, ok := b.Inputs[name]
	if !ok {
		return nil, blockError(b, fmt.Errorf("%w: %s", ErrInputNotFound, name))
	}

	switch v := in.(type) {
	case LiteralInput:
		return v.Value, nil

	case BlockInput:
		if !fetch {
			return v.BlockID, nil
		}
		target := b.tab.Block(v.BlockID)
		if target == nil || target.ExtensionID == "" {
			// Dangling reference: fall back to the default hidden behind it.
			if v.ShadowPrimitive != nil {
				return v.ShadowPrimitive.Fetch(ctx, b.tab.rt.Variables)
			}
			if shadow := b.tab.Block(v.ShadowBlockID); shadow != nil {
				target = shadow
			} else {
				return nil, blockError(b, fmt.Errorf("%w: %s references missing block %q", ErrInputNotFound, name, v.BlockID))
			}
		}
		value, err := b.tab.Evaluate(ctx, target)
		if err != nil {
			return nil, err
		}
		b.SetValue(ValueKeyLastChild, value)
		return value, nil

	case PrimitiveInput:
		if !fetch {
			return v.Primitive.Ref(), nil
		}
		value, err := v.Primitive.Fetch(ctx, b.tab.rt.Variables)
		if err != nil {
			return nil, blockError(b, err)
		}
		return value, nil

	case MalformedInput:
		return nil, blockError(b, v.Err)
	}
	return nil, blockError(b, fmt.Errorf("%w: input %s", ErrMalformedPrimitive, name))
}

// HasInput reports whether the block carries the named input.
func (b *Block) HasInput(name string) bool {
	_, ok := b.Inputs[name]
	return ok
}

// InputString resolves an input as text.
func (b *Block) InputString(ctx context.Context, name string) (string, error) {
	v, err := b.Input(ctx, name, true)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

// InputFloat resolves an input as a number, using def when the value is not numeric.
func (b *Block) InputFloat(ctx context.Context, name string, def float64) (float64, error) {
	v, err := b.Input(ctx, name, true)
	if err != nil {
		return def, err
	}
	return ToFloat(v, def), nil
}

// InputInt resolves an input as an integer, using def when the value is not numeric.
func (b *Block) InputInt(ctx context.Context, name string, def int) (int, error) {
	v, err := b.Input(ctx, name, true)
	if err != nil {
		return def, err
	}
	return ToInt(v, def), nil
}

// InputBool resolves an input as a boolean. An empty condition slot is false.
func (b *Block) InputBool(ctx context.Context, name string) (bool, error) {
	if !b.HasInput(name) {
		return false, nil
	}
	v, err := b.Input(ctx, name, true)
	if err != nil {
		return false, err
	}
	return ToBool(v), nil
}

// InputBytes resolves an input as a byte sequence.
func (b *Block) InputBytes(ctx context.Context, name string) ([]byte, error) {
	v, err := b.Input(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return ToBytes(v), nil
}

// MenuText resolves a menu to its raw text.
//
// A menu input references a small menu block whose field supplies the value.
// field names that field; when empty, the field named like the input is used.
// A menu stored as a field on b itself, or as an inline primitive, is also
// accepted. A required menu that resolves to empty or placeholder text fails
// immediately and the failure is reported.
func (b *Block) MenuText(ctx context.Context, name, field string, required bool) (string, error) {
	if field == "" {
		field = name
	}

	var text string
	switch in := b.Inputs[name].(type) {
	case BlockInput:
		menu := b.tab.Block(in.BlockID)
		if menu == nil {
			menu = b.tab.Block(in.ShadowBlockID)
		}
		if menu != nil {
			if f, ok := menu.Fields[field]; ok {
				text = f.Value
			} else {
				v, err := b.Input(ctx, name, true)
				if err != nil {
					return "", err
				}
				text = ToString(v)
			}
		}
	case PrimitiveInput:
		text = in.Primitive.Value
	case LiteralInput:
		text = ToString(in.Value)
	case MalformedInput:
		return "", blockError(b, in.Err)
	case nil:
		text = b.FieldValue(name)
	}

	text = strings.TrimSpace(text)
	if required && (text == "" || text == menuPlaceholder) {
		return "", b.tab.report(b, blockError(b, fmt.Errorf("%w: %s", ErrMenuValueRequired, name)))
	}
	return text, nil
}

// MenuEnum resolves a required menu to one of the allowed values.
func MenuEnum[T ~string](ctx context.Context, b *Block, name, field string, allowed ...T) (T, error) {
	text, err := b.MenuText(ctx, name, field, true)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if strings.EqualFold(string(a), text) {
			return a, nil
		}
	}
	return "", blockError(b, fmt.Errorf("%w: %s=%q", ErrInvalidMenuValue, name, text))
}

// MenuInt resolves a required menu holding an integer identifier.
func (b *Block) MenuInt(ctx context.Context, name, field string) (int, error) {
	text, err := b.MenuText(ctx, name, field, true)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(text)
	if convErr != nil {
		return 0, blockError(b, fmt.Errorf("%w: %s=%q", ErrInvalidMenuValue, name, text))
	}
	return n, nil
}

// MenuValues resolves a menu holding a comma-separated list.
// Empty entries are dropped; an unset menu yields an empty list.
func (b *Block) MenuValues(ctx context.Context, name, field string) ([]string, error) {
	text, err := b.MenuText(ctx, name, field, false)
	if err != nil {
		return nil, err
	}
	if text == "" || text == menuPlaceholder {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// MenuEntity resolves a required menu naming an entity and looks it up.
func (b *Block) MenuEntity(ctx context.Context, name, field string) (any, error) {
	id, err := b.MenuText(ctx, name, field, true)
	if err != nil {
		return nil, err
	}
	resolver := b.tab.rt.Entities
	if resolver == nil {
		return nil, blockError(b, fmt.Errorf("%w: no entity resolver for %s", ErrInvalidMenuValue, name))
	}
	entity, err := resolver.ResolveEntity(ctx, id)
	if err != nil {
		return nil, blockError(b, fmt.Errorf("resolving %s=%q: %w", name, id, err))
	}
	return entity, nil
}
