package extensions

import (
	"context"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Operators provides arithmetic, comparison, logic and text reporters.
type Operators struct{}

// ID implements workspace.Extension.
func (Operators) ID() string { return "operator" }

// Blocks implements workspace.Extension.
func (Operators) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"add":      arithmetic(func(a, b float64) (float64, error) { return a + b, nil }),
		"subtract": arithmetic(func(a, b float64) (float64, error) { return a - b, nil }),
		"multiply": arithmetic(func(a, b float64) (float64, error) { return a * b, nil }),
		"divide": arithmetic(func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		}),
		"mod": arithmetic(func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			// Result takes the sign of the divisor.
			m := math.Mod(a, b)
			if m != 0 && (m < 0) != (b < 0) {
				m += b
			}
			return m, nil
		}),
		"round":    {Kind: workspace.KindReporter, Evaluate: operatorRound},
		"equals":   comparison(func(c int) bool { return c == 0 }),
		"lt":       comparison(func(c int) bool { return c < 0 }),
		"gt":       comparison(func(c int) bool { return c > 0 }),
		"and":      logic(func(a, b bool) bool { return a && b }),
		"or":       logic(func(a, b bool) bool { return a || b }),
		"not":      {Kind: workspace.KindBoolean, Evaluate: operatorNot},
		"join":     {Kind: workspace.KindReporter, Evaluate: operatorJoin},
		"contains": {Kind: workspace.KindBoolean, Evaluate: operatorContains},
		"length":   {Kind: workspace.KindReporter, Evaluate: operatorLength},
	}
}

func arithmetic(op func(a, b float64) (float64, error)) workspace.Handler {
	return workspace.Handler{Kind: workspace.KindReporter, Evaluate: func(ctx context.Context, b *workspace.Block) (any, error) {
		x, err := b.InputFloat(ctx, "NUM1", 0)
		if err != nil {
			return nil, err
		}
		y, err := b.InputFloat(ctx, "NUM2", 0)
		if err != nil {
			return nil, err
		}
		return op(x, y)
	}}
}

func comparison(accept func(c int) bool) workspace.Handler {
	return workspace.Handler{Kind: workspace.KindBoolean, Evaluate: func(ctx context.Context, b *workspace.Block) (any, error) {
		x, err := b.Input(ctx, "OPERAND1", true)
		if err != nil {
			return nil, err
		}
		y, err := b.Input(ctx, "OPERAND2", true)
		if err != nil {
			return nil, err
		}
		return accept(compare(x, y)), nil
	}}
}

// compare orders two values numerically when both are numbers and
// case-insensitively as text otherwise.
func compare(x, y any) int {
	fx, fy := workspace.ToFloat(x, math.NaN()), workspace.ToFloat(y, math.NaN())
	if !math.IsNaN(fx) && !math.IsNaN(fy) && isNumeric(x) && isNumeric(y) {
		switch {
		case fx < fy:
			return -1
		case fx > fy:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(strings.ToLower(workspace.ToString(x)), strings.ToLower(workspace.ToString(y)))
}

// isNumeric rejects blank text, which would otherwise compare as a number.
func isNumeric(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return v != nil
}

func logic(op func(a, b bool) bool) workspace.Handler {
	return workspace.Handler{Kind: workspace.KindBoolean, Evaluate: func(ctx context.Context, b *workspace.Block) (any, error) {
		x, err := b.InputBool(ctx, "OPERAND1")
		if err != nil {
			return nil, err
		}
		y, err := b.InputBool(ctx, "OPERAND2")
		if err != nil {
			return nil, err
		}
		return op(x, y), nil
	}}
}

func operatorNot(ctx context.Context, b *workspace.Block) (any, error) {
	v, err := b.InputBool(ctx, "OPERAND")
	if err != nil {
		return nil, err
	}
	return !v, nil
}

func operatorRound(ctx context.Context, b *workspace.Block) (any, error) {
	v, err := b.InputFloat(ctx, "NUM", 0)
	if err != nil {
		return nil, err
	}
	return math.Round(v), nil
}

func operatorJoin(ctx context.Context, b *workspace.Block) (any, error) {
	x, err := b.InputString(ctx, "STRING1")
	if err != nil {
		return nil, err
	}
	y, err := b.InputString(ctx, "STRING2")
	if err != nil {
		return nil, err
	}
	return x + y, nil
}

func operatorContains(ctx context.Context, b *workspace.Block) (any, error) {
	x, err := b.InputString(ctx, "STRING1")
	if err != nil {
		return nil, err
	}
	y, err := b.InputString(ctx, "STRING2")
	if err != nil {
		return nil, err
	}
	return strings.Contains(strings.ToLower(x), strings.ToLower(y)), nil
}

func operatorLength(ctx context.Context, b *workspace.Block) (any, error) {
	s, err := b.InputString(ctx, "STRING")
	if err != nil {
		return nil, err
	}
	return float64(len([]rune(s))), nil
}
