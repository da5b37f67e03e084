package workspace

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StateValue is a runtime value that knows its own byte representation,
// e.g. a device state payload passed between blocks.
type StateValue interface {
	Bytes() []byte
}

// ToFloat coerces v to a number, returning def when it cannot.
func ToFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return def
	case bool:
		if n {
			return 1
		}
		return 0
	case nil:
		return def
	}
	if f, ok := parseNumber(ToString(v)); ok {
		return f
	}
	return def
}

// ToInt coerces v to an integer (truncating), returning def when it cannot.
func ToInt(v any, def int) int {
	f := ToFloat(v, math.NaN())
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return int(f)
}

// ToBool coerces v to a boolean. Empty text, "false" and "0" are false.
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "", "false", "0":
			return false
		}
		return true
	}
	if f, ok := parseNumber(ToString(v)); ok {
		return f != 0
	}
	return true
}

// ToString renders v as text. Whole floats print without a fraction.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case StateValue:
		return string(s.Bytes())
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

// ToBytes coerces v to a byte sequence: state values and raw bytes pass
// through, everything else is encoded as UTF-8 text.
func ToBytes(v any) []byte {
	switch b := v.(type) {
	case StateValue:
		return b.Bytes()
	case []byte:
		return b
	}
	return []byte(ToString(v))
}

// parseNumber parses user-entered numeric text leniently.
//
// Spaces, underscores and apostrophes are treated as digit grouping. When
// both '.' and ',' appear the later one is the decimal separator. A lone
// ',' is a decimal separator unless exactly three digits follow it
// ("1,000" is a thousand, "3,5" is three and a half).
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}

	s = strings.NewReplacer(" ", "", "_", "", "'", "", "\u00a0", "").Replace(s)
	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-comma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
