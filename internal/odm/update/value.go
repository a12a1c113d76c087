package update

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Sentinel errors returned when an operator cannot be applied.
var (
	// ErrAbsentValue is returned when a non-Set operator targets a field
	// that has no value yet.
	ErrAbsentValue = errors.New("cannot apply operator to absent value")

	// ErrNotNumeric is returned when an arithmetic operator meets a
	// non-numeric value or operand.
	ErrNotNumeric = errors.New("value is not numeric")

	// ErrNotArray is returned when an array operator meets a non-array value.
	ErrNotArray = errors.New("value is not an array")

	// ErrNotComparable is returned when Max or Min cannot order two values.
	ErrNotComparable = errors.New("values are not comparable")

	// ErrConflictingOperator is returned when two pending operators on the
	// same field cannot be combined into one store update.
	ErrConflictingOperator = errors.New("conflicting update operators")
)

// TimeLayout is the plain form of timestamps: UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Plainer is implemented by values with a store representation of their own
// (embedded documents, references).
type Plainer interface {
	Plain() any
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimeLayout)
}

// Normalize widens Go numeric types to int64 or float64 so values from
// different sources compare and combine uniformly. Unsigned values above
// math.MaxInt64 become float64. Other values pass through.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return widenUnsigned(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return widenUnsigned(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return v
}

func widenUnsigned(n uint64) any {
	if n > math.MaxInt64 {
		return float64(n)
	}
	return int64(n)
}

// Plain converts a domain value into the form written to the store: numbers
// are normalized, timestamps become TimeLayout strings, Plainers render
// themselves and slices and maps are converted recursively.
func Plain(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Plainer:
		return t.Plain()
	case time.Time:
		return FormatTime(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Plain(e)
		}
		return out
	case string, bool:
		return t
	}

	v = Normalize(v)
	switch v.(type) {
	case int64, float64:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Plain(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Plain(iter.Value().Interface())
		}
		return out
	}
	return v
}

// Equal reports whether a and b have the same plain form. Numbers compare by
// value regardless of their Go type.
func Equal(a, b any) bool {
	return plainEqual(Plain(a), Plain(b))
}

func plainEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch at := a.(type) {
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !plainEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !plainEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two numbers, two strings or two timestamps.
func Compare(a, b any) (int, error) {
	a, b = Normalize(a), Normalize(b)
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return cmpOrdered(ai, bi), nil
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return cmpOrdered(af, bf), nil
		}
	}
	switch at := a.(type) {
	case string:
		if bt, ok := b.(string); ok {
			return strings.Compare(at, bt), nil
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), nil
		}
	}
	return 0, fmt.Errorf("compare %T with %T: %w", a, b, ErrNotComparable)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := Normalize(v).(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func add(a, b any) (any, error) {
	a, b = Normalize(a), Normalize(b)
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai + bi, nil
	}
	af, ok := toFloat(a)
	if !ok {
		return nil, fmt.Errorf("add to %T: %w", a, ErrNotNumeric)
	}
	bf, ok := toFloat(b)
	if !ok {
		return nil, fmt.Errorf("add %T: %w", b, ErrNotNumeric)
	}
	return af + bf, nil
}

func mul(a, b any) (any, error) {
	a, b = Normalize(a), Normalize(b)
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai * bi, nil
	}
	af, ok := toFloat(a)
	if !ok {
		return nil, fmt.Errorf("multiply %T: %w", a, ErrNotNumeric)
	}
	bf, ok := toFloat(b)
	if !ok {
		return nil, fmt.Errorf("multiply by %T: %w", b, ErrNotNumeric)
	}
	return af * bf, nil
}

func negate(v any) (any, error) {
	switch n := Normalize(v).(type) {
	case int64:
		if n == math.MinInt64 {
			return float64(n) * -1, nil
		}
		return -n, nil
	case float64:
		return -n, nil
	}
	return nil, fmt.Errorf("negate %T: %w", v, ErrNotNumeric)
}
