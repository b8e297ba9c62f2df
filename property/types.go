// Package property provides the typed property values attached to nodes,
// edges and vector records.
//
// Values are a small tagged union designed to make filtering and sorting
// fast and predictable: no reflection and no fmt-based stringification.
// Generated accessors on top of declared schemas resolve to the typed
// As* methods here.
package property

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unique"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindTime represents a date/time value.
	KindTime
	// KindArray represents an array value.
	KindArray
)

// String returns the kind name used in schema declarations and errors.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Value is a small typed value used for record properties and filters.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind                  `json:"k"`
	I64  int64                 `json:"i,omitempty"`
	F64  float64               `json:"f,omitempty"`
	s    unique.Handle[string] `json:"-"` // interned string
	B    bool                  `json:"b,omitempty"`
	T    time.Time             `json:"t,omitempty"`
	A    []Value               `json:"a,omitempty"`
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Time returns a date/time Value.
func Time(v time.Time) Value { return Value{Kind: KindTime, T: v} }

// Array returns an array Value.
func Array(v []Value) Value { return Value{Kind: KindArray, A: v} }

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsTime returns the time value if Kind is KindTime.
func (v Value) AsTime() (time.Time, bool) {
	if v.Kind != KindTime {
		return time.Time{}, false
	}
	return v.T, true
}

// AsArray returns the array value if Kind is KindArray.
func (v Value) AsArray() ([]Value, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.A, true
}

// IsNull reports whether the value is null or invalid.
func (v Value) IsNull() bool { return v.Kind == KindNull || v.Kind == KindInvalid }

// Key returns a stable string representation for use in index maps.
//
// It is intended for inverted-index postings and must remain stable across
// versions for persisted data.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindTime:
		return "t:" + strconv.FormatInt(v.T.UnixNano(), 10)
	case KindArray:
		if len(v.A) == 0 {
			return "a:"
		}
		parts := make([]string, len(v.A))
		for i := range v.A {
			parts[i] = v.A[i].Key()
		}
		return "a:" + strings.Join(parts, "\x1f")
	default:
		return "invalid"
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	type Alias Value
	aux := &struct {
		S string `json:"s,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&v),
	}
	if v.Kind == KindString {
		aux.S = v.s.Value()
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	type Alias Value
	aux := &struct {
		S string `json:"s,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if v.Kind == KindString {
		v.s = unique.Make(aux.S)
	}
	return nil
}

// Equal reports whether two values compare equal. Numeric values compare
// across int/float kinds.
func (v Value) Equal(other Value) bool { return compareEqual(v, other) }

// Compare orders two values for stable sorting. Null sorts before
// everything; mixed non-numeric kinds order by kind. Returns -1, 0 or 1.
func (v Value) Compare(other Value) int {
	an, bn := v.IsNull(), other.IsNull()
	if an || bn {
		switch {
		case an && bn:
			return 0
		case an:
			return -1
		default:
			return 1
		}
	}

	if isNumber(v) && isNumber(other) {
		if v.Kind == KindInt && other.Kind == KindInt {
			switch {
			case v.I64 < other.I64:
				return -1
			case v.I64 > other.I64:
				return 1
			default:
				return 0
			}
		}
		af, bf := asFloat64(v), asFloat64(other)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	if v.Kind != other.Kind {
		switch {
		case v.Kind < other.Kind:
			return -1
		default:
			return 1
		}
	}

	switch v.Kind {
	case KindString:
		return strings.Compare(v.s.Value(), other.s.Value())
	case KindBool:
		switch {
		case v.B == other.B:
			return 0
		case !v.B:
			return -1
		default:
			return 1
		}
	case KindTime:
		return v.T.Compare(other.T)
	case KindArray:
		for i := 0; i < len(v.A) && i < len(other.A); i++ {
			if c := v.A[i].Compare(other.A[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(v.A) < len(other.A):
			return -1
		case len(v.A) > len(other.A):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func isNumber(v Value) bool { return v.Kind == KindInt || v.Kind == KindFloat }

func asFloat64(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.I64)
	}
	return v.F64
}

// Map is the property mapping attached to a record. Iteration order is not
// significant.
type Map map[string]Value

// Get returns the value for the given field.
func (m Map) Get(field string) (Value, bool) {
	v, ok := m[field]
	return v, ok
}

// GetOr returns the value for the given field, or Null when absent.
func (m Map) GetOr(field string) Value {
	if v, ok := m[field]; ok {
		return v
	}
	return Null()
}

// Clone creates a deep copy of the map.
//
// This is the safe default to prevent external mutation after a write is
// staged. Values are deep copied, including arrays.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	clone := make(Map, len(m))
	for k, v := range m {
		clone[k] = v.clone()
	}
	return clone
}

// With returns a copy of the map with the given fields merged in,
// overwriting field by field. Fields not mentioned are preserved. This is
// the merge step used by upsert and additive field migration.
func (m Map) With(fields Map) Map {
	merged := m.Clone()
	if merged == nil {
		merged = make(Map, len(fields))
	}
	for k, v := range fields {
		merged[k] = v.clone()
	}
	return merged
}

func (v Value) clone() Value {
	if v.Kind != KindArray || len(v.A) == 0 {
		return v
	}
	arrayCopy := make([]Value, len(v.A))
	for i := range v.A {
		arrayCopy[i] = v.A[i].clone()
	}
	v.A = arrayCopy
	return v
}
