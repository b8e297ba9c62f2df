package property

import "strings"

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn represents the in list operator.
	OpIn Operator = "in"
	// OpContains represents the contains substring operator.
	OpContains Operator = "contains"
)

// Filter represents a single property filter condition.
type Filter struct {
	Field    string
	Operator Operator
	Value    Value
}

// FilterSet represents a set of filters that must all match (AND logic).
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a new filter set.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Eq is shorthand for an equality filter.
func Eq(field string, v Value) Filter {
	return Filter{Field: field, Operator: OpEqual, Value: v}
}

// Matches checks if the provided property map matches this filter.
func (f *Filter) Matches(m Map) bool {
	value, exists := m[f.Field]
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		return value.Compare(f.Value) > 0
	case OpGreaterEqual:
		return value.Compare(f.Value) >= 0
	case OpLessThan:
		return value.Compare(f.Value) < 0
	case OpLessEqual:
		return value.Compare(f.Value) <= 0
	case OpIn:
		return compareIn(value, f.Value)
	case OpContains:
		return compareContains(value, f.Value)
	default:
		return false
	}
}

// Matches checks if the provided property map matches all filters in the set.
func (fs *FilterSet) Matches(m Map) bool {
	for _, filter := range fs.Filters {
		if !filter.Matches(m) {
			return false
		}
	}
	return true
}

func compareEqual(a, b Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a.IsNull() || b.IsNull() {
		return false
	}

	if isNumber(a) && isNumber(b) {
		// Prefer exact int compare when possible.
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		return asFloat64(a) == asFloat64(b)
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.B == b.B
	case KindTime:
		return a.T.Equal(b.T)
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareIn checks membership of a in the array value b.
func compareIn(a, b Value) bool {
	arr, ok := b.AsArray()
	if !ok {
		return false
	}
	for _, item := range arr {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

// compareContains checks substring containment for strings and membership
// for arrays.
func compareContains(a, b Value) bool {
	switch a.Kind {
	case KindString:
		needle, ok := b.AsString()
		if !ok {
			return false
		}
		return strings.Contains(a.s.Value(), needle)
	case KindArray:
		return compareIn(b, a)
	default:
		return false
	}
}
