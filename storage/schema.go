package storage

import (
	"fmt"

	"github.com/gravel-db/gravel/property"
)

// Schema declares the expected property kinds per label. Labels or fields
// absent from the schema are unconstrained; declared fields reject values
// of a different kind. Null is accepted for any declared field, which is
// what makes additive field migration possible: old records simply read as
// null for fields they predate.
type Schema map[string]map[string]property.Kind

// Validate checks props against the declared kinds for label.
func (s Schema) Validate(label string, props property.Map) error {
	if s == nil {
		return nil
	}
	fields, ok := s[label]
	if !ok {
		return nil
	}
	for name, v := range props {
		want, declared := fields[name]
		if !declared || v.IsNull() {
			continue
		}
		if got := v.Kind; got != want {
			// Int is acceptable where Float is declared; everything
			// else must match exactly.
			if want == property.KindFloat && got == property.KindInt {
				continue
			}
			return fmt.Errorf("%w: %s.%s expects %v, got %v", ErrTypeMismatch, label, name, want, got)
		}
	}
	return nil
}
