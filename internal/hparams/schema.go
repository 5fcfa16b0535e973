package hparams

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Field declares one recognised key.
type Field struct {
	Key      string
	Kind     Kind
	Required bool
	Group    Group
	// Min and Max bound numeric values inclusively; MinExclusive makes the
	// lower bound strict.
	Min          *float64
	Max          *float64
	MinExclusive bool
	MaxExclusive bool
	// OneOf restricts the canonical text of the value.
	OneOf   []string
	Default Value
	Doc     string
}

// Rule checks a relation between keys. It returns nil when the keys it needs
// are absent or mistyped; those are reported by the field checks.
type Rule func(d *Document) error

// Schema is an externally supplied declaration of recognised keys.
type Schema struct {
	Fields []Field
	Rules  []Rule
	// Strict reports keys the schema does not declare.
	Strict bool
}

// Limit returns a pointer to v for Field bounds.
func Limit(v float64) *float64 { return &v }

// Field returns the declaration for key.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks d against s and returns every violation: field checks in
// schema order, then unknown keys in document order, then rule violations.
// The elements are *MissingKeyError, *TypeMismatchError or *ValidationError.
func (d *Document) Validate(s Schema) []error {
	var errs []error
	declared := make(map[string]struct{}, len(s.Fields))

	for _, f := range s.Fields {
		declared[f.Key] = struct{}{}
		entry, ok := d.Lookup(f.Key)
		if !ok {
			if f.Required {
				errs = append(errs, &MissingKeyError{Key: f.Key})
			}
			continue
		}
		if err := f.check(entry.Value); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Strict {
		for _, e := range d.entries {
			if _, ok := declared[e.Key]; !ok {
				errs = append(errs, &ValidationError{Key: e.Key, Reason: "unknown key"})
			}
		}
	}

	for _, rule := range s.Rules {
		if err := rule(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Check validates d against s and combines all violations into one error.
// multierr.Errors splits the result back into its parts.
func Check(d *Document, s Schema) error {
	return multierr.Combine(d.Validate(s)...)
}

func (f Field) check(raw Value) error {
	v, ok := raw.Coerce(f.Kind)
	if !ok {
		return &TypeMismatchError{Key: f.Key, Want: f.Kind, Got: raw.Kind(), Value: raw.String()}
	}

	if f.Kind == KindInt || f.Kind == KindFloat {
		n := v.Float()
		if math.IsNaN(n) && (f.Min != nil || f.Max != nil) {
			return &ValidationError{Key: f.Key, Value: v.String(), Reason: "must be " + f.bounds()}
		}
		if f.Min != nil && (n < *f.Min || (f.MinExclusive && n == *f.Min)) {
			return &ValidationError{Key: f.Key, Value: v.String(), Reason: "must be " + f.bounds()}
		}
		if f.Max != nil && (n > *f.Max || (f.MaxExclusive && n == *f.Max)) {
			return &ValidationError{Key: f.Key, Value: v.String(), Reason: "must be " + f.bounds()}
		}
	}

	if len(f.OneOf) > 0 && !slices.Contains(f.OneOf, v.String()) {
		return &ValidationError{
			Key:    f.Key,
			Value:  v.String(),
			Reason: fmt.Sprintf("must be one of {%s}", strings.Join(f.OneOf, ", ")),
		}
	}
	return nil
}

func (f Field) bounds() string {
	num := func(p *float64) string { return strconv.FormatFloat(*p, 'g', -1, 64) }
	switch {
	case f.Min != nil && f.Max != nil:
		lo, hi := "[", "]"
		if f.MinExclusive {
			lo = "("
		}
		if f.MaxExclusive {
			hi = ")"
		}
		return fmt.Sprintf("in %s%s, %s%s", lo, num(f.Min), num(f.Max), hi)
	case f.Min != nil:
		if f.MinExclusive {
			return "> " + num(f.Min)
		}
		return ">= " + num(f.Min)
	case f.Max != nil:
		if f.MaxExclusive {
			return "< " + num(f.Max)
		}
		return "<= " + num(f.Max)
	}
	return "within bounds"
}
