package config

import (
	"encoding/json"
	"fmt"
	"sort"

	rterrors "ocirt/errors"
)

// Vocabulary is the closed set of spellings accepted for one enumerated
// field. Matching is exact and case-sensitive. A value may have several
// spellings; the first one registered is its canonical name.
type Vocabulary[T comparable] struct {
	field  string
	values map[string]T
	names  map[T]string
	order  []string
}

// Term is one accepted spelling of a vocabulary value.
type Term[T comparable] struct {
	Name  string
	Value T
}

// NewVocabulary builds a vocabulary for the named field.
func NewVocabulary[T comparable](field string, terms ...Term[T]) *Vocabulary[T] {
	v := &Vocabulary[T]{
		field:  field,
		values: make(map[string]T, len(terms)),
		names:  make(map[T]string, len(terms)),
	}
	for _, t := range terms {
		if _, dup := v.values[t.Name]; dup {
			panic(fmt.Sprintf("config: duplicate %s term %q", field, t.Name))
		}
		v.values[t.Name] = t.Value
		if _, ok := v.names[t.Value]; !ok {
			v.names[t.Value] = t.Name
		}
		v.order = append(v.order, t.Name)
	}
	return v
}

// Field returns the field name used in error messages.
func (v *Vocabulary[T]) Field() string { return v.field }

// Lookup returns the value spelled s.
func (v *Vocabulary[T]) Lookup(s string) (T, bool) {
	val, ok := v.values[s]
	return val, ok
}

// Parse returns the value spelled s, or an InvalidValue error naming the
// field and every accepted spelling.
func (v *Vocabulary[T]) Parse(s string) (T, error) {
	val, ok := v.values[s]
	if !ok {
		return val, rterrors.InvalidValue(v.field, s, v.Names())
	}
	return val, nil
}

// Name returns the canonical spelling of val.
func (v *Vocabulary[T]) Name(val T) (string, bool) {
	name, ok := v.names[val]
	return name, ok
}

// Names returns every accepted spelling, sorted.
func (v *Vocabulary[T]) Names() []string {
	out := append([]string(nil), v.order...)
	sort.Strings(out)
	return out
}

// Values returns each distinct value once, in registration order.
func (v *Vocabulary[T]) Values() []T {
	seen := make(map[T]bool, len(v.names))
	out := make([]T, 0, len(v.names))
	for _, name := range v.order {
		val := v.values[name]
		if !seen[val] {
			seen[val] = true
			out = append(out, val)
		}
	}
	return out
}

func (v *Vocabulary[T]) decode(data []byte, dst *T) error {
	s, err := decodeString(v.field, data)
	if err != nil {
		return err
	}
	val, err := v.Parse(s)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func (v *Vocabulary[T]) encode(val T) ([]byte, error) {
	name, ok := v.names[val]
	if !ok {
		return nil, fmt.Errorf("config: %v has no %s spelling", val, v.field)
	}
	return json.Marshal(name)
}

func decodeString(field string, data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", rterrors.Malformed(field+" must be a string", err)
	}
	return s, nil
}
