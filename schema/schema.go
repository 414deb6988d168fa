// Package schema validates the data submitted to a flow.
//
// A flow type names its state schema; the registry resolves that name to
// a Schema at call time. Struct[T] adapts any Go struct: raw input is
// decoded over the struct's defaults, an optional Check hook runs, and the
// validated value is rendered back to its JSON shape.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/graflow/serde"
)

// Schema is the type-erased validation capability held by the registry.
type Schema interface {
	// Name identifies the schema in logs and errors.
	Name() string

	// Validate checks raw input and returns its normalized JSON shape.
	Validate(raw map[string]any) (map[string]any, error)
}

// Codec is the typed counterpart of Schema.
type Codec[T any] interface {
	Decode(raw map[string]any) (T, error)
	ToJSON(v T) map[string]any
}

// ValidationError reports input rejected by a schema.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: invalid input: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Struct validates input by decoding it into T.
type Struct[T any] struct {
	name     string
	defaults func() T
	check    func(T) error
}

// StructOption configures a Struct schema.
type StructOption[T any] func(*Struct[T])

// WithDefaults sets the value raw input is decoded over.
func WithDefaults[T any](fn func() T) StructOption[T] {
	return func(s *Struct[T]) { s.defaults = fn }
}

// WithCheck adds a validation hook run after decoding.
func WithCheck[T any](fn func(T) error) StructOption[T] {
	return func(s *Struct[T]) { s.check = fn }
}

// For returns a Struct schema for T.
func For[T any](name string, opts ...StructOption[T]) *Struct[T] {
	s := &Struct[T]{name: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ Schema        = (*Struct[map[string]any])(nil)
	_ Codec[string] = (*Struct[string])(nil)
)

// Name implements Schema.
func (s *Struct[T]) Name() string { return s.name }

// Decode implements Codec. Unknown fields are ignored.
func (s *Struct[T]) Decode(raw map[string]any) (T, error) {
	var v T
	if s.defaults != nil {
		v = s.defaults()
	}
	if raw != nil {
		data, err := json.Marshal(serde.Canonicalize(raw))
		if err != nil {
			return v, &ValidationError{Schema: s.name, Err: err}
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return v, &ValidationError{Schema: s.name, Err: err}
		}
	}
	if s.check != nil {
		if err := s.check(v); err != nil {
			return v, &ValidationError{Schema: s.name, Err: err}
		}
	}
	return v, nil
}

// ToJSON implements Codec.
func (s *Struct[T]) ToJSON(v T) map[string]any {
	m, err := serde.CanonicalMap(v)
	if err != nil {
		return map[string]any{}
	}
	return m
}

// Validate implements Schema.
func (s *Struct[T]) Validate(raw map[string]any) (map[string]any, error) {
	v, err := s.Decode(raw)
	if err != nil {
		return nil, err
	}
	return s.ToJSON(v), nil
}

// Passthrough accepts any object unchanged apart from canonicalization.
type Passthrough struct{}

// Name implements Schema.
func (Passthrough) Name() string { return "passthrough" }

// Validate implements Schema.
func (Passthrough) Validate(raw map[string]any) (map[string]any, error) {
	return serde.CanonicalMap(raw)
}
