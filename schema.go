package wsevent

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Kind is the JSON type a field accepts.
type Kind uint8

const (
	KindAny Kind = iota
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindObject
	KindArray
)

var kindNames = [...]string{
	KindAny:     "any",
	KindString:  "string",
	KindInteger: "integer",
	KindNumber:  "number",
	KindBoolean: "boolean",
	KindObject:  "object",
	KindArray:   "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Field declares one member of a message.
//
// A field without a default is required. Object fields with a non-nil
// Fields slice are validated member by member and reject undeclared
// members unless Open is set; a nil Fields slice accepts any object.
// Array fields validate each element against Elem when it is set.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool

	// Default is the JSON encoding of the value used when the field is
	// absent. A nil Default makes the field required.
	Default json.RawMessage

	Fields []Field
	Open   bool
	Elem   *Field

	err error
}

// Required declares a field that must be present.
func Required(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind}
}

// Optional declares a field that falls back to def when absent.
func Optional(name string, kind Kind, def any) Field {
	return Required(name, kind).WithDefault(def)
}

// Object declares a required object field whose members are validated
// against fields. Undeclared members are rejected.
func Object(name string, fields ...Field) Field {
	if fields == nil {
		fields = []Field{}
	}
	return Field{Name: name, Kind: KindObject, Fields: fields}
}

// ArrayOf declares a required array field whose elements must satisfy elem.
// The element's name is ignored.
func ArrayOf(name string, elem Field) Field {
	return Field{Name: name, Kind: KindArray, Elem: &elem}
}

// WithDefault returns a copy of f that is optional with the given default.
func (f Field) WithDefault(def any) Field {
	raw, err := json.Marshal(def)
	if err != nil {
		f.err = fmt.Errorf("field %q: encode default: %w", f.Name, err)
		return f
	}
	f.Default = raw
	return f
}

// OrNull returns a copy of f that accepts JSON null.
func (f Field) OrNull() Field {
	f.Nullable = true
	return f
}

// Required reports whether the field must be present in a message.
func (f Field) Required() bool { return f.Default == nil }

// Schema is the closed structural contract for one event type: a type
// field fixed to the event name plus the declared fields.
//
// Schemas are immutable once built and safe for concurrent use.
type Schema struct {
	event  string
	fields []Field
	open   bool

	// scalar names the field that wraps non-object handler results.
	scalar string

	// rest is the struct field index receiving undeclared members when the
	// schema was derived from a type with a Payload field.
	rest []int
	// whole is set when the derived type is Payload itself.
	whole bool
}

// NewSchema builds a closed schema for event from the declared fields.
//
// It fails when the event name is empty, a field is named "type" or
// declared twice, a kind is unknown, or a default does not satisfy its
// field. When exactly one field is declared, handler results that are not
// JSON objects are wrapped under that field's name.
func NewSchema(event string, fields ...Field) (*Schema, error) {
	if event == "" {
		return nil, invalidSchema(event, "event name must not be empty")
	}
	if err := checkFields(event, nil, fields); err != nil {
		return nil, err
	}
	s := &Schema{event: event, fields: slices.Clone(fields)}
	if len(fields) == 1 {
		s.scalar = fields[0].Name
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Use it for
// package-level schema declarations.
func MustSchema(event string, fields ...Field) *Schema {
	s, err := NewSchema(event, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// fallbackSchema accepts any object carrying a type, and wraps scalar
// results under the event name.
func fallbackSchema(event string) *Schema {
	return &Schema{event: event, open: true, scalar: event}
}

// Event returns the literal value of the schema's type field.
func (s *Schema) Event() string { return s.event }

// Fields returns a copy of the declared fields.
func (s *Schema) Fields() []Field { return slices.Clone(s.fields) }

// IsOpen reports whether undeclared fields are accepted.
func (s *Schema) IsOpen() bool { return s.open }

// Open returns a copy of s that accepts undeclared fields.
func (s *Schema) Open() *Schema {
	c := *s
	c.open = true
	return &c
}

// WithScalar returns a copy of s that wraps non-object handler results
// under the named field.
func (s *Schema) WithScalar(field string) *Schema {
	c := *s
	c.scalar = field
	return &c
}

func (s *Schema) field(name string) *Field {
	return lookupField(s.fields, name)
}

func lookupField(fields []Field, name string) *Field {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

func checkFields(event string, loc []any, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.err != nil {
			return invalidSchema(event, "%w", f.err)
		}
		if f.Name == "" {
			return invalidSchema(event, "field %d at %v has no name", i, loc)
		}
		if len(loc) == 0 && f.Name == "type" {
			return invalidSchema(event, "field name %q is reserved", f.Name)
		}
		if seen[f.Name] {
			return invalidSchema(event, "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if err := checkField(event, at(loc, f.Name), f); err != nil {
			return err
		}
	}
	return nil
}

func checkField(event string, loc []any, f *Field) error {
	if int(f.Kind) >= len(kindNames) {
		return invalidSchema(event, "field %v: unknown kind %d", loc, f.Kind)
	}
	switch f.Kind {
	case KindObject:
		if f.Fields != nil {
			if err := checkFields(event, loc, f.Fields); err != nil {
				return err
			}
		}
	case KindArray:
		if f.Elem != nil {
			if f.Elem.err != nil {
				return invalidSchema(event, "%w", f.Elem.err)
			}
			if err := checkField(event, at(loc, "[]"), f.Elem); err != nil {
				return err
			}
		}
	}
	if f.Default != nil {
		var errs FieldErrors
		validateValue(f, parseRaw(f.Default), loc, &errs)
		if len(errs) > 0 {
			return invalidSchema(event, "field %v: default %s: %s", loc, f.Default, errs[0].Msg)
		}
	}
	return nil
}

// at returns a new location path with elem appended.
func at(loc []any, elem any) []any {
	out := make([]any, len(loc), len(loc)+1)
	copy(out, loc)
	return append(out, elem)
}
