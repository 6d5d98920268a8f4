package wsevent

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Payload collects message fields that a handler did not declare.
//
// A handler whose input type is Payload receives every field except type.
// A struct input with a Payload field receives its declared fields as usual
// and the undeclared ones in that field; such a handler opts out of
// extra-field rejection.
//
//	type ChatIn struct {
//	    Room  string          `json:"room"`
//	    Extra wsevent.Payload `json:"-"`
//	}
type Payload map[string]json.RawMessage

// Decode unmarshals the member key into v. It returns false if the member
// is absent.
func (p Payload) Decode(key string, v any) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

var (
	payloadType         = reflect.TypeFor[Payload]()
	rawMessageType      = reflect.TypeFor[json.RawMessage]()
	numberType          = reflect.TypeFor[json.Number]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()
)

// SchemaOf derives a schema for event from the Go type T.
//
// T must be a struct, a pointer to a struct, Payload, or a map (open, no
// declared fields). Map keys follow encoding/json: strings, integers, or
// types implementing encoding.TextUnmarshaler. Exported struct fields map to message
// fields by their json name. A field is optional when its json tag has
// omitempty, when it is a pointer, or when it carries a default tag:
//
//	type SendIn struct {
//	    Text   string   `json:"text"`
//	    Room   string   `json:"room" default:"lobby"`
//	    Notify *bool    `json:"notify"`
//	    Tags   []string `json:"tags,omitempty"`
//	}
//
// A field whose json name is "type" is not a declared field: its default
// tag, if any, replaces event as the literal for responses built from T.
func SchemaOf[T any](event string) (*Schema, error) {
	return schemaFromType(event, reflect.TypeFor[T](), true)
}

// schemaFromType derives a schema from t. The default tag of a "type"
// field is honored only when literal is set; request schemas must keep the
// event they are registered under.
func schemaFromType(event string, t reflect.Type, literal bool) (*Schema, error) {
	if event == "" {
		return nil, invalidSchema(event, "event name must not be empty")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch {
	case t == payloadType:
		return &Schema{event: event, open: true, whole: true, scalar: event}, nil
	case t.Kind() == reflect.Map && objectKey(t.Key()),
		t.Kind() == reflect.Interface:
		return &Schema{event: event, open: true, scalar: event}, nil
	case t.Kind() != reflect.Struct:
		return nil, invalidSchema(event, "type %s must be a struct", t)
	}

	s := &Schema{event: event}
	d := deriver{event: event, literal: literal, visiting: map[reflect.Type]bool{t: true}}
	fields, err := d.structFields(t, nil, s)
	if err != nil {
		return nil, err
	}
	if err := checkFields(event, nil, fields); err != nil {
		return nil, err
	}
	s.fields = fields
	if len(fields) == 1 {
		s.scalar = fields[0].Name
	}
	return s, nil
}

type deriver struct {
	event    string
	literal  bool
	visiting map[reflect.Type]bool
}

// structFields lists the message fields of struct type t. When top is
// non-nil, t is the top-level type and the Payload field index and type
// literal are recorded on top.
func (d *deriver) structFields(t reflect.Type, index []int, top *Schema) ([]Field, error) {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		idx := append(append([]int(nil), index...), i)

		name, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			if top != nil && sf.Type == payloadType {
				top.rest, top.open = idx, true
			}
			continue
		}
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}

		if sf.Anonymous && name == "" {
			et := sf.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				embedded, err := d.structFields(et, idx, top)
				if err != nil {
					return nil, err
				}
				fields = append(fields, embedded...)
				continue
			}
			if !sf.IsExported() {
				continue
			}
		}

		if sf.Type == payloadType {
			if top == nil {
				return nil, invalidSchema(d.event, "field %s: Payload is only allowed at the top level", sf.Name)
			}
			top.rest, top.open = idx, true
			continue
		}

		if name == "" {
			name = sf.Name
		}
		if name == "type" {
			if top != nil && d.literal {
				if lit := sf.Tag.Get("default"); lit != "" {
					top.event = lit
				}
			}
			continue
		}

		f, err := d.field(name, sf.Type)
		if err != nil {
			return nil, err
		}
		if def, ok := sf.Tag.Lookup("default"); ok {
			raw, err := parseDefault(f.Kind, def)
			if err != nil {
				return nil, invalidSchema(d.event, "field %s: default %q: %w", name, def, err)
			}
			f.Default = raw
		} else if f.Default == nil && (sf.Type.Kind() == reflect.Pointer || hasOpt(opts, "omitempty")) {
			f.Default = json.RawMessage("null")
			f.Nullable = true
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (d *deriver) field(name string, t reflect.Type) (Field, error) {
	f := Field{Name: name}
	if t.Kind() == reflect.Pointer {
		f.Nullable = true
		t = t.Elem()
	}

	switch {
	case t == rawMessageType:
		f.Kind = KindAny
		return f, nil
	case t == numberType:
		f.Kind = KindNumber
		return f, nil
	case reflect.PointerTo(t).Implements(textUnmarshalerType):
		// time.Time and friends decode from strings.
		f.Kind = KindString
		return f, nil
	case reflect.PointerTo(t).Implements(jsonUnmarshalerType):
		f.Kind = KindAny
		return f, nil
	}

	switch t.Kind() {
	case reflect.String:
		f.Kind = KindString
	case reflect.Bool:
		f.Kind = KindBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.Kind = KindInteger
	case reflect.Float32, reflect.Float64:
		f.Kind = KindNumber
	case reflect.Interface:
		f.Kind = KindAny
	case reflect.Map:
		if !objectKey(t.Key()) {
			return f, invalidSchema(d.event, "field %s: unsupported map key %s", name, t.Key())
		}
		f.Kind = KindObject
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			// []byte is base64 text.
			f.Kind = KindString
			break
		}
		f.Kind = KindArray
		elem, err := d.field(name, t.Elem())
		if err != nil {
			return f, err
		}
		f.Elem = &elem
		f.Nullable = f.Nullable || t.Kind() == reflect.Slice
	case reflect.Struct:
		f.Kind = KindObject
		if d.visiting[t] {
			// Recursive type: accept any object below this point.
			break
		}
		d.visiting[t] = true
		nested, err := d.structFields(t, nil, nil)
		delete(d.visiting, t)
		if err != nil {
			return f, err
		}
		if nested == nil {
			nested = []Field{}
		}
		f.Fields = nested
	default:
		return f, invalidSchema(d.event, "field %s: unsupported type %s", name, t)
	}
	return f, nil
}

// objectKey reports whether encoding/json can decode object member names
// into map keys of type t.
func objectKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return reflect.PointerTo(t).Implements(textUnmarshalerType)
}

// parseDefault converts a default tag to JSON. String fields take the tag
// verbatim; every other kind takes a JSON literal.
func parseDefault(kind Kind, tag string) (json.RawMessage, error) {
	if kind == KindString {
		return mustMarshal(tag), nil
	}
	if !json.Valid([]byte(tag)) {
		return nil, fmt.Errorf("not a JSON literal")
	}
	return json.RawMessage(tag), nil
}

func hasOpt(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}
