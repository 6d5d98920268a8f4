package wsevent

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Validate checks a raw message against the schema.
//
// On success it returns the message's fields with defaults applied and the
// type field removed. Undeclared fields are included only when the schema
// is open. On failure it returns an *Error of kind ValidationError whose
// Detail is a FieldErrors list.
func (s *Schema) Validate(raw []byte) (map[string]json.RawMessage, error) {
	if !gjson.ValidBytes(raw) {
		return nil, malformed("invalid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, malformed("message must be a JSON object")
	}

	var errs FieldErrors
	typ := root.Get("type")
	switch {
	case !typ.Exists():
		errs.add([]any{"type"}, "field required", "value_error.missing")
	case typ.Type != gjson.String || typ.Str != s.event:
		errs.add([]any{"type"}, "unexpected value; permitted: '"+s.event+"'", "value_error.const")
	}

	fields := validateObject(root, s.fields, s.open, nil, "type", &errs)
	if len(errs) > 0 {
		return nil, &Error{Kind: ValidationError, Event: s.event, Detail: errs, Err: errs}
	}
	return fields, nil
}

// shape validates a handler result as a response. Unlike Validate, the type
// field accepts any string and is injected from the schema when missing.
// Errors are located under "response".
func (s *Schema) shape(result gjson.Result) (map[string]json.RawMessage, FieldErrors) {
	var errs FieldErrors
	loc := []any{"response"}

	fields := validateObject(result, s.fields, s.open, loc, "type", &errs)
	typ := result.Get("type")
	switch {
	case !typ.Exists() || typ.Type == gjson.Null || (typ.Type == gjson.String && typ.Str == ""):
		fields["type"] = mustMarshal(s.event)
	case typ.Type != gjson.String:
		errs.add(at(loc, "type"), "str type expected", "type_error.str")
	default:
		fields["type"] = json.RawMessage(typ.Raw)
	}
	return fields, errs
}

func validateObject(obj gjson.Result, fields []Field, open bool, loc []any, skip string, errs *FieldErrors) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	seen := make(map[string]bool, len(fields))

	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if skip != "" && name == skip {
			return true
		}
		f := lookupField(fields, name)
		if f == nil {
			if open {
				out[name] = json.RawMessage(value.Raw)
			} else {
				errs.add(at(loc, name), "extra fields not permitted", "value_error.extra")
			}
			return true
		}
		seen[name] = true
		if v, ok := validateValue(f, value, at(loc, name), errs); ok {
			out[name] = v
		}
		return true
	})

	for i := range fields {
		f := &fields[i]
		if seen[f.Name] {
			continue
		}
		if f.Default != nil {
			out[f.Name] = f.Default
			continue
		}
		errs.add(at(loc, f.Name), "field required", "value_error.missing")
	}
	return out
}

func validateValue(f *Field, v gjson.Result, loc []any, errs *FieldErrors) (json.RawMessage, bool) {
	if v.Type == gjson.Null {
		if f.Nullable || f.Kind == KindAny {
			return json.RawMessage("null"), true
		}
		errs.add(loc, "none is not an allowed value", "type_error.none.not_allowed")
		return nil, false
	}

	switch f.Kind {
	case KindString:
		if v.Type != gjson.String {
			errs.add(loc, "str type expected", "type_error.str")
			return nil, false
		}
	case KindInteger:
		if v.Type != gjson.Number || strings.ContainsAny(v.Raw, ".eE") {
			errs.add(loc, "value is not a valid integer", "type_error.integer")
			return nil, false
		}
	case KindNumber:
		if v.Type != gjson.Number {
			errs.add(loc, "value is not a valid float", "type_error.float")
			return nil, false
		}
	case KindBoolean:
		if v.Type != gjson.True && v.Type != gjson.False {
			errs.add(loc, "value could not be parsed to a boolean", "type_error.bool")
			return nil, false
		}
	case KindObject:
		if !v.IsObject() {
			errs.add(loc, "value is not a valid dict", "type_error.dict")
			return nil, false
		}
		if f.Fields != nil {
			before := len(*errs)
			members := validateObject(v, f.Fields, f.Open, loc, "", errs)
			if len(*errs) > before {
				return nil, false
			}
			return mustMarshal(members), true
		}
	case KindArray:
		if !v.IsArray() {
			errs.add(loc, "value is not a valid list", "type_error.list")
			return nil, false
		}
		if f.Elem != nil {
			before := len(*errs)
			elems := v.Array()
			out := make([]json.RawMessage, 0, len(elems))
			for i, e := range elems {
				if ev, ok := validateValue(f.Elem, e, at(loc, i), errs); ok {
					out = append(out, ev)
				}
			}
			if len(*errs) > before {
				return nil, false
			}
			return mustMarshal(out), true
		}
	}
	return json.RawMessage(v.Raw), true
}

func parseRaw(raw json.RawMessage) gjson.Result {
	return gjson.ParseBytes(raw)
}

// mustMarshal encodes values that are already known to be valid JSON.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("wsevent: marshal: " + err.Error())
	}
	return b
}
