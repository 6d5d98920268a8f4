package wsevent

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is the cause of a MalformedMessage error for input that
// is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// EventType returns the type field of a raw message without decoding the
// rest of it. It fails with a MalformedMessage *Error when the input is not
// a JSON object or the type field is missing, not a string, or empty.
func EventType(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", &Error{Kind: MalformedMessage, Detail: ErrInvalidJSON.Error(), Err: ErrInvalidJSON}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return "", malformed("message must be a JSON object")
	}

	t := root.Get("type")
	switch {
	case !t.Exists():
		return "", malformed("missing type field")
	case t.Type != gjson.String:
		return "", malformed("type field must be a string")
	case t.Str == "":
		return "", malformed("type field must not be empty")
	}
	return t.Str, nil
}
