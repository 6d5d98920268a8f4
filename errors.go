package wsevent

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// ErrorKind classifies a dispatch failure. The string value is what clients
// receive in the error_type field of an error message.
type ErrorKind string

const (
	// MalformedMessage means the input is not a JSON object or lacks a
	// usable string type field.
	MalformedMessage ErrorKind = "MalformedMessage"

	// DuplicateEvent means two handlers were registered for one event type.
	// It only ever occurs at registration time.
	DuplicateEvent ErrorKind = "DuplicateEvent"

	// UnknownEvent means no handler is registered for the message type.
	UnknownEvent ErrorKind = "UnknownEvent"

	// ValidationError means the message failed its request schema.
	ValidationError ErrorKind = "ValidationError"

	// HandlerError means the handler itself returned an error or panicked.
	HandlerError ErrorKind = "HandlerError"

	// ResponseValidationError means the handler's result failed its response
	// schema. This is a server-side defect, not a client fault.
	ResponseValidationError ErrorKind = "ResponseValidationError"

	// InvalidSchema means a schema or handler declaration is malformed.
	// Like DuplicateEvent it is reported at registration time.
	InvalidSchema ErrorKind = "InvalidSchema"
)

// ServerFault reports whether errors of this kind are caused by the server
// rather than by the client's input.
func (k ErrorKind) ServerFault() bool {
	return k == HandlerError || k == ResponseValidationError
}

// Sentinel errors for use with errors.Is. Any *Error of the same kind
// matches, regardless of event or detail.
var (
	ErrMalformedMessage   = &Error{Kind: MalformedMessage}
	ErrDuplicateEvent     = &Error{Kind: DuplicateEvent}
	ErrUnknownEvent       = &Error{Kind: UnknownEvent}
	ErrValidation         = &Error{Kind: ValidationError}
	ErrHandler            = &Error{Kind: HandlerError}
	ErrResponseValidation = &Error{Kind: ResponseValidationError}
	ErrInvalidSchema      = &Error{Kind: InvalidSchema}
)

// Error is the single error type produced by registration and dispatch.
//
// Detail holds the client-safe description sent in the error message: a
// FieldErrors list for validation failures, a string otherwise. Err holds
// the underlying cause, which for handler failures may contain internal
// information and is never sent to the client.
type Error struct {
	Kind   ErrorKind
	Event  string
	Detail any
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Event != "" {
		fmt.Fprintf(&b, " %q", e.Event)
	}
	switch {
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Detail != nil:
		fmt.Fprintf(&b, ": %v", e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target with an Event set
// additionally requires the event to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Event == "" || t.Event == e.Event
}

// KindOf returns the ErrorKind of err, or HandlerError if err is not an
// *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return HandlerError
}

// FieldError describes one failed field check. Loc is the path to the field:
// names for object members and indexes for array elements.
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// FieldErrors is the detail of ValidationError and ResponseValidationError.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, f := range fe {
		loc := make([]string, len(f.Loc))
		for i, l := range f.Loc {
			loc[i] = fmt.Sprint(l)
		}
		parts = append(parts, strings.Join(loc, ".")+": "+f.Msg)
	}
	return strings.Join(parts, "; ")
}

func (fe *FieldErrors) add(loc []any, msg, typ string) {
	*fe = append(*fe, FieldError{Loc: loc, Msg: msg, Type: typ})
}

// Public marks a handler error as safe to show to clients. Without it a
// failing handler produces a generic HandlerError detail.
//
//	if room == nil {
//	    return nil, wsevent.Public(fmt.Errorf("room %q not found", name))
//	}
func Public(err error) error {
	if err == nil {
		return nil
	}
	return &publicError{err: err}
}

// PublicErrorf is shorthand for Public(fmt.Errorf(format, args...)).
func PublicErrorf(format string, args ...any) error {
	return &publicError{err: fmt.Errorf(format, args...)}
}

type publicError struct {
	err error
}

func (e *publicError) Error() string { return e.err.Error() }
func (e *publicError) Unwrap() error { return e.err }

// panicError carries a recovered handler panic and its stack.
type panicError struct {
	value any
	stack []byte
}

func newPanicError(v any) *panicError {
	return &panicError{value: v, stack: debug.Stack()}
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.value) }

func malformed(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: MalformedMessage, Detail: msg, Err: errors.New(msg)}
}

func invalidSchema(event string, format string, args ...any) *Error {
	return &Error{Kind: InvalidSchema, Event: event, Err: fmt.Errorf(format, args...)}
}

// handlerFailure wraps an error returned by a handler, exposing only a safe
// summary unless the handler marked it public.
func handlerFailure(event string, err error) *Error {
	detail := "internal error"
	var pub *publicError
	if errors.As(err, &pub) {
		detail = pub.err.Error()
	}
	return &Error{Kind: HandlerError, Event: event, Detail: detail, Err: err}
}
