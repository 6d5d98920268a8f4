package wsevent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Dispatch runs one raw message through the handler pipeline and returns
// the encoded reply, or nil when the handler does not reply.
//
// The processing flow:
//  1. Read the type field; a non-object or missing type is MalformedMessage
//  2. Look up the handler; a miss is UnknownEvent
//  3. Validate the message against the request schema (ValidationError)
//  4. Decode the fields into the handler input by name and call the
//     handler; an error or panic is HandlerError
//  5. Shape the result with the response schema, injecting the type field
//     when absent (ResponseValidationError on mismatch)
//
// All failures are returned as *Error. Dispatch does not write anything;
// Serve uses it to drive a connection.
func (r *Router[S]) Dispatch(ctx context.Context, state S, raw []byte) (json.RawMessage, error) {
	b, err := r.route(raw)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, state, raw)
}

func (r *Router[S]) route(raw []byte) (*binding[S], error) {
	event, err := EventType(raw)
	if err != nil {
		return nil, err
	}
	b, ok := r.bindings[event]
	if !ok {
		return nil, &Error{
			Kind:   UnknownEvent,
			Event:  event,
			Detail: map[string]string{"msg": "unknown event", "event": event},
		}
	}
	return b, nil
}

func (b *binding[S]) run(ctx context.Context, state S, raw []byte) (json.RawMessage, error) {
	fields, err := b.request.Validate(raw)
	if err != nil {
		return nil, err
	}
	in, err := b.decode(fields)
	if err != nil {
		return nil, err
	}

	out, err := b.invoke(ctx, state, in)
	if err != nil {
		return nil, handlerFailure(b.event, err)
	}
	if b.noReply {
		return nil, nil
	}
	return b.respond(out)
}

// respond turns a handler result into an outbound message.
func (b *binding[S]) respond(out any) (json.RawMessage, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		errs := FieldErrors{{Loc: []any{"response"}, Msg: err.Error(), Type: "type_error.json"}}
		return nil, &Error{Kind: ResponseValidationError, Event: b.event, Detail: errs, Err: err}
	}

	result := gjson.ParseBytes(raw)
	switch {
	case result.Type == gjson.Null:
		if !b.explicit {
			// Nothing to say: acknowledge with the type alone.
			return mustMarshal(map[string]string{"type": b.response.event}), nil
		}
		result = gjson.Parse("{}")
	case !result.IsObject():
		if b.response.scalar == "" {
			errs := FieldErrors{{Loc: []any{"response"}, Msg: "value is not a valid dict", Type: "type_error.dict"}}
			return nil, &Error{Kind: ResponseValidationError, Event: b.event, Detail: errs, Err: errs}
		}
		wrapped := mustMarshal(map[string]json.RawMessage{b.response.scalar: raw})
		result = gjson.ParseBytes(wrapped)
	}

	fields, errs := b.response.shape(result)
	if len(errs) > 0 {
		return nil, &Error{Kind: ResponseValidationError, Event: b.event, Detail: errs, Err: errs}
	}
	return mustMarshal(fields), nil
}

// encodeEvent builds an outbound message of the given type from an
// arbitrary payload. Object payloads are merged with the type field, which
// they may not override; other values are wrapped under the event name.
func encodeEvent(event string, payload any) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		v := gjson.ParseBytes(raw)
		switch {
		case v.IsObject():
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, err
			}
		case v.Type != gjson.Null:
			fields[event] = raw
		}
	}
	fields["type"] = mustMarshal(event)
	return mustMarshal(fields), nil
}

// errorMessage is the wire form of a failed message.
type errorMessage struct {
	Type      string    `json:"type"`
	ErrorType ErrorKind `json:"error_type"`
	Detail    any       `json:"detail"`
}

func (r *Router[S]) encodeError(err error) json.RawMessage {
	msg := errorMessage{Type: r.opts.errorEvent, ErrorType: HandlerError, Detail: "internal error"}
	var e *Error
	if errors.As(err, &e) {
		msg.ErrorType = e.Kind
		if e.Detail != nil {
			msg.Detail = e.Detail
		}
	}
	raw, mErr := json.Marshal(msg)
	if mErr != nil {
		msg.Detail = "internal error"
		raw = mustMarshal(msg)
	}
	return raw
}
