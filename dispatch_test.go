package wsevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageIn struct {
	Message string `json:"message"`
}

func onMessage(ctx context.Context, s *state, in messageIn) (string, error) {
	s.calls++
	return in.Message, nil
}

// Extras is exported so encoding/json can allocate it when embedded by
// pointer.
type Extras struct {
	Extra Payload `json:"-"`
}

type roomIn struct {
	*Extras
	Room string `json:"room"`
}

func dispatch(t *testing.T, r *Router[*state], raw string) (json.RawMessage, error) {
	t.Helper()
	return r.Dispatch(context.Background(), &state{}, []byte(raw))
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestDispatch_MessageScenario(t *testing.T) {
	r := New[*state]()
	Must(RegisterFunc(r, onMessage))

	t.Run("valid message", func(t *testing.T) {
		s := &state{}
		reply, err := r.Dispatch(context.Background(), s, []byte(`{"type": "message", "message": "hi"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "message", "message": "hi"}`, string(reply))
		assert.Equal(t, 1, s.calls)
	})

	t.Run("extra field", func(t *testing.T) {
		_, err := dispatch(t, r, `{"type": "message", "message": "hi", "extra": 1}`)
		e := requireKind(t, err, ValidationError)
		assert.Equal(t, FieldErrors{{Loc: []any{"extra"}, Msg: "extra fields not permitted", Type: "value_error.extra"}}, e.Detail)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := dispatch(t, r, `{"type": "message"}`)
		e := requireKind(t, err, ValidationError)
		assert.Equal(t, FieldErrors{{Loc: []any{"message"}, Msg: "field required", Type: "value_error.missing"}}, e.Detail)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := dispatch(t, r, `{"type": "ping"}`)
		e := requireKind(t, err, UnknownEvent)
		assert.Equal(t, "ping", e.Event)
		assert.Equal(t, map[string]string{"msg": "unknown event", "event": "ping"}, e.Detail)

		reply, err := dispatch(t, r, `{"type": "message", "message": "after"}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "message", "message": "after"}`, string(reply))
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{`nope`, `[]`, `{"message": "hi"}`, `{"type": 1}`, `{"type": ""}`} {
			_, err := dispatch(t, r, raw)
			requireKind(t, err, MalformedMessage)
		}
	})
}

func TestDispatch_Input(t *testing.T) {
	t.Run("decodes nested values and defaults", func(t *testing.T) {
		type item struct {
			SKU string `json:"sku"`
			Qty int    `json:"qty" default:"1"`
		}
		type orderIn struct {
			Items []item `json:"items"`
			Note  string `json:"note" default:"none"`
			Rush  *bool  `json:"rush"`
		}

		var got orderIn
		r := New[*state]()
		Must(RegisterProcFunc(r, func(ctx context.Context, s *state, in orderIn) error {
			got = in
			return nil
		}, Event("order")))

		reply, err := dispatch(t, r, `{"type": "order", "items": [{"sku": "a"}, {"sku": "b", "qty": 3}]}`)
		require.NoError(t, err)
		assert.Nil(t, reply)
		assert.Equal(t, orderIn{Items: []item{{SKU: "a", Qty: 1}, {SKU: "b", Qty: 3}}, Note: "none"}, got)
	})

	t.Run("out of range number", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterFunc(r, func(ctx context.Context, s *state, in struct {
			N int8 `json:"n"`
		}) (int8, error) {
			return in.N, nil
		}, Event("small")))

		_, err := dispatch(t, r, `{"type": "small", "n": 300}`)
		requireKind(t, err, ValidationError)
	})

	t.Run("payload receives everything", func(t *testing.T) {
		var got Payload
		r := New[*state]()
		Must(RegisterProcFunc(r, func(ctx context.Context, s *state, in Payload) error {
			got = in
			return nil
		}, Event("anything")))

		_, err := dispatch(t, r, `{"type": "anything", "a": 1, "b": {"c": true}}`)
		require.NoError(t, err)
		assert.Equal(t, Payload{"a": json.RawMessage(`1`), "b": json.RawMessage(`{"c": true}`)}, got)
	})

	t.Run("payload field collects undeclared members", func(t *testing.T) {
		type chatIn struct {
			Room  string  `json:"room"`
			Extra Payload `json:"-"`
		}

		var got chatIn
		r := New[*state]()
		Must(RegisterProcFunc(r, func(ctx context.Context, s *state, in chatIn) error {
			got = in
			return nil
		}, Event("chat")))

		_, err := dispatch(t, r, `{"type": "chat", "room": "lobby", "mood": "happy"}`)
		require.NoError(t, err)
		assert.Equal(t, "lobby", got.Room)
		assert.Equal(t, Payload{"mood": json.RawMessage(`"happy"`)}, got.Extra)

		_, err = dispatch(t, r, `{"type": "chat"}`)
		requireKind(t, err, ValidationError)
	})

	t.Run("payload field behind an embedded pointer", func(t *testing.T) {
		var got roomIn
		r := New[*state]()
		Must(RegisterProcFunc(r, func(ctx context.Context, s *state, in roomIn) error {
			got = in
			return nil
		}, Event("enter")))

		require.NotPanics(t, func() {
			_, err := dispatch(t, r, `{"type": "enter", "room": "a", "foo": 1}`)
			require.NoError(t, err)
		})
		assert.Equal(t, "a", got.Room)
		require.NotNil(t, got.Extras)
		assert.Equal(t, Payload{"foo": json.RawMessage(`1`)}, got.Extra)
	})

	t.Run("json.Number fields", func(t *testing.T) {
		type amountIn struct {
			N json.Number `json:"n"`
		}
		type amountOut struct {
			N json.Number `json:"n"`
		}
		r := New[*state]()
		Must(RegisterFunc(r, func(ctx context.Context, s *state, in amountIn) (amountOut, error) {
			return amountOut{N: in.N}, nil
		}, Event("amount")))

		reply, err := dispatch(t, r, `{"type": "amount", "n": 5.25}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "amount", "n": 5.25}`, string(reply))

		_, err = dispatch(t, r, `{"type": "amount", "n": "5"}`)
		requireKind(t, err, ValidationError)
	})

	t.Run("state and context reach the handler", func(t *testing.T) {
		type key struct{}
		r := New[*state]()
		Must(RegisterFunc(r, func(ctx context.Context, s *state, in joinIn) (string, error) {
			s.name = in.Name
			return ctx.Value(key{}).(string), nil
		}, Event("who")))

		a, b := &state{}, &state{}
		ctx := context.WithValue(context.Background(), key{}, "ctx")
		reply, err := r.Dispatch(ctx, a, []byte(`{"type": "who", "name": "ada"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "who", "who": "ctx"}`, string(reply))
		_, err = r.Dispatch(ctx, b, []byte(`{"type": "who", "name": "bob"}`))
		require.NoError(t, err)

		assert.Equal(t, "ada", a.name)
		assert.Equal(t, "bob", b.name)
	})
}

func TestDispatch_Response(t *testing.T) {
	value := MustSchema("response",
		Required("value", KindInteger),
		Optional("extra_val", KindInteger, 42),
	)
	result := func(v any) func(context.Context, *state, struct{}) (any, error) {
		return func(context.Context, *state, struct{}) (any, error) { return v, nil }
	}

	tests := map[string]struct {
		result any
		opts   []HandlerOption
		want   string
	}{
		"fallback wraps scalars under the event": {
			result: 7,
			want:   `{"type": "calc", "calc": 7}`,
		},
		"fallback keeps object members": {
			result: map[string]any{"a": 1, "b": []int{2}},
			want:   `{"type": "calc", "a": 1, "b": [2]}`,
		},
		"nil result acknowledges with the type": {
			result: nil,
			want:   `{"type": "calc"}`,
		},
		"explicit schema applies defaults": {
			result: map[string]int{"value": 1},
			opts:   []HandlerOption{Response(value)},
			want:   `{"type": "response", "value": 1, "extra_val": 42}`,
		},
		"explicit schema keeps provided values": {
			result: map[string]int{"value": 1, "extra_val": 2},
			opts:   []HandlerOption{Response(value)},
			want:   `{"type": "response", "value": 1, "extra_val": 2}`,
		},
		"single field schema wraps scalars": {
			result: "12:00",
			opts:   []HandlerOption{Response(MustSchema("pong", Required("time", KindString)))},
			want:   `{"type": "pong", "time": "12:00"}`,
		},
		"explicit schema fills defaults for nil": {
			result: nil,
			opts:   []HandlerOption{Response(MustSchema("ack", Optional("ok", KindBoolean, true)))},
			want:   `{"type": "ack", "ok": true}`,
		},
		"handler overrides type": {
			result: map[string]any{"type": "custom", "value": 1},
			opts:   []HandlerOption{Response(value)},
			want:   `{"type": "custom", "value": 1, "extra_val": 42}`,
		},
		"empty type is injected": {
			result: map[string]any{"type": "", "value": 1},
			opts:   []HandlerOption{Response(value)},
			want:   `{"type": "response", "value": 1, "extra_val": 42}`,
		},
		"null type is injected": {
			result: map[string]any{"type": nil},
			want:   `{"type": "calc"}`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := New[*state]()
			opts := append([]HandlerOption{Event("calc")}, tt.opts...)
			Must(RegisterFunc(r, result(tt.result), opts...))

			reply, err := dispatch(t, r, `{"type": "calc"}`)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(reply))
		})
	}

	t.Run("explicit schema overrides inferred", func(t *testing.T) {
		h := FuncFunc[*state, struct{}, joinOut](func(context.Context, *state, struct{}) (joinOut, error) {
			return joinOut{Welcome: "hi", Count: 1}, nil
		})
		inferred, loose := New[*state](), New[*state]()
		Must(Register(inferred, h, Event("greet")))
		Must(Register(loose, h, Event("greet"), Response(MustSchema("greeting",
			Required("welcome", KindString),
			Required("count", KindInteger),
			Optional("motd", KindString, "be nice"),
		))))

		a, err := dispatch(t, inferred, `{"type": "greet"}`)
		require.NoError(t, err)
		b, err := dispatch(t, loose, `{"type": "greet"}`)
		require.NoError(t, err)

		assert.JSONEq(t, `{"type": "greet", "welcome": "hi", "count": 1}`, string(a))
		assert.JSONEq(t, `{"type": "greeting", "welcome": "hi", "count": 1, "motd": "be nice"}`, string(b))
	})

	t.Run("inferred struct literal", func(t *testing.T) {
		type savedOut struct {
			Type string `json:"type,omitempty" default:"saved"`
			ID   int    `json:"id"`
		}
		r := New[*state]()
		Must(RegisterFunc(r, func(context.Context, *state, struct{}) (*savedOut, error) {
			return &savedOut{ID: 3}, nil
		}, Event("save")))

		reply, err := dispatch(t, r, `{"type": "save"}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "saved", "id": 3}`, string(reply))
	})

	t.Run("nil struct pointer acknowledges", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterFunc(r, func(context.Context, *state, struct{}) (*joinOut, error) {
			return nil, nil
		}, Event("join")))

		reply, err := dispatch(t, r, `{"type": "join"}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "join"}`, string(reply))
	})

	t.Run("no reply", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterFunc(r, result(1), Event("quiet"), NoReply()))

		reply, err := dispatch(t, r, `{"type": "quiet"}`)
		require.NoError(t, err)
		assert.Nil(t, reply)
	})
}

func TestDispatch_ResponseValidationError(t *testing.T) {
	value := MustSchema("response", Required("value", KindInteger), Required("label", KindString))

	tests := map[string]struct {
		result any
		want   FieldErrors
	}{
		"wrong member type": {
			result: map[string]any{"value": "x", "label": "a"},
			want:   FieldErrors{{Loc: []any{"response", "value"}, Msg: "value is not a valid integer", Type: "type_error.integer"}},
		},
		"missing member": {
			result: map[string]any{"value": 1},
			want:   FieldErrors{{Loc: []any{"response", "label"}, Msg: "field required", Type: "value_error.missing"}},
		},
		"undeclared member": {
			result: map[string]any{"value": 1, "label": "a", "secret": true},
			want:   FieldErrors{{Loc: []any{"response", "secret"}, Msg: "extra fields not permitted", Type: "value_error.extra"}},
		},
		"scalar without a wrapping field": {
			result: 5,
			want:   FieldErrors{{Loc: []any{"response"}, Msg: "value is not a valid dict", Type: "type_error.dict"}},
		},
		"non-string type": {
			result: map[string]any{"type": 1, "value": 1, "label": "a"},
			want:   FieldErrors{{Loc: []any{"response", "type"}, Msg: "str type expected", Type: "type_error.str"}},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := New[*state]()
			Must(RegisterFunc(r, func(context.Context, *state, struct{}) (any, error) {
				return tt.result, nil
			}, Event("calc"), Response(value)))

			_, err := dispatch(t, r, `{"type": "calc"}`)
			e := requireKind(t, err, ResponseValidationError)
			assert.Equal(t, "calc", e.Event)
			assert.Equal(t, tt.want, e.Detail)
			assert.True(t, e.Kind.ServerFault())
		})
	}

	t.Run("unencodable result", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterFunc(r, func(context.Context, *state, struct{}) (any, error) {
			return map[string]any{"ch": make(chan int)}, nil
		}, Event("calc")))

		_, err := dispatch(t, r, `{"type": "calc"}`)
		requireKind(t, err, ResponseValidationError)
	})
}

func TestDispatch_HandlerError(t *testing.T) {
	secret := errors.New("dial tcp 10.0.0.5:5432: connection refused")

	tests := map[string]struct {
		fn     func(context.Context, *state, struct{}) (string, error)
		detail string
		cause  error
	}{
		"hides internal errors": {
			fn:     func(context.Context, *state, struct{}) (string, error) { return "", secret },
			detail: "internal error",
			cause:  secret,
		},
		"exposes public errors": {
			fn: func(context.Context, *state, struct{}) (string, error) {
				return "", Public(fmt.Errorf("room %q is full", "lobby"))
			},
			detail: `room "lobby" is full`,
		},
		"exposes wrapped public errors": {
			fn: func(context.Context, *state, struct{}) (string, error) {
				return "", fmt.Errorf("join: %w", PublicErrorf("banned"))
			},
			detail: "banned",
		},
		"recovers panics": {
			fn: func(context.Context, *state, struct{}) (string, error) {
				panic("nil map write")
			},
			detail: "internal error",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := New[*state]()
			Must(RegisterFunc(r, tt.fn, Event("act")))

			_, err := dispatch(t, r, `{"type": "act"}`)
			e := requireKind(t, err, HandlerError)
			assert.Equal(t, "act", e.Event)
			assert.Equal(t, tt.detail, e.Detail)
			assert.ErrorIs(t, err, ErrHandler)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	t.Run("panic keeps the stack", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterProcFunc(r, func(context.Context, *state, struct{}) error {
			panic(errors.New("boom"))
		}, Event("act")))

		_, err := dispatch(t, r, `{"type": "act"}`)
		var p *panicError
		require.ErrorAs(t, err, &p)
		assert.NotEmpty(t, p.stack)
		assert.Contains(t, err.Error(), "handler panicked: boom")
	})

	t.Run("proc errors are reported", func(t *testing.T) {
		r := New[*state]()
		Must(RegisterProcFunc(r, func(context.Context, *state, struct{}) error {
			return secret
		}, Event("act")))

		_, err := dispatch(t, r, `{"type": "act"}`)
		requireKind(t, err, HandlerError)
	})

	t.Run("Public ignores nil", func(t *testing.T) {
		assert.NoError(t, Public(nil))
	})
}

func TestEncodeEvent(t *testing.T) {
	tests := map[string]struct {
		payload any
		want    string
	}{
		"object":        {map[string]string{"name": "ada"}, `{"type": "joined", "name": "ada"}`},
		"struct":        {joinIn{Name: "ada"}, `{"type": "joined", "name": "ada"}`},
		"type is fixed": {map[string]string{"type": "other"}, `{"type": "joined"}`},
		"scalar":        {3, `{"type": "joined", "joined": 3}`},
		"nil":           {nil, `{"type": "joined"}`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			raw, err := encodeEvent("joined", tt.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}

	t.Run("unencodable", func(t *testing.T) {
		_, err := encodeEvent("joined", func() {})
		assert.Error(t, err)
	})
}

func TestEncodeError(t *testing.T) {
	t.Run("validation detail", func(t *testing.T) {
		r := New[*state]()
		err := &Error{Kind: ValidationError, Event: "x", Detail: FieldErrors{{Loc: []any{"a", 0}, Msg: "field required", Type: "value_error.missing"}}}
		assert.JSONEq(t,
			`{"type": "error", "error_type": "ValidationError", "detail": [{"loc": ["a", 0], "msg": "field required", "type": "value_error.missing"}]}`,
			string(r.encodeError(err)))
	})

	t.Run("custom error event", func(t *testing.T) {
		r := New[*state](WithErrorEvent("failure"))
		err := &Error{Kind: UnknownEvent, Detail: map[string]string{"msg": "unknown event", "event": "x"}}
		assert.JSONEq(t,
			`{"type": "failure", "error_type": "UnknownEvent", "detail": {"msg": "unknown event", "event": "x"}}`,
			string(r.encodeError(err)))
	})

	t.Run("foreign error", func(t *testing.T) {
		r := New[*state]()
		assert.JSONEq(t,
			`{"type": "error", "error_type": "HandlerError", "detail": "internal error"}`,
			string(r.encodeError(errors.New("secret"))))
	})
}

func TestError(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		assert.Equal(t, `UnknownEvent "x": {x}`, (&Error{Kind: UnknownEvent, Event: "x", Detail: struct{ E string }{"x"}}).Error())
		assert.Equal(t, `HandlerError "x": boom`, (&Error{Kind: HandlerError, Event: "x", Err: errors.New("boom")}).Error())
		assert.Equal(t, "MalformedMessage", (&Error{Kind: MalformedMessage}).Error())
	})

	t.Run("KindOf", func(t *testing.T) {
		assert.Equal(t, ValidationError, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: ValidationError})))
		assert.Equal(t, HandlerError, KindOf(errors.New("plain")))
	})

	t.Run("ServerFault", func(t *testing.T) {
		assert.True(t, HandlerError.ServerFault())
		assert.True(t, ResponseValidationError.ServerFault())
		assert.False(t, ValidationError.ServerFault())
		assert.False(t, UnknownEvent.ServerFault())
	})

	t.Run("FieldErrors message", func(t *testing.T) {
		fe := FieldErrors{
			{Loc: []any{"a", 1}, Msg: "field required"},
			{Loc: []any{"b"}, Msg: "extra fields not permitted"},
		}
		assert.Equal(t, "a.1: field required; b: extra fields not permitted", fe.Error())
	})
}
