package wsevent

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"unicode"
)

// Func handles an event and returns a result that is sent back to the
// client.
//
// S is the per-connection state passed to every handler of a session; T is
// the input, whose schema is derived once at registration; R is the result,
// whose schema is inferred when R is a struct.
//
// Example:
//
//	type JoinFunc struct{ hub *Hub }
//
//	func (f *JoinFunc) Call(ctx context.Context, c *Client, in JoinIn) (*JoinOut, error) {
//	    c.Name = in.Name
//	    return &JoinOut{Members: f.hub.Members()}, nil
//	}
type Func[S, T, R any] interface {
	Call(ctx context.Context, state S, in T) (R, error)
}

// FuncFunc is a function adapter for Func. Its name is used to derive the
// event type when none is given:
//
//	func onEcho(ctx context.Context, c *Client, in EchoIn) (EchoOut, error)
//
//	wsevent.RegisterFunc(r, onEcho) // event "echo"
type FuncFunc[S, T, R any] func(ctx context.Context, state S, in T) (R, error)

// Call implements the Func interface.
func (f FuncFunc[S, T, R]) Call(ctx context.Context, state S, in T) (R, error) {
	return f(ctx, state, in)
}

// Proc handles an event without replying. Use this for fire-and-forget
// events; the client only hears back if the message is rejected or the
// procedure fails.
type Proc[S, T any] interface {
	Run(ctx context.Context, state S, in T) error
}

// ProcFunc is a function adapter for Proc.
type ProcFunc[S, T any] func(ctx context.Context, state S, in T) error

// Run implements the Proc interface.
func (f ProcFunc[S, T]) Run(ctx context.Context, state S, in T) error {
	return f(ctx, state, in)
}

// HandlerOption configures a single registration.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	event    string
	response *Schema
	noReply  bool
	override bool
}

// Event sets the event type instead of deriving it from the handler name.
func Event(name string) HandlerOption {
	return func(c *handlerConfig) {
		c.event = name
	}
}

// Response sets the response schema. It takes precedence over the schema
// inferred from the handler's result type.
func Response(s *Schema) HandlerOption {
	return func(c *handlerConfig) {
		c.response = s
	}
}

// NoReply discards the handler's result. Errors are still reported.
func NoReply() HandlerOption {
	return func(c *handlerConfig) {
		c.noReply = true
	}
}

// Override replaces an existing handler for the same event instead of
// failing with DuplicateEvent.
func Override() HandlerOption {
	return func(c *handlerConfig) {
		c.override = true
	}
}

// binding ties an event type to its schemas and handler. Bindings are built
// once at registration and shared read-only by every session.
type binding[S any] struct {
	event    string
	request  *Schema
	response *Schema
	explicit bool
	noReply  bool

	decode func(fields map[string]json.RawMessage) (any, error)
	call   func(ctx context.Context, state S, in any) (any, error)
}

// Binding describes a registered handler.
type Binding struct {
	Event    string
	Request  *Schema
	Response *Schema
	NoReply  bool
}

func (b *binding[S]) describe() Binding {
	return Binding{
		Event:    b.event,
		Request:  b.request,
		Response: b.response,
		NoReply:  b.noReply,
	}
}

// invoke runs the handler, converting a panic into an error.
func (b *binding[S]) invoke(ctx context.Context, state S, in any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newPanicError(p)
		}
	}()
	return b.call(ctx, state, in)
}

// decodeInput builds the handler input T from validated fields.
func decodeInput[T any](s *Schema, fields map[string]json.RawMessage) (T, error) {
	var in T
	if p, ok := any(&in).(*Payload); ok {
		*p = Payload(fields)
		return in, nil
	}

	data, err := json.Marshal(fields)
	if err == nil {
		err = json.Unmarshal(data, &in)
	}
	if err != nil {
		errs := FieldErrors{{Loc: []any{}, Msg: err.Error(), Type: "value_error"}}
		return in, &Error{Kind: ValidationError, Event: s.event, Detail: errs, Err: err}
	}

	if s.rest != nil {
		extra := make(Payload)
		for name, raw := range fields {
			if s.field(name) == nil {
				extra[name] = raw
			}
		}
		restField(reflect.ValueOf(&in).Elem(), s.rest).Set(reflect.ValueOf(extra))
	}
	return in, nil
}

// restField walks index from v, allocating nil pointers on the way, which
// includes embedded struct pointers that no decoded member touched.
func restField(v reflect.Value, index []int) reflect.Value {
	for _, i := range index {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

var anonymousFunc = regexp.MustCompile(`^(func)?\d+$`)

// handlerName returns the declared name of a handler: the function name for
// function adapters, the type name otherwise.
func handlerName(h any) string {
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Func {
		fn := runtime.FuncForPC(v.Pointer())
		if fn == nil {
			return ""
		}
		name := fn.Name()
		name = strings.TrimSuffix(name, "-fm")
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if anonymousFunc.MatchString(name) {
			return ""
		}
		return name
	}

	t := v.Type()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	for _, suffix := range []string{"Handler", "Func", "Proc"} {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != "" {
			name = trimmed
		}
	}
	return name
}

// EventName derives an event type from a handler name. A leading "on_" or
// "handle_" is stripped, as is a camel-case "On"/"on"/"Handle"/"handle"
// prefix; the remainder is converted to snake_case.
//
//	EventName("on_message")     // "message"
//	EventName("OnUserJoined")   // "user_joined"
//	EventName("handleSendDM")   // "send_dm"
//	EventName("ping")           // "ping"
func EventName(name string) string {
	for _, p := range []string{"on_", "handle_"} {
		if rest, ok := strings.CutPrefix(name, p); ok {
			return rest
		}
	}
	for _, p := range []string{"On", "on", "Handle", "handle"} {
		rest, ok := strings.CutPrefix(name, p)
		if ok && rest != "" && unicode.IsUpper(rune(rest[0])) {
			name = rest
			break
		}
	}
	return snakeCase(name)
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
