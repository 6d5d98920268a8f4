package wsevent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Router maps event types to handlers and runs sessions over them.
//
// Usage:
//  1. Create a router with New, choosing the per-connection state type S
//  2. Register handlers with Register, RegisterFunc, RegisterProc or
//     RegisterProcFunc
//  3. Serve connections with Serve, or dispatch single messages with
//     Dispatch
//
// The handler table is immutable once serving starts and is shared by all
// sessions; per-connection state lives in the S value passed to Serve.
// Router is safe for concurrent use after configuration. Do not register
// handlers after calling Serve or Dispatch.
type Router[S any] struct {
	bindings map[string]*binding[S]
	opts     options
}

type options struct {
	hooks      hooks
	logger     *zap.Logger
	errorEvent string
	newID      func() string
}

// Option configures a Router.
type Option func(*options)

// WithLogger sets the logger used for session lifecycle and failures. The
// default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorEvent sets the type of error messages sent to clients. The
// default is "error".
func WithErrorEvent(event string) Option {
	return func(o *options) {
		if event != "" {
			o.errorEvent = event
		}
	}
}

// WithSessionID sets the function generating session identifiers. The
// default generates random UUIDs.
func WithSessionID(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New creates a Router with the given options.
//
// Example:
//
//	r := wsevent.New[*Client](
//	    wsevent.WithLogger(logger),
//	    wsevent.WithOnFailure(func(ctx context.Context, session, event string, err error, d time.Duration) {
//	        logger.Warn("event failed", zap.String("event", event), zap.Error(err))
//	    }),
//	)
func New[S any](opts ...Option) *Router[S] {
	r := &Router[S]{
		bindings: make(map[string]*binding[S]),
		opts: options{
			logger:     zap.NewNop(),
			errorEvent: "error",
			newID:      uuid.NewString,
		},
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Register adds a handler that replies with its result.
//
// The event type comes from the Event option or, without it, from the
// handler's name (see EventName). The request schema is derived from T and
// the response schema from the Response option, from R when R is a struct,
// or else accepts any object carrying a type.
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the
// receiver.
//
// Example:
//
//	err := wsevent.Register(r, &JoinFunc{hub: hub}, wsevent.Event("join"))
func Register[S, T, R any](r *Router[S], h Func[S, T, R], opts ...HandlerOption) error {
	cfg := configure(h, opts)
	b, err := newBinding[S, T](cfg)
	if err != nil {
		return err
	}
	if err := b.setResponse(cfg, reflect.TypeFor[R]()); err != nil {
		return err
	}
	b.call = func(ctx context.Context, state S, in any) (any, error) {
		v, _ := in.(T)
		return h.Call(ctx, state, v)
	}
	return r.add(b, cfg.override)
}

// RegisterFunc is a convenience function for registering a handler
// function.
//
// Example:
//
//	wsevent.RegisterFunc(r, func(ctx context.Context, c *Client, in struct {
//	    Message string `json:"message"`
//	}) (string, error) {
//	    return in.Message, nil
//	}, wsevent.Event("message"))
func RegisterFunc[S, T, R any](r *Router[S], fn func(ctx context.Context, state S, in T) (R, error), opts ...HandlerOption) error {
	return Register(r, FuncFunc[S, T, R](fn), opts...)
}

// RegisterProc adds a handler that never replies.
func RegisterProc[S, T any](r *Router[S], p Proc[S, T], opts ...HandlerOption) error {
	cfg := configure(p, opts)
	cfg.noReply = true
	b, err := newBinding[S, T](cfg)
	if err != nil {
		return err
	}
	b.call = func(ctx context.Context, state S, in any) (any, error) {
		v, _ := in.(T)
		return nil, p.Run(ctx, state, v)
	}
	return r.add(b, cfg.override)
}

// RegisterProcFunc is a convenience function for registering a procedure
// function.
func RegisterProcFunc[S, T any](r *Router[S], fn func(ctx context.Context, state S, in T) error, opts ...HandlerOption) error {
	return RegisterProc(r, ProcFunc[S, T](fn), opts...)
}

// Must panics if err is non-nil. It is meant for registrations at program
// start, where a duplicate event or malformed schema is a programming
// error:
//
//	wsevent.Must(wsevent.RegisterFunc(r, onEcho))
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

// Events returns the registered event types in sorted order.
func (r *Router[S]) Events() []string {
	events := make([]string, 0, len(r.bindings))
	for e := range r.bindings {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}

// Lookup returns the binding registered for event.
func (r *Router[S]) Lookup(event string) (Binding, bool) {
	b, ok := r.bindings[event]
	if !ok {
		return Binding{}, false
	}
	return b.describe(), true
}

func configure(h any, opts []HandlerOption) handlerConfig {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.event == "" {
		cfg.event = EventName(handlerName(h))
	}
	return cfg
}

func newBinding[S, T any](cfg handlerConfig) (*binding[S], error) {
	if cfg.event == "" {
		return nil, invalidSchema("", "cannot derive an event name; use the Event option")
	}
	req, err := schemaFromType(cfg.event, reflect.TypeFor[T](), false)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", cfg.event, err)
	}
	return &binding[S]{
		event:   cfg.event,
		request: req,
		noReply: cfg.noReply,
		decode: func(fields map[string]json.RawMessage) (any, error) {
			return decodeInput[T](req, fields)
		},
	}, nil
}

// setResponse picks the response schema: explicit, then inferred from a
// struct result type, then the fallback.
func (b *binding[S]) setResponse(cfg handlerConfig, rt reflect.Type) error {
	if cfg.response != nil {
		b.response, b.explicit = cfg.response, true
		return nil
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() == reflect.Struct && !reflect.PointerTo(rt).Implements(textUnmarshalerType) {
		s, err := schemaFromType(b.event, rt, true)
		if err != nil {
			return fmt.Errorf("register %q: response: %w", b.event, err)
		}
		b.response = s
		return nil
	}
	b.response = fallbackSchema(b.event)
	return nil
}

func (r *Router[S]) add(b *binding[S], override bool) error {
	if _, exists := r.bindings[b.event]; exists && !override {
		return &Error{
			Kind:   DuplicateEvent,
			Event:  b.event,
			Detail: "duplicate handler for " + b.event,
			Err:    fmt.Errorf("duplicate handler for %q", b.event),
		}
	}
	r.bindings[b.event] = b
	return nil
}
