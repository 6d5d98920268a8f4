package wsevent

import (
	"context"
	"time"
)

// OnConnectFunc is called once a session starts, before the first message
// is received.
type OnConnectFunc func(ctx context.Context, session string)

// OnDisconnectFunc is called when a session ends. err is nil for a normal
// disconnect.
type OnDisconnectFunc func(ctx context.Context, session string, code int, err error)

// OnReceiveFunc is called after a message has been routed to a handler.
// Use this to enrich the context with logging fields or trace spans.
// The returned context is used for the rest of the message.
type OnReceiveFunc func(ctx context.Context, session, event string) context.Context

// OnDispatchFunc is called just before the handler executes.
type OnDispatchFunc func(ctx context.Context, session, event string)

// OnSuccessFunc is called after a message has been handled and any reply
// written.
type OnSuccessFunc func(ctx context.Context, session, event string, duration time.Duration)

// OnFailureFunc is called when a message fails at any stage. event is empty
// when the message could not be routed (MalformedMessage, UnknownEvent);
// use KindOf to classify err.
type OnFailureFunc func(ctx context.Context, session, event string, err error, duration time.Duration)

// hooks holds all configured hook functions.
type hooks struct {
	onConnect    []OnConnectFunc
	onDisconnect []OnDisconnectFunc
	onReceive    []OnReceiveFunc
	onDispatch   []OnDispatchFunc
	onSuccess    []OnSuccessFunc
	onFailure    []OnFailureFunc
}

// WithOnConnect adds a hook called when a session starts.
// Multiple hooks are called in order.
func WithOnConnect(fn OnConnectFunc) Option {
	return func(o *options) {
		o.hooks.onConnect = append(o.hooks.onConnect, fn)
	}
}

// WithOnDisconnect adds a hook called when a session ends.
// Multiple hooks are called in order.
//
// Example:
//
//	wsevent.WithOnDisconnect(func(ctx context.Context, session string, code int, err error) {
//	    logger.Info("session closed", zap.String("session", session), zap.Int("code", code))
//	})
func WithOnDisconnect(fn OnDisconnectFunc) Option {
	return func(o *options) {
		o.hooks.onDisconnect = append(o.hooks.onDisconnect, fn)
	}
}

// WithOnReceive adds a hook called after a message is routed.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	wsevent.WithOnReceive(func(ctx context.Context, session, event string) context.Context {
//	    return logctx.With(ctx, zap.String("event", event))
//	})
func WithOnReceive(fn OnReceiveFunc) Option {
	return func(o *options) {
		o.hooks.onReceive = append(o.hooks.onReceive, fn)
	}
}

// WithOnDispatch adds a hook called just before the handler executes.
// Multiple hooks are called in order.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(o *options) {
		o.hooks.onDispatch = append(o.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a message is handled successfully.
// Multiple hooks are called in order.
//
// Example:
//
//	wsevent.WithOnSuccess(func(ctx context.Context, session, event string, d time.Duration) {
//	    latency.WithLabelValues(event).Observe(d.Seconds())
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(o *options) {
		o.hooks.onSuccess = append(o.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called when a message fails.
// Multiple hooks are called in order.
//
// Example:
//
//	wsevent.WithOnFailure(func(ctx context.Context, session, event string, err error, d time.Duration) {
//	    failures.WithLabelValues(string(wsevent.KindOf(err))).Inc()
//	})
func WithOnFailure(fn OnFailureFunc) Option {
	return func(o *options) {
		o.hooks.onFailure = append(o.hooks.onFailure, fn)
	}
}

// Connector is implemented by session state that needs to act when its
// connection is accepted. Returning an error rejects the connection.
type Connector interface {
	OnConnect(ctx context.Context, s *Session) error
}

// Disconnector is implemented by session state that holds resources to
// release when its connection ends.
type Disconnector interface {
	OnDisconnect(ctx context.Context, s *Session, code int)
}

func (h *hooks) callOnConnect(ctx context.Context, session string) {
	for _, fn := range h.onConnect {
		fn(ctx, session)
	}
}

func (h *hooks) callOnDisconnect(ctx context.Context, session string, code int, err error) {
	for _, fn := range h.onDisconnect {
		fn(ctx, session, code, err)
	}
}

func (h *hooks) callOnReceive(ctx context.Context, session, event string) context.Context {
	for _, fn := range h.onReceive {
		ctx = fn(ctx, session, event)
	}
	return ctx
}

func (h *hooks) callOnDispatch(ctx context.Context, session, event string) {
	for _, fn := range h.onDispatch {
		fn(ctx, session, event)
	}
}

func (h *hooks) callOnSuccess(ctx context.Context, session, event string, d time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, session, event, d)
	}
}

func (h *hooks) callOnFailure(ctx context.Context, session, event string, err error, d time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, session, event, err, d)
	}
}
