package wsevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrDisconnected is returned by Conn.Receive when the peer closed the
// connection normally.
var ErrDisconnected = errors.New("wsevent: disconnected")

// ErrSessionClosed is returned when writing to a session that has ended.
var ErrSessionClosed = errors.New("wsevent: session closed")

// Close codes used when a session ends, as defined by RFC 6455.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is the transport a session runs on: one JSON message per frame.
//
// Receive blocks until a message arrives. It returns ErrDisconnected
// (possibly wrapped) when the peer closes normally; any other error is a
// transport failure. Receive is only ever called from the session's own
// goroutine. Send is serialized by the session. Close must unblock a
// pending Receive and tolerate being called more than once.
type Conn interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, msg []byte) error
	Close(code int, reason string) error
}

// Session is one live connection. Messages are handled strictly in the
// order they arrive; the next message is not read until the previous one
// has been answered.
type Session struct {
	id     string
	conn   Conn
	logger *zap.Logger

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(id string, conn Conn, logger *zap.Logger) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		logger: logger.With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Logger returns the session's logger, tagged with its ID.
func (s *Session) Logger() *zap.Logger { return s.logger }

// Send pushes a server-initiated event to the client. Object payloads are
// merged with the type field; other non-nil values are wrapped under the
// event name. Send is safe to call from any goroutine.
//
//	s.Send(ctx, "joined", map[string]string{"name": name})
//	// {"name":"ada","type":"joined"}
func (s *Session) Send(ctx context.Context, event string, payload any) error {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		return fmt.Errorf("encode %q: %w", event, err)
	}
	return s.write(ctx, msg)
}

// Close ends the session. A session blocked in Receive returns and runs
// its cleanup.
func (s *Session) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close(code, reason)
	})
	return s.closeErr
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) write(ctx context.Context, msg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.conn.Send(ctx, msg)
}

type sessionKey struct{}

// SessionFrom returns the session handling the current message. It is
// available to handlers and hooks.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// Serve runs a session on conn until the peer disconnects, the transport
// fails, or ctx is cancelled. state is handed to every handler invoked for
// this connection and is never shared with other sessions.
//
// Per-message failures are answered with an error message and the session
// continues. Serve returns nil after a normal disconnect, ctx.Err() after
// cancellation, and the transport error otherwise. The connection is
// always closed on return.
func (r *Router[S]) Serve(ctx context.Context, conn Conn, state S) error {
	s := newSession(r.opts.newID(), conn, r.opts.logger)
	ctx, cancel := context.WithCancel(context.WithValue(ctx, sessionKey{}, s))
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close(CloseGoingAway, "server shutting down")
	})
	defer stop()

	if err := r.connect(ctx, s, state); err != nil {
		_ = s.Close(ClosePolicyViolation, "rejected")
		return err
	}
	code, err := r.loop(ctx, s, state)
	r.disconnect(ctx, s, state, code, err)
	return err
}

// connect runs the state's Connector, if any, and the connect hooks. A
// rejected session never reaches the disconnect path.
func (r *Router[S]) connect(ctx context.Context, s *Session, state S) error {
	if c, ok := any(state).(Connector); ok {
		if err := c.OnConnect(ctx, s); err != nil {
			s.logger.Info("connection rejected", zap.Error(err))
			return fmt.Errorf("connect: %w", err)
		}
	}
	r.opts.hooks.callOnConnect(ctx, s.id)
	s.logger.Debug("session started")
	return nil
}

func (r *Router[S]) loop(ctx context.Context, s *Session, state S) (int, error) {
	for {
		msg, err := s.conn.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrDisconnected):
				return CloseNormal, nil
			case ctx.Err() != nil:
				return CloseGoingAway, ctx.Err()
			case s.Closed():
				// Closed locally, e.g. by a handler.
				return CloseNormal, nil
			}
			return CloseInternalError, fmt.Errorf("receive: %w", err)
		}

		if err := r.handle(ctx, s, state, msg); err != nil {
			if s.Closed() {
				return CloseNormal, nil
			}
			return CloseInternalError, fmt.Errorf("send: %w", err)
		}
	}
}

// handle runs one message and writes its reply or error. The returned
// error is a transport failure; message failures are answered, not
// returned.
func (r *Router[S]) handle(ctx context.Context, s *Session, state S, raw []byte) error {
	start := time.Now()
	h := &r.opts.hooks

	b, err := r.route(raw)
	if err != nil {
		h.callOnFailure(ctx, s.id, "", err, time.Since(start))
		r.logFailure(s, err)
		return s.write(ctx, r.encodeError(err))
	}

	ctx = h.callOnReceive(ctx, s.id, b.event)
	h.callOnDispatch(ctx, s.id, b.event)

	reply, err := b.run(ctx, state, raw)
	if err != nil {
		h.callOnFailure(ctx, s.id, b.event, err, time.Since(start))
		r.logFailure(s, err)
		return s.write(ctx, r.encodeError(err))
	}
	if reply != nil {
		if err := s.write(ctx, reply); err != nil {
			h.callOnFailure(ctx, s.id, b.event, err, time.Since(start))
			return err
		}
	}
	h.callOnSuccess(ctx, s.id, b.event, time.Since(start))
	return nil
}

func (r *Router[S]) logFailure(s *Session, err error) {
	var e *Error
	if !errors.As(err, &e) {
		s.logger.Error("message failed", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("event", e.Event),
		zap.String("error_type", string(e.Kind)),
		zap.Error(err),
	}
	switch e.Kind {
	case HandlerError:
		var p *panicError
		if errors.As(err, &p) {
			fields = append(fields, zap.ByteString("stack", p.stack))
		}
		s.logger.Error("handler failed", fields...)
	case ResponseValidationError:
		s.logger.Error("handler returned an invalid response", append(fields, zap.Bool("server_defect", true))...)
	default:
		s.logger.Debug("message rejected", fields...)
	}
}

func (r *Router[S]) disconnect(ctx context.Context, s *Session, state S, code int, err error) {
	// Cleanup runs even when ctx was cancelled.
	ctx = context.WithoutCancel(ctx)

	if d, ok := any(state).(Disconnector); ok {
		d.OnDisconnect(ctx, s, code)
	}
	r.opts.hooks.callOnDisconnect(ctx, s.id, code, err)

	reason := ""
	if err != nil && code != CloseGoingAway {
		reason = "internal error"
		s.logger.Warn("transport failed", zap.Int("code", code), zap.Error(err))
	}
	if cErr := s.Close(code, reason); cErr != nil {
		s.logger.Debug("close transport", zap.Error(cErr))
	}
	s.logger.Debug("session ended", zap.Int("code", code))
}
