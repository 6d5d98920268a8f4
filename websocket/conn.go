// Package websocket runs wsevent sessions over gorilla/websocket
// connections.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bjaus/wsevent"
)

// Conn adapts a *websocket.Conn to wsevent.Conn. Messages are written as
// text frames; both text and binary frames are accepted on receive.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithReadTimeout bounds how long Receive waits for the next message. Zero
// waits forever.
func WithReadTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.readTimeout = d
	}
}

// WithWriteTimeout bounds each Send. Zero waits forever.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.writeTimeout = d
	}
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn, opts ...ConnOption) *Conn {
	c := &Conn{ws: ws, writeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Receive reads the next message. A close frame with a normal, going-away
// or empty status is reported as wsevent.ErrDisconnected.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived) {
			return nil, fmt.Errorf("%w: %w", wsevent.ErrDisconnected, err)
		}
		return nil, err
	}
	return msg, nil
}

// Send writes msg as a single text frame.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	deadline := time.Time{}
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame with code and reason, then closes the
// underlying connection. Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		// The peer may already be gone; closing the socket is what matters.
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

var _ wsevent.Conn = (*Conn)(nil)
