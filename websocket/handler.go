package websocket

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bjaus/wsevent"
)

// StateFunc builds the per-connection state for an incoming request. It
// runs before the upgrade; an error rejects the request with 403.
type StateFunc[S any] func(r *http.Request) (S, error)

// Handler is an http.Handler that upgrades requests to WebSocket and runs a
// wsevent session on each connection.
type Handler[S any] struct {
	router   *wsevent.Router[S]
	state    StateFunc[S]
	upgrader websocket.Upgrader
	cfg      config
}

type config struct {
	logger       *zap.Logger
	readLimit    int64
	readTimeout  time.Duration
	writeTimeout time.Duration
	origins      []string
}

// Option configures a Handler.
type Option func(*config)

// WithLogger sets the logger for upgrade failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReadLimit sets the maximum size in bytes of an incoming message.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		c.readLimit = n
	}
}

// WithTimeouts sets per-message read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *config) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithAllowedOrigins accepts cross-origin upgrades from the listed origins.
// "*" accepts any origin. Without this option only same-origin requests
// are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *config) {
		c.origins = append(c.origins, origins...)
	}
}

// NewHandler returns a Handler serving router. state may be nil when S's
// zero value is a usable state.
//
// Example:
//
//	h := websocket.NewHandler(router, func(r *http.Request) (*Client, error) {
//	    return &Client{hub: hub}, nil
//	}, websocket.WithReadLimit(64<<10))
//	mux.Handle("/ws", h)
func NewHandler[S any](router *wsevent.Router[S], state StateFunc[S], opts ...Option) *Handler[S] {
	h := &Handler[S]{
		router: router,
		state:  state,
		cfg: config{
			logger:       zap.NewNop(),
			readLimit:    1 << 20,
			writeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&h.cfg)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(h.cfg.origins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

func (h *Handler[S]) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.origins, "*") || slices.Contains(h.cfg.origins, origin)
}

// ServeHTTP upgrades the request and blocks until the session ends.
func (h *Handler[S]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var state S
	if h.state != nil {
		var err error
		state, err = h.state(r)
		if err != nil {
			h.cfg.logger.Info("websocket request rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.cfg.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if h.cfg.readLimit > 0 {
		ws.SetReadLimit(h.cfg.readLimit)
	}

	conn := NewConn(ws, WithReadTimeout(h.cfg.readTimeout), WithWriteTimeout(h.cfg.writeTimeout))
	if err := h.router.Serve(r.Context(), conn, state); err != nil {
		h.cfg.logger.Debug("websocket session ended with error", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}
