// Command wsevent-chat runs a small chat server on a wsevent router.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bjaus/wsevent"
	"github.com/bjaus/wsevent/internal/config"
	"github.com/bjaus/wsevent/metrics"
	"github.com/bjaus/wsevent/tracing"
	"github.com/bjaus/wsevent/websocket"
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "wsevent-chat",
		Short: "Chat server speaking the wsevent protocol",
		Long: `wsevent-chat serves a chat room over WebSocket at /ws.

Clients send JSON messages with a type field: message, whisper, rename,
members, ping and goodbye. Prometheus metrics are served at /metrics.

Settings are read from WSEVENT_* environment variables and may be
overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(rootCmd.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := newServer(cfg, logger, reg)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: h}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newServer builds the HTTP routes: the chat socket, metrics and a health
// check.
func newServer(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) (http.Handler, error) {
	collector := metrics.New(reg, "wsevent")
	opts := []wsevent.Option{wsevent.WithLogger(logger)}
	opts = append(opts, collector.Options()...)
	opts = append(opts, tracing.Options(nil)...)

	router, err := newRouter(opts...)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	chat := newHub()
	ws := websocket.NewHandler(router,
		func(*http.Request) (*client, error) {
			return &client{hub: chat}, nil
		},
		websocket.WithLogger(logger),
		websocket.WithReadLimit(cfg.ReadLimit),
		websocket.WithTimeouts(cfg.ReadTimeout, 10*time.Second),
		websocket.WithAllowedOrigins(cfg.AllowedOrigins...),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Handle("/ws", ws)
	return r, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
