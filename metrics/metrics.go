// Package metrics exports wsevent session and message metrics to
// Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bjaus/wsevent"
)

// Collector holds the metrics for one router. Register it once per
// registry; its Options are passed to wsevent.New.
type Collector struct {
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	MessagesTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open WebSocket sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions accepted",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total messages handled by event and outcome",
		}, []string{"event", "outcome"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_errors_total",
			Help:      "Total failed messages by error type",
		}, []string{"error_type"}),
		MessageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Time from routing a message to writing its reply",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"event"}),
	}
}

// Options returns the hooks feeding the collector.
//
// Unrouted messages (malformed or unknown events) are counted under the
// event label "unrouted" so clients cannot inflate label cardinality.
func (c *Collector) Options() []wsevent.Option {
	return []wsevent.Option{
		wsevent.WithOnConnect(func(context.Context, string) {
			c.SessionsTotal.Inc()
			c.ActiveSessions.Inc()
		}),
		wsevent.WithOnDisconnect(func(context.Context, string, int, error) {
			c.ActiveSessions.Dec()
		}),
		wsevent.WithOnSuccess(func(_ context.Context, _, event string, d time.Duration) {
			c.MessagesTotal.WithLabelValues(event, "ok").Inc()
			c.MessageDuration.WithLabelValues(event).Observe(d.Seconds())
		}),
		wsevent.WithOnFailure(func(_ context.Context, _, event string, err error, d time.Duration) {
			if event == "" {
				event = "unrouted"
			} else {
				c.MessageDuration.WithLabelValues(event).Observe(d.Seconds())
			}
			c.MessagesTotal.WithLabelValues(event, "error").Inc()
			c.ErrorsTotal.WithLabelValues(string(wsevent.KindOf(err))).Inc()
		}),
	}
}
