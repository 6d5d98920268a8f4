// Package tracing records a span per routed wsevent message.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bjaus/wsevent"
)

const tracerName = "github.com/bjaus/wsevent"

// Options returns hooks that start a server span when a message is routed
// and end it when the message succeeds or fails. A nil provider uses the
// global one.
//
// The span is available to handlers through trace.SpanFromContext.
func Options(tp trace.TracerProvider) []wsevent.Option {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return []wsevent.Option{
		wsevent.WithOnReceive(func(ctx context.Context, session, event string) context.Context {
			ctx, _ = tracer.Start(ctx, "wsevent "+event,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("wsevent.session_id", session),
					attribute.String("wsevent.event", event),
				),
			)
			return ctx
		}),
		wsevent.WithOnSuccess(func(ctx context.Context, _, _ string, _ time.Duration) {
			span := trace.SpanFromContext(ctx)
			span.SetStatus(codes.Ok, "")
			span.End()
		}),
		wsevent.WithOnFailure(func(ctx context.Context, _, event string, err error, _ time.Duration) {
			if event == "" {
				// Unrouted messages never started a span.
				return
			}
			span := trace.SpanFromContext(ctx)
			kind := wsevent.KindOf(err)
			span.SetAttributes(attribute.String("wsevent.error_type", string(kind)))
			if kind.ServerFault() {
				span.RecordError(err)
				span.SetStatus(codes.Error, string(kind))
			}
			span.End()
		}),
	}
}
