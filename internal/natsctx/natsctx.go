// Package natsctx carries OpenTelemetry trace context across NATS.
package natsctx

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Publish injects traceparent into the message headers and publishes.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	hdr := nats.Header{}
	propagator.Inject(ctx, headerCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

// Subscribe extracts trace context from each message and runs handler in a
// consumer span.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := Extract(context.Background(), m)
		ctx, span := otel.Tracer("skywatch/nats").Start(ctx, "nats.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.destination", m.Subject)))
		defer span.End()
		handler(ctx, m)
	})
}

// Extract returns ctx enriched with any trace context in m's headers.
func Extract(ctx context.Context, m *nats.Msg) context.Context {
	if m.Header == nil {
		return ctx
	}
	return propagator.Extract(ctx, headerCarrier(m.Header))
}

func headerCarrier(h nats.Header) propagation.HeaderCarrier {
	return propagation.HeaderCarrier(h)
}
