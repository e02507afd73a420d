package natsctx

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

func TestExtract_RoundTrip(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	hdr := nats.Header{}
	propagator.Inject(ctx, headerCarrier(hdr))
	if len(hdr) == 0 {
		t.Fatal("expected traceparent header")
	}

	got := trace.SpanContextFromContext(Extract(context.Background(), &nats.Msg{Header: hdr}))
	if got.TraceID() != tid {
		t.Errorf("expected trace id %s, got %s", tid, got.TraceID())
	}
}

func TestExtract_NoHeaders(t *testing.T) {
	ctx := Extract(context.Background(), &nats.Msg{})
	if trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("expected no span context")
	}
}
