package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicHL7Inbound}
	injectTraceHeaders(ctx, record)

	got := headerCarrier{record: record}.Get("traceparent")
	if got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("traceparent = %q", got)
	}

	out := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if out.TraceID() != traceID || out.SpanID() != spanID {
		t.Errorf("extracted %s/%s", out.TraceID(), out.SpanID())
	}
	if !out.IsRemote() {
		t.Error("extracted span context should be remote")
	}
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "a", Value: []byte("1")}}}
	c := headerCarrier{record: record}

	c.Set("a", "2")
	c.Set("b", "3")

	if len(record.Headers) != 2 {
		t.Fatalf("headers = %d, want 2", len(record.Headers))
	}
	if c.Get("a") != "2" || c.Get("b") != "3" {
		t.Errorf("got a=%q b=%q", c.Get("a"), c.Get("b"))
	}
	if keys := c.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", keys)
	}
	if c.Get("missing") != "" {
		t.Error("missing key should be empty")
	}
}

func TestDeadLetterHeaders(t *testing.T) {
	record := &kgo.Record{
		Topic:     TopicHL7Inbound,
		Partition: 3,
		Offset:    42,
		Headers:   []kgo.RecordHeader{{Key: "source", Value: []byte("lab")}},
	}

	h := DeadLetterHeaders(record, 3, errors.New("boom"))

	want := map[string]string{
		"source":             "lab",
		HeaderError:          "boom",
		HeaderOriginTopic:    TopicHL7Inbound,
		HeaderOriginPosition: "3/42",
		HeaderAttempts:       "3",
	}
	for k, v := range want {
		if h[k] != v {
			t.Errorf("%s = %q, want %q", k, h[k], v)
		}
	}
}

func TestNewConsumerRequiresHandler(t *testing.T) {
	if _, err := NewConsumer(DefaultConsumerConfig(), nil, nil, nil, nil); err == nil {
		t.Fatal("expected error without handler")
	}
	cfg := DefaultConsumerConfig()
	cfg.Topics = nil
	handler := func(context.Context, *ConsumedMessage) error { return nil }
	if _, err := NewConsumer(cfg, handler, nil, nil, nil); err == nil {
		t.Fatal("expected error without topics")
	}
}
