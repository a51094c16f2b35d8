package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Setup(context.Background(), Config{Enabled: true}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestStartAndEndRecordSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider, err := newProvider(Config{ServiceName: "test"}, sdktrace.WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	previous := otel.GetTracerProvider()
	install(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := Start(context.Background(), "judge.resolve", attribute.String("market_id", "m1"))
	End(span, nil)
	_, span = Start(context.Background(), "task.process")
	End(span, errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "judge.resolve" || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected first span: %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Fatalf("error not recorded: %v", spans[1].Status())
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got == "" {
		t.Fatalf("empty sampler description")
	}
	if sampler(0.5).Description() == sampler(1).Description() {
		t.Fatalf("ratio sampler should differ from always-on")
	}
}
