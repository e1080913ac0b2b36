package telemetry_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/samirrijal/groundsync/internal/pkg/telemetry"
)

func TestNewProvider_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	res := resource.NewSchemaless(attribute.String("service.name", "groundsync-test"))
	tp := telemetry.NewProvider(res, sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "sync.drain")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "sync.drain" {
		t.Errorf("unexpected span name %q", ended[0].Name())
	}
	got, ok := ended[0].Resource().Set().Value("service.name")
	if !ok || got.AsString() != "groundsync-test" {
		t.Errorf("expected service.name on resource, got %v", got)
	}
}
