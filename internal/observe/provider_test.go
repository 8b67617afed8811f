package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// InitProvider swaps global providers, so these tests do not run in parallel.

func TestInitProvider_RejectsBadSampleRatio(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: ratio}); err == nil {
			t.Errorf("SampleRatio %v: expected error", ratio)
		}
	}
}

func TestInitProvider_ExportsSpansAndMetrics(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Location:       "Legazpi",
		TraceExporter:  spans,
		MetricReader:   reader,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	_, span := StartSpan(context.Background(), "cycle")
	span.End()
	m.RecordCycle(context.Background(), "manual", "ok", 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Error("no metrics collected through the configured reader")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got := spans.GetSpans()
	if len(got) != 1 || got[0].Name != "cycle" {
		t.Fatalf("exported spans = %v, want one \"cycle\" span", got)
	}
	var found bool
	for _, kv := range got[0].Resource.Attributes() {
		if string(kv.Key) == "pagasa.location" && kv.Value.AsString() == "Legazpi" {
			found = true
		}
	}
	if !found {
		t.Error("resource is missing pagasa.location")
	}
}
