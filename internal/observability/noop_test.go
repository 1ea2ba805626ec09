package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

func TestNoopMetricsProvider(t *testing.T) {
	t.Parallel()

	provider := &NoopMetricsProvider{}
	ctx := context.Background()
	labels := map[string]string{"kernel": "popcount"}

	assert.NotPanics(t, func() {
		provider.Counter(ctx, "flowforge_compile_total", 1, labels)
		provider.Gauge(ctx, "flowforge_active_segments", 1.5, labels)
		provider.Histogram(ctx, "flowforge_run_duration_seconds", 0.5, labels)
		provider.RecordDuration(ctx, "flowforge_compile_duration_seconds", time.Second, labels)
	})
}

func TestNoopTracerProvider(t *testing.T) {
	t.Parallel()

	provider := &NoopTracerProvider{}
	ctx := context.Background()

	newCtx, span := provider.StartSpan(ctx, "flowforge.compile")
	assert.Equal(t, ctx, newCtx)

	assert.NotPanics(t, func() {
		span.SetAttribute("kernels", 3)
		span.AddEvent("schedule-cached", map[string]any{"signature": "abc"})
		span.SetStatus(SpanStatusOK, "ok")
		span.End(nil)
	})

	sc := span.SpanContext()
	assert.Empty(t, sc.TraceID)
	assert.Empty(t, sc.SpanID)

	assert.NoError(t, provider.Shutdown(ctx))
}

func TestInMemoryMetricsProvider(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryMetricsProvider()
	ctx := context.Background()
	labels := map[string]string{"concurrency": "single"}

	provider.Counter(ctx, "flowforge_run_total", 1, labels)
	provider.Counter(ctx, "flowforge_run_total", 2, labels)
	assert.Equal(t, int64(3), provider.GetCounter("flowforge_run_total", labels))

	provider.Gauge(ctx, "flowforge_buffer_capacity", 5, labels)
	provider.Gauge(ctx, "flowforge_buffer_capacity", -2, labels)
	assert.Equal(t, float64(3), provider.GetGauge("flowforge_buffer_capacity", labels))

	provider.Histogram(ctx, "flowforge_run_duration_seconds", 0.1, labels)
	provider.Histogram(ctx, "flowforge_run_duration_seconds", 0.2, labels)
	assert.Len(t, provider.GetHistogram("flowforge_run_duration_seconds", labels), 2)

	provider.RecordDuration(ctx, "flowforge_compile_duration_seconds", 100*time.Millisecond, labels)
	assert.Len(t, provider.GetHistogram("flowforge_compile_duration_seconds", labels), 1)

	provider.Reset()
	assert.Equal(t, int64(0), provider.GetCounter("flowforge_run_total", labels))
}

func TestInMemoryTracerProvider(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryTracerProvider()
	ctx := context.Background()

	_, span := provider.StartSpan(ctx, "flowforge.compile", WithAttributes(map[string]any{
		"kernels": 3,
	}))
	span.SetAttribute("signature", "abc123")
	span.AddEvent("schedule-computed", map[string]any{"partitions": 2})
	span.SetStatus(SpanStatusOK, "success")
	span.End(nil)

	spans := provider.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "flowforge.compile", s.Name)
	assert.Equal(t, 3, s.Attributes["kernels"])
	assert.Equal(t, "abc123", s.Attributes["signature"])
	assert.Len(t, s.Events, 1)
	assert.Equal(t, SpanStatusOK, s.Status)

	_, span2 := provider.StartSpan(ctx, "flowforge.run")
	_, span3 := provider.StartSpan(ctx, "flowforge.compile")
	span2.End(nil)
	span3.End(nil)

	assert.Len(t, provider.GetSpans(), 3)
	assert.Len(t, provider.GetSpansByName("flowforge.compile"), 2)

	provider.Reset()
	assert.Empty(t, provider.GetSpans())
}

func TestSpanContext(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryTracerProvider()
	_, span := provider.StartSpan(context.Background(), "flowforge.run")

	sc := span.SpanContext()
	assert.NotEmpty(t, sc.TraceID)
	assert.NotEmpty(t, sc.SpanID)
}

func TestMetricsAdapter_BridgesToFlowforgeMetrics(t *testing.T) {
	provider := NewInMemoryMetricsProvider()
	adapter := NewMetricsAdapter(provider)
	var _ flowforge.Metrics = adapter

	ctx := context.Background()
	labels := map[string]string{"concurrency": "single"}
	adapter.Counter(ctx, "flowforge_compile_total", 1, labels)
	adapter.Histogram(ctx, "flowforge_compile_duration_seconds", 0.25, labels)

	assert.Equal(t, int64(1), provider.GetCounter("flowforge_compile_total", labels))
	assert.Equal(t, []float64{0.25}, provider.GetHistogram("flowforge_compile_duration_seconds", labels))
}

func TestMetricsAdapter_Noop(t *testing.T) {
	adapter := NewMetricsAdapter(&NoopMetricsProvider{})
	var _ flowforge.Metrics = adapter

	assert.NotPanics(t, func() {
		adapter.Counter(context.Background(), "flowforge_run_total", 1, nil)
		adapter.Histogram(context.Background(), "flowforge_run_duration_seconds", 1.0, nil)
	})
}

func TestTracingAdapter_BridgesToFlowforgeTracing(t *testing.T) {
	provider := NewInMemoryTracerProvider()
	adapter := NewTracingAdapter(provider)
	var _ flowforge.Tracing = adapter

	ctx, span := adapter.StartSpan(context.Background(), "flowforge.run")
	require.NotNil(t, ctx)
	span.SetAttribute("program_id", "run-1")
	span.End(nil)

	spans := provider.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "flowforge.run", spans[0].Name)
	assert.Equal(t, "run-1", spans[0].Attributes["program_id"])
}

func TestTracingAdapter_Noop(t *testing.T) {
	adapter := NewTracingAdapter(&NoopTracerProvider{})
	var _ flowforge.Tracing = adapter

	_, span := adapter.StartSpan(context.Background(), "flowforge.compile")
	assert.NotPanics(t, func() {
		span.SetAttribute("kernels", 1)
		span.End(nil)
	})
}
