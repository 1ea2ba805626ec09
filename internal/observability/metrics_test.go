package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

func testKernel(name string) *flowforge.KernelDescriptor {
	return &flowforge.KernelDescriptor{Name: name, Kind: flowforge.KindSegment, StrideSize: 1}
}

func TestSegmentMetrics(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryMetricsProvider()
	labels := Labels{"pipeline": "test-pipeline"}

	inner := func(_ context.Context, sc *flowforge.SegmentContext) error {
		sc.SetBoundsForTest(flowforge.IOBounds{StrideCount: 7})
		return nil
	}

	loop := SegmentMetrics(provider, labels, inner)
	sc := flowforge.NewSegmentContextForTest(context.Background(), testKernel("merge"), 0)

	require.NoError(t, loop(context.Background(), sc))

	wantLabels := map[string]string{"pipeline": "test-pipeline", "kernel": "merge"}
	assert.Equal(t, int64(1), provider.GetCounter("flowforge_kernel_segments_total", wantLabels))
	assert.Len(t, provider.GetHistogram("flowforge_kernel_segment_duration_seconds", wantLabels), 1)
	assert.Equal(t, float64(7), provider.GetGauge("flowforge_kernel_strides_completed", wantLabels))
}

func TestSegmentMetrics_RecordsErrors(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryMetricsProvider()
	wantErr := errors.New("segment failed")
	inner := func(_ context.Context, _ *flowforge.SegmentContext) error { return wantErr }

	loop := SegmentMetrics(provider, Labels{}, inner)
	sc := flowforge.NewSegmentContextForTest(context.Background(), testKernel("sink"), 0)

	err := loop(context.Background(), sc)
	assert.ErrorIs(t, err, wantErr)

	wantLabels := map[string]string{"kernel": "sink", "error_type": "unknown"}
	assert.Equal(t, int64(1), provider.GetCounter("flowforge_kernel_segment_errors_total", wantLabels))
}

func TestCompilePhase(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryMetricsProvider()
	called := false
	err := CompilePhase(context.Background(), provider, "buffer_graph", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Len(t, provider.GetHistogram("flowforge_kernel_compile_phase_duration_seconds", map[string]string{"phase": "buffer_graph"}), 1)
}

func TestCompilePhase_RecordsErrors(t *testing.T) {
	t.Parallel()

	provider := NewInMemoryMetricsProvider()
	wantErr := errors.New("phase failed")
	err := CompilePhase(context.Background(), provider, "scheduling", func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(1), provider.GetCounter("flowforge_kernel_compile_phase_errors_total", map[string]string{"phase": "scheduling"}))
}

func TestMetricsConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultMetricsConfig()
	assert.Equal(t, "flowforge", cfg.Namespace)
	assert.Equal(t, "kernel", cfg.Subsystem)
}

func TestMetricName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		namespace string
		subsystem string
		metric    string
		expected  string
	}{
		{"full name", "flowforge", "kernel", "segments_total", "flowforge_kernel_segments_total"},
		{"namespace only", "flowforge", "", "segments_total", "flowforge_segments_total"},
		{"subsystem only", "", "kernel", "segments_total", "kernel_segments_total"},
		{"metric only", "", "", "segments_total", "segments_total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := MetricsConfig{Namespace: tt.namespace, Subsystem: tt.subsystem}
			assert.Equal(t, tt.expected, metricName(cfg, tt.metric))
		})
	}
}

func TestLabels_Merge(t *testing.T) {
	t.Parallel()

	l1 := Labels{"a": "1", "b": "2"}
	l2 := Labels{"b": "3", "c": "4"}

	merged := l1.Merge(l2)
	assert.Equal(t, "1", merged["a"])
	assert.Equal(t, "3", merged["b"])
	assert.Equal(t, "4", merged["c"])
}
