package flowforge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/samplekernels"
	"github.com/flowforge/flowforge/pkg/flowforge"
)

type recordingMetrics struct {
	counters   []string
	histograms []string
}

func (m *recordingMetrics) Counter(_ context.Context, name string, _ int64, _ map[string]string) {
	m.counters = append(m.counters, name)
}

func (m *recordingMetrics) Histogram(_ context.Context, name string, _ float64, _ map[string]string) {
	m.histograms = append(m.histograms, name)
}

type recordingSpan struct {
	ended bool
	attrs map[string]any
}

func (s *recordingSpan) End(error)                    { s.ended = true }
func (s *recordingSpan) SetAttribute(k string, v any) { s.attrs[k] = v }

type recordingTracing struct {
	spans []*recordingSpan
}

func (t *recordingTracing) StartSpan(ctx context.Context, _ string) (context.Context, flowforge.Span) {
	span := &recordingSpan{attrs: make(map[string]any)}
	t.spans = append(t.spans, span)
	return ctx, span
}

// TestCompileAndRun_EmitMetricsAndSpans checks that a Config wiring a
// Metrics and Tracing collaborator sees both Compile and Program.Run
// report a counter, a duration histogram, and a started-and-ended span.
func TestCompileAndRun_EmitMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	data := []byte("ABCDEFGH")

	var out []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("source", "raw", data, 4),
		samplekernels.NewIdentity("copy", "raw", "copied", 4),
		samplekernels.NewByteSink("sink", "copied", 4, &out),
	}

	metrics := &recordingMetrics{}
	tracing := &recordingTracing{}
	cfg := flowforge.DefaultConfig()
	cfg.Metrics = metrics
	cfg.Tracing = tracing

	prog, err := flowforge.Compile(ctx, kernels, cfg)
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))

	assert.Contains(t, metrics.counters, "flowforge_compile_total")
	assert.Contains(t, metrics.counters, "flowforge_run_total")
	assert.Contains(t, metrics.histograms, "flowforge_compile_duration_seconds")
	assert.Contains(t, metrics.histograms, "flowforge_run_duration_seconds")

	require.Len(t, tracing.spans, 2)
	for _, span := range tracing.spans {
		assert.True(t, span.ended)
	}
	assert.Equal(t, len(kernels), tracing.spans[0].attrs["kernels"])
	assert.Equal(t, prog.ID, tracing.spans[1].attrs["program_id"])
}
