// Package observability instruments pipeline compilation and execution:
// metrics about segment throughput and latency, distributed traces across
// the compiler's phases and a running program's segments, and health checks
// for the external collaborators a compiled program depends on (an object
// cache, a remote IR builder). It uses OpenTelemetry as the core abstraction
// for vendor-neutral instrumentation that can export to Prometheus, Jaeger,
// Grafana, and more.
package observability

import (
	"context"
	"time"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

// MetricsConfig configures the metrics instrumentation's naming.
type MetricsConfig struct {
	// Namespace prefixes all metric names (e.g., "flowforge" -> "flowforge_segments_total")
	Namespace string

	// Subsystem is added after namespace (e.g., "kernel" -> "flowforge_kernel_segments_total")
	Subsystem string

	// Labels are default labels applied to every metric this instrumentation emits.
	Labels Labels
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "flowforge",
		Subsystem: "kernel",
		Labels:    Labels{},
	}
}

// MetricsOption configures the metrics instrumentation.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the namespace for metrics.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(cfg *MetricsConfig) { cfg.Namespace = namespace }
}

// WithMetricsSubsystem sets the subsystem for metrics.
func WithMetricsSubsystem(subsystem string) MetricsOption {
	return func(cfg *MetricsConfig) { cfg.Subsystem = subsystem }
}

// WithMetricsLabels sets default labels for all metrics.
func WithMetricsLabels(labels Labels) MetricsOption {
	return func(cfg *MetricsConfig) { cfg.Labels = labels }
}

// SegmentMetrics wraps a SegmentLoop with per-invocation metrics: a counter
// of segments run, a histogram of segment duration, a counter of segments
// that errored, and a gauge of strides completed per segment. The kernel
// name is always included as a label so a dashboard can break these down
// per kernel.
//
// What it records:
//
//  1. flowforge_kernel_segments_total (Counter)
//  2. flowforge_kernel_segment_duration_seconds (Histogram)
//  3. flowforge_kernel_segment_errors_total (Counter)
//  4. flowforge_kernel_strides_completed (Gauge)
//
// Example:
//
//	provider := observability.NewPrometheusProvider()
//	loop = observability.SegmentMetrics(provider, Labels{"pipeline": "popcount"}, loop)
func SegmentMetrics(provider MetricsProvider, labels Labels, loop flowforge.SegmentLoop, opts ...MetricsOption) flowforge.SegmentLoop {
	cfg := DefaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	allLabels := cfg.Labels.Merge(labels)

	return func(ctx context.Context, sc *flowforge.SegmentContext) error {
		start := time.Now()
		kernelLabels := allLabels.Merge(Labels{"kernel": sc.Kernel.Name})

		err := loop(ctx, sc)

		duration := time.Since(start)
		provider.Counter(ctx, metricName(cfg, "segments_total"), 1, kernelLabels)
		provider.RecordDuration(ctx, metricName(cfg, "segment_duration_seconds"), duration, kernelLabels)
		provider.Gauge(ctx, metricName(cfg, "strides_completed"), float64(sc.Bounds().StrideCount), kernelLabels)

		if err != nil {
			errLabels := kernelLabels.Merge(Labels{"error_type": errorType(err)})
			provider.Counter(ctx, metricName(cfg, "segment_errors_total"), 1, errLabels)
		}

		return err
	}
}

// CompilePhase wraps a compile-phase function (one of the relationship
// graph/buffer graph/scheduling analyzer passes) with duration and error
// metrics, for profiling which phase of Compile dominates cold-compile time.
//
// Example:
//
//	err := observability.CompilePhase(ctx, provider, "relationship_graph", func() error {
//	    rg, err = flowforge.NewRelationshipGraph(ctx, kernels)
//	    return err
//	})
func CompilePhase(ctx context.Context, provider MetricsProvider, phase string, fn func() error, opts ...MetricsOption) error {
	cfg := DefaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	labels := cfg.Labels.Merge(Labels{"phase": phase})

	start := time.Now()
	err := fn()
	provider.RecordDuration(ctx, metricName(cfg, "compile_phase_duration_seconds"), time.Since(start), labels)
	if err != nil {
		provider.Counter(ctx, metricName(cfg, "compile_phase_errors_total"), 1, labels)
	}
	return err
}

// metricName builds the full metric name with namespace and subsystem.
func metricName(cfg MetricsConfig, name string) string {
	if cfg.Namespace != "" && cfg.Subsystem != "" {
		return cfg.Namespace + "_" + cfg.Subsystem + "_" + name
	}
	if cfg.Namespace != "" {
		return cfg.Namespace + "_" + name
	}
	if cfg.Subsystem != "" {
		return cfg.Subsystem + "_" + name
	}
	return name
}

// errorType extracts a type string from an error for labeling.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := err.(*flowforge.Error); ok {
		return "flowforge_error"
	}
	if _, ok := err.(*flowforge.AssertionError); ok {
		return "assertion_error"
	}
	return "unknown"
}
