// Package observability (tracing portion) instruments pipeline execution with
// distributed traces. Each segment invocation (or compile phase) creates a
// "span" that records:
//
//   - When the operation started and ended
//   - Whether it succeeded or failed
//   - Custom attributes (stride count, kernel name, segment number)
//
// Example:
//
//	provider, _ := observability.NewOTLPTracerProvider("flowforge", "localhost:4317")
//	defer provider.Shutdown(context.Background())
//
//	loop = observability.TracingSegment(provider, "popcount", loop)
package observability

import (
	"context"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

// TracingConfig configures the tracing instrumentation.
type TracingConfig struct {
	// RecordBounds records the segment's accessible/writable/stride-count
	// bounds as span attributes. Default: true (these are never sensitive).
	RecordBounds bool

	// MaxAttributeLength truncates TracingSegment's "error" attribute to this
	// length (with "..." appended); other attributes are not truncated.
	// Set to 0 for no limit. Default: 1024.
	MaxAttributeLength int
}

// DefaultTracingConfig returns the default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		RecordBounds:       true,
		MaxAttributeLength: 1024,
	}
}

// TracingOption configures the tracing instrumentation.
type TracingOption func(*TracingConfig)

// WithRecordBounds toggles recording of I/O bounds as span attributes.
func WithRecordBounds(record bool) TracingOption {
	return func(cfg *TracingConfig) { cfg.RecordBounds = record }
}

// WithMaxAttributeLength sets the maximum length for string attribute values.
func WithMaxAttributeLength(length int) TracingOption {
	return func(cfg *TracingConfig) { cfg.MaxAttributeLength = length }
}

// TracingSegment wraps a SegmentLoop with a trace span covering one segment
// invocation, named operationName with the kernel name and segment number
// always attached as attributes.
//
// Example:
//
//	provider, _ := observability.NewOTLPTracerProvider("flowforge", "localhost:4317")
//	loop = observability.TracingSegment(provider, "popcount-segment", loop)
func TracingSegment(provider TracerProvider, operationName string, loop flowforge.SegmentLoop, opts ...TracingOption) flowforge.SegmentLoop {
	cfg := DefaultTracingConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, sc *flowforge.SegmentContext) error {
		ctx, span := provider.StartSpan(ctx, operationName, WithSpanKind(SpanKindInternal))
		span.SetAttribute("kernel", sc.Kernel.Name)
		span.SetAttribute("segment", sc.SegmentNo)

		err := loop(ctx, sc)

		if cfg.RecordBounds {
			bounds := sc.Bounds()
			span.SetAttribute("accessible", bounds.Accessible)
			span.SetAttribute("writable", bounds.Writable)
			span.SetAttribute("strides", bounds.StrideCount)
			span.SetAttribute("final", bounds.Final)
		}

		if err != nil {
			span.SetStatus(SpanStatusError, err.Error())
			span.SetAttribute("error", truncate(err.Error(), cfg.MaxAttributeLength))
		} else {
			span.SetStatus(SpanStatusOK, "")
		}

		span.End(err)
		return err
	}
}

// TracingCompilePhase wraps one compile phase (relationship graph
// construction, buffer graph normalization, scheduling) in a span, for
// visualizing where Compile spends its time on a cold-compile trace.
//
// Example:
//
//	err := observability.TracingCompilePhase(ctx, provider, "scheduling", func(ctx context.Context) error {
//	    schedule, err = flowforge.ComputeSchedule(ctx, bg)
//	    return err
//	})
func TracingCompilePhase(ctx context.Context, provider TracerProvider, operationName string, fn func(context.Context) error) error {
	ctx, span := provider.StartSpan(ctx, operationName, WithSpanKind(SpanKindInternal))
	err := fn(ctx)
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
		span.SetAttribute("error", err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End(err)
	return err
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
