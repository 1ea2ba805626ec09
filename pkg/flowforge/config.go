package flowforge

import (
	"context"
	"time"
)

// ConcurrencyModel selects which Driver method Program.Run dispatches to.
type ConcurrencyModel int

const (
	// Single runs every kernel sequentially on the calling goroutine.
	Single ConcurrencyModel = iota
	// SegmentParallel gives every kernel its own goroutine, lock-stepping
	// on LSNs.
	SegmentParallel
	// PipelineParallel additionally lets independent partitions race ahead.
	PipelineParallel
)

func (c ConcurrencyModel) String() string {
	switch c {
	case Single:
		return "single"
	case SegmentParallel:
		return "segment-parallel"
	case PipelineParallel:
		return "pipeline-parallel"
	default:
		return "invalid"
	}
}

// Config collects the compiler's entire CLI-facing surface into one record,
// replacing the original system's scattered global/static compile-time
// flags (ShowKernelCycles, TraceBlockedIO, and friends) with a single
// explicitly threaded struct. No field is read from the process environment;
// every value must be set by the caller or left at its documented default.
type Config struct {
	// Concurrency selects the execution model Program.Run uses.
	Concurrency ConcurrencyModel

	// DeadlockThreshold is the number of consecutive no-progress segment
	// rounds the termination graph tolerates before declaring a deadlock.
	// Zero means the default of 2.
	DeadlockThreshold int

	// InitialBufferCapacity is the item count new BufferNodes are allocated
	// with before any runtime expansion.
	InitialBufferCapacity uint64

	// RNGSeed seeds the genetic and ant-colony schedulers. Compiling the
	// same kernel graph with the same seed always produces the same
	// schedule (Invariant 3).
	RNGSeed int64

	// ObjectCache, if non-nil, lets Compile skip the scheduling passes for
	// a kernel graph it has already compiled.
	ObjectCache ObjectCache

	// IRBuilder selects the code generation backend. Defaults to
	// NewInterpreterIRBuilder() if nil.
	IRBuilder IRBuilder

	// ShowKernelCycles names the per-segment timing trace. Compile and
	// Program.Run do not read it; no timing is logged on its account.
	ShowKernelCycles bool

	// TraceBlockedIO names the trace of strides limited by a binding's
	// accessible/writable item bound. Compile and Program.Run do not read
	// it; nothing is logged on its account.
	TraceBlockedIO bool

	// TraceDynamicBuffers names the BufferNode expansion trace. Compile and
	// Program.Run do not read it; expansions are recorded in each buffer's
	// ExpansionHistory whether or not it is set, and none is logged.
	TraceDynamicBuffers bool

	// SegmentTimeout bounds how long a single kernel invocation may run
	// before its context is cancelled. Zero means no timeout.
	SegmentTimeout time.Duration

	// Metrics, if non-nil, receives counters and histograms for Compile and
	// Program.Run's overall duration. Nil disables metrics entirely.
	Metrics Metrics

	// Tracing, if non-nil, wraps Compile and Program.Run in spans. Nil
	// disables tracing entirely.
	Tracing Tracing
}

// Metrics is the external collaborator Compile and Program.Run report
// counts and durations to. It mirrors internal/observability's
// MetricsProvider method set without requiring this package to import it;
// observability.MetricsAdapter bridges any MetricsProvider to this shape.
type Metrics interface {
	// Counter increments a named counter by value, tagged with labels.
	Counter(ctx context.Context, name string, value int64, labels map[string]string)
	// Histogram records value in a named distribution, tagged with labels.
	Histogram(ctx context.Context, name string, value float64, labels map[string]string)
}

// Tracing is the external collaborator Compile and Program.Run use to wrap
// their work in spans. It mirrors internal/observability's TracerProvider
// method set; observability.TracingAdapter bridges any TracerProvider to
// this shape.
type Tracing interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is the handle Tracing.StartSpan returns; End must be called exactly
// once per span, typically via defer.
type Span interface {
	End(err error)
	SetAttribute(key string, value any)
}

// DefaultConfig returns a Config with every field at its documented default:
// single-threaded execution, a deadlock threshold of 2, a 64-item initial
// buffer capacity, a fixed RNG seed for deterministic compilation, the
// reference interpreter IR builder, and all tracing disabled.
func DefaultConfig() Config {
	return Config{
		Concurrency:           Single,
		DeadlockThreshold:     2,
		InitialBufferCapacity: 64,
		RNGSeed:               1,
		IRBuilder:             NewInterpreterIRBuilder(),
	}
}

func (c Config) deadlockThreshold() int {
	if c.DeadlockThreshold <= 0 {
		return 2
	}
	return c.DeadlockThreshold
}
