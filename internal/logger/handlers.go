package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

// Timing wraps a SegmentLoop to measure its execution time and throughput.
//
// Logs duration (with smart unit selection: µs, ms, s) and the stride count
// the segment completed once loop returns, whether it succeeded or failed.
// Perfect for answering "which kernel is eating the wall-clock budget" for a
// Config.ShowKernelCycles run.
//
// Example:
//
//	loop = log.Info().Timing("POPCOUNT", loop)
func (hb *HandlerBuilder) Timing(prefix string, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		start := time.Now()
		err := loop(ctx, sc)
		duration := time.Since(start)

		durationField, durationValue := formatDuration(duration)
		allAttrs := append(hb.segmentAttrs(sc, attrs), Attribute{durationField, durationValue}, Attribute{"strides", sc.Bounds().StrideCount})
		if err != nil {
			allAttrs = append(allAttrs, Attribute{"error", err.Error()})
		}
		logFunc(fmt.Sprintf("[%s] segment completed", prefix), allAttrs...)
		return err
	})
}

// Cycle logs every segment invocation's I/O bounds before the kernel body
// runs, regardless of outcome: accessible/writable item counts, the stride
// count the I/O calculator derived, and whether this segment is final.
// Equivalent to the original system's per-kernel cycle trace
// (Config.ShowKernelCycles).
//
// Example:
//
//	loop = log.Debug().Cycle("MERGE", loop)
func (hb *HandlerBuilder) Cycle(prefix string, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		bounds := sc.Bounds()
		allAttrs := append(hb.segmentAttrs(sc, attrs),
			Attribute{"accessible", bounds.Accessible},
			Attribute{"writable", bounds.Writable},
			Attribute{"strides", bounds.StrideCount},
			Attribute{"final", bounds.Final},
		)
		logFunc(fmt.Sprintf("[%s] cycle", prefix), allAttrs...)
		return loop(ctx, sc)
	})
}

// BlockedIO logs only the segments where the I/O calculator reduced a
// kernel's stride count to zero because no binding had enough accessible or
// writable items, the condition Config.TraceBlockedIO exists to surface: a
// kernel stuck here every round for DeadlockThreshold rounds is what trips
// the termination graph's deadlock detector.
//
// Example:
//
//	loop = log.Warn().BlockedIO("SINK", loop)
func (hb *HandlerBuilder) BlockedIO(prefix string, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		err := loop(ctx, sc)
		bounds := sc.Bounds()
		if bounds.StrideCount == 0 {
			allAttrs := append(hb.segmentAttrs(sc, attrs),
				Attribute{"accessible", bounds.Accessible},
				Attribute{"writable", bounds.Writable},
			)
			logFunc(fmt.Sprintf("[%s] blocked", prefix), allAttrs...)
		}
		return err
	})
}

// Sample logs every Nth segment invocation rather than every one, distributed
// across a long-running kernel's segment count the way the original
// interval-sampling trace did across a byte stream. every must be at least
// 1; a kernel's segment 0 is always logged.
//
// Example:
//
//	loop = log.Info().Sample("SLOW_KERNEL", 100, loop)
func (hb *HandlerBuilder) Sample(prefix string, every uint64, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	if every == 0 {
		every = 1
	}
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		err := loop(ctx, sc)
		if sc.SegmentNo%every == 0 {
			allAttrs := append(hb.segmentAttrs(sc, attrs), Attribute{"strides", sc.Bounds().StrideCount})
			logFunc(fmt.Sprintf("[%s] sample", prefix), allAttrs...)
		}
		return err
	})
}

// Print logs the full bounds and progress flag of every segment invocation
// unconditionally. Intended for debugging a small kernel or a short test
// pipeline; for anything long-running prefer Sample or Cycle.
//
// Example:
//
//	loop = log.Debug().Print("SOURCE", loop)
func (hb *HandlerBuilder) Print(prefix string, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		err := loop(ctx, sc)
		bounds := sc.Bounds()
		allAttrs := append(hb.segmentAttrs(sc, attrs),
			Attribute{"bounds", fmt.Sprintf("%+v", bounds)},
			Attribute{"progress", sc.Progress()},
		)
		if err != nil {
			allAttrs = append(allAttrs, Attribute{"error", err.Error()})
		}
		logFunc(fmt.Sprintf("[%s]", prefix), allAttrs...)
		return err
	})
}

// Boundary logs only a kernel's first segment (entry into its loop) and its
// final segment (bounds.Final), the two moments an operator debugging a
// pipeline's startup or shutdown actually cares about.
//
// Example:
//
//	loop = log.Info().Boundary("SINK", loop)
func (hb *HandlerBuilder) Boundary(prefix string, loop flowforge.SegmentLoop, attrs ...Attribute) flowforge.SegmentLoop {
	return hb.wrap(func(ctx context.Context, sc *flowforge.SegmentContext, logFunc func(string, ...Attribute)) error {
		err := loop(ctx, sc)
		bounds := sc.Bounds()
		switch {
		case sc.SegmentNo == 0:
			logFunc(fmt.Sprintf("[%s] first segment", prefix), hb.segmentAttrs(sc, attrs)...)
		case bounds.Final:
			logFunc(fmt.Sprintf("[%s] final segment", prefix), hb.segmentAttrs(sc, attrs)...)
		}
		return err
	})
}

// segmentAttrs prepends the kernel name and segment number attrs ahead of
// caller-supplied attrs, common to every wrapper in this file.
func (hb *HandlerBuilder) segmentAttrs(sc *flowforge.SegmentContext, attrs []Attribute) []Attribute {
	out := make([]Attribute, 0, len(attrs)+2)
	out = append(out, Attribute{"kernel", sc.Kernel.Name}, Attribute{"segment", sc.SegmentNo})
	out = append(out, attrs...)
	return out
}

// formatDuration returns the appropriate field name and value based on
// duration, using microseconds under 10ms and seconds at or above 1s for
// readability.
func formatDuration(d time.Duration) (string, float64) {
	microseconds := float64(d.Microseconds())
	milliseconds := float64(d.Milliseconds())
	seconds := d.Seconds()

	switch {
	case milliseconds < 10:
		return "duration_µs", microseconds
	case milliseconds >= 1000:
		return "duration_s", seconds
	default:
		return "duration_ms", milliseconds
	}
}

// wrap builds a SegmentLoop whose body has access to a level-appropriate
// logFunc, mirroring createHandler's role for the retired stream-handler
// API: fn is responsible for invoking the wrapped loop itself and returning
// its error.
func (hb *HandlerBuilder) wrap(fn func(context.Context, *flowforge.SegmentContext, func(string, ...Attribute)) error) flowforge.SegmentLoop {
	return func(ctx context.Context, sc *flowforge.SegmentContext) error {
		logFunc := func(msg string, attrs ...Attribute) {
			hb.print(ctx, msg, attrs...)
		}
		return fn(ctx, sc, logFunc)
	}
}
