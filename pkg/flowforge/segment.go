package flowforge

import (
	"context"
	"fmt"
)

// segmentState names the states of the per-kernel segment state machine
// (C4), mirroring the block diagram: a kernel's segment loop passes through
// these once per invocation until it reaches loopExit and exit.
type segmentState int

const (
	stateEntry segmentState = iota
	stateLoopEntry
	stateCalculateItemCounts
	stateCall
	stateTerminationCheck
	stateAbnormalTermination
	stateTerminated
	stateLoopExit
	stateExit
)

func (s segmentState) String() string {
	switch s {
	case stateEntry:
		return "entry"
	case stateLoopEntry:
		return "loop_entry"
	case stateCalculateItemCounts:
		return "calculate_item_counts"
	case stateCall:
		return "call"
	case stateTerminationCheck:
		return "termination_check"
	case stateAbnormalTermination:
		return "abnormal_termination"
	case stateTerminated:
		return "terminated"
	case stateLoopExit:
		return "loop_exit"
	case stateExit:
		return "exit"
	default:
		return "invalid"
	}
}

// SegmentContext is the per-kernel, per-segment execution environment
// passed to a KernelBody and threaded through the state machine: it owns
// the kernel's input/output stream-set accessors, the segment number, and
// the shared termination/consumer bookkeeping the state machine consults at
// the termination-check state.
type SegmentContext struct {
	ctx context.Context

	Kernel    *KernelDescriptor
	SegmentNo uint64

	buffers   map[string]*BufferNode
	consumers map[string]*ConsumerNode
	terminate *TerminationGraph
	self      NodeID

	// bounds is populated at calculate-item-counts and read at call.
	bounds IOBounds

	// progress is set during call to report whether this invocation
	// produced or consumed at least one item, feeding the deadlock detector.
	progress bool

	// lastCompleted and callErr carry the result of the most recent call
	// state back into the termination-check state.
	lastCompleted uint64
	callErr       error
}

// Progress reports whether this segment invocation produced or consumed at
// least one item, for the deadlock detector's no-progress-round accounting.
func (sc *SegmentContext) Progress() bool { return sc.progress }

// NewSegmentContextForTest builds a standalone SegmentContext for testing
// SegmentLoop wrappers (internal/logger's instrumentation, for instance)
// without going through a Driver. Production code always obtains a
// SegmentContext from Driver.newSegmentContext instead.
func NewSegmentContextForTest(ctx context.Context, k *KernelDescriptor, segNo uint64) *SegmentContext {
	return &SegmentContext{ctx: ctx, Kernel: k, SegmentNo: segNo}
}

// SetBoundsForTest sets the IOBounds a test-constructed SegmentContext
// reports from Bounds().
func (sc *SegmentContext) SetBoundsForTest(b IOBounds) { sc.bounds = b }

// Context returns the execution context for this segment invocation.
func (sc *SegmentContext) Context() context.Context { return sc.ctx }

// Bounds returns the IOBounds computed for this segment invocation.
func (sc *SegmentContext) Bounds() IOBounds { return sc.bounds }

// ReadInput copies n items of an input binding's stream-set starting at
// position from into dst, and records progress.
func (sc *SegmentContext) ReadInput(bindingName string, from, n uint64, dst []byte) error {
	b, ok := sc.Kernel.InputBinding(bindingName)
	if !ok {
		return fmt.Errorf("kernel %q has no input binding %q", sc.Kernel.Name, bindingName)
	}
	buf, ok := sc.buffers[b.StreamSet]
	if !ok {
		return fmt.Errorf("kernel %q: stream-set %q has no buffer", sc.Kernel.Name, b.StreamSet)
	}
	if n > 0 {
		sc.progress = true
	}
	if b.Attributes.Has(AttrZeroExtended) {
		return buf.ReadZeroExtended(from, n, dst)
	}
	return buf.Read(from, n, dst)
}

// WriteOutput writes n items of data to an output binding's stream-set and
// records progress.
func (sc *SegmentContext) WriteOutput(bindingName string, data []byte, n uint64) error {
	b, ok := sc.Kernel.OutputBinding(bindingName)
	if !ok {
		return fmt.Errorf("kernel %q has no output binding %q", sc.Kernel.Name, bindingName)
	}
	buf, ok := sc.buffers[b.StreamSet]
	if !ok {
		return fmt.Errorf("kernel %q: stream-set %q has no buffer", sc.Kernel.Name, b.StreamSet)
	}
	if n > 0 {
		sc.progress = true
	}
	return buf.Write(data, n)
}

// ReleaseInput tells the ConsumerNode for an input binding's stream-set that
// this kernel has released items up to pos, permitting the producer to
// reclaim that buffer space.
func (sc *SegmentContext) ReleaseInput(bindingName string, pos uint64) error {
	b, ok := sc.Kernel.InputBinding(bindingName)
	if !ok {
		return fmt.Errorf("kernel %q has no input binding %q", sc.Kernel.Name, bindingName)
	}
	cn, ok := sc.consumers[b.StreamSet]
	if !ok {
		return nil
	}
	cn.RecordRelease(sc.self, pos)
	if buf, ok := sc.buffers[b.StreamSet]; ok {
		if slowest := cn.SlowestConsumed(); slowest > buf.Consumed() {
			return buf.Release(slowest)
		}
	}
	return nil
}

// runSegmentStateMachine drives kernel k through one segment of the C4
// cycle: entry, loop-entry, calculate-item-counts, call, termination-check,
// then loop-exit/exit. Each state is visited at most once per invocation;
// termination-check never loops back to loop-entry, and the driver in
// sync.go invokes the machine again for the next segment. It returns nil
// when the segment ends normally and a non-nil error
// only for abnormal termination (the caller, segment.go's driver in sync.go,
// is responsible for calling TerminationGraph.MarkAbnormallyTerminated).
func runSegmentStateMachine(ctx context.Context, k *KernelDescriptor, sc *SegmentContext) error {
	state := stateEntry
	for {
		switch state {
		case stateEntry:
			state = stateLoopEntry

		case stateLoopEntry:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			state = stateCalculateItemCounts

		case stateCalculateItemCounts:
			// The caller (sync.go's driver) has already populated sc.bounds
			// via ComputeIOBounds before invoking the state machine for this
			// segment; here the state machine only validates it.
			if sc.bounds.StrideCount == 0 && !k.CanTerminateEarly {
				state = stateTerminationCheck
				continue
			}
			state = stateCall

		case stateCall:
			completed, err := k.Body(sc, sc.bounds.StrideCount)
			if err != nil {
				state = stateAbnormalTermination
				sc.callErr = err
				continue
			}
			if completed > 0 {
				sc.progress = true
			}
			sc.lastCompleted = completed
			state = stateTerminationCheck

		case stateTerminationCheck:
			if sc.bounds.Final || sc.bounds.StrideCount == 0 {
				state = stateTerminated
				continue
			}
			// A kernel that can signal its own end-of-data (a source with no
			// relationship-graph predecessor to gate its termination on) has
			// reached it once a segment with work available completes zero
			// items: the bounds calculator has no visibility into a source's
			// private data cursor, so this is the only place that signal can
			// surface.
			if sc.lastCompleted == 0 && k.CanTerminateEarly {
				state = stateTerminated
				continue
			}
			if sc.lastCompleted < sc.bounds.StrideCount && !k.Attributes.Has(AttrCanModifySegmentLength) {
				state = stateAbnormalTermination
				sc.callErr = NewAssertionError(k.Name, sc.SegmentNo, "kernel completed fewer strides than requested without AttrCanModifySegmentLength")
				continue
			}
			state = stateLoopExit

		case stateAbnormalTermination:
			return sc.callErr

		case stateTerminated:
			state = stateLoopExit

		case stateLoopExit:
			state = stateExit

		case stateExit:
			return nil
		}
	}
}
