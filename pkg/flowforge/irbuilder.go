package flowforge

import "context"

// IRBuilder is the external collaborator that turns a compiled Program's
// per-kernel segment state machine into an executable form. In the original
// system this boundary was an LLVM IR builder; here it is a driver loop
// collaborator, since code generation to machine code is out of scope -- the
// reference implementation below (interpreterIRBuilder) realizes the state
// machine directly as a Go function rather than emitting IR for a separate
// backend to compile.
type IRBuilder interface {
	// BuildSegmentLoop returns a callable that runs kernel's segment state
	// machine: entry, loop-entry, calculate-item-counts, call, termination-
	// check, (abnormal-termination | terminated), loop-exit, exit, exactly
	// as laid out in the segment compiler.
	BuildSegmentLoop(k *KernelDescriptor) (SegmentLoop, error)
}

// SegmentLoop runs one segment of one kernel's state machine, returning nil
// when the segment ends normally and an error on abnormal termination,
// driven by the SegmentContext's stream-set accessors and the
// TerminationGraph shared across the whole program.
type SegmentLoop func(ctx context.Context, sc *SegmentContext) error

// CachedSchedule is the serializable portion of a compiled Program: the
// repetition vector and partition ordering, keyed by kernel name rather than
// NodeID so it survives round-tripping through a persistent store across
// process restarts (NodeID is only stable within one Graph instance; kernel
// bodies are never part of the cached payload since func values cannot be
// serialized at all).
type CachedSchedule struct {
	RepetitionVector map[string]uint64
	PartitionOrder   [][]string
}

// ObjectCache is the external collaborator the compiler consults before
// running the expensive C1-C3 analysis passes: if a schedule for the same
// kernel-graph signature was already computed, Compile reuses it instead of
// re-running the genetic and ant-colony schedulers. internal/objectcache
// provides a badger-backed implementation; tests use an in-memory one.
type ObjectCache interface {
	// Load returns a cached CachedSchedule for signature, or ok=false on a miss.
	Load(ctx context.Context, signature string) (sched CachedSchedule, ok bool)
	// Store saves sched under signature for future compiles.
	Store(ctx context.Context, signature string, sched CachedSchedule) error
}

// interpreterIRBuilder is the concrete, always-available IRBuilder: it
// builds a SegmentLoop that directly interprets the C4 state machine rather
// than lowering to any IR. It is the default collaborator compiler.go wires
// in when the caller supplies none.
type interpreterIRBuilder struct{}

// NewInterpreterIRBuilder returns the reference IRBuilder used when no
// external code generator is configured.
func NewInterpreterIRBuilder() IRBuilder { return interpreterIRBuilder{} }

// BuildSegmentLoop implements IRBuilder by returning runSegmentStateMachine
// bound to k.
func (interpreterIRBuilder) BuildSegmentLoop(k *KernelDescriptor) (SegmentLoop, error) {
	if k.Body == nil {
		return nil, NewErr(context.Background(), "kernel "+k.Name+" has no body")
	}
	return func(ctx context.Context, sc *SegmentContext) error {
		return runSegmentStateMachine(ctx, k, sc)
	}, nil
}
