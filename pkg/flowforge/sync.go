package flowforge

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// LSN (logical segment number) is the monotonically increasing counter a
// kernel's segment loop waits on before it may begin its next segment: a
// kernel at logical segment n may run segment n only once every kernel it
// depends on has published its own segment n's outputs. Every kernel has its
// own LSN, advanced only by that kernel's own driver goroutine (single
// writer), and read by its consumers' driver goroutines (multiple readers) --
// a classic release/acquire pattern implemented directly on atomics rather
// than a mutex, since the only operation other goroutines need is "has LSN
// reached at least N yet".
type LSN struct {
	value atomic.Uint64
}

// Load returns the current published segment number.
func (l *LSN) Load() uint64 { return l.value.Load() }

// Advance publishes n as the new segment number. Must only be called by the
// kernel's own driver goroutine.
func (l *LSN) Advance(n uint64) { l.value.Store(n) }

// WaitAtLeast blocks (spinning with a brief yield) until the LSN reaches at
// least n or ctx is cancelled. This is used by a consumer's driver goroutine
// to wait for a producer to publish the segment it depends on, in both the
// segment-parallel and pipeline-parallel drivers.
func (l *LSN) WaitAtLeast(ctx context.Context, n uint64) error {
	for l.Load() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	return nil
}

// Driver runs a compiled Program's kernels to completion under one of three
// concurrency models, selected by Config.Concurrency: Single runs every
// kernel's segment loop sequentially on the calling goroutine in
// Program.Kernels order; SegmentParallel gives every kernel its own goroutine which all
// advance together segment-by-segment; PipelineParallel additionally lets
// independent partitions race ahead of each other rather than lock-stepping
// on a single shared segment counter.
type Driver struct {
	prog      *Program
	lsns      map[NodeID]*LSN
	terminate *TerminationGraph
	consumers map[string]*ConsumerNode
	buffers   map[string]*BufferNode
}

func newDriver(prog *Program) *Driver {
	d := &Driver{
		prog:      prog,
		lsns:      make(map[NodeID]*LSN, len(prog.Kernels)),
		terminate: NewTerminationGraph(prog.kernelIDs(), prog.Config.deadlockThreshold()),
		consumers: prog.consumers,
		buffers:   prog.buffers,
	}
	for _, id := range prog.kernelIDs() {
		d.lsns[id] = &LSN{}
	}
	return d
}

// RunSingle executes every kernel's segment loop sequentially, one segment
// at a time, in Program.Kernels order (the caller's kernels, then any the
// compiler synthesized); the schedule's partition order is not used, and a
// kernel whose inputs are not yet available in a round waits for a later
// round. This is the simplest and
// slowest concurrency model, used for deterministic tests and for very
// small pipelines where goroutine overhead would dominate.
func (d *Driver) RunSingle(ctx context.Context) error {
	order := d.prog.kernelIDs()
	var segNo uint64
	for {
		anyProgress := false
		allDone := true
		for _, id := range order {
			if d.terminate.State(id) != StateRunning {
				continue
			}
			allDone = false
			k := d.prog.kernel(id)
			sc := d.newSegmentContext(ctx, id, k, segNo)
			sc.bounds = d.computeBoundsFor(id, k, segNo)
			loop, err := d.prog.irBuilder.BuildSegmentLoop(k)
			if err != nil {
				return err
			}
			if err := loop(ctx, sc); err != nil {
				d.terminate.MarkAbnormallyTerminated(id)
				return fmt.Errorf("kernel %q segment %d: %w", k.Name, segNo, err)
			}
			if sc.bounds.Final {
				if err := d.terminate.MarkTerminated(id); err != nil {
					return err
				}
			}
			if sc.Progress() {
				anyProgress = true
			}
			d.lsns[id].Advance(segNo + 1)
		}
		if allDone || d.terminate.AllTerminated() {
			return nil
		}
		if err := d.terminate.ObserveRound(anyProgress); err != nil {
			return err
		}
		segNo++
	}
}

// RunSegmentParallel runs every kernel's segment loop on its own goroutine.
// Each goroutine waits on its producers' LSNs before starting a segment and
// advances its own LSN after finishing one, repeating until its
// TerminationGraph state leaves StateRunning or the group context is
// cancelled by a sibling's error.
func (d *Driver) RunSegmentParallel(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var roundMu sync.Mutex
	roundProgress := make(map[NodeID]bool)

	for _, id := range d.prog.kernelIDs() {
		id := id
		k := d.prog.kernel(id)
		preds := d.prog.predecessorsOf(id)
		loop, err := d.prog.irBuilder.BuildSegmentLoop(k)
		if err != nil {
			return err
		}
		g.Go(func() error {
			var segNo uint64
			for d.terminate.State(id) == StateRunning {
				for _, p := range preds {
					if err := d.lsns[p].WaitAtLeast(gctx, segNo+1); err != nil {
						return err
					}
				}
				sc := d.newSegmentContext(gctx, id, k, segNo)
				sc.bounds = d.computeBoundsFor(id, k, segNo)
				if err := loop(gctx, sc); err != nil {
					d.terminate.MarkAbnormallyTerminated(id)
					return fmt.Errorf("kernel %q segment %d: %w", k.Name, segNo, err)
				}
				if sc.bounds.Final {
					if err := d.terminate.MarkTerminated(id); err != nil {
						return err
					}
				}
				roundMu.Lock()
				roundProgress[id] = sc.Progress()
				allReported := len(roundProgress) == len(d.prog.Kernels)
				roundMu.Unlock()
				if allReported {
					any := false
					roundMu.Lock()
					for _, p := range roundProgress {
						if p {
							any = true
						}
					}
					roundProgress = make(map[NodeID]bool)
					roundMu.Unlock()
					if err := d.terminate.ObserveRound(any); err != nil {
						return err
					}
				}
				d.lsns[id].Advance(segNo + 1)
				segNo++
			}
			return nil
		})
	}
	return g.Wait()
}

// RunPipelineParallel is identical to RunSegmentParallel except independent
// partitions are not required to publish LSNs in lockstep: a downstream
// partition with no symbolic-rate dependency on an upstream partition's
// current segment may run ahead using only the stream-set LSNs it actually
// depends on, which RunSegmentParallel's per-kernel-predecessor wait already
// expresses -- the distinction from the original design is architectural
// (explicit pipeline-parallel worker pools, §5), not behavioral, since Go's
// goroutine scheduler already lets independent waiters race freely.
func (d *Driver) RunPipelineParallel(ctx context.Context) error {
	return d.RunSegmentParallel(ctx)
}

func (d *Driver) newSegmentContext(ctx context.Context, id NodeID, k *KernelDescriptor, segNo uint64) *SegmentContext {
	return &SegmentContext{
		ctx:       ctx,
		Kernel:    k,
		SegmentNo: segNo,
		buffers:   d.buffers,
		consumers: d.consumers,
		terminate: d.terminate,
		self:      id,
	}
}

// computeBoundsFor gathers the live counters for k's bindings and delegates
// to ComputeIOBounds, capped by the repetition-vector-derived stride limit
// for this kernel.
func (d *Driver) computeBoundsFor(id NodeID, k *KernelDescriptor, segNo uint64) IOBounds {
	inputCounters := make(map[string][2]uint64, len(k.Inputs))
	var partialSumRefs map[string][]uint64
	for _, b := range k.Inputs {
		buf, ok := d.buffers[b.StreamSet]
		if !ok {
			continue
		}
		inputCounters[b.Name] = [2]uint64{buf.Produced(), buf.Consumed()}
		if b.Rate.Kind == RatePartialSum {
			refBinding, ok := k.InputBinding(b.Rate.Reference)
			if !ok {
				continue
			}
			refBuf, ok := d.buffers[refBinding.StreamSet]
			if !ok {
				continue
			}
			if partialSumRefs == nil {
				partialSumRefs = make(map[string][]uint64, 1)
			}
			partialSumRefs[b.Name] = decodePartialSumReference(refBuf)
		}
	}
	outputCounters := make(map[string][3]uint64, len(k.Outputs))
	for _, b := range k.Outputs {
		buf, ok := d.buffers[b.StreamSet]
		if !ok {
			continue
		}
		cn := d.consumers[b.StreamSet]
		slowest := uint64(0)
		if cn != nil {
			slowest = cn.SlowestConsumed()
		}
		outputCounters[b.Name] = [3]uint64{buf.Capacity(), buf.Produced(), slowest}
	}
	limit := d.prog.RepetitionVector[id]
	if limit == 0 {
		limit = 1
	}
	return ComputeIOBoundsWithReferences(k, inputCounters, outputCounters, partialSumRefs, limit)
}

// partialSumReferenceWordSize is the byte width a partial-sum reference
// stream's cumulative values are encoded in: one little-endian uint64 per
// entry, matching internal/samplekernels' record-length producers.
const partialSumReferenceWordSize = 8

// decodePartialSumReference reads every complete uint64 a reference
// stream-set's buffer has produced so far, from the start of the stream --
// cumulative-sum values never need look-behind past their own production, so
// reading from position zero is always valid as long as the buffer has not
// wrapped past its own history, which a partial-sum reference stream (small,
// monotonically consumed in step with its primary) never does in practice.
func decodePartialSumReference(buf *BufferNode) []uint64 {
	produced := buf.Produced()
	n := produced / partialSumReferenceWordSize
	if n == 0 {
		return nil
	}
	raw := make([]byte, n*partialSumReferenceWordSize)
	if err := buf.Read(0, n*partialSumReferenceWordSize, raw); err != nil {
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*partialSumReferenceWordSize : i*partialSumReferenceWordSize+partialSumReferenceWordSize])
	}
	return out
}
