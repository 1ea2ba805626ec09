package flowforge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Program is a fully compiled, schedulable pipeline: the normalized buffer
// graph, the repetition vector and partition schedule the scheduler derived
// from it, and the live buffers/consumer bookkeeping a Driver needs to
// actually execute it. Compile returns one of these; Program.Run drives it.
type Program struct {
	ID    string
	graph *RelationshipGraph
	buf   *BufferGraph

	Kernels          []*KernelDescriptor
	RepetitionVector RepetitionVector
	Schedule         PartitionSchedule
	Config           Config

	buffers   map[string]*BufferNode
	consumers map[string]*ConsumerNode
	irBuilder IRBuilder
}

func (p *Program) kernelIDs() []NodeID {
	ids := make([]NodeID, 0, len(p.Kernels))
	for _, k := range p.Kernels {
		id, _ := p.graph.KernelID(k.Name)
		ids = append(ids, id)
	}
	return ids
}

func (p *Program) kernel(id NodeID) *KernelDescriptor { return p.graph.Kernel(id) }

func (p *Program) predecessorsOf(id NodeID) []NodeID {
	return p.buf.Graph().Predecessors(id)
}

// Run executes the compiled program to completion (every kernel reaches
// StateTerminated, or StateAbnormallyTerminated propagates an error),
// dispatching to the Driver method selected by Config.Concurrency.
func (p *Program) Run(ctx context.Context) error {
	labels := map[string]string{"concurrency": p.Config.Concurrency.String()}

	start := time.Now()
	d := newDriver(p)
	var err error

	if p.Config.Tracing != nil {
		var span Span
		ctx, span = p.Config.Tracing.StartSpan(ctx, "flowforge.run")
		span.SetAttribute("program_id", p.ID)
		span.SetAttribute("kernels", len(p.Kernels))
		defer func() { span.End(err) }()
	}

	switch p.Config.Concurrency {
	case SegmentParallel:
		err = d.RunSegmentParallel(ctx)
	case PipelineParallel:
		err = d.RunPipelineParallel(ctx)
	default:
		err = d.RunSingle(ctx)
	}

	if p.Config.Metrics != nil {
		p.Config.Metrics.Counter(ctx, "flowforge_run_total", 1, labels)
		p.Config.Metrics.Histogram(ctx, "flowforge_run_duration_seconds", time.Since(start).Seconds(), labels)
	}
	return err
}

// Compile runs the full C1->C2->C3->(C4/C5/C6/C7 setup) pipeline: it builds
// the relationship graph, normalizes it into a buffer graph, solves the
// repetition vector and an ordering schedule (genetic intra-partition,
// ant-colony inter-partition), then materializes buffers and consumer
// bookkeeping ready for a Driver to execute.
//
// If cfg.ObjectCache is set, Compile first computes a signature over the
// kernel graph's shape and skips straight to Run-readiness on a cache hit,
// reusing the cached schedule rather than re-running the schedulers.
func Compile(ctx context.Context, kernels []*KernelDescriptor, cfg Config) (prog *Program, err error) {
	if cfg.IRBuilder == nil {
		cfg.IRBuilder = NewInterpreterIRBuilder()
	}
	if cfg.InitialBufferCapacity == 0 {
		cfg.InitialBufferCapacity = 64
	}

	start := time.Now()
	if cfg.Tracing != nil {
		var span Span
		ctx, span = cfg.Tracing.StartSpan(ctx, "flowforge.compile")
		span.SetAttribute("kernels", len(kernels))
		defer func() { span.End(err) }()
	}
	if cfg.Metrics != nil {
		defer func() {
			cfg.Metrics.Counter(ctx, "flowforge_compile_total", 1, nil)
			cfg.Metrics.Histogram(ctx, "flowforge_compile_duration_seconds", time.Since(start).Seconds(), nil)
		}()
	}

	signature := graphSignature(kernels)

	rg, err := NewRelationshipGraph(ctx, kernels)
	if err != nil {
		return nil, err
	}
	rg.combineDuplicateKernels()
	for _, unused := range rg.removeUnusedKernels() {
		LogWarn(ctx, "kernel produces output nobody consumes", "kernel", unused)
	}
	if err := rg.addRegionSelectorKernels(ctx); err != nil {
		return nil, err
	}
	if err := rg.addPopCountKernels(ctx); err != nil {
		return nil, err
	}

	bg, err := NewBufferGraph(ctx, rg)
	if err != nil {
		return nil, err
	}
	for _, streamSet := range bg.identifySymbolicRates() {
		LogDebug(ctx, "stream-set has a symbolic (runtime-determined) rate", "stream_set", streamSet)
	}

	var rv RepetitionVector
	var schedule PartitionSchedule

	if cfg.ObjectCache != nil {
		if cached, ok := cfg.ObjectCache.Load(ctx, signature); ok {
			LogInfoAttr(ctx, "reusing cached schedule", slog.String("signature", signature))
			rv, schedule, err = decodeCachedSchedule(rg, cached)
		}
	}
	if rv == nil {
		rv, err = computeRepetitionVector(ctx, bg)
		if err != nil {
			return nil, err
		}

		rng := rand.New(rand.NewSource(cfg.RNGSeed))
		partitions := partitionKernels(bg)
		for i, part := range partitions {
			ordered := geneticOrderKernels(bg, part.Kernels, rng)
			partitions[i] = Partition{ID: part.ID, Kernels: ordered}
		}
		schedule = orderPartitions(bg, partitions, rng)

		if cfg.ObjectCache != nil {
			if err := cfg.ObjectCache.Store(ctx, signature, encodeCachedSchedule(rg, rv, schedule)); err != nil {
				LogWarn(ctx, "failed to store schedule in object cache", "error", err.Error())
			}
		}
	}
	if err != nil {
		return nil, err
	}

	p := &Program{
		ID:               uuid.NewString(),
		graph:            rg,
		buf:              bg,
		Kernels:          rg.Kernels(),
		RepetitionVector: rv,
		Schedule:         schedule,
		Config:           cfg,
		buffers:          make(map[string]*BufferNode),
		consumers:        make(map[string]*ConsumerNode),
		irBuilder:        cfg.IRBuilder,
	}

	if err := p.materializeBuffers(ctx, bg, cfg); err != nil {
		return nil, err
	}

	return p, nil
}

// encodeCachedSchedule renders a RepetitionVector and PartitionSchedule into
// the name-keyed serializable form an ObjectCache persists.
func encodeCachedSchedule(rg *RelationshipGraph, rv RepetitionVector, schedule PartitionSchedule) CachedSchedule {
	byName := make(map[string]uint64, len(rv))
	for id, n := range rv {
		byName[rg.Kernel(id).Name] = n
	}
	order := make([][]string, len(schedule.Order))
	for i, part := range schedule.Order {
		names := make([]string, len(part.Kernels))
		for j, id := range part.Kernels {
			names[j] = rg.Kernel(id).Name
		}
		order[i] = names
	}
	return CachedSchedule{RepetitionVector: byName, PartitionOrder: order}
}

// decodeCachedSchedule resolves a CachedSchedule's kernel names back into
// NodeIDs within rg, failing if the cached schedule names a kernel that no
// longer exists in the current kernel list (the signature hash should
// already prevent this, but a hash collision or a caller-supplied signature
// mismatch is handled as a cache miss rather than a panic).
func decodeCachedSchedule(rg *RelationshipGraph, cached CachedSchedule) (RepetitionVector, PartitionSchedule, error) {
	rv := make(RepetitionVector, len(cached.RepetitionVector))
	for name, n := range cached.RepetitionVector {
		id, ok := rg.KernelID(name)
		if !ok {
			return nil, PartitionSchedule{}, fmt.Errorf("cached schedule references unknown kernel %q", name)
		}
		rv[id] = n
	}
	order := make([]Partition, len(cached.PartitionOrder))
	for i, names := range cached.PartitionOrder {
		ids := make([]NodeID, len(names))
		for j, name := range names {
			id, ok := rg.KernelID(name)
			if !ok {
				return nil, PartitionSchedule{}, fmt.Errorf("cached schedule references unknown kernel %q", name)
			}
			ids[j] = id
		}
		order[i] = Partition{ID: i, Kernels: ids}
	}
	return rv, PartitionSchedule{Order: order}, nil
}

// materializeBuffers allocates one BufferNode per distinct stream-set named
// by any output binding, with an item size of 1 and an initial capacity of
// cfg.InitialBufferCapacity (dynamic when any edge carrying it has a
// symbolic rate), and one ConsumerNode per stream-set tracking every kernel
// that reads it.
func (p *Program) materializeBuffers(ctx context.Context, bg *BufferGraph, cfg Config) error {
	consumersByStream := make(map[string][]NodeID)
	itemSizeByStream := make(map[string]int)
	dynamicByStream := make(map[string]bool)

	for _, id := range bg.g.Nodes() {
		k := bg.nodeByID[id]
		for _, b := range k.Outputs {
			if _, ok := itemSizeByStream[b.StreamSet]; !ok {
				itemSizeByStream[b.StreamSet] = 1
			}
		}
	}
	for _, id := range bg.g.Nodes() {
		for _, e := range bg.g.OutEdges(id) {
			rd := bg.g.EdgeLabel(e).(BufferRateData)
			_, to := bg.g.EdgeEndpoints(e)
			consumersByStream[rd.StreamSet] = append(consumersByStream[rd.StreamSet], to)
			if rd.Symbolic {
				dynamicByStream[rd.StreamSet] = true
			}
		}
	}

	streamSets := make([]string, 0, len(itemSizeByStream))
	for s := range itemSizeByStream {
		streamSets = append(streamSets, s)
	}
	sort.Strings(streamSets)

	for _, s := range streamSets {
		buf := bg.MaterializeBuffer(s, itemSizeByStream[s], cfg.InitialBufferCapacity, dynamicByStream[s])
		p.buffers[s] = buf
		p.consumers[s] = NewConsumerNode(s, consumersByStream[s])
	}
	return nil
}

// graphSignature derives a content hash over a kernel list's structural
// shape (names, kinds, stride sizes, binding names and rates) so the object
// cache can recognize an unchanged pipeline regardless of process restarts.
// It deliberately excludes kernel bodies (func values cannot be hashed) so a
// caller may swap in a differently-implemented but identically-shaped kernel
// without invalidating the cache.
func graphSignature(kernels []*KernelDescriptor) string {
	h := sha256.New()
	names := make([]string, len(kernels))
	byName := make(map[string]*KernelDescriptor, len(kernels))
	for i, k := range kernels {
		names[i] = k.Name
		byName[k.Name] = k
	}
	sort.Strings(names)
	for _, name := range names {
		k := byName[name]
		fmt.Fprintf(h, "k:%s:%d:%d:%d;", k.Name, k.Kind, k.StrideSize, k.Attributes.bits)
		for _, b := range k.Inputs {
			fmt.Fprintf(h, "in:%s:%s:%v;", b.Name, b.StreamSet, b.Rate)
		}
		for _, b := range k.Outputs {
			fmt.Fprintf(h, "out:%s:%s:%v;", b.Name, b.StreamSet, b.Rate)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

