package flowforge

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/bits"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// streamSetEdge labels a relationship-graph edge: the stream-set flowing
// from a producer kernel's output binding to a consumer kernel's input
// binding, and the RelationshipType recording which port it terminates on
// and why the edge exists (spec.md's Explicit/ImplicitRegionSelector/
// ImplicitPopCount/Reference taxonomy).
type streamSetEdge struct {
	StreamSet string
	Binding   Binding
	Type      RelationshipType
}

// RelationshipGraph is a DAG of kernels (C1). Each node's payload is a
// *KernelDescriptor; each edge carries the stream-set and binding that
// connects a producer's output to a consumer's input. It is built once per
// compile from the caller-supplied kernel list and then normalized in place:
// duplicate kernels are merged, unreachable kernels are pruned, and the
// synthetic kernels a correct schedule needs (region selectors for
// conditional execution, pop-count kernels feeding PartialSum consumers) are
// inserted before the buffer graph is derived from it.
type RelationshipGraph struct {
	g *Graph

	// byName preserves deterministic iteration order for combineDuplicateKernels
	// and for any diagnostic that prints kernels in the order they were added.
	byName *orderedmap.OrderedMap[string, NodeID]
}

// NewRelationshipGraph builds a RelationshipGraph from a flat kernel list,
// adding one edge from a producer to a consumer for every input binding of
// the consumer whose StreamSet matches one of the producer's output
// bindings.
func NewRelationshipGraph(ctx context.Context, kernels []*KernelDescriptor) (*RelationshipGraph, error) {
	rg := &RelationshipGraph{g: NewGraph(), byName: orderedmap.New[string, NodeID]()}
	for _, k := range kernels {
		if err := k.Validate(); err != nil {
			return nil, WrapErr(ctx, err, "invalid kernel configuration").Tag(slog.String("kernel", k.Name))
		}
		if _, exists := rg.byName.Get(k.Name); exists {
			return nil, NewErr(ctx, fmt.Sprintf("duplicate kernel name %q", k.Name))
		}
		id := rg.g.AddNode(k)
		rg.byName.Set(k.Name, id)
	}
	for _, k := range kernels {
		producerID, _ := rg.byName.Get(k.Name)
		for _, out := range k.Outputs {
			for _, consumer := range kernels {
				for number, in := range consumer.Inputs {
					if in.StreamSet == out.StreamSet && consumer.Name != k.Name {
						consumerID, _ := rg.byName.Get(consumer.Name)
						edgeType := RelationshipType{PortType: PortInput, Number: number, Reason: ReasonExplicit}
						rg.g.AddEdge(producerID, consumerID, streamSetEdge{StreamSet: out.StreamSet, Binding: in, Type: edgeType})
					}
				}
			}
		}
	}
	if _, ok := rg.g.TopologicalOrder(); !ok {
		return nil, NewErr(ctx, "relationship graph contains a cycle between kernels")
	}
	return rg, nil
}

// Graph exposes the underlying substrate for the buffer graph and scheduler
// to traverse.
func (rg *RelationshipGraph) Graph() *Graph { return rg.g }

// Kernel returns the descriptor attached to id.
func (rg *RelationshipGraph) Kernel(id NodeID) *KernelDescriptor {
	return rg.g.Payload(id).(*KernelDescriptor)
}

// KernelID looks up a kernel's node by name.
func (rg *RelationshipGraph) KernelID(name string) (NodeID, bool) {
	return rg.byName.Get(name)
}

// Kernels returns every kernel descriptor in insertion order.
func (rg *RelationshipGraph) Kernels() []*KernelDescriptor {
	out := make([]*KernelDescriptor, 0, rg.g.NodeCount())
	for pair := rg.byName.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, rg.Kernel(pair.Value))
	}
	return out
}

// combineDuplicateKernels finds kernels that are structurally identical
// (same Kind, StrideSize, attribute flags, and binding shape) and whose
// inputs are drawn from exactly the same stream-sets, and adds an edge from
// the first such kernel to every consumer of each later duplicate. The
// duplicate itself, its edges, and its consumers' input bindings stay in the
// graph; nothing is removed or rebound. This mirrors the original compiler's
// pipeline-analysis pass that collapses repeated sub-pipelines instantiated
// from the same kernel family with identical parameters.
func (rg *RelationshipGraph) combineDuplicateKernels() {
	type signature struct {
		kind    KernelKind
		stride  uint64
		attrs   uint64
		inputs  string
		streams string
	}
	seen := make(map[signature]NodeID)
	replace := make(map[NodeID]NodeID)
	for pair := rg.byName.Oldest(); pair != nil; pair = pair.Next() {
		id := pair.Value
		k := rg.Kernel(id)
		var streams string
		for _, in := range k.Inputs {
			streams += in.StreamSet + ";"
		}
		sig := signature{kind: k.Kind, stride: k.StrideSize, attrs: k.Attributes.bits, inputs: bindingSignature(k.Inputs), streams: streams}
		if existing, ok := seen[sig]; ok {
			if bindingSignature(k.Outputs) == bindingSignature(rg.Kernel(existing).Outputs) {
				replace[id] = existing
				continue
			}
		}
		seen[sig] = id
	}
	for dup, kept := range replace {
		for _, e := range rg.g.OutEdges(dup) {
			_, to := rg.g.EdgeEndpoints(e)
			label := rg.g.EdgeLabel(e)
			rg.g.AddEdge(kept, to, label)
		}
	}
}

// removeUnusedKernels marks every kernel reachable by a forward traversal
// from the pipeline's input kernels (pipelineIn: every KindSource kernel)
// and by a backward traversal from the pipeline's output kernels
// (pipelineOut: every KindSink kernel), then deletes every kernel that
// lands outside both sets -- along with its bindings -- from the graph. A
// kernel only survives if it is downstream of some source and upstream of
// some sink; a segment nobody's source ever feeds and a branch that
// dead-ends before reaching a sink both get pruned before the buffer graph
// is derived from what remains. A duplicate found by combineDuplicateKernels
// keeps its edges and is pruned only under the same rule.
func (rg *RelationshipGraph) removeUnusedKernels() []string {
	var sources, sinks []NodeID
	for pair := rg.byName.Oldest(); pair != nil; pair = pair.Next() {
		id := pair.Value
		switch rg.Kernel(id).Kind {
		case KindSource:
			sources = append(sources, id)
		case KindSink:
			sinks = append(sinks, id)
		}
	}
	forward := reachableFrom(sources, rg.g.Successors)
	backward := reachableFrom(sinks, rg.g.Predecessors)

	var removed []string
	for pair := rg.byName.Oldest(); pair != nil; pair = pair.Next() {
		id := pair.Value
		if forward[id] && backward[id] {
			continue
		}
		removed = append(removed, rg.Kernel(id).Name)
	}
	for _, name := range removed {
		id, _ := rg.byName.Get(name)
		rg.g.RemoveNode(id)
		rg.byName.Delete(name)
	}
	return removed
}

// reachableFrom runs a breadth-first traversal from every node in seeds,
// following next, and returns the set of nodes visited (seeds included).
func reachableFrom(seeds []NodeID, next func(NodeID) []NodeID) map[NodeID]bool {
	visited := make(map[NodeID]bool, len(seeds))
	queue := make([]NodeID, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range next(n) {
			if !visited[m] {
				visited[m] = true
				queue = append(queue, m)
			}
		}
	}
	return visited
}

// addSyntheticKernel validates and inserts a compiler-generated kernel into
// the graph, failing the same way NewRelationshipGraph would if the caller
// had supplied it directly (a name collision with a real kernel is fatal,
// not silently renamed).
func (rg *RelationshipGraph) addSyntheticKernel(ctx context.Context, k *KernelDescriptor) (NodeID, error) {
	if err := k.Validate(); err != nil {
		return 0, WrapErr(ctx, err, "invalid synthetic kernel configuration").Tag(slog.String("kernel", k.Name))
	}
	if _, exists := rg.byName.Get(k.Name); exists {
		return 0, NewErr(ctx, fmt.Sprintf("synthetic kernel name %q collides with an existing kernel", k.Name))
	}
	id := rg.g.AddNode(k)
	rg.byName.Set(k.Name, id)
	return id, nil
}

// producerOf reports the kernel (if any) with an output binding feeding
// streamSet.
func (rg *RelationshipGraph) producerOf(streamSet string) (*KernelDescriptor, bool) {
	for pair := rg.byName.Oldest(); pair != nil; pair = pair.Next() {
		k := rg.Kernel(pair.Value)
		for _, out := range k.Outputs {
			if out.StreamSet == streamSet {
				return k, true
			}
		}
	}
	return nil, false
}

// addRegionSelectorKernels realizes every kernel's implicit
// KernelDescriptor.RegionSelector as an ImplicitRegionSelector edge: it
// synthesizes a pass-through gate kernel reading the named raw condition
// stream, producing a canonical "<name>.selected" stream, and appends the
// resulting binding to the consumer's Inputs so the buffer graph and I/O
// calculator see it like any other input. Gating on a stream-set with no
// producer at all is a fatal configuration error (mirrors
// combineDuplicateKernels/removeUnusedKernels's failure semantics -- the
// compiler cannot invent data nobody produces).
func (rg *RelationshipGraph) addRegionSelectorKernels(ctx context.Context) error {
	for _, k := range rg.Kernels() {
		if k.RegionSelector == "" {
			continue
		}
		if _, ok := rg.producerOf(k.RegionSelector); !ok {
			return NewErr(ctx, fmt.Sprintf("kernel %q gates on region selector stream %q with no producer", k.Name, k.RegionSelector))
		}

		selected := k.RegionSelector + ".selected"
		selectorName := "__region_selector_" + k.Name
		var buf = make([]byte, 1)

		selector := &KernelDescriptor{
			Name:       selectorName,
			Kind:       KindSegment,
			StrideSize: 1,
			Inputs: []Binding{
				{Name: "condition", StreamSet: k.RegionSelector, Rate: Fixed(1)},
			},
			Outputs: []Binding{
				{Name: "selected", StreamSet: selected, Rate: Fixed(1)},
			},
			Body: func(sc *SegmentContext, strides uint64) (uint64, error) {
				for i := uint64(0); i < strides; i++ {
					if err := sc.ReadInput("condition", i, 1, buf); err != nil {
						return i, err
					}
					if err := sc.WriteOutput("selected", buf, 1); err != nil {
						return i, err
					}
				}
				return strides, nil
			},
		}
		selectorID, err := rg.addSyntheticKernel(ctx, selector)
		if err != nil {
			return err
		}

		number := len(k.Inputs)
		k.Inputs = append(k.Inputs, Binding{Name: "__region_select", StreamSet: selected, Rate: Fixed(1)})
		consumerID, _ := rg.byName.Get(k.Name)
		edgeType := RelationshipType{PortType: PortInput, Number: number, Reason: ReasonImplicitRegionSelector}
		rg.g.AddEdge(selectorID, consumerID, streamSetEdge{StreamSet: selected, Binding: k.Inputs[number], Type: edgeType})
	}
	return nil
}

// addPopCountKernels realizes every RatePartialSum binding whose reference
// sibling names a "<raw>.popcount" stream with no explicit producer:
// it synthesizes a running pop-count kernel over <raw> (which must already
// have a producer) and wires its output as the reference binding's input,
// tagged ReasonImplicitPopCount. A PartialSum reference with no producer
// and no ".popcount" suffix is left for NewRelationshipGraph/the buffer
// graph to reject, the same as any other dangling binding.
func (rg *RelationshipGraph) addPopCountKernels(ctx context.Context) error {
	const suffix = ".popcount"
	for _, k := range rg.Kernels() {
		for _, in := range k.Inputs {
			if in.Rate.Kind != RatePartialSum {
				continue
			}
			refBinding, ok := k.InputBinding(in.Rate.Reference)
			if !ok {
				continue
			}
			if _, ok := rg.producerOf(refBinding.StreamSet); ok {
				continue
			}
			if !strings.HasSuffix(refBinding.StreamSet, suffix) {
				continue
			}
			raw := strings.TrimSuffix(refBinding.StreamSet, suffix)
			if _, ok := rg.producerOf(raw); !ok {
				return NewErr(ctx, fmt.Sprintf("kernel %q: partial-sum reference %q has no producer for raw stream %q", k.Name, refBinding.StreamSet, raw))
			}

			popCountName := "__popcount_" + raw
			if existingID, exists := rg.byName.Get(popCountName); exists {
				rg.wirePopCountEdge(existingID, k, refBinding)
				continue
			}

			var running uint64
			word := make([]byte, 8)
			out := make([]byte, 8)
			popCount := &KernelDescriptor{
				Name:       popCountName,
				Kind:       KindSegment,
				StrideSize: 8,
				Inputs: []Binding{
					{Name: "in", StreamSet: raw, Rate: Fixed(8)},
				},
				Outputs: []Binding{
					{Name: "count", StreamSet: refBinding.StreamSet, Rate: Fixed(8)},
				},
				Body: func(sc *SegmentContext, strides uint64) (uint64, error) {
					var pos uint64
					for s := uint64(0); s < strides; s++ {
						if err := sc.ReadInput("in", pos, 8, word); err != nil {
							return s, err
						}
						running += uint64(bits.OnesCount64(binary.LittleEndian.Uint64(word)))
						binary.LittleEndian.PutUint64(out, running)
						if err := sc.WriteOutput("count", out, 8); err != nil {
							return s, err
						}
						pos += 8
					}
					return strides, nil
				},
			}
			popID, err := rg.addSyntheticKernel(ctx, popCount)
			if err != nil {
				return err
			}
			rg.wirePopCountEdge(popID, k, refBinding)
		}
	}
	return nil
}

// wirePopCountEdge adds the ImplicitPopCount edge from a (possibly reused)
// synthetic pop-count kernel into consumer's binding ref.
func (rg *RelationshipGraph) wirePopCountEdge(producer NodeID, consumer *KernelDescriptor, ref Binding) {
	consumerID, _ := rg.byName.Get(consumer.Name)
	number := -1
	for i, b := range consumer.Inputs {
		if b.Name == ref.Name {
			number = i
			break
		}
	}
	edgeType := RelationshipType{PortType: PortInput, Number: number, Reason: ReasonImplicitPopCount}
	rg.g.AddEdge(producer, consumerID, streamSetEdge{StreamSet: ref.StreamSet, Binding: ref, Type: edgeType})
}

func bindingSignature(bindings []Binding) string {
	s := ""
	for _, b := range bindings {
		s += fmt.Sprintf("%s:%v;", b.Name, b.Rate)
	}
	return s
}

