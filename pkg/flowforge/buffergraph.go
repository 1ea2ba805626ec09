package flowforge

import (
	"context"
	"fmt"
)

// BufferRateData is the buffer graph's per-edge payload: the normalized,
// rational-arithmetic rate an edge's consumer binding imposes on its
// stream-set, independent of which RateKind the binding was originally
// declared with. Every ProcessingRate reduces to one of these once the
// kernel's stride size is known.
type BufferRateData struct {
	StreamSet string

	// Lower, Upper bound items consumed/produced per stride, in the
	// binding's own units (not yet multiplied by stride size).
	Lower, Upper uint64

	// Symbolic is true if the rate cannot be bounded at compile time (a
	// RateUnknown, RatePartialSum, RateRelative or uncapped RateGreedy
	// binding), forcing the feeding buffer to be dynamic.
	Symbolic bool

	// ThreadLocal is set by identifyThreadLocalBuffers; see there for the
	// rule it applies.
	ThreadLocal bool

	binding Binding
}

// BufferGraph mirrors the RelationshipGraph's topology (C2) but replaces
// each streamSetEdge with a normalized BufferRateData, and attaches a live
// *BufferNode to each stream-set once buffers are materialized by Compile.
type BufferGraph struct {
	g        *Graph
	rg       *RelationshipGraph
	buffers  map[string]*BufferNode
	nodeByID map[NodeID]*KernelDescriptor
}

// NewBufferGraph normalizes rg's processing rates into BufferRateData edges,
// without yet allocating BufferNode storage (compiler.go's
// materializeBuffers does that after scheduling).
func NewBufferGraph(ctx context.Context, rg *RelationshipGraph) (*BufferGraph, error) {
	bg := &BufferGraph{g: NewGraph(), rg: rg, buffers: make(map[string]*BufferNode), nodeByID: make(map[NodeID]*KernelDescriptor)}
	idMap := make(map[NodeID]NodeID)
	for _, id := range rg.Graph().Nodes() {
		k := rg.Kernel(id)
		newID := bg.g.AddNode(k)
		idMap[id] = newID
		bg.nodeByID[newID] = k
	}
	for _, id := range rg.Graph().Nodes() {
		for _, e := range rg.Graph().OutEdges(id) {
			from, to := rg.Graph().EdgeEndpoints(e)
			se := rg.Graph().EdgeLabel(e).(streamSetEdge)
			rate, err := normalizeRate(ctx, se.Binding)
			if err != nil {
				return nil, err
			}
			rate.StreamSet = se.StreamSet
			rate.binding = se.Binding
			bg.g.AddEdge(idMap[from], idMap[to], rate)
		}
	}
	bg.identifyThreadLocalBuffers()
	return bg, nil
}

// normalizeRate reduces any ProcessingRate to a BufferRateData Lower/Upper
// pair. PartialSum rates cannot be bounded without runtime data and are
// treated as symbolic; a Relative rate takes its Numerator as both Lower and
// Upper and is marked symbolic, without consulting the referenced sibling
// binding.
func normalizeRate(ctx context.Context, b Binding) (BufferRateData, error) {
	switch b.Rate.Kind {
	case RateFixed:
		return BufferRateData{Lower: b.Rate.Lo, Upper: b.Rate.Hi}, nil
	case RateBounded:
		return BufferRateData{Lower: b.Rate.Lo, Upper: b.Rate.Hi}, nil
	case RatePartialSum:
		return BufferRateData{Symbolic: true}, nil
	case RateRelative:
		if b.Rate.Denominator == 0 {
			return BufferRateData{}, NewErr(ctx, fmt.Sprintf("binding %q: relative rate has zero denominator", b.Name))
		}
		return BufferRateData{Lower: b.Rate.Numerator, Upper: b.Rate.Numerator, Symbolic: true}, nil
	case RateGreedy:
		if b.Rate.Cap == 0 {
			return BufferRateData{Symbolic: true}, nil
		}
		return BufferRateData{Lower: 0, Upper: b.Rate.Cap}, nil
	case RateUnknown:
		return BufferRateData{Symbolic: true}, nil
	default:
		return BufferRateData{}, NewErr(ctx, fmt.Sprintf("binding %q: unrecognized rate kind %v", b.Name, b.Rate.Kind))
	}
}

// identifySymbolicRates returns every stream-set whose BufferRateData is
// Symbolic, i.e. cannot be statically bounded -- these force the buffer
// graph to mark the feeding BufferNode dynamic.
func (bg *BufferGraph) identifySymbolicRates() []string {
	var symbolic []string
	for _, id := range bg.g.Nodes() {
		for _, e := range bg.g.OutEdges(id) {
			rd := bg.g.EdgeLabel(e).(BufferRateData)
			if rd.Symbolic {
				symbolic = append(symbolic, rd.StreamSet)
			}
		}
	}
	return symbolic
}

// computeDataFlow returns, for every node, that node's own StrideSize. No
// other code in the package calls it.
func (bg *BufferGraph) computeDataFlow() map[NodeID]uint64 {
	strides := make(map[NodeID]uint64, bg.g.NodeCount())
	for _, id := range bg.g.Nodes() {
		strides[id] = bg.nodeByID[id].StrideSize
	}
	return strides
}

// identifyThreadLocalBuffers marks a node's outgoing edge ThreadLocal when
// it is that node's only outgoing edge. It runs once, from NewBufferGraph,
// before partitioning; it does not consult partition membership, look-behind
// or rate bounds, and no later pass revises the mark.
func (bg *BufferGraph) identifyThreadLocalBuffers() {
	for _, id := range bg.g.Nodes() {
		out := bg.g.OutEdges(id)
		if len(out) != 1 {
			continue
		}
		rd := bg.g.EdgeLabel(out[0]).(BufferRateData)
		rd.ThreadLocal = true
		bg.g.edges[out[0]].label = rd
	}
}

// RequiresCopyBack reports whether binding b's look-behind attribute extends
// past the stream-set's natural stride boundary, meaning the segment
// compiler must retain the tail of the previous stride's output alongside
// the current one rather than relying solely on the circular buffer's
// window (buffer.go's Release semantics already support this; this just
// tells the segment compiler when to skip an early Release call).
func RequiresCopyBack(b Binding) bool {
	return b.Attributes.Has(AttrLookBehind) && b.Attributes.Param(AttrLookBehind) > 0
}

// RequiresLookAhead reports whether binding b needs items beyond the
// current stride visible before it may run.
func RequiresLookAhead(b Binding) bool {
	return b.Attributes.Has(AttrLookAhead) && b.Attributes.Param(AttrLookAhead) > 0
}

// Graph exposes the underlying buffer-rate graph.
func (bg *BufferGraph) Graph() *Graph { return bg.g }

// Buffer returns the materialized BufferNode for a stream-set, if allocated.
func (bg *BufferGraph) Buffer(streamSet string) (*BufferNode, bool) {
	b, ok := bg.buffers[streamSet]
	return b, ok
}

// MaterializeBuffer allocates and registers a BufferNode for streamSet.
func (bg *BufferGraph) MaterializeBuffer(streamSet string, itemSize int, initialCapacity uint64, dynamic bool) *BufferNode {
	b := NewBufferNode(streamSet, itemSize, initialCapacity, dynamic)
	bg.buffers[streamSet] = b
	return b
}
