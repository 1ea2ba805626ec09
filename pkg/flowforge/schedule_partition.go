package flowforge

import "context"

// RepetitionVector assigns each kernel the number of times it must invoke
// its stride body within one segment for every producer/consumer pair on a
// shared stream-set to balance exactly: producedPerSegment == consumedPerSegment
// for every edge. This is solved once per connected component of the buffer
// graph by reducing every edge's Lower/Upper-derived ratio to lowest terms
// and taking the LCM across the component, mirroring the original system's
// rational linear-programming repetition-vector computation.
type RepetitionVector map[NodeID]uint64

// computeRepetitionVector solves for the minimal positive integer multiple
// of each kernel's StrideSize within one segment, given the buffer graph's
// per-edge rate ratios. Kernels with no Fixed-rate neighbors (only Symbolic
// edges) default to a repetition of 1; their final segment-level item count
// is instead resolved dynamically at runtime by the I/O calculator.
func computeRepetitionVector(ctx context.Context, bg *BufferGraph) (RepetitionVector, error) {
	rv := make(RepetitionVector)
	for _, id := range bg.g.Nodes() {
		rv[id] = 1
	}
	changed := true
	for iterations := 0; changed && iterations < 64; iterations++ {
		changed = false
		for _, id := range bg.g.Nodes() {
			for _, e := range bg.g.OutEdges(id) {
				rd := bg.g.EdgeLabel(e).(BufferRateData)
				if rd.Symbolic || rd.Upper == 0 {
					continue
				}
				_, to := bg.g.EdgeEndpoints(e)
				producerRate := bg.nodeByID[id].StrideSize * rv[id] * rd.Upper
				consumerBinding := matchingInputRate(bg, to, rd.StreamSet)
				if consumerBinding == 0 {
					continue
				}
				need := ceilDiv(producerRate, bg.nodeByID[to].StrideSize*consumerBinding)
				if need > rv[to] {
					rv[to] = lcm(rv[to], need)
					changed = true
				}
			}
		}
	}
	return rv, nil
}

// matchingInputRate returns the per-stride item rate of the input binding on
// node that is fed by streamSet, or 0 if none is found (a symbolic or
// unresolved rate).
func matchingInputRate(bg *BufferGraph, node NodeID, streamSet string) uint64 {
	for _, e := range bg.g.InEdges(node) {
		rd := bg.g.EdgeLabel(e).(BufferRateData)
		if rd.StreamSet == streamSet && !rd.Symbolic && rd.Upper > 0 {
			return rd.Upper
		}
	}
	return 0
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func lcm(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 1
	}
	return a / gcd(a, b) * b
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

// Partition groups kernels that must execute together within a single
// segment-parallel worker, following schedule_aco.go's partition dataflow
// graph. Two kernels land in the same partition only if every stream-set
// between them has a fully static (non-Symbolic) rate -- a symbolic rate
// forces a partition boundary since the downstream kernel's item count
// cannot be known until the upstream kernel has actually run.
type Partition struct {
	ID      int
	Kernels []NodeID
}

// partitionKernels splits the buffer graph into partitions along symbolic
// edges and reachability, returning them in a valid execution order (every
// partition appears after all partitions it depends on).
func partitionKernels(bg *BufferGraph) []Partition {
	owner := make(map[NodeID]int)
	next := 0
	nodes := bg.g.Nodes()
	for _, id := range nodes {
		if _, assigned := owner[id]; assigned {
			continue
		}
		owner[id] = next
		stack := []NodeID{id}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, e := range bg.g.OutEdges(n) {
				rd := bg.g.EdgeLabel(e).(BufferRateData)
				if rd.Symbolic {
					continue
				}
				_, to := bg.g.EdgeEndpoints(e)
				if _, assigned := owner[to]; !assigned {
					owner[to] = next
					stack = append(stack, to)
				}
			}
		}
		next++
	}
	byID := make(map[int][]NodeID)
	for _, id := range nodes {
		byID[owner[id]] = append(byID[owner[id]], id)
	}
	order, _ := bg.g.TopologicalOrder()
	seen := make(map[int]bool)
	var partitions []Partition
	for _, id := range order {
		p := owner[id]
		if seen[p] {
			continue
		}
		seen[p] = true
		partitions = append(partitions, Partition{ID: p, Kernels: byID[p]})
	}
	return partitions
}
