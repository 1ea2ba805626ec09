package flowforge

import (
	"math/rand"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// gaConfig bounds the genetic algorithm's search: population size,
// generation count, and mutation rate. Defaults favor determinism and
// speed over exhaustive search, since intra-partition ordering only affects
// cache locality, never correctness.
type gaConfig struct {
	PopulationSize int
	Generations    int
	MutationRate   float64
}

func defaultGAConfig() gaConfig {
	return gaConfig{PopulationSize: 24, Generations: 40, MutationRate: 0.1}
}

// orderingDAWG deduplicates genomes (kernel orderings) seen across
// generations so the GA never re-scores an identical permutation twice,
// keyed by the ordering rendered as a comma-joined kernel index string.
// Deterministic iteration (via go-ordered-map) keeps scoring order stable
// across runs given the same seed, which Invariant 3 (deterministic
// compilation) requires.
type orderingDAWG struct {
	scored *orderedmap.OrderedMap[string, int]
}

func newOrderingDAWG() *orderingDAWG {
	return &orderingDAWG{scored: orderedmap.New[string, int]()}
}

func genomeKey(genome []NodeID) string {
	b := make([]byte, 0, len(genome)*4)
	for _, n := range genome {
		b = append(b, byte(n), byte(n>>8), byte(n>>16), ',')
	}
	return string(b)
}

// memoryScore scores a candidate intra-partition kernel ordering by the
// live-buffer footprint the ordering implies: every stream-set is "live"
// from the stride at which its producer runs until the stride at which its
// last consumer runs, and the score is the sum, over every position in the
// ordering, of the number of stream-sets live at that position (each counts
// 1; byte sizes are not weighed). Lower is better -- this is the fitness function the
// original system's memory-analysis-guided kernel ordering pass optimizes.
func memoryScore(bg *BufferGraph, genome []NodeID) int64 {
	position := make(map[NodeID]int, len(genome))
	for i, n := range genome {
		position[n] = i
	}
	type liveRange struct{ start, end int }
	ranges := make(map[string]*liveRange)
	for _, n := range genome {
		p := position[n]
		for _, e := range bg.g.OutEdges(n) {
			rd := bg.g.EdgeLabel(e).(BufferRateData)
			r, ok := ranges[rd.StreamSet]
			if !ok {
				r = &liveRange{start: p, end: p}
				ranges[rd.StreamSet] = r
			}
			_, to := bg.g.EdgeEndpoints(e)
			if cp, ok := position[to]; ok && cp > r.end {
				r.end = cp
			}
		}
	}
	var score int64
	for pos := range genome {
		for _, r := range ranges {
			if pos >= r.start && pos <= r.end {
				score++
			}
		}
	}
	return score
}

// geneticOrderKernels searches for a low-memory-footprint ordering of the
// kernels in a single partition, respecting the partial order the buffer
// graph's dependency edges impose (a producer must precede its consumers).
// The search is seeded by rng so identical inputs always yield an identical
// ordering.
func geneticOrderKernels(bg *BufferGraph, kernels []NodeID, rng *rand.Rand) []NodeID {
	if len(kernels) <= 2 {
		return append([]NodeID(nil), kernels...)
	}
	cfg := defaultGAConfig()
	deps := dependencyPredecessors(bg, kernels)
	dawg := newOrderingDAWG()

	population := make([][]NodeID, cfg.PopulationSize)
	for i := range population {
		population[i] = randomTopologicalGenome(kernels, deps, rng)
	}

	type scored struct {
		genome []NodeID
		score  int64
	}
	for gen := 0; gen < cfg.Generations; gen++ {
		results := make([]scored, len(population))
		for i, genome := range population {
			key := genomeKey(genome)
			sc, seen := dawg.scored.Get(key)
			if !seen {
				sc64 := memoryScore(bg, genome)
				sc = int(sc64)
				dawg.scored.Set(key, sc)
			}
			results[i] = scored{genome: genome, score: int64(sc)}
		}
		sort.Slice(results, func(i, j int) bool { return results[i].score < results[j].score })

		elite := results[:max(1, cfg.PopulationSize/4)]
		next := make([][]NodeID, 0, cfg.PopulationSize)
		for _, e := range elite {
			next = append(next, e.genome)
		}
		for len(next) < cfg.PopulationSize {
			a := elite[rng.Intn(len(elite))].genome
			b := elite[rng.Intn(len(elite))].genome
			child := orderCrossover(a, b, deps, rng)
			if rng.Float64() < cfg.MutationRate {
				child = mutateSwap(child, deps, rng)
			}
			next = append(next, child)
		}
		population = next
	}

	best := population[0]
	bestScore := memoryScore(bg, best)
	for _, genome := range population[1:] {
		if s := memoryScore(bg, genome); s < bestScore {
			best, bestScore = genome, s
		}
	}
	return best
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// dependencyPredecessors restricts each kernel's buffer-graph predecessors
// to the set within the same partition, since cross-partition edges don't
// constrain intra-partition ordering.
func dependencyPredecessors(bg *BufferGraph, kernels []NodeID) map[NodeID]map[NodeID]bool {
	inSet := make(map[NodeID]bool, len(kernels))
	for _, k := range kernels {
		inSet[k] = true
	}
	deps := make(map[NodeID]map[NodeID]bool, len(kernels))
	for _, k := range kernels {
		deps[k] = make(map[NodeID]bool)
		for _, p := range bg.g.Predecessors(k) {
			if inSet[p] {
				deps[k][p] = true
			}
		}
	}
	return deps
}

// randomTopologicalGenome produces a uniformly random ordering of kernels
// consistent with deps (a Kahn's-algorithm shuffle).
func randomTopologicalGenome(kernels []NodeID, deps map[NodeID]map[NodeID]bool, rng *rand.Rand) []NodeID {
	remaining := make(map[NodeID]map[NodeID]bool, len(deps))
	for k, d := range deps {
		remaining[k] = make(map[NodeID]bool, len(d))
		for p := range d {
			remaining[k][p] = true
		}
	}
	var ready []NodeID
	for _, k := range kernels {
		if len(remaining[k]) == 0 {
			ready = append(ready, k)
		}
	}
	genome := make([]NodeID, 0, len(kernels))
	for len(genome) < len(kernels) {
		i := rng.Intn(len(ready))
		k := ready[i]
		ready = append(ready[:i], ready[i+1:]...)
		genome = append(genome, k)
		for other, preds := range remaining {
			if preds[k] {
				delete(preds, k)
				if len(preds) == 0 {
					already := false
					for _, r := range ready {
						if r == other {
							already = true
						}
					}
					if !already && !containsNode(genome, other) {
						ready = append(ready, other)
					}
				}
			}
		}
	}
	return genome
}

func containsNode(list []NodeID, n NodeID) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}

// orderCrossover combines two parent orderings (order crossover / OX)
// and repairs any dependency violation by a stable topological resort.
func orderCrossover(a, b []NodeID, deps map[NodeID]map[NodeID]bool, rng *rand.Rand) []NodeID {
	n := len(a)
	if n < 2 {
		return append([]NodeID(nil), a...)
	}
	i, j := rng.Intn(n), rng.Intn(n)
	if i > j {
		i, j = j, i
	}
	child := make([]NodeID, n)
	taken := make(map[NodeID]bool, n)
	for k := i; k <= j; k++ {
		child[k] = a[k]
		taken[a[k]] = true
	}
	pos := 0
	for _, k := range b {
		if taken[k] {
			continue
		}
		for pos >= i && pos <= j {
			pos++
		}
		if pos >= n {
			break
		}
		child[pos] = k
		pos++
	}
	return repairTopology(child, deps)
}

// mutateSwap swaps two positions chosen uniformly at random, then repairs
// the ordering if the swap broke a dependency.
func mutateSwap(genome []NodeID, deps map[NodeID]map[NodeID]bool, rng *rand.Rand) []NodeID {
	n := len(genome)
	if n < 2 {
		return genome
	}
	out := append([]NodeID(nil), genome...)
	i, j := rng.Intn(n), rng.Intn(n)
	out[i], out[j] = out[j], out[i]
	return repairTopology(out, deps)
}

// repairTopology stably reorders genome so every kernel appears after all
// of its in-partition dependencies, preserving relative order otherwise.
func repairTopology(genome []NodeID, deps map[NodeID]map[NodeID]bool) []NodeID {
	position := make(map[NodeID]int, len(genome))
	for i, k := range genome {
		position[k] = i
	}
	placed := make(map[NodeID]bool, len(genome))
	result := make([]NodeID, 0, len(genome))
	var visit func(k NodeID)
	visit = func(k NodeID) {
		if placed[k] {
			return
		}
		placed[k] = true
		for p := range deps[k] {
			visit(p)
		}
		result = append(result, k)
	}
	for _, k := range genome {
		visit(k)
	}
	return result
}
