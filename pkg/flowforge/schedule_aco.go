package flowforge

import "math/rand"

// acoConfig bounds the ant-colony search over partition orderings:
// Ants run per iteration, Iterations rounds total, Evaporation decays prior
// pheromone each round, and Alpha/Beta weight pheromone strength against the
// heuristic (inverse cross-partition buffer footprint) when an ant chooses
// its next partition.
type acoConfig struct {
	Ants        int
	Iterations  int
	Evaporation float64
	Alpha, Beta float64
}

func defaultACOConfig() acoConfig {
	return acoConfig{Ants: 16, Iterations: 30, Evaporation: 0.5, Alpha: 1, Beta: 2}
}

// PartitionSchedule is the final inter-partition ordering the compiler hands
// to segment.go: partitions in the order their segment loops should be
// wired into the pipeline-parallel driver.
type PartitionSchedule struct {
	Order []Partition
}

// orderPartitions finds a low-cost Hamiltonian path over the partition
// dependency graph using ant-colony optimization, where edge cost sums, over
// every stream-set edge crossing a partition boundary, the edge's Upper
// rate plus one, weighted four times for a symbolic rate (fewer, smaller
// cross-partition buffers is better,
// since those are the ones that cannot be thread-local). rng seeds every
// probabilistic choice so the result is reproducible.
func orderPartitions(bg *BufferGraph, partitions []Partition, rng *rand.Rand) PartitionSchedule {
	n := len(partitions)
	if n <= 1 {
		return PartitionSchedule{Order: partitions}
	}
	owner := make(map[NodeID]int, bg.g.NodeCount())
	for i, p := range partitions {
		for _, k := range p.Kernels {
			owner[k] = i
		}
	}

	cost := make([][]float64, n)
	adj := make([][]bool, n)
	for i := range cost {
		cost[i] = make([]float64, n)
		adj[i] = make([]bool, n)
	}
	for _, id := range bg.g.Nodes() {
		for _, e := range bg.g.OutEdges(id) {
			_, to := bg.g.EdgeEndpoints(e)
			i, j := owner[id], owner[to]
			if i == j {
				continue
			}
			rd := bg.g.EdgeLabel(e).(BufferRateData)
			w := float64(rd.Upper + 1)
			if rd.Symbolic {
				w *= 4
			}
			cost[i][j] += w
			adj[i][j] = true
		}
	}

	pheromone := make([][]float64, n)
	for i := range pheromone {
		pheromone[i] = make([]float64, n)
		for j := range pheromone[i] {
			pheromone[i][j] = 1.0
		}
	}

	cfg := defaultACOConfig()
	var best []int
	bestCost := -1.0

	for iter := 0; iter < cfg.Iterations; iter++ {
		type tour struct {
			path []int
			cost float64
		}
		tours := make([]tour, 0, cfg.Ants)
		for a := 0; a < cfg.Ants; a++ {
			path, pathCost := walkAnt(n, cost, adj, pheromone, cfg, rng)
			tours = append(tours, tour{path: path, cost: pathCost})
			if bestCost < 0 || pathCost < bestCost {
				bestCost = pathCost
				best = append([]int(nil), path...)
			}
		}
		for i := range pheromone {
			for j := range pheromone[i] {
				pheromone[i][j] *= (1 - cfg.Evaporation)
			}
		}
		for _, t := range tours {
			if t.cost <= 0 {
				continue
			}
			deposit := 1.0 / t.cost
			for k := 0; k+1 < len(t.path); k++ {
				pheromone[t.path[k]][t.path[k+1]] += deposit
			}
		}
	}

	if best == nil {
		order, _ := topologicalPartitionOrder(n, adj)
		best = order
	}
	ordered := make([]Partition, n)
	for i, p := range best {
		ordered[i] = partitions[p]
	}
	return PartitionSchedule{Order: ordered}
}

// walkAnt builds one Hamiltonian path over all n partitions, always
// respecting the dependency DAG (it only moves to a partition whose
// predecessors, if unvisited, are unreachable from the current partial
// path -- approximated here by forbidding a move that would visit a
// dependency after its dependent).
func walkAnt(n int, cost [][]float64, adj [][]bool, pheromone [][]float64, cfg acoConfig, rng *rand.Rand) ([]int, float64) {
	visited := make([]bool, n)
	start := startablePartition(n, adj, rng)
	visited[start] = true
	path := []int{start}
	total := 0.0

	for len(path) < n {
		current := path[len(path)-1]
		var candidates []int
		var weights []float64
		for j := 0; j < n; j++ {
			if visited[j] || !dependenciesSatisfied(j, visited, adj) {
				continue
			}
			w := pow(pheromone[current][j], cfg.Alpha) * pow(1.0/(cost[current][j]+1), cfg.Beta)
			candidates = append(candidates, j)
			weights = append(weights, w)
		}
		if len(candidates) == 0 {
			for j := 0; j < n; j++ {
				if !visited[j] && dependenciesSatisfied(j, visited, adj) {
					candidates = append(candidates, j)
					weights = append(weights, 1)
				}
			}
		}
		if len(candidates) == 0 {
			break
		}
		next := weightedChoice(candidates, weights, rng)
		total += cost[current][next]
		visited[next] = true
		path = append(path, next)
	}
	return path, total
}

// dependenciesSatisfied reports whether every partition with an edge into j
// has already been visited (or has no edge into j at all), i.e. j is legal
// to visit next.
func dependenciesSatisfied(j int, visited []bool, adj [][]bool) bool {
	for i := range adj {
		if adj[i][j] && !visited[i] {
			return false
		}
	}
	return true
}

func startablePartition(n int, adj [][]bool, rng *rand.Rand) int {
	var roots []int
	for j := 0; j < n; j++ {
		hasPred := false
		for i := range adj {
			if adj[i][j] {
				hasPred = true
				break
			}
		}
		if !hasPred {
			roots = append(roots, j)
		}
	}
	if len(roots) == 0 {
		return 0
	}
	return roots[rng.Intn(len(roots))]
}

func weightedChoice(candidates []int, weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func pow(base float64, exp float64) float64 {
	if base <= 0 {
		return 0
	}
	result := 1.0
	// exp is always a small non-negative Alpha/Beta weight in this package;
	// a short multiply loop avoids importing math for a single call site.
	whole := int(exp)
	for i := 0; i < whole; i++ {
		result *= base
	}
	frac := exp - float64(whole)
	if frac > 0 {
		result *= 1 + frac*(base-1)
	}
	return result
}

// topologicalPartitionOrder is the deterministic fallback used if every ant
// fails to complete a tour (only possible if the partition graph itself is
// inconsistent, which NewRelationshipGraph's upstream cycle check should prevent).
func topologicalPartitionOrder(n int, adj [][]bool) ([]int, bool) {
	indeg := make([]int, n)
	for i := range adj {
		for j := range adj[i] {
			if adj[i][j] {
				indeg[j]++
			}
		}
	}
	var queue, order []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for j := 0; j < n; j++ {
			if adj[i][j] {
				indeg[j]--
				if indeg[j] == 0 {
					queue = append(queue, j)
				}
			}
		}
	}
	return order, len(order) == n
}
