package flowforge

// NodeID indexes a node in a Graph's arena. The zero value is never a valid
// node; node 0 is reserved as a sentinel so a zero-valued NodeID field reads
// as "unset" rather than "the first node".
type NodeID int

// EdgeID indexes an edge in a Graph's arena.
type EdgeID int

// edge is stored by index, never by pointer, so the graph can be copied,
// serialized, or handed to a goroutine without aliasing concerns -- the
// arena-allocated substitute for the original system's pointer-linked
// Boost.Graph adjacency_list nodes.
type edge struct {
	from, to NodeID
	label    any
}

// Graph is a directed multigraph over an arena of nodes and edges, addressed
// entirely by index. It underlies the relationship graph (C1), the buffer
// graph (C2), the partition dataflow graph and ordering DAWG (C3), and the
// termination graph (C6) -- each attaches its own payload type via the
// generic label field and the per-node Payload slice.
type Graph struct {
	nodePayload []any
	removed     []bool
	out         [][]EdgeID
	in          [][]EdgeID
	edges       []edge
}

// NewGraph returns an empty graph. Node 0 is pre-allocated as a reserved
// sentinel so real nodes always have NodeID >= 1.
func NewGraph() *Graph {
	g := &Graph{}
	g.nodePayload = append(g.nodePayload, nil)
	g.removed = append(g.removed, false)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return g
}

// AddNode appends a node carrying payload and returns its ID.
func (g *Graph) AddNode(payload any) NodeID {
	id := NodeID(len(g.nodePayload))
	g.nodePayload = append(g.nodePayload, payload)
	g.removed = append(g.removed, false)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return id
}

// RemoveNode deletes id and every edge incident to it. The node's arena
// slot is kept (so other NodeIDs never shift) but is excluded from
// NodeCount, Nodes, and TopologicalOrder, and its payload is cleared.
// Removing an already-removed node is a no-op.
func (g *Graph) RemoveNode(id NodeID) {
	if g.removed[id] {
		return
	}
	g.removed[id] = true
	g.nodePayload[id] = nil
	for _, e := range g.out[id] {
		to := g.edges[e].to
		g.in[to] = removeEdgeID(g.in[to], e)
	}
	for _, e := range g.in[id] {
		from := g.edges[e].from
		g.out[from] = removeEdgeID(g.out[from], e)
	}
	g.out[id] = nil
	g.in[id] = nil
}

func removeEdgeID(edges []EdgeID, target EdgeID) []EdgeID {
	out := edges[:0]
	for _, e := range edges {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

// Removed reports whether id was deleted by RemoveNode.
func (g *Graph) Removed(id NodeID) bool { return g.removed[id] }

// NodeCount returns the number of real (non-sentinel), non-removed nodes.
func (g *Graph) NodeCount() int {
	n := 0
	for i := 1; i < len(g.nodePayload); i++ {
		if !g.removed[i] {
			n++
		}
	}
	return n
}

// Payload returns the payload attached to id.
func (g *Graph) Payload(id NodeID) any { return g.nodePayload[id] }

// SetPayload replaces the payload attached to id.
func (g *Graph) SetPayload(id NodeID, payload any) { g.nodePayload[id] = payload }

// AddEdge adds a directed edge from -> to carrying label, returning its ID.
func (g *Graph) AddEdge(from, to NodeID, label any) EdgeID {
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, edge{from: from, to: to, label: label})
	g.out[from] = append(g.out[from], id)
	g.in[to] = append(g.in[to], id)
	return id
}

// EdgeLabel returns the label attached to an edge.
func (g *Graph) EdgeLabel(id EdgeID) any { return g.edges[id].label }

// EdgeEndpoints returns the from/to nodes of an edge.
func (g *Graph) EdgeEndpoints(id EdgeID) (from, to NodeID) {
	e := g.edges[id]
	return e.from, e.to
}

// OutEdges returns the outgoing edges of id in insertion order.
func (g *Graph) OutEdges(id NodeID) []EdgeID { return g.out[id] }

// InEdges returns the incoming edges of id in insertion order.
func (g *Graph) InEdges(id NodeID) []EdgeID { return g.in[id] }

// Successors returns the target nodes reachable by a single
// outgoing edge from id, in edge-insertion order with duplicates kept (a
// parallel edge count matters to several callers, e.g. combineDuplicateKernels).
func (g *Graph) Successors(id NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.out[id]))
	for _, e := range g.out[id] {
		out = append(out, g.edges[e].to)
	}
	return out
}

// Predecessors returns the source nodes reaching id by a single incoming
// edge, in edge-insertion order with duplicates kept.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	in := make([]NodeID, 0, len(g.in[id]))
	for _, e := range g.in[id] {
		in = append(in, g.edges[e].from)
	}
	return in
}

// Nodes returns every real, non-removed node ID in insertion order.
func (g *Graph) Nodes() []NodeID {
	nodes := make([]NodeID, 0, g.NodeCount())
	for i := 1; i < len(g.nodePayload); i++ {
		if !g.removed[i] {
			nodes = append(nodes, NodeID(i))
		}
	}
	return nodes
}

// TopologicalOrder returns a topological ordering of all nodes via Kahn's
// algorithm, or ok=false if the graph contains a cycle. Relationship,
// buffer, and partition-dataflow graphs must all be DAGs by construction;
// this is the shared check every one of them runs before scheduling.
func (g *Graph) TopologicalOrder() (order []NodeID, ok bool) {
	indeg := make(map[NodeID]int, g.NodeCount())
	for _, n := range g.Nodes() {
		indeg[n] = len(g.in[n])
	}
	queue := make([]NodeID, 0, g.NodeCount())
	for _, n := range g.Nodes() {
		if indeg[n] == 0 {
			queue = append(queue, n)
		}
	}
	order = make([]NodeID, 0, g.NodeCount())
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, s := range g.Successors(n) {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	return order, len(order) == g.NodeCount()
}
