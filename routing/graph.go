// Package routing maintains the in-memory channel graph and answers
// route-finding requests against it.
package routing

import (
	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
)

// Vertex is the compressed public key of a node, used to key every
// adjacency structure in the graph.
type Vertex [33]byte

// ChannelDesc identifies one direction of a channel: A is the node the
// update's signature is attributed to, B is the peer on the other end. It is
// the key into both the updates map and the graph's edge set.
type ChannelDesc struct {
	ChannelID uint64
	A, B      Vertex
}

// Edge is a single directed traversal available in the graph: the channel it
// rides over, and the policy currently in force for that direction.
type Edge struct {
	Desc   ChannelDesc
	Policy *channeldb.ChannelEdgePolicy
}

// Fee returns the cost, in millisatoshis, of forwarding amount across this
// edge under its current fee schedule.
func (e *Edge) Fee(amount lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	return e.Policy.FeeBaseMSat + (amount*e.Policy.FeeProportionalMillionths)/1000000
}

// Graph is a directed multigraph over the set of currently known channel
// edges, keyed by ChannelDesc. It holds only the edges implied by enabled
// updates; a disabled or removed update must never leave an edge behind
// (invariant 2).
type Graph struct {
	edges     map[ChannelDesc]*Edge
	adjacency map[Vertex][]*Edge
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		edges:     make(map[ChannelDesc]*Edge),
		adjacency: make(map[Vertex][]*Edge),
	}
}

// AddEdge inserts or idempotently replaces the edge for desc. Calling it
// twice with the same desc simply overwrites the stored policy; it never
// creates a duplicate adjacency entry.
func (g *Graph) AddEdge(desc ChannelDesc, policy *channeldb.ChannelEdgePolicy) {
	g.RemoveEdge(desc)

	edge := &Edge{Desc: desc, Policy: policy}
	g.edges[desc] = edge
	g.adjacency[desc.A] = append(g.adjacency[desc.A], edge)
}

// RemoveEdge deletes the edge for desc. It is a no-op if desc is not
// currently present, matching the idempotence the update ingestor relies on
// (remove_edge(d) then add_edge(d, u) must equal add_edge on a graph lacking
// d).
func (g *Graph) RemoveEdge(desc ChannelDesc) {
	if _, ok := g.edges[desc]; !ok {
		return
	}
	delete(g.edges, desc)

	adj := g.adjacency[desc.A]
	for i, e := range adj {
		if e.Desc == desc {
			adj = append(adj[:i], adj[i+1:]...)
			break
		}
	}
	if len(adj) == 0 {
		delete(g.adjacency, desc.A)
	} else {
		g.adjacency[desc.A] = adj
	}
}

// RemoveEdges removes every descriptor in descs, in bulk, used by the pruner
// to cascade a channel removal to both of its directional edges.
func (g *Graph) RemoveEdges(descs []ChannelDesc) {
	for _, d := range descs {
		g.RemoveEdge(d)
	}
}

// Edge looks up the currently stored edge for desc, if any.
func (g *Graph) Edge(desc ChannelDesc) (*Edge, bool) {
	e, ok := g.edges[desc]
	return e, ok
}

// EdgesFrom returns the edges outgoing from v, excluding nothing. Callers
// that need to merge in extra_edges or skip ignored_edges do so at the
// pathfinding layer rather than here, since both are scoped to a single
// query.
func (g *Graph) EdgesFrom(v Vertex) []*Edge {
	return g.adjacency[v]
}

// Snapshot returns a shallow copy of g: fresh top-level maps pointing at the
// same, never-mutated-in-place *Edge values. It lets a route computation
// run concurrently with further graph mutation without a data race, since
// AddEdge/RemoveEdge always replace rather than mutate map entries.
func (g *Graph) Snapshot() *Graph {
	cp := NewGraph()
	for desc, edge := range g.edges {
		cp.edges[desc] = edge
	}
	for v, edges := range g.adjacency {
		cp.adjacency[v] = append([]*Edge(nil), edges...)
	}
	return cp
}
