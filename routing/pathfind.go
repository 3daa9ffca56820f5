package routing

import (
	"container/heap"

	"github.com/meshpay/lnrouter/lnwire"
)

// RouteMaxLength is the maximum number of hops a returned path may contain.
// Paths longer than this are discarded rather than returned to the caller.
const RouteMaxLength = 20

// path is a loopless sequence of edges from some source to some target,
// together with its total weight under the amount the search was run for.
type path struct {
	edges  []*Edge
	weight lnwire.MilliSatoshi
}

// queryGraph bundles the base graph with the extra_edges/ignored_edges
// overlay for a single route-finding call, so pathfinding never needs to
// mutate the shared Graph.
type queryGraph struct {
	base     *Graph
	extra    map[Vertex][]*Edge
	ignored  map[ChannelDesc]struct{}
}

func newQueryGraph(base *Graph, extraEdges []*Edge, ignoredEdges map[ChannelDesc]struct{}) *queryGraph {
	extra := make(map[Vertex][]*Edge)
	for _, e := range extraEdges {
		extra[e.Desc.A] = append(extra[e.Desc.A], e)
	}
	return &queryGraph{base: base, extra: extra, ignored: ignoredEdges}
}

// edgesFrom returns every usable outgoing edge from v: the graph's own edges
// plus any extra_edges rooted at v, minus anything in ignored_edges. An
// extra edge takes precedence over a stored edge with the same descriptor,
// matching find_route's "assisted hops take precedence" rule.
func (q *queryGraph) edgesFrom(v Vertex) []*Edge {
	overridden := make(map[ChannelDesc]struct{})
	var out []*Edge

	for _, e := range q.extra[v] {
		if _, skip := q.ignored[e.Desc]; skip {
			continue
		}
		out = append(out, e)
		overridden[e.Desc] = struct{}{}
	}

	for _, e := range q.base.EdgesFrom(v) {
		if _, skip := q.ignored[e.Desc]; skip {
			continue
		}
		if _, skip := overridden[e.Desc]; skip {
			continue
		}
		out = append(out, e)
	}

	return out
}

// dijkstraItem is an entry in the shortest-path priority queue.
type dijkstraItem struct {
	vertex Vertex
	weight lnwire.MilliSatoshi
	path   []*Edge
}

type dijkstraQueue []*dijkstraItem

func (q dijkstraQueue) Len() int            { return len(q) }
func (q dijkstraQueue) Less(i, j int) bool  { return q[i].weight < q[j].weight }
func (q dijkstraQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *dijkstraQueue) Push(x interface{}) { *q = append(*q, x.(*dijkstraItem)) }
func (q *dijkstraQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// shortestPath runs Dijkstra's algorithm from source to target over q,
// additionally forbidding any vertex in bannedVertices and any edge in
// bannedEdges (used by Yen's algorithm to force distinct spur paths). It
// returns nil if target is unreachable within RouteMaxLength hops.
func shortestPath(q *queryGraph, source, target Vertex, amount lnwire.MilliSatoshi,
	bannedVertices map[Vertex]struct{}, bannedEdges map[ChannelDesc]struct{}) *path {

	pq := &dijkstraQueue{{vertex: source, weight: 0}}
	heap.Init(pq)

	best := make(map[Vertex]lnwire.MilliSatoshi)
	best[source] = 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*dijkstraItem)

		if item.vertex == target {
			if len(item.path) > RouteMaxLength {
				continue
			}
			return &path{edges: item.path, weight: item.weight}
		}

		if len(item.path) >= RouteMaxLength {
			continue
		}

		if w, ok := best[item.vertex]; ok && item.vertex != source && item.weight > w {
			continue
		}

		for _, edge := range q.edgesFrom(item.vertex) {
			if _, banned := bannedEdges[edge.Desc]; banned {
				continue
			}
			next := edge.Desc.B
			if _, banned := bannedVertices[next]; banned {
				continue
			}

			nextWeight := item.weight + edge.Fee(amount)
			if w, ok := best[next]; ok && w <= nextWeight {
				continue
			}
			best[next] = nextWeight

			nextPath := make([]*Edge, len(item.path)+1)
			copy(nextPath, item.path)
			nextPath[len(item.path)] = edge

			heap.Push(pq, &dijkstraItem{
				vertex: next,
				weight: nextWeight,
				path:   nextPath,
			})
		}
	}

	return nil
}

// yenKShortestPaths returns up to k loopless paths from source to target, in
// non-decreasing weight order, using Yen's algorithm on top of q. Paths
// longer than RouteMaxLength are never produced by shortestPath, so no
// additional filtering is needed here.
func yenKShortestPaths(q *queryGraph, source, target Vertex, amount lnwire.MilliSatoshi, k int) []*path {
	first := shortestPath(q, source, target, amount, nil, nil)
	if first == nil {
		return nil
	}

	found := []*path{first}
	var candidates []*path

	for len(found) < k {
		prev := found[len(found)-1]

		for i := range prev.edges {
			spurVertex := prev.edges[i].Desc.A
			rootEdges := prev.edges[:i]

			bannedEdges := make(map[ChannelDesc]struct{})
			for _, p := range found {
				if samePrefix(p.edges, rootEdges) && len(p.edges) > i {
					bannedEdges[p.edges[i].Desc] = struct{}{}
				}
			}

			bannedVertices := make(map[Vertex]struct{})
			for _, e := range rootEdges {
				bannedVertices[e.Desc.A] = struct{}{}
			}

			spurPath := shortestPath(q, spurVertex, target, amount, bannedVertices, bannedEdges)
			if spurPath == nil {
				continue
			}

			totalEdges := make([]*Edge, 0, len(rootEdges)+len(spurPath.edges))
			totalEdges = append(totalEdges, rootEdges...)
			totalEdges = append(totalEdges, spurPath.edges...)

			if len(totalEdges) > RouteMaxLength {
				continue
			}

			var rootWeight lnwire.MilliSatoshi
			for _, e := range rootEdges {
				rootWeight += e.Fee(amount)
			}

			candidate := &path{edges: totalEdges, weight: rootWeight + spurPath.weight}
			if !containsPath(found, candidate) && !containsPath(candidates, candidate) {
				candidates = append(candidates, candidate)
			}
		}

		if len(candidates) == 0 {
			break
		}

		best := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].weight < candidates[best].weight {
				best = i
			}
		}
		found = append(found, candidates[best])
		candidates = append(candidates[:best], candidates[best+1:]...)
	}

	return found
}

func samePrefix(edges, prefix []*Edge) bool {
	if len(edges) < len(prefix) {
		return false
	}
	for i, e := range prefix {
		if edges[i].Desc != e.Desc {
			return false
		}
	}
	return true
}

func containsPath(paths []*path, candidate *path) bool {
	for _, p := range paths {
		if len(p.edges) != len(candidate.edges) {
			continue
		}
		match := true
		for i, e := range p.edges {
			if e.Desc != candidate.edges[i].Desc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
