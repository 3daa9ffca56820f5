package routing

import (
	"testing"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
)

func testVertex(b byte) Vertex {
	var v Vertex
	v[0] = 0x02
	v[1] = b
	return v
}

func testPolicy(baseFee lnwire.MilliSatoshi) *channeldb.ChannelEdgePolicy {
	return &channeldb.ChannelEdgePolicy{
		FeeBaseMSat:               baseFee,
		FeeProportionalMillionths: 0,
	}
}

func TestGraphAddRemoveEdgeIdempotent(t *testing.T) {
	g := NewGraph()

	a, b := testVertex(1), testVertex(2)
	desc := ChannelDesc{ChannelID: 1, A: a, B: b}

	g.AddEdge(desc, testPolicy(5))
	g.AddEdge(desc, testPolicy(5))

	edges := g.EdgesFrom(a)
	if len(edges) != 1 {
		t.Fatalf("expected exactly one edge after repeated AddEdge, got %d", len(edges))
	}

	g.RemoveEdge(desc)
	g.RemoveEdge(desc)

	if _, ok := g.Edge(desc); ok {
		t.Fatalf("expected edge to be gone after RemoveEdge")
	}
	if len(g.EdgesFrom(a)) != 0 {
		t.Fatalf("expected no adjacency entries for %v after removal", a)
	}
}

// TestGraphRemoveThenAddMatchesFreshAdd verifies the idempotence property
// required by the update ingestor: remove_edge(d) followed by add_edge(d, u)
// must leave the graph identical to add_edge(d, u) on a graph that never had
// d.
func TestGraphRemoveThenAddMatchesFreshAdd(t *testing.T) {
	a, b := testVertex(1), testVertex(2)
	desc := ChannelDesc{ChannelID: 7, A: a, B: b}
	p := testPolicy(3)

	g1 := NewGraph()
	g1.AddEdge(desc, testPolicy(1))
	g1.RemoveEdge(desc)
	g1.AddEdge(desc, p)

	g2 := NewGraph()
	g2.AddEdge(desc, p)

	e1, ok1 := g1.Edge(desc)
	e2, ok2 := g2.Edge(desc)
	if !ok1 || !ok2 {
		t.Fatalf("expected both graphs to have the edge")
	}
	if e1.Policy.FeeBaseMSat != e2.Policy.FeeBaseMSat {
		t.Fatalf("policies diverged: %v vs %v", e1.Policy, e2.Policy)
	}
}

func TestGraphRemoveEdgesBulk(t *testing.T) {
	g := NewGraph()

	a, b, c := testVertex(1), testVertex(2), testVertex(3)
	d1 := ChannelDesc{ChannelID: 1, A: a, B: b}
	d2 := ChannelDesc{ChannelID: 1, A: b, B: a}
	d3 := ChannelDesc{ChannelID: 2, A: a, B: c}

	g.AddEdge(d1, testPolicy(1))
	g.AddEdge(d2, testPolicy(1))
	g.AddEdge(d3, testPolicy(1))

	g.RemoveEdges([]ChannelDesc{d1, d2})

	if len(g.EdgesFrom(a)) != 1 {
		t.Fatalf("expected one remaining edge from a, got %d", len(g.EdgesFrom(a)))
	}
	if len(g.EdgesFrom(b)) != 0 {
		t.Fatalf("expected no remaining edges from b")
	}
}
