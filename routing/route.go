package routing

import (
	"math"
	"math/rand"
	"time"

	"github.com/go-errors/errors"

	"github.com/meshpay/lnrouter/lnwire"
)

// DefaultAllowedSpread bounds how much costlier than the cheapest path a
// returned route may be before it's excluded from the random-selection set,
// per find_route step 5.
const DefaultAllowedSpread = 0.10

// DefaultNumRoutes is the number of candidate routes requested from the
// k-shortest-paths search when the caller doesn't specify one.
const DefaultNumRoutes = 3

var (
	// ErrCannotRouteToSelf is returned when source and target are the
	// same vertex.
	ErrCannotRouteToSelf = errors.New("cannot route to self")

	// ErrRouteNotFound is returned when the k-shortest-paths search
	// yields no usable route.
	ErrRouteNotFound = errors.New("route not found")
)

// Hop is one directional edge traversal in a computed route.
type Hop struct {
	NodeID     Vertex
	NextNodeID Vertex
	LastUpdate time.Time
}

// RestrictParams narrows a route search: nodes and channels to avoid
// entirely, and extra edges (e.g. from a payment invoice's routing hints)
// to consider in addition to the graph.
type RestrictParams struct {
	IgnoreNodes    map[Vertex]struct{}
	IgnoreChannels map[ChannelDesc]struct{}
	ExtraEdges     []*Edge
}

// FindRoute searches g for up to numRoutes paths from source to target
// carrying amount, honoring the exclusion and extra-edge overlays in
// restrictions as well as the caller's excludedChannels set, and returns
// one of the routes within DefaultAllowedSpread of the cheapest uniformly at
// random.
func FindRoute(g *Graph, source, target Vertex, amount lnwire.MilliSatoshi,
	numRoutes int, excludedChannels map[ChannelDesc]struct{},
	restrictions RestrictParams) ([]Hop, error) {

	if source == target {
		return nil, ErrCannotRouteToSelf
	}

	if numRoutes <= 0 {
		numRoutes = DefaultNumRoutes
	}

	ignored := make(map[ChannelDesc]struct{})
	for d := range excludedChannels {
		ignored[d] = struct{}{}
	}
	for d := range restrictions.IgnoreChannels {
		ignored[d] = struct{}{}
	}
	for desc := range g.edges {
		if _, bad := restrictions.IgnoreNodes[desc.A]; bad {
			ignored[desc] = struct{}{}
		}
		if _, bad := restrictions.IgnoreNodes[desc.B]; bad {
			ignored[desc] = struct{}{}
		}
	}

	qg := newQueryGraph(g, restrictions.ExtraEdges, ignored)

	paths := yenKShortestPaths(qg, source, target, amount, numRoutes)
	if len(paths) == 0 {
		log.Debugf("no path from %x to %x carrying %v", source, target, amount)
		return nil, ErrRouteNotFound
	}

	minCost := paths[0].weight
	maxEligible := lnwire.MilliSatoshi(math.Round(float64(minCost) * (1 + DefaultAllowedSpread)))

	var eligible []*path
	for _, p := range paths {
		if p.weight <= maxEligible {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrRouteNotFound
	}

	chosen := eligible[rand.Intn(len(eligible))]
	if len(chosen.edges) == 0 {
		return nil, ErrRouteNotFound
	}

	hops := make([]Hop, len(chosen.edges))
	for i, e := range chosen.edges {
		hops[i] = Hop{
			NodeID:     e.Desc.A,
			NextNodeID: e.Desc.B,
			LastUpdate: e.Policy.LastUpdate,
		}
	}

	log.Tracef("chose %d-hop route to %x out of %d eligible candidates",
		len(hops), target, len(eligible))

	return hops, nil
}
