package discovery

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meshpay/lnrouter/lnpeer"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

// routerEvent is the closed set of inbound events the dispatcher loop
// accepts. Every concrete event type below implements it; the dispatcher
// exhaustively type-switches over these, so adding a new event means adding
// a new case there too.
type routerEvent interface {
	isRouterEvent()
}

// LocalChannelUpdate announces a local, not-yet-publicly-announced channel
// policy, keeping the private_channels/private_updates views in sync with
// the rest of the daemon.
type LocalChannelUpdate struct {
	RemoteNode [33]byte
	Update     *lnwire.ChannelUpdate
}

func (LocalChannelUpdate) isRouterEvent() {}

// LocalChannelDown retires a private channel, e.g. on cooperative or
// force-close.
type LocalChannelDown struct {
	ShortChannelID lnwire.ShortChannelID
}

func (LocalChannelDown) isRouterEvent() {}

// WatchEventSpentBasic is delivered when the on-chain watcher observes a
// channel's funding output has been spent; it triggers an immediate,
// single-channel prune.
type WatchEventSpentBasic struct {
	Spend *FundingSpend
}

func (WatchEventSpentBasic) isRouterEvent() {}

// ExcludeChannel adds desc to the temporary, directional routing blacklist.
type ExcludeChannel struct {
	Desc routing.ChannelDesc
}

func (ExcludeChannel) isRouterEvent() {}

// LiftChannelExclusion removes desc from the temporary blacklist, typically
// fired by a timer started when the exclusion was applied.
type LiftChannelExclusion struct {
	Desc routing.ChannelDesc
}

func (LiftChannelExclusion) isRouterEvent() {}

// TickBroadcast is accepted for protocol symmetry with a full node but is a
// no-op here: this router never rebroadcasts gossip to other peers.
type TickBroadcast struct{}

func (TickBroadcast) isRouterEvent() {}

// TickPruneStaleChannels fires the hourly pruning sweep.
type TickPruneStaleChannels struct{}

func (TickPruneStaleChannels) isRouterEvent() {}

// SendChannelQuery is issued by a peer's actor on (re)connect to kick off
// the range-query dance for that peer.
type SendChannelQuery struct {
	Peer     lnpeer.Transport
	Chain    chainhash.Hash
	Encoding lnwire.ShortChanIDEncoding
}

func (SendChannelQuery) isRouterEvent() {}

// PeerRoutingMessage wraps a single gossip message received from a peer,
// together with enough context to reply and to update that peer's sync
// state.
type PeerRoutingMessage struct {
	Transport    lnpeer.Transport
	RemoteNodeID [33]byte
	Payload      lnwire.Message
}

func (PeerRoutingMessage) isRouterEvent() {}

// QueryKind identifies one of the read-only snapshot queries the router
// answers synchronously via the result channel embedded in Query.
type QueryKind int

const (
	QueryNodes QueryKind = iota
	QueryChannels
	QueryUpdates
	QueryUpdatesMap
	QueryData
)

// Query requests a read-only view of router state. Result receives exactly
// one value; the router does not close it. QueryNodes, QueryChannels and
// QueryUpdates answer with freshly built slices, while QueryUpdatesMap and
// QueryData hand back the router's live map and Data.
type Query struct {
	Kind   QueryKind
	Result chan<- interface{}
}

func (Query) isRouterEvent() {}

// RouteRequest asks the router to compute a route. Because route
// computation is the one CPU-heavy handler, it is offloaded to a worker;
// the result always arrives asynchronously as a routeResult posted back
// onto the event queue, never synchronously within the handler that
// accepted the request.
type RouteRequest struct {
	Source, Target Vertex
	Amount         lnwire.MilliSatoshi
	NumRoutes      int
	Restrictions   routing.RestrictParams
	Result         chan<- RouteResponse
}

func (RouteRequest) isRouterEvent() {}

// Vertex aliases routing.Vertex so callers constructing a RouteRequest don't
// need to import the routing package just for this one type.
type Vertex = routing.Vertex

// RouteResponse is delivered to a RouteRequest's Result channel exactly
// once.
type RouteResponse struct {
	Hops []routing.Hop
	Err  error
}

// routeResult is the internal event the worker goroutine posts back onto
// the dispatcher's queue once a RouteRequest has been computed, so that
// delivering the result never happens from inside the state-mutation path.
type routeResult struct {
	resp   RouteResponse
	result chan<- RouteResponse
}

func (routeResult) isRouterEvent() {}
