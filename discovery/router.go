// Package discovery implements the network-gossip router: it ingests
// authenticated topology announcements from peers, maintains a consistent
// local view of the public channel graph, runs a windowed per-peer sync
// protocol, prunes stale entries, and answers route-finding requests.
package discovery

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/sync/singleflight"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/queue"
	"github.com/meshpay/lnrouter/routing"
)

// NodeID is the compressed public key identifying a node.
type NodeID = [33]byte

// staleThreshold is how long a channel update may go un-refreshed before it
// is considered stale (14 days).
const staleThreshold = 1209600 * time.Second

// staleBlockDelta is how many confirmations below the chain tip a channel
// must be, in addition to stale updates, before it is pruned.
const staleBlockDelta = 2016

// maxPruneCount bounds how many channels a single pruning pass evicts, to
// keep the single-threaded dispatcher's pause times bounded.
const maxPruneCount = 1000

// shortIDWindow is the batch size used when splitting a set of missing
// short channel IDs into follow-up queries.
const shortIDWindow = 100

// isStale reports whether ts is older than staleThreshold as of now. A
// timestamp exactly staleThreshold old is not yet stale; anything older is.
func isStale(ts time.Time) bool {
	return ts.Before(time.Now().Add(-staleThreshold))
}

// awaitingEntry records a channel announcement still pending validation,
// together with every peer that has sent us a duplicate while we wait. In
// this implementation's light-client admission policy (on-chain validation
// is bypassed; see announcements.go), entries here are transitional at most
// as long as signature checking takes and are normally never observed
// between handler invocations.
type awaitingEntry struct {
	ann     *lnwire.ChannelAnnouncement
	origins []NodeID
}

// Data is the router's complete mutable state: nodes, public and private
// channels and their policies, the pending stashes that reference channels
// not yet admitted, the temporary routing exclusion set, the derived graph,
// and every peer's sync state.
type Data struct {
	Chain chainhash.Hash

	nodes map[NodeID]*channeldb.LightningNode

	channels map[uint64]*channeldb.ChannelEdgeInfo

	updates map[routing.ChannelDesc]*channeldb.ChannelEdgePolicy

	stashUpdates map[routing.ChannelDesc]map[NodeID]struct{}
	stashNodes   map[NodeID]map[NodeID]struct{}

	awaiting map[uint64]*awaitingEntry

	privateChannels map[uint64]NodeID
	privateUpdates  map[routing.ChannelDesc]*channeldb.ChannelEdgePolicy

	excludedChannels map[routing.ChannelDesc]struct{}

	graph *routing.Graph

	sync map[NodeID]*syncState
}

func newData(chain chainhash.Hash) *Data {
	return &Data{
		Chain:            chain,
		nodes:            make(map[NodeID]*channeldb.LightningNode),
		channels:         make(map[uint64]*channeldb.ChannelEdgeInfo),
		updates:          make(map[routing.ChannelDesc]*channeldb.ChannelEdgePolicy),
		stashUpdates:     make(map[routing.ChannelDesc]map[NodeID]struct{}),
		stashNodes:       make(map[NodeID]map[NodeID]struct{}),
		awaiting:         make(map[uint64]*awaitingEntry),
		privateChannels:  make(map[uint64]NodeID),
		privateUpdates:   make(map[routing.ChannelDesc]*channeldb.ChannelEdgePolicy),
		excludedChannels: make(map[routing.ChannelDesc]struct{}),
		graph:            routing.NewGraph(),
		sync:             make(map[NodeID]*syncState),
	}
}

// Config bundles every external collaborator the router consumes: signature
// checks, the on-chain watcher, persistent storage, and the event bus.
// Nothing here is a peer-specific handle; those arrive with each event
// instead.
type Config struct {
	Chain chainhash.Hash

	// SelfNodeID is this node's own public key, used to build a
	// ChannelDesc for locally originated (not yet publicly announced)
	// channel updates.
	SelfNodeID NodeID

	Verifier SigVerifier

	Watcher FundingWatcher

	DB channeldb.GraphDB

	Bus EventBus

	// Height supplies the current chain tip for stale-channel pruning.
	Height ChainHeightSource

	// ExclusionDuration is how long ExcludeChannel's directional ban
	// lasts before a LiftChannelExclusion event is scheduled.
	ExclusionDuration time.Duration

	// RouteWorkers bounds how many route computations may run
	// concurrently in the offload pool.
	RouteWorkers int
}

// Router is the single-threaded actor owning all mutable topology state. It
// drains events from an owned queue.ConcurrentQueue one at a time; no
// internal locking guards Data because only this goroutine ever touches it.
type Router struct {
	cfg Config

	data *Data

	events *queue.ConcurrentQueue

	routeWork chan routeWorkItem

	// routeGroup collapses concurrent RouteRequests that share the same
	// (source, target, amount, numRoutes) key into a single graph walk,
	// fanning the shared answer back out to every caller.
	routeGroup singleflight.Group

	quit chan struct{}
	done chan struct{}
}

// New constructs a Router and loads the persisted graph into memory. It
// does not start the dispatch loop; call Start for that.
func New(cfg Config) (*Router, error) {
	r := &Router{
		cfg:       cfg,
		data:      newData(cfg.Chain),
		events:    queue.NewConcurrentQueue(1000),
		routeWork: make(chan routeWorkItem, 100),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := r.loadGraph(); err != nil {
		return nil, err
	}

	return r, nil
}

// loadGraph repopulates the in-memory graph and channel/update/node maps
// from persistent storage.
func (r *Router) loadGraph() error {
	edges, err := r.cfg.DB.ListChannels()
	if err != nil {
		return err
	}

	for _, edge := range edges {
		r.data.channels[edge.Info.ChannelID] = edge.Info

		a := edge.Info.NodeKey1Bytes
		b := edge.Info.NodeKey2Bytes

		if edge.Policy1 != nil {
			desc := routing.ChannelDesc{ChannelID: edge.Info.ChannelID, A: a, B: b}
			r.data.updates[desc] = edge.Policy1
			if edge.Policy1.ChannelFlags&0x2 == 0 {
				r.data.graph.AddEdge(desc, edge.Policy1)
			}
		}
		if edge.Policy2 != nil {
			desc := routing.ChannelDesc{ChannelID: edge.Info.ChannelID, A: b, B: a}
			r.data.updates[desc] = edge.Policy2
			if edge.Policy2.ChannelFlags&0x2 == 0 {
				r.data.graph.AddEdge(desc, edge.Policy2)
			}
		}
	}

	nodes, err := r.cfg.DB.ListNodes()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		r.data.nodes[n.PubKeyBytes] = n
	}

	return nil
}

// Start launches the dispatch loop, the route-computation worker pool, and
// the hourly prune timer.
func (r *Router) Start() {
	r.events.Start()

	workers := r.cfg.RouteWorkers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		go r.routeWorker()
	}

	go r.pruneTicker()
	go r.dispatchLoop()

	if r.cfg.Watcher != nil {
		go r.watchFundingSpends()
	}
}

// watchFundingSpends relays the on-chain watcher's spend notifications onto
// the event queue as WatchEventSpentBasic events.
func (r *Router) watchFundingSpends() {
	spends := r.cfg.Watcher.SpentChannels()
	for {
		select {
		case spend, ok := <-spends:
			if !ok {
				return
			}
			r.Submit(WatchEventSpentBasic{Spend: spend})

		case <-r.quit:
			return
		}
	}
}

// Stop signals every goroutine started by Start to exit and waits for the
// dispatch loop to return; events still queued are not processed.
func (r *Router) Stop() {
	close(r.quit)
	r.events.Stop()
	<-r.done
}

// Submit enqueues an event for processing. It never blocks the caller for
// long: the underlying queue absorbs bursts without a fixed capacity.
func (r *Router) Submit(event routerEvent) {
	r.events.ChanIn() <- event
}

// dispatchLoop is the router's single goroutine: events are drained and
// handled to completion, one at a time, with no concurrent mutation of
// Data.
func (r *Router) dispatchLoop() {
	defer close(r.done)

	out := r.events.ChanOut()
	for {
		select {
		case e := <-out:
			r.handle(e.(routerEvent))

		case <-r.quit:
			return
		}
	}
}

// handle exhaustively type-switches over the closed set of inbound events.
func (r *Router) handle(event routerEvent) {
	switch e := event.(type) {
	case PeerRoutingMessage:
		r.handlePeerMessage(e)

	case SendChannelQuery:
		r.handleSendChannelQuery(e)

	case LocalChannelUpdate:
		r.handleLocalChannelUpdate(e)

	case LocalChannelDown:
		r.handleLocalChannelDown(e)

	case WatchEventSpentBasic:
		r.pruneChannel(e.Spend.ChannelID)

	case ExcludeChannel:
		r.data.excludedChannels[e.Desc] = struct{}{}
		if r.cfg.ExclusionDuration > 0 {
			desc := e.Desc
			time.AfterFunc(r.cfg.ExclusionDuration, func() {
				r.Submit(LiftChannelExclusion{Desc: desc})
			})
		}

	case LiftChannelExclusion:
		delete(r.data.excludedChannels, e.Desc)

	case TickBroadcast:
		// No-op: this router never rebroadcasts gossip to peers.

	case TickPruneStaleChannels:
		r.pruneStaleChannels()

	case Query:
		r.handleQuery(e)

	case RouteRequest:
		r.dispatchRouteRequest(e)

	case routeResult:
		e.result <- e.resp
	}
}

// handleQuery answers one of the read-only snapshot queries synchronously,
// from within the dispatch loop, since none of them require CPU-heavy work.
func (r *Router) handleQuery(q Query) {
	switch q.Kind {
	case QueryNodes:
		q.Result <- r.snapshotNodes()
	case QueryChannels:
		q.Result <- r.snapshotChannels()
	case QueryUpdates:
		q.Result <- r.snapshotUpdates()
	case QueryUpdatesMap:
		q.Result <- r.data.updates
	case QueryData:
		q.Result <- r.data
	}
}

func (r *Router) snapshotNodes() []*channeldb.LightningNode {
	nodes := make([]*channeldb.LightningNode, 0, len(r.data.nodes))
	for _, n := range r.data.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

func (r *Router) snapshotChannels() []*channeldb.ChannelEdgeInfo {
	channels := make([]*channeldb.ChannelEdgeInfo, 0, len(r.data.channels))
	for _, c := range r.data.channels {
		channels = append(channels, c)
	}
	return channels
}

func (r *Router) snapshotUpdates() []*channeldb.ChannelEdgePolicy {
	updates := make([]*channeldb.ChannelEdgePolicy, 0, len(r.data.updates))
	for _, u := range r.data.updates {
		updates = append(updates, u)
	}
	return updates
}

// routeWorkItem carries a RouteRequest together with a point-in-time
// snapshot of the graph and exclusion set it should be evaluated against,
// so the worker never touches Data concurrently with the dispatch loop.
// done receives exactly the one response this item produces.
type routeWorkItem struct {
	req      RouteRequest
	graph    *routing.Graph
	excluded map[routing.ChannelDesc]struct{}
	done     chan RouteResponse
}

func cloneExcluded(src map[routing.ChannelDesc]struct{}) map[routing.ChannelDesc]struct{} {
	cp := make(map[routing.ChannelDesc]struct{}, len(src))
	for k := range src {
		cp[k] = struct{}{}
	}
	return cp
}

// routeRequestKey identifies requests that would walk the graph identically,
// so concurrent duplicates can be collapsed by routeGroup.
func routeRequestKey(req RouteRequest) string {
	return fmt.Sprintf("%x/%x/%d/%d", req.Source, req.Target, req.Amount, req.NumRoutes)
}

// dispatchRouteRequest snapshots the graph and exclusion set synchronously,
// on the dispatch loop goroutine, then hands the work off to routeGroup so
// that identical concurrent requests share a single graph walk instead of
// each paying for their own. The dispatch loop itself never blocks: every
// path out of this function returns immediately.
func (r *Router) dispatchRouteRequest(req RouteRequest) {
	item := routeWorkItem{
		req:      req,
		graph:    r.data.graph.Snapshot(),
		excluded: cloneExcluded(r.data.excludedChannels),
	}

	ch := r.routeGroup.DoChan(routeRequestKey(req), func() (interface{}, error) {
		done := make(chan RouteResponse, 1)
		item.done = done

		select {
		case r.routeWork <- item:
		default:
			return RouteResponse{Err: ErrRouteNotFound}, nil
		}
		return <-done, nil
	})

	go func() {
		res := <-ch
		resp, _ := res.Val.(RouteResponse)
		r.Submit(routeResult{resp: resp, result: req.Result})
	}()
}

// routeWorker computes routes offloaded from the dispatch loop. Its result
// is delivered on the work item's own done channel; routeGroup fans that
// single answer back out to every caller that asked for the same route
// concurrently.
func (r *Router) routeWorker() {
	for {
		select {
		case item := <-r.routeWork:
			req := item.req
			hops, err := routing.FindRoute(
				item.graph, req.Source, req.Target, req.Amount,
				req.NumRoutes, item.excluded, req.Restrictions,
			)
			item.done <- RouteResponse{Hops: hops, Err: err}

		case <-r.quit:
			return
		}
	}
}

func (r *Router) pruneTicker() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Submit(TickPruneStaleChannels{})

		case <-r.quit:
			return
		}
	}
}

// handleLocalChannelUpdate and handleLocalChannelDown keep the
// private_channels/private_updates bookkeeping in sync with the rest of the
// daemon for channels that have not (yet, or ever) been publicly announced.
func (r *Router) handleLocalChannelUpdate(e LocalChannelUpdate) {
	r.ingestUpdate(e.Update, e.RemoteNode, true)
}

func (r *Router) handleLocalChannelDown(e LocalChannelDown) {
	chanID := e.ShortChannelID.ToUint64()

	if _, ok := r.data.privateChannels[chanID]; !ok {
		return
	}
	delete(r.data.privateChannels, chanID)

	for desc := range r.data.privateUpdates {
		if desc.ChannelID == chanID {
			delete(r.data.privateUpdates, desc)
			r.data.graph.RemoveEdge(desc)
		}
	}
}
