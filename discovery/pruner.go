package discovery

import (
	"time"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

// ChainHeightSource is the external collaborator the pruner consults for
// the current chain tip, so a channel's confirmation depth can be weighed
// against staleBlockDelta.
type ChainHeightSource interface {
	BestHeight() (uint32, error)
}

// pruneStaleChannels sweeps the public graph for channels that are both
// deeply confirmed and have gone unrefreshed past staleThreshold in both
// directions, evicting up to maxPruneCount of them per pass.
func (r *Router) pruneStaleChannels() {
	if r.cfg.Height == nil {
		return
	}

	tip, err := r.cfg.Height.BestHeight()
	if err != nil {
		log.Errorf("fetching chain tip for pruning: %v", err)
		return
	}

	cutoff := time.Now().Add(-staleThreshold)

	var toPrune []uint64
	for chanID, info := range r.data.channels {
		if len(toPrune) >= maxPruneCount {
			break
		}

		scid := lnwire.NewShortChanIDFromInt(chanID)
		if tip <= scid.BlockHeight+staleBlockDelta {
			continue
		}

		if !r.bothDirectionsStale(info, cutoff) {
			continue
		}

		toPrune = append(toPrune, chanID)
	}

	for _, chanID := range toPrune {
		r.pruneChannel(chanID)
	}
}

// bothDirectionsStale reports whether neither direction of info has an
// update newer than cutoff. A direction that has never been updated counts
// as stale.
func (r *Router) bothDirectionsStale(info *channeldb.ChannelEdgeInfo, cutoff time.Time) bool {
	descA := routing.ChannelDesc{ChannelID: info.ChannelID, A: info.NodeKey1Bytes, B: info.NodeKey2Bytes}
	descB := routing.ChannelDesc{ChannelID: info.ChannelID, A: info.NodeKey2Bytes, B: info.NodeKey1Bytes}

	for _, desc := range []routing.ChannelDesc{descA, descB} {
		if policy, ok := r.data.updates[desc]; ok && policy.LastUpdate.After(cutoff) {
			return false
		}
	}
	return true
}

// pruneChannel evicts a single channel from the graph, persistent storage,
// and every map that might still reference it, and announces the loss on
// the event bus. It is also the immediate-prune path triggered by a
// FundingSpend notification.
func (r *Router) pruneChannel(chanID uint64) {
	info, ok := r.data.channels[chanID]
	if !ok {
		return
	}

	descA := routing.ChannelDesc{ChannelID: chanID, A: info.NodeKey1Bytes, B: info.NodeKey2Bytes}
	descB := routing.ChannelDesc{ChannelID: chanID, A: info.NodeKey2Bytes, B: info.NodeKey1Bytes}

	r.data.graph.RemoveEdges([]routing.ChannelDesc{descA, descB})
	delete(r.data.updates, descA)
	delete(r.data.updates, descB)
	delete(r.data.channels, chanID)

	if err := r.cfg.DB.RemoveChannel(chanID); err != nil {
		log.Errorf("removing channel %d from storage: %v", chanID, err)
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ChannelLost{ShortChannelID: lnwire.NewShortChanIDFromInt(chanID)})
	}

	r.maybeDropOrphanNode(info.NodeKey1Bytes)
	r.maybeDropOrphanNode(info.NodeKey2Bytes)
}

// maybeDropOrphanNode removes a node and announces NodeLost once no
// remaining channel references it.
func (r *Router) maybeDropOrphanNode(id NodeID) {
	for _, info := range r.data.channels {
		if info.NodeKey1Bytes == id || info.NodeKey2Bytes == id {
			return
		}
	}

	if _, ok := r.data.nodes[id]; !ok {
		return
	}
	delete(r.data.nodes, id)

	if err := r.cfg.DB.RemoveNode(id); err != nil {
		log.Errorf("removing orphaned node %x from storage: %v", id, err)
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(NodeLost{NodeID: id})
	}
}
