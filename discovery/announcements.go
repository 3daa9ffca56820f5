package discovery

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

// handlePeerMessage dispatches one gossip message received from a peer to
// the handler appropriate for its concrete type. The message is acked
// immediately, before any branch below mutates state, so a slow DB write
// can never stall the transport's flow control.
func (r *Router) handlePeerMessage(e PeerRoutingMessage) {
	e.Transport.ReadAck()

	if chain, ok := messageChainHash(e.Payload); ok && chain != r.data.Chain {
		log.Warnf("dropping %T from %x: chain hash %v does not match %v",
			e.Payload, e.RemoteNodeID, chain, r.data.Chain)
		return
	}

	switch msg := e.Payload.(type) {
	case *lnwire.ChannelAnnouncement:
		r.processChannelAnnouncement(e.RemoteNodeID, msg)

	case *lnwire.ChannelUpdate:
		r.processChannelUpdate(msg, e.RemoteNodeID, false)

	case *lnwire.NodeAnnouncement:
		r.processNodeAnnouncement(e.RemoteNodeID, msg)

	case *lnwire.ReplyChannelRange:
		r.processReplyChannelRange(e.Transport, e.RemoteNodeID, msg)

	case *lnwire.ReplyShortChanIDsEnd:
		r.processReplyShortChanIDsEnd(e.RemoteNodeID)

	case *lnwire.QueryChannelRange, *lnwire.QueryShortChanIDs:
		// Answering range queries from remote peers is out of scope
		// for this router: it only ever initiates the sync dance.

	default:
		log.Debugf("ignoring unrecognized gossip message %T from %x", msg, e.RemoteNodeID)
	}
}

// messageChainHash extracts the chain_hash field carried by the gossip
// message types that have one. NodeAnnouncement carries no chain_hash (a
// node identity is not chain-scoped), so it reports ok=false and is exempt
// from the chain-hash check.
func messageChainHash(msg lnwire.Message) (chainhash.Hash, bool) {
	switch m := msg.(type) {
	case *lnwire.ChannelAnnouncement:
		return m.ChainHash, true
	case *lnwire.ChannelUpdate:
		return m.ChainHash, true
	case *lnwire.ReplyChannelRange:
		return m.ChainHash, true
	case *lnwire.ReplyShortChanIDsEnd:
		return m.ChainHash, true
	case *lnwire.QueryChannelRange:
		return m.ChainHash, true
	case *lnwire.QueryShortChanIDs:
		return m.ChainHash, true
	case *lnwire.GossipTimestampRange:
		return m.ChainHash, true
	default:
		return chainhash.Hash{}, false
	}
}

// processChannelAnnouncement implements the ChannelAnnouncement branch: a
// duplicate of an already-admitted channel is acked and dropped, a
// duplicate of one still awaiting validation is appended to that entry's
// origin list, a message with an invalid signature set is rejected, and
// otherwise the announcement is admitted under this implementation's
// light-client policy: on-chain validation of the funding output is
// bypassed, the signature and witness fields are stripped, and the
// remaining facts are persisted and added to the graph.
func (r *Router) processChannelAnnouncement(origin NodeID, ann *lnwire.ChannelAnnouncement) {
	chanID := ann.ShortChannelID.ToUint64()

	if _, ok := r.data.channels[chanID]; ok {
		return
	}

	if entry, ok := r.data.awaiting[chanID]; ok {
		entry.origins = append(entry.origins, origin)
		return
	}

	if r.cfg.Verifier != nil && !r.cfg.Verifier.CheckSigs(ann) {
		log.Warnf("invalid signature on channel announcement %d from %x", chanID, origin)
		return
	}

	info := &channeldb.ChannelEdgeInfo{
		ChannelID:        chanID,
		ChainHash:        ann.ChainHash,
		NodeKey1Bytes:    ann.NodeID1,
		NodeKey2Bytes:    ann.NodeID2,
		BitcoinKey1Bytes: ann.BitcoinKey1,
		BitcoinKey2Bytes: ann.BitcoinKey2,
		Features:         ann.Features,
	}

	r.admitChannel(info)
	delete(r.data.privateChannels, chanID)

	r.discoverNode(ann.NodeID1, origin)
	r.discoverNode(ann.NodeID2, origin)
}

// admitChannel persists a validated channel and folds in any update that
// had been stashed while it was unknown.
func (r *Router) admitChannel(info *channeldb.ChannelEdgeInfo) {
	r.data.channels[info.ChannelID] = info

	if err := r.cfg.DB.AddChannel(info); err != nil {
		log.Errorf("persisting channel %d: %v", info.ChannelID, err)
	}

	// processChannelUpdate stashes an update for a not-yet-admitted channel
	// under a ChannelDesc carrying only the channel ID; its direction bit
	// picks the desc it applies to now that the endpoints are known.
	stub := routing.ChannelDesc{ChannelID: info.ChannelID}
	if policy, ok := r.data.updates[stub]; ok {
		delete(r.data.updates, stub)
		delete(r.data.stashUpdates, stub)
		desc := routing.ChannelDesc{ChannelID: info.ChannelID, A: info.NodeKey1Bytes, B: info.NodeKey2Bytes}
		if policy.ChannelFlags&lnwire.ChanUpdateDirection != 0 {
			desc = routing.ChannelDesc{ChannelID: info.ChannelID, A: info.NodeKey2Bytes, B: info.NodeKey1Bytes}
		}
		r.applyPolicy(desc, policy)
	}

	for _, desc := range []routing.ChannelDesc{
		{ChannelID: info.ChannelID, A: info.NodeKey1Bytes, B: info.NodeKey2Bytes},
		{ChannelID: info.ChannelID, A: info.NodeKey2Bytes, B: info.NodeKey1Bytes},
	} {
		if _, ok := r.data.stashUpdates[desc]; !ok {
			continue
		}
		delete(r.data.stashUpdates, desc)

		if policy, ok := r.data.updates[desc]; ok {
			r.applyPolicy(desc, policy)
		}
	}
}

// discoverNode ensures a bare node stub exists for id so a later
// NodeAnnouncement can be reconciled against it. It does not publish
// NodeDiscovered itself: that event belongs to processNodeAnnouncement,
// fired once the actual announcement for this now-referenced node arrives,
// not to the placeholder created here at channel-admission time.
func (r *Router) discoverNode(id NodeID, origin NodeID) {
	if _, ok := r.data.nodes[id]; ok {
		return
	}

	r.data.nodes[id] = &channeldb.LightningNode{PubKeyBytes: id}
	delete(r.data.stashNodes, id)
}

// processNodeAnnouncement implements the full NodeAnnouncement branch, in
// strict order: dedup against an already-stashed record, drop a
// duplicate/older record, reject a bad signature, update a fully known
// node, discover a node some admitted channel already stubbed in, stash a
// node some not-yet-admitted channel will reference, or else drop it and
// scrub any persisted record — a node nothing references is not kept.
func (r *Router) processNodeAnnouncement(origin NodeID, na *lnwire.NodeAnnouncement) {
	id := na.NodeID

	if stash, stashed := r.data.stashNodes[id]; stashed {
		stash[origin] = struct{}{}
		return
	}

	newTimestamp := time.Unix(int64(na.Timestamp), 0)

	existing, known := r.data.nodes[id]
	haveAnnouncement := known && existing.HaveNodeAnnouncement
	if haveAnnouncement && !newTimestamp.After(existing.LastUpdate) {
		return
	}

	if r.cfg.Verifier != nil && !r.cfg.Verifier.CheckSig(na.Signature, id, na.SigningDigest()) {
		log.Warnf("invalid signature on node announcement from %x", id)
		return
	}

	node := &channeldb.LightningNode{
		PubKeyBytes:          id,
		LastUpdate:           newTimestamp,
		Addresses:            na.Addresses,
		Alias:                na.Alias.String(),
		Color:                na.RGBColor,
		Features:             na.Features,
		AuthSigBytes:         na.Signature[:],
		HaveNodeAnnouncement: true,
	}

	switch {
	case haveAnnouncement:
		r.data.nodes[id] = node
		r.persistNode(node)
		if r.cfg.Bus != nil {
			r.cfg.Bus.Publish(NodeUpdated{NodeID: id})
		}

	case r.nodeReferencedByChannel(id, known):
		r.data.nodes[id] = node
		r.persistNode(node)
		if r.cfg.Bus != nil {
			r.cfg.Bus.Publish(NodeDiscovered{NodeID: id})
		}

	case r.nodeAwaiting(id):
		r.data.stashNodes[id] = map[NodeID]struct{}{origin: {}}

	default:
		if known {
			delete(r.data.nodes, id)
		}
		if err := r.cfg.DB.RemoveNode(id); err != nil {
			log.Errorf("removing unreferenced node %x: %v", id, err)
		}
	}
}

// persistNode writes node to the backing store, logging (not failing) on a
// storage error, matching every other persistence call site in this file.
func (r *Router) persistNode(node *channeldb.LightningNode) {
	if err := r.cfg.DB.AddNode(node); err != nil {
		log.Errorf("persisting node %x: %v", node.PubKeyBytes, err)
	}
}

// nodeReferencedByChannel reports whether id is already named by an
// admitted channel: either as the bare placeholder discoverNode stubs in at
// channel-admission time (known without a real announcement yet), or as the
// remote counterparty of a private channel, which never gets a stub.
func (r *Router) nodeReferencedByChannel(id NodeID, known bool) bool {
	if known {
		return true
	}
	for _, remote := range r.data.privateChannels {
		if remote == id {
			return true
		}
	}
	return false
}

// nodeAwaiting reports whether some channel announcement still awaiting
// validation names id as one of its endpoints.
func (r *Router) nodeAwaiting(id NodeID) bool {
	for _, entry := range r.data.awaiting {
		if entry.ann.NodeID1 == id || entry.ann.NodeID2 == id {
			return true
		}
	}
	return false
}
