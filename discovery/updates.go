package discovery

import (
	"time"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

// channelEndpoints returns the two node keys that terminate chanID, looking
// first at public channels, then at locally tracked private ones.
func (r *Router) channelEndpoints(chanID uint64) (NodeID, NodeID, bool) {
	if info, ok := r.data.channels[chanID]; ok {
		return info.NodeKey1Bytes, info.NodeKey2Bytes, true
	}
	if remote, ok := r.data.privateChannels[chanID]; ok {
		return r.cfg.SelfNodeID, remote, true
	}
	return NodeID{}, NodeID{}, false
}

// descForUpdate builds the directional ChannelDesc a ChannelUpdate applies
// to: A is always the node whose outgoing direction the update describes.
func descForUpdate(chanID uint64, node1, node2 NodeID, upd *lnwire.ChannelUpdate) routing.ChannelDesc {
	if upd.Direction() == 0 {
		return routing.ChannelDesc{ChannelID: chanID, A: node1, B: node2}
	}
	return routing.ChannelDesc{ChannelID: chanID, A: node2, B: node1}
}

func policyFromUpdate(upd *lnwire.ChannelUpdate) *channeldb.ChannelEdgePolicy {
	return &channeldb.ChannelEdgePolicy{
		ChannelID:                 upd.ShortChannelID.ToUint64(),
		LastUpdate:                time.Unix(int64(upd.Timestamp), 0),
		MessageFlags:              upd.MessageFlags,
		ChannelFlags:              upd.ChannelFlags,
		TimeLockDelta:             upd.TimeLockDelta,
		MinHTLC:                   upd.HtlcMinimumMsat,
		MaxHTLC:                   upd.HtlcMaximumMsat,
		FeeBaseMSat:               lnwire.MilliSatoshi(upd.BaseFee),
		FeeProportionalMillionths: lnwire.MilliSatoshi(upd.FeeRate),
		SigBytes:                  upd.Signature[:],
	}
}

// processChannelUpdate implements the ChannelUpdate branch. For a public
// channel already admitted to the graph, the checks run in strict order —
// stale, then duplicate, then signature — so that an old or duplicate
// update with a bad signature is silently dropped as a duplicate rather
// than logging a spurious invalid-signature warning. A known private
// channel is updated in the private view only, under the same three
// checks. An update for a channel that is not admitted yet (whether still
// awaiting validation or not seen at all) is stashed by origin against the
// channel ID, so it can be replayed once the channel is admitted.
func (r *Router) processChannelUpdate(upd *lnwire.ChannelUpdate, origin NodeID, local bool) {
	chanID := upd.ShortChannelID.ToUint64()

	node1, node2, known := r.channelEndpoints(chanID)

	if !known {
		desc := routing.ChannelDesc{ChannelID: chanID}
		if _, ok := r.data.stashUpdates[desc]; !ok {
			r.data.stashUpdates[desc] = make(map[NodeID]struct{})
		}
		r.data.stashUpdates[desc][origin] = struct{}{}
		r.data.updates[desc] = policyFromUpdate(upd)
		return
	}

	desc := descForUpdate(chanID, node1, node2, upd)
	ts := time.Unix(int64(upd.Timestamp), 0)

	_, isPrivate := r.data.privateChannels[chanID]
	if isPrivate || local {
		r.applyPrivatePolicy(chanID, desc, upd, ts, origin, local)
		return
	}

	if isStale(ts) {
		return
	}

	if existing, ok := r.data.updates[desc]; ok && !ts.After(existing.LastUpdate) {
		return
	}

	if !local && r.cfg.Verifier != nil && !r.verifyUpdate(chanID, upd) {
		log.Warnf("invalid signature on channel update %d from %x", chanID, origin)
		return
	}

	policy := policyFromUpdate(upd)
	r.applyPolicy(desc, policy)

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ChannelUpdateReceived{Update: upd})
	}
}

// verifyUpdate checks a ChannelUpdate's signature against whichever endpoint
// announces the direction it describes.
func (r *Router) verifyUpdate(chanID uint64, upd *lnwire.ChannelUpdate) bool {
	node1, node2, known := r.channelEndpoints(chanID)
	if !known {
		// Without a known channel there's no identity key to verify
		// against yet; accept provisionally and re-check once the
		// channel is admitted and the update is replayed.
		return true
	}
	signer := node1
	if upd.Direction() != 0 {
		signer = node2
	}
	return r.cfg.Verifier.CheckSig(upd.Signature, signer, upd.SigningDigest())
}

// applyPolicy stores policy as the current policy for desc, persists it, and
// keeps the routable graph's edge set consistent: a disabled direction has
// no edge at all, matching invariant 2.
func (r *Router) applyPolicy(desc routing.ChannelDesc, policy *channeldb.ChannelEdgePolicy) {
	r.data.updates[desc] = policy

	if err := r.cfg.DB.AddChannelUpdate(policy); err != nil {
		log.Errorf("persisting update for channel %d: %v", desc.ChannelID, err)
	}

	r.data.graph.RemoveEdge(desc)
	if policy.ChannelFlags&lnwire.ChanUpdateDisabled == 0 {
		r.data.graph.AddEdge(desc, policy)
	}
}

// applyPrivatePolicy mirrors applyPolicy for a channel that has not (or will
// never be) publicly announced: it still participates in local route
// computation but is never persisted to the public graph store. It applies
// the same stale, duplicate, and signature checks as the public branch.
func (r *Router) applyPrivatePolicy(chanID uint64, desc routing.ChannelDesc, upd *lnwire.ChannelUpdate, ts time.Time, origin NodeID, local bool) {
	if isStale(ts) {
		return
	}

	if existing, ok := r.data.privateUpdates[desc]; ok && !ts.After(existing.LastUpdate) {
		return
	}

	if !local && r.cfg.Verifier != nil && !r.verifyUpdate(chanID, upd) {
		log.Warnf("invalid signature on private channel update %d from %x", chanID, origin)
		return
	}

	policy := policyFromUpdate(upd)
	r.data.privateUpdates[desc] = policy

	r.data.graph.RemoveEdge(desc)
	if policy.ChannelFlags&lnwire.ChanUpdateDisabled == 0 {
		r.data.graph.AddEdge(desc, policy)
	}
}

// ingestUpdate is the entry point used for locally originated updates
// (LocalChannelUpdate events), which are never signature-checked against an
// external verifier: the daemon itself produced them.
func (r *Router) ingestUpdate(upd *lnwire.ChannelUpdate, remote NodeID, local bool) {
	chanID := upd.ShortChannelID.ToUint64()
	if _, known := r.channelEndpoints(chanID); !known {
		r.data.privateChannels[chanID] = remote
	}
	r.processChannelUpdate(upd, remote, local)
}
