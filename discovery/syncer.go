package discovery

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnpeer"
	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

// replyRateLimit and replyRateBurst bound how much synchronous work a
// single peer's sync replies can force onto the single-threaded dispatch
// loop, the same protection the teacher's GossipSyncer gives its own
// query-answering path.
const (
	replyRateLimit = rate.Limit(5)
	replyRateBurst = 10
)

// almostStaleMargin is how close to staleThreshold our own copy of an
// update can be before the with-checksums dialect asks for it again even
// though the peer's checksum matches: a peer could drop it before we'd
// otherwise think to re-request it.
const almostStaleMargin = 24 * time.Hour

// syncState tracks where a single peer is in the windowed range-query sync
// dance. Only the head of pending is ever in flight at once; everything
// behind it is held back until the in-flight batch's
// ReplyShortChanIDsEnd arrives, which is the backpressure this component
// exists to provide.
type syncState struct {
	peer lnpeer.Transport

	// total is the number of short channel ids this sync round asked
	// for in total, across every batch computed so far.
	total int

	// pending holds every batch not yet sent, in send order. The batch
	// currently awaiting its ReplyShortChanIDsEnd has already been
	// popped off the front and is not counted here.
	pending []*lnwire.QueryShortChanIDs

	// limiter throttles how often this peer's ReplyChannelRange messages
	// are allowed to trigger a round of FilterKnownChanIDs/query work.
	limiter *rate.Limiter
}

func newSyncState() *syncState {
	return &syncState{
		limiter: rate.NewLimiter(replyRateLimit, replyRateBurst),
	}
}

// handleSendChannelQuery kicks off the sync dance with a newly (re)connected
// peer by asking for every short channel ID it knows of. Any sync already in
// progress with this peer is dropped in favor of the new one.
func (r *Router) handleSendChannelQuery(e SendChannelQuery) {
	r.data.sync[e.Peer.PubKey()] = newSyncState()

	query := &lnwire.QueryChannelRange{
		ChainHash:        e.Chain,
		FirstBlockHeight: 0,
		NumBlocks:        math.MaxUint32,
	}

	if err := e.Peer.SendMessage(false, query); err != nil {
		log.Errorf("sending channel range query to %x: %v", e.Peer.PubKey(), err)
		delete(r.data.sync, e.Peer.PubKey())
	}
}

// processReplyChannelRange diffs a chunk of the peer's range reply against
// local storage using whichever wire dialect the peer replied with, queues
// query_short_channel_ids batches of at most shortIDWindow ids, sends only
// the batch at the head of the queue now, and, once the peer's reply is
// complete, prunes any locally known channel in the queried range that the
// peer never reported (reconciliation pruning).
func (r *Router) processReplyChannelRange(t lnpeer.Transport, origin NodeID, msg *lnwire.ReplyChannelRange) {
	state, ok := r.data.sync[origin]
	if !ok {
		state = newSyncState()
		r.data.sync[origin] = state
	}

	if !state.limiter.Allow() {
		log.Warnf("dropping channel range reply from %x: rate limit exceeded", origin)
		return
	}

	reported := make(map[uint64]struct{}, len(msg.ShortChanIDs))
	for _, scid := range msg.ShortChanIDs {
		reported[scid.ToUint64()] = struct{}{}
	}

	missingIDs, missingFlags, err := r.computeSyncRequest(msg)
	if err != nil {
		log.Errorf("computing sync request for %x: %v", origin, err)
		return
	}

	batches := r.buildQueryBatches(msg.ChainHash, msg.Encoding, missingIDs, missingFlags)
	r.enqueueSyncBatches(t, origin, state, batches)

	if msg.Complete == 1 {
		r.reconcilePrune(msg.FirstBlockHeight, msg.NumBlocks, reported)
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(SyncProgress{Progress: r.overallSyncProgress()})
	}
}

// computeSyncRequest picks the missing-id selection rule matching the
// dialect the peer answered with.
func (r *Router) computeSyncRequest(msg *lnwire.ReplyChannelRange) ([]uint64, []lnwire.QueryFlag, error) {
	ids := make([]uint64, len(msg.ShortChanIDs))
	for i, scid := range msg.ShortChanIDs {
		ids[i] = scid.ToUint64()
	}

	switch msg.Encoding {
	case lnwire.EncodingTimestamps:
		missing, err := r.computeTimestampRequest(ids, msg.Timestamps)
		return missing, nil, err
	case lnwire.EncodingChecksums:
		return r.computeChecksumRequest(ids, msg.Timestamps, msg.Checksums)
	default:
		missing, err := r.cfg.DB.FilterKnownChanIDs(ids)
		return missing, nil, err
	}
}

// computeTimestampRequest implements the deprecated-with-timestamps
// dialect: request any id we don't know at all, plus any id whose local
// record is older (in either direction) than what the peer just reported.
func (r *Router) computeTimestampRequest(ids []uint64, timestamps []lnwire.ChannelUpdateTimestamps) ([]uint64, error) {
	unknown, err := r.cfg.DB.FilterKnownChanIDs(ids)
	if err != nil {
		return nil, err
	}
	unknownSet := make(map[uint64]struct{}, len(unknown))
	for _, id := range unknown {
		unknownSet[id] = struct{}{}
	}

	var missing []uint64
	for i, id := range ids {
		if _, ok := unknownSet[id]; ok {
			missing = append(missing, id)
			continue
		}
		if i >= len(timestamps) {
			continue
		}

		p1, p2 := r.localPolicies(id)
		theirs := timestamps[i]
		if p1 == nil || uint32(p1.LastUpdate.Unix()) < theirs.Timestamp1 {
			missing = append(missing, id)
			continue
		}
		if p2 == nil || uint32(p2.LastUpdate.Unix()) < theirs.Timestamp2 {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// computeChecksumRequest implements the with-checksums dialect: for a
// known channel, request a direction's update only if the peer's copy is
// both newer and not itself stale, and either our checksum disagrees with
// theirs or our own copy is old enough to be worth refreshing anyway. An
// unknown id requests the full announcement plus both directions.
func (r *Router) computeChecksumRequest(
	ids []uint64,
	timestamps []lnwire.ChannelUpdateTimestamps,
	checksums []lnwire.ChannelUpdateChecksums,
) ([]uint64, []lnwire.QueryFlag, error) {

	unknown, err := r.cfg.DB.FilterKnownChanIDs(ids)
	if err != nil {
		return nil, nil, err
	}
	unknownSet := make(map[uint64]struct{}, len(unknown))
	for _, id := range unknown {
		unknownSet[id] = struct{}{}
	}

	var reqIDs []uint64
	var reqFlags []lnwire.QueryFlag
	now := time.Now()

	for i, id := range ids {
		if _, ok := unknownSet[id]; ok {
			reqIDs = append(reqIDs, id)
			reqFlags = append(reqFlags, lnwire.QueryFlagChanAnnouncement|
				lnwire.QueryFlagUpdate1|lnwire.QueryFlagUpdate2|
				lnwire.QueryFlagNode1|lnwire.QueryFlagNode2)
			continue
		}
		if i >= len(timestamps) || i >= len(checksums) {
			continue
		}

		p1, p2 := r.localPolicies(id)
		theirTS, theirCS := timestamps[i], checksums[i]

		var flags lnwire.QueryFlag
		if wantChecksumUpdate(p1, theirTS.Timestamp1, theirCS.Checksum1, now) {
			flags |= lnwire.QueryFlagUpdate1
		}
		if wantChecksumUpdate(p2, theirTS.Timestamp2, theirCS.Checksum2, now) {
			flags |= lnwire.QueryFlagUpdate2
		}

		if flags != 0 {
			reqIDs = append(reqIDs, id)
			reqFlags = append(reqFlags, flags)
		}
	}

	return reqIDs, reqFlags, nil
}

// wantChecksumUpdate decides whether one direction's update is worth
// requesting under the with-checksums dialect.
func wantChecksumUpdate(ours *channeldb.ChannelEdgePolicy, theirTimestamp, theirChecksum uint32, now time.Time) bool {
	theirTS := time.Unix(int64(theirTimestamp), 0)
	if isStale(theirTS) {
		return false
	}
	if ours == nil {
		return theirTimestamp != 0
	}
	if !theirTS.After(ours.LastUpdate) {
		return false
	}
	if checksumForPolicy(ours) != theirChecksum {
		return true
	}
	return now.Sub(ours.LastUpdate) >= staleThreshold-almostStaleMargin
}

// checksumForPolicy adapts a stored ChannelEdgePolicy to the wire type
// lnwire.ChecksumUpdate expects, so the checksums dialect can compare our
// record against a peer's without round-tripping through a real
// ChannelUpdate message.
func checksumForPolicy(p *channeldb.ChannelEdgePolicy) uint32 {
	return lnwire.ChecksumUpdate(&lnwire.ChannelUpdate{
		ShortChannelID:  lnwire.NewShortChanIDFromInt(p.ChannelID),
		MessageFlags:    p.MessageFlags,
		ChannelFlags:    p.ChannelFlags,
		TimeLockDelta:   p.TimeLockDelta,
		HtlcMinimumMsat: p.MinHTLC,
		HtlcMaximumMsat: p.MaxHTLC,
		BaseFee:         uint32(p.FeeBaseMSat),
		FeeRate:         uint32(p.FeeProportionalMillionths),
	})
}

// localPolicies returns the stored policy for each direction of a known
// public channel, either of which may be nil if that direction has never
// been announced.
func (r *Router) localPolicies(chanID uint64) (p1, p2 *channeldb.ChannelEdgePolicy) {
	info, ok := r.data.channels[chanID]
	if !ok {
		return nil, nil
	}
	descA := routing.ChannelDesc{ChannelID: chanID, A: info.NodeKey1Bytes, B: info.NodeKey2Bytes}
	descB := routing.ChannelDesc{ChannelID: chanID, A: info.NodeKey2Bytes, B: info.NodeKey1Bytes}
	return r.data.updates[descA], r.data.updates[descB]
}

// buildQueryBatches splits a flat list of missing ids (and, for the
// checksums dialect, their per-id query flags) into shortIDWindow-sized
// QueryShortChanIDs messages.
func (r *Router) buildQueryBatches(
	chain chainhash.Hash, encoding lnwire.ShortChanIDEncoding,
	ids []uint64, flags []lnwire.QueryFlag,
) []*lnwire.QueryShortChanIDs {

	var batches []*lnwire.QueryShortChanIDs
	for start := 0; start < len(ids); start += shortIDWindow {
		end := start + shortIDWindow
		if end > len(ids) {
			end = len(ids)
		}

		scids := make([]lnwire.ShortChannelID, end-start)
		for i, id := range ids[start:end] {
			scids[i] = lnwire.NewShortChanIDFromInt(id)
		}

		var batchFlags []lnwire.QueryFlag
		if len(flags) > 0 {
			batchFlags = append([]lnwire.QueryFlag(nil), flags[start:end]...)
		}

		batches = append(batches, &lnwire.QueryShortChanIDs{
			ChainHash:    chain,
			Encoding:     encoding,
			ShortChanIDs: scids,
			Flags:        batchFlags,
		})
	}
	return batches
}

// enqueueSyncBatches implements spec's update_sync: if no sync round was
// already in progress for this peer, the head batch is sent immediately
// and the rest held as pending; if one was already in progress, every new
// batch is appended to pending and nothing is sent — the in-flight batch
// keeps the window open until its own reply_short_channel_ids_end arrives.
func (r *Router) enqueueSyncBatches(t lnpeer.Transport, origin NodeID, state *syncState, batches []*lnwire.QueryShortChanIDs) {
	if len(batches) == 0 {
		return
	}

	hadEntry := state.total > 0

	for _, batch := range batches {
		state.total += len(batch.ShortChanIDs)
	}
	state.pending = append(state.pending, batches...)

	if hadEntry {
		return
	}

	r.sendNextBatch(t, origin, state)
}

// sendNextBatch pops and sends the batch at the head of state.pending, if
// any, recording the transport it was sent on so a later
// ReplyShortChanIDsEnd (which carries no transport of its own) can reuse it.
func (r *Router) sendNextBatch(t lnpeer.Transport, origin NodeID, state *syncState) {
	if len(state.pending) == 0 {
		return
	}

	batch := state.pending[0]
	state.pending = state.pending[1:]
	state.peer = t

	if err := t.SendMessage(false, batch); err != nil {
		log.Errorf("sending short channel id query to %x: %v", origin, err)
	}
}

// reconcilePrune evicts every locally stored channel within the queried
// block range that the peer's complete reply never mentioned, on the theory
// that an honest, fully synced peer would have reported it.
func (r *Router) reconcilePrune(firstHeight, numBlocks uint32, reported map[uint64]struct{}) {
	endHeight := uint64(firstHeight) + uint64(numBlocks)

	var toPrune []uint64
	for chanID := range r.data.channels {
		scid := lnwire.NewShortChanIDFromInt(chanID)
		if uint64(scid.BlockHeight) < uint64(firstHeight) || uint64(scid.BlockHeight) >= endHeight {
			continue
		}
		if _, ok := reported[chanID]; ok {
			continue
		}
		toPrune = append(toPrune, chanID)
	}

	for _, chanID := range toPrune {
		r.pruneChannel(chanID)
	}
}

// processReplyShortChanIDsEnd pops and sends the next pending batch for
// origin, if any are left; an end that arrives with nothing left to send
// removes the peer's sync entry entirely, matching spec's "remove peer from
// sync" terminal step.
func (r *Router) processReplyShortChanIDsEnd(origin NodeID) {
	state, ok := r.data.sync[origin]
	if !ok {
		return
	}

	if len(state.pending) > 0 {
		r.sendNextBatch(state.peer, origin, state)
	} else {
		delete(r.data.sync, origin)
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(SyncProgress{Progress: r.overallSyncProgress()})
	}
}

// overallSyncProgress is the fraction of ids requested across every sync
// round still in progress that have already been sent out, 1.0 when no
// peer has any outstanding sync (the sync map is empty).
func (r *Router) overallSyncProgress() float64 {
	if len(r.data.sync) == 0 {
		return 1.0
	}

	var total, remaining int
	for _, s := range r.data.sync {
		total += s.total
		for _, batch := range s.pending {
			remaining += len(batch.ShortChanIDs)
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(total-remaining) / float64(total)
}
