package discovery

import (
	"github.com/meshpay/lnrouter/routing"
)

// originSet is the set of peers a given piece of gossip has already been
// seen from. A message never gets forwarded back to a peer in its own
// origin set.
type originSet map[NodeID]struct{}

// timestampedEntry pairs an origin set with the timestamp carried by the
// message it represents, so the with-timestamp-range dialect can select
// against it without re-parsing the underlying wire message.
type timestampedEntry struct {
	Timestamp uint32
	Origins   originSet
}

// Rebroadcast is the pool of gossip a peer's outstanding
// gossip_timestamp_filter could still make eligible for forwarding: three
// disjoint maps, one per message class. Channel announcements carry no
// timestamp of their own, so they're keyed only by origin set; updates and
// node announcements carry both.
type Rebroadcast struct {
	Channels map[uint64]originSet
	Updates  map[routing.ChannelDesc]timestampedEntry
	Nodes    map[NodeID]timestampedEntry
}

// TimestampFilter mirrors the range a peer's gossip_timestamp_filter
// message installs: only gossip whose timestamp falls in
// [First, First+Range] is eligible to be sent back to that peer. A nil
// filter imposes no restriction.
type TimestampFilter struct {
	First uint32
	Range uint32
}

// contains reports whether ts falls inside the filter's window. A nil
// filter (no gossip_timestamp_filter installed) always returns true.
func (f *TimestampFilter) contains(ts uint32) bool {
	if f == nil {
		return true
	}
	return ts >= f.First && ts <= f.First+f.Range
}

// FilteredGossip is the subset of a Rebroadcast that survives filterGossip:
// the keys a requester may actually be sent.
type FilteredGossip struct {
	Channels map[uint64]struct{}
	Updates  map[routing.ChannelDesc]struct{}
	Nodes    map[NodeID]struct{}
}

// filterGossip selects which entries of rb are eligible to be forwarded to
// requester under the given timestamp filter, mirroring the teacher's
// FilterGossipMsgs in two respects: an entry already heard from requester is
// never echoed back to it, and (when a filter is installed) a timestamped
// entry outside the filter's window is dropped. Channel announcements have
// no timestamp and so are never filtered by time, only by origin. This
// function only selects; actually transmitting the result to a peer is
// handled elsewhere.
func filterGossip(rb *Rebroadcast, requester NodeID, filter *TimestampFilter) *FilteredGossip {
	out := &FilteredGossip{
		Channels: make(map[uint64]struct{}, len(rb.Channels)),
		Updates:  make(map[routing.ChannelDesc]struct{}, len(rb.Updates)),
		Nodes:    make(map[NodeID]struct{}, len(rb.Nodes)),
	}

	for chanID, origins := range rb.Channels {
		if _, fromRequester := origins[requester]; fromRequester {
			continue
		}
		out.Channels[chanID] = struct{}{}
	}

	for desc, entry := range rb.Updates {
		if _, fromRequester := entry.Origins[requester]; fromRequester {
			continue
		}
		if !filter.contains(entry.Timestamp) {
			continue
		}
		out.Updates[desc] = struct{}{}
	}

	for nodeID, entry := range rb.Nodes {
		if _, fromRequester := entry.Origins[requester]; fromRequester {
			continue
		}
		if !filter.contains(entry.Timestamp) {
			continue
		}
		out.Nodes[nodeID] = struct{}{}
	}

	return out
}
