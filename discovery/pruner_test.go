package discovery

import (
	"testing"
	"time"

	"github.com/meshpay/lnrouter/routing"
)

func TestPruneStaleChannelsEvictsOldQuietChannels(t *testing.T) {
	r, db, bus := newTestRouter(t, acceptVerifier{})
	r.cfg.Height = fixedHeight(600000)

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(1) << 40 // block height 1, far below tip
	admitTestChannel(t, r, chanID, n1, n2)

	stalePolicy := testUpdate(chanID, uint32(time.Now().Add(-2*staleThreshold).Unix()), 0, 1)
	r.processChannelUpdate(stalePolicy, chanVertex(9), false)

	r.pruneStaleChannels()

	if _, ok := r.data.channels[chanID]; ok {
		t.Fatalf("stale channel was not pruned")
	}
	if _, _, _, err := db.FetchChannelEdgesByID(chanID); err == nil {
		t.Fatalf("stale channel was not removed from storage")
	}

	found := false
	for _, e := range bus.snapshot() {
		if _, ok := e.(ChannelLost); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ChannelLost event")
	}
}

func TestPruneStaleChannelsKeepsFreshChannels(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})
	r.cfg.Height = fixedHeight(600000)

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(1) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	fresh := testUpdate(chanID, uint32(time.Now().Unix()), 0, 1)
	r.processChannelUpdate(fresh, chanVertex(9), false)

	r.pruneStaleChannels()

	if _, ok := r.data.channels[chanID]; !ok {
		t.Fatalf("fresh channel was pruned")
	}
}

func TestPruneStaleChannelsKeepsShallowChannels(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})
	r.cfg.Height = fixedHeight(600000)

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(599999) << 40 // only one confirmation below tip
	admitTestChannel(t, r, chanID, n1, n2)

	stalePolicy := testUpdate(chanID, uint32(time.Now().Add(-2*staleThreshold).Unix()), 0, 1)
	r.processChannelUpdate(stalePolicy, chanVertex(9), false)

	r.pruneStaleChannels()

	if _, ok := r.data.channels[chanID]; !ok {
		t.Fatalf("channel below the block-depth threshold was pruned")
	}
}

func TestPruneStaleChannelsBoundaryAtExactDelta(t *testing.T) {
	const tip = 600000

	r, _, _ := newTestRouter(t, acceptVerifier{})
	r.cfg.Height = fixedHeight(tip)

	n1, n2 := chanVertex(1), chanVertex(2)
	// Exactly staleBlockDelta blocks deep: must NOT be eligible for
	// pruning, only a channel one block deeper than this qualifies.
	chanID := uint64(tip-staleBlockDelta) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	stalePolicy := testUpdate(chanID, uint32(time.Now().Add(-2*staleThreshold).Unix()), 0, 1)
	r.processChannelUpdate(stalePolicy, chanVertex(9), false)

	r.pruneStaleChannels()

	if _, ok := r.data.channels[chanID]; !ok {
		t.Fatalf("channel exactly staleBlockDelta blocks deep was pruned one block too early")
	}
}

func TestPruneStaleChannelsBoundaryOneBlockPastDelta(t *testing.T) {
	const tip = 600000

	r, _, _ := newTestRouter(t, acceptVerifier{})
	r.cfg.Height = fixedHeight(tip)

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(tip-staleBlockDelta-1) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	stalePolicy := testUpdate(chanID, uint32(time.Now().Add(-2*staleThreshold).Unix()), 0, 1)
	r.processChannelUpdate(stalePolicy, chanVertex(9), false)

	r.pruneStaleChannels()

	if _, ok := r.data.channels[chanID]; ok {
		t.Fatalf("channel one block past staleBlockDelta should have been pruned")
	}
}

func TestPruneChannelDropsOrphanedNodes(t *testing.T) {
	r, db, bus := newTestRouter(t, acceptVerifier{})

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(1) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	if _, ok := r.data.nodes[n1]; !ok {
		t.Fatalf("setup: node1 should have been discovered")
	}

	r.pruneChannel(chanID)

	if _, ok := r.data.nodes[n1]; ok {
		t.Fatalf("orphaned node1 was not dropped")
	}
	if _, err := db.FetchNode(n1); err == nil {
		t.Fatalf("orphaned node1 was not removed from storage")
	}

	foundLost := false
	for _, e := range bus.snapshot() {
		if nl, ok := e.(NodeLost); ok && nl.NodeID == n1 {
			foundLost = true
		}
	}
	if !foundLost {
		t.Fatalf("expected a NodeLost event for node1")
	}
}

func TestPruneChannelKeepsNodeWithOtherChannels(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})

	n1, n2, n3 := chanVertex(1), chanVertex(2), chanVertex(3)
	chanA := uint64(1) << 40
	chanB := uint64(2) << 40
	admitTestChannel(t, r, chanA, n1, n2)
	admitTestChannel(t, r, chanB, n1, n3)

	r.pruneChannel(chanA)

	if _, ok := r.data.nodes[n1]; !ok {
		t.Fatalf("node1 still has channel %d open but was dropped", chanB)
	}
	if _, ok := r.data.channels[chanB]; !ok {
		t.Fatalf("unrelated channel was affected by pruning chanA")
	}
}

func TestPruneChannelRemovesGraphEdges(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(1) << 40
	admitTestChannel(t, r, chanID, n1, n2)
	r.processChannelUpdate(testUpdate(chanID, 100, 0, 1), chanVertex(9), false)
	r.processChannelUpdate(testUpdate(chanID, 100, 1, 1), chanVertex(9), false)

	r.pruneChannel(chanID)

	descA := routing.ChannelDesc{ChannelID: chanID, A: n1, B: n2}
	descB := routing.ChannelDesc{ChannelID: chanID, A: n2, B: n1}
	if _, ok := r.data.graph.Edge(descA); ok {
		t.Fatalf("direction A->B edge survived pruning")
	}
	if _, ok := r.data.graph.Edge(descB); ok {
		t.Fatalf("direction B->A edge survived pruning")
	}
}
