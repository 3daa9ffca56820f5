package discovery

import (
	"testing"
	"time"

	"github.com/meshpay/lnrouter/lnwire"
	"github.com/meshpay/lnrouter/routing"
)

func admitTestChannel(t *testing.T, r *Router, chanID uint64, n1, n2 [33]byte) {
	r.processChannelAnnouncement(chanVertex(99), testChannelAnnouncement(chanID, n1, n2))
	if _, ok := r.data.channels[chanID]; !ok {
		t.Fatalf("setup: channel %d was not admitted", chanID)
	}
}

func testUpdate(chanID uint64, timestamp uint32, direction uint8, baseFee uint32) *lnwire.ChannelUpdate {
	return &lnwire.ChannelUpdate{
		ShortChannelID: lnwire.NewShortChanIDFromInt(chanID),
		Timestamp:      timestamp,
		ChannelFlags:   direction,
		BaseFee:        baseFee,
		FeeRate:        1,
	}
}

func TestProcessChannelUpdateAppliesToGraph(t *testing.T) {
	r, db, bus := newTestRouter(t, acceptVerifier{})

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(10) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	upd := testUpdate(chanID, uint32(time.Now().Unix()), 0, 5)
	r.processChannelUpdate(upd, chanVertex(9), false)

	desc := routing.ChannelDesc{ChannelID: chanID, A: n1, B: n2}
	if _, ok := r.data.graph.Edge(desc); !ok {
		t.Fatalf("update was not applied to the graph")
	}
	if _, _, _, err := db.FetchChannelEdgesByID(chanID); err != nil {
		t.Fatalf("channel missing from storage: %v", err)
	}

	found := false
	for _, e := range bus.snapshot() {
		if _, ok := e.(ChannelUpdateReceived); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ChannelUpdateReceived event")
	}
}

func TestProcessChannelUpdateRejectsStale(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(11) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	now := uint32(time.Now().Unix())
	r.processChannelUpdate(testUpdate(chanID, now, 0, 5), chanVertex(9), false)
	r.processChannelUpdate(testUpdate(chanID, now-100, 0, 9), chanVertex(9), false)

	desc := routing.ChannelDesc{ChannelID: chanID, A: n1, B: n2}
	policy := r.data.updates[desc]
	if policy.FeeBaseMSat != 5 {
		t.Fatalf("stale update overwrote a fresher one: got fee %d", policy.FeeBaseMSat)
	}
}

func TestProcessChannelUpdateDisabledRemovesEdge(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})

	n1, n2 := chanVertex(1), chanVertex(2)
	chanID := uint64(12) << 40
	admitTestChannel(t, r, chanID, n1, n2)

	now := uint32(time.Now().Unix())
	r.processChannelUpdate(testUpdate(chanID, now-100, 0, 5), chanVertex(9), false)

	disabled := testUpdate(chanID, now, lnwire.ChanUpdateDisabled, 5)
	r.processChannelUpdate(disabled, chanVertex(9), false)

	desc := routing.ChannelDesc{ChannelID: chanID, A: n1, B: n2}
	if _, ok := r.data.graph.Edge(desc); ok {
		t.Fatalf("disabled direction still has a graph edge")
	}
}

func TestProcessChannelUpdateStashedWhenChannelUnknown(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})

	chanID := uint64(13) << 40
	upd := testUpdate(chanID, 100, 0, 5)
	r.processChannelUpdate(upd, chanVertex(9), false)

	desc := routing.ChannelDesc{ChannelID: chanID}
	if _, ok := r.data.stashUpdates[desc]; !ok {
		t.Fatalf("update for unknown channel was not stashed")
	}

	// Once the channel is admitted, the stashed update is folded in.
	n1, n2 := chanVertex(1), chanVertex(2)
	admitTestChannel(t, r, chanID, n1, n2)

	applied := routing.ChannelDesc{ChannelID: chanID, A: n1, B: n2}
	if _, ok := r.data.graph.Edge(applied); !ok {
		t.Fatalf("stashed update was not applied once channel was admitted")
	}
}

func TestIngestUpdateTracksPrivateChannel(t *testing.T) {
	r, _, _ := newTestRouter(t, acceptVerifier{})
	r.cfg.SelfNodeID = chanVertex(1)

	remote := chanVertex(2)
	chanID := uint64(14) << 40

	upd := testUpdate(chanID, uint32(time.Now().Unix()), 0, 5)
	r.ingestUpdate(upd, remote, true)

	if _, ok := r.data.privateChannels[chanID]; !ok {
		t.Fatalf("private channel was not tracked")
	}

	desc := routing.ChannelDesc{ChannelID: chanID, A: r.cfg.SelfNodeID, B: remote}
	if _, ok := r.data.graph.Edge(desc); !ok {
		t.Fatalf("private update did not reach the graph")
	}
	if _, ok := r.data.updates[desc]; ok {
		t.Fatalf("private update leaked into the public updates map")
	}
}
