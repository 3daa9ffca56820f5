package channeldb

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/meshpay/lnrouter/lnwire"
)

func makeTestDB() (*DB, func(), error) {
	tempDirName, err := ioutil.TempDir("", "channeldb")
	if err != nil {
		return nil, nil, err
	}

	cdb, err := Open(tempDirName)
	if err != nil {
		os.RemoveAll(tempDirName)
		return nil, nil, err
	}

	cleanUp := func() {
		cdb.Close()
		os.RemoveAll(tempDirName)
	}

	return cdb, cleanUp, nil
}

func TestOpenWithCreate(t *testing.T) {
	t.Parallel()

	tempDirName, err := ioutil.TempDir("", "channeldb")
	if err != nil {
		t.Fatalf("unable to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDirName)

	dbPath := filepath.Join(tempDirName, "cdb")
	cdb, err := Open(dbPath)
	if err != nil {
		t.Fatalf("unable to create channeldb: %v", err)
	}
	if err := cdb.Close(); err != nil {
		t.Fatalf("unable to close channeldb: %v", err)
	}

	if !fileExists(filepath.Join(dbPath, dbName)) {
		t.Fatalf("channeldb failed to create data file")
	}
}

// TestWipe tests that the database wipe operation completes successfully and
// that the graph buckets come back empty.
func TestWipe(t *testing.T) {
	t.Parallel()

	cdb, cleanUp, err := makeTestDB()
	if err != nil {
		t.Fatalf("unable to make test database: %v", err)
	}
	defer cleanUp()

	graph := NewGraphDB(cdb)

	node := &LightningNode{
		PubKeyBytes: [33]byte{0x02, 0x01},
		LastUpdate:  time.Now(),
		Alias:       "wiped-node",
	}
	if err := graph.AddNode(node); err != nil {
		t.Fatalf("unable to add node: %v", err)
	}

	if err := cdb.Wipe(); err != nil {
		t.Fatalf("unable to wipe channeldb: %v", err)
	}

	nodes, err := graph.ListNodes()
	if err != nil {
		t.Fatalf("unable to list nodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected empty graph after wipe, got %d nodes", len(nodes))
	}
}

// TestGraphNodeRoundTrip verifies that a LightningNode can be stored and
// retrieved with all fields intact, including a variable-length address list
// and feature vector.
func TestGraphNodeRoundTrip(t *testing.T) {
	t.Parallel()

	cdb, cleanUp, err := makeTestDB()
	if err != nil {
		t.Fatalf("unable to make test database: %v", err)
	}
	defer cleanUp()

	graph := NewGraphDB(cdb)

	features := lnwire.NewRawFeatureVector(lnwire.GossipQueriesOptional)

	node := &LightningNode{
		PubKeyBytes: [33]byte{0x02, 0xAA, 0xBB},
		LastUpdate:  time.Unix(1257894000, 0),
		Alias:       "test-node",
		Features:    features,
		Addresses: []net.Addr{
			&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9735},
		},
		HaveNodeAnnouncement: true,
		AuthSigBytes:         []byte{0x01, 0x02, 0x03},
	}

	if err := graph.AddNode(node); err != nil {
		t.Fatalf("unable to add node: %v", err)
	}

	fetched, err := graph.FetchNode(node.PubKeyBytes)
	if err != nil {
		t.Fatalf("unable to fetch node: %v", err)
	}

	if fetched.Alias != node.Alias {
		t.Fatalf("alias mismatch: expected %v, got %v", node.Alias, fetched.Alias)
	}
	if !fetched.Features.IsSet(lnwire.GossipQueriesOptional) {
		t.Fatalf("expected gossip queries feature bit to round-trip")
	}
	if len(fetched.Addresses) != 1 {
		t.Fatalf("expected 1 address, got %d", len(fetched.Addresses))
	}

	if err := graph.RemoveNode(node.PubKeyBytes); err != nil {
		t.Fatalf("unable to remove node: %v", err)
	}
	if _, err := graph.FetchNode(node.PubKeyBytes); err != ErrGraphNodeNotFound {
		t.Fatalf("expected ErrGraphNodeNotFound, got %v", err)
	}
}

// TestGraphChannelRoundTrip verifies that a channel and its directional
// policies can be stored and retrieved, and that range/ID filtering queries
// behave correctly.
func TestGraphChannelRoundTrip(t *testing.T) {
	t.Parallel()

	cdb, cleanUp, err := makeTestDB()
	if err != nil {
		t.Fatalf("unable to make test database: %v", err)
	}
	defer cleanUp()

	graph := NewGraphDB(cdb)

	scid := lnwire.ShortChannelID{BlockHeight: 500000, TxIndex: 1, TxPosition: 0}
	info := &ChannelEdgeInfo{
		ChannelID:        scid.ToUint64(),
		ChannelPoint:     wire.OutPoint{Index: 0},
		NodeKey1Bytes:    [33]byte{0x02, 0x01},
		NodeKey2Bytes:    [33]byte{0x02, 0x02},
		BitcoinKey1Bytes: [33]byte{0x02, 0x03},
		BitcoinKey2Bytes: [33]byte{0x02, 0x04},
	}

	if err := graph.AddChannel(info); err != nil {
		t.Fatalf("unable to add channel: %v", err)
	}

	policy := &ChannelEdgePolicy{
		ChannelID:                 info.ChannelID,
		LastUpdate:                time.Unix(1257894000, 0),
		ChannelFlags:              0,
		TimeLockDelta:             144,
		MinHTLC:                   1000,
		FeeBaseMSat:               1,
		FeeProportionalMillionths: 10,
	}

	if err := graph.AddChannelUpdate(policy); err != nil {
		t.Fatalf("unable to add channel update: %v", err)
	}

	gotInfo, p1, p2, err := graph.FetchChannelEdgesByID(info.ChannelID)
	if err != nil {
		t.Fatalf("unable to fetch channel: %v", err)
	}
	if gotInfo.ChannelID != info.ChannelID {
		t.Fatalf("channel ID mismatch")
	}
	if p1 == nil {
		t.Fatalf("expected policy1 to be set")
	}
	if p2 != nil {
		t.Fatalf("expected policy2 to be unset")
	}

	highest, err := graph.HighestChanID()
	if err != nil {
		t.Fatalf("unable to fetch highest chan id: %v", err)
	}
	if highest != info.ChannelID {
		t.Fatalf("expected highest chan id %d, got %d", info.ChannelID, highest)
	}

	inRange, err := graph.FilterChannelRange(499999, 500001)
	if err != nil {
		t.Fatalf("unable to filter channel range: %v", err)
	}
	if len(inRange) != 1 || inRange[0] != info.ChannelID {
		t.Fatalf("unexpected range filter result: %v", inRange)
	}

	unknown, err := graph.FilterKnownChanIDs([]uint64{info.ChannelID, scid.ToUint64() + 1})
	if err != nil {
		t.Fatalf("unable to filter known chan ids: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != scid.ToUint64()+1 {
		t.Fatalf("unexpected known-id filter result: %v", unknown)
	}

	if err := graph.RemoveChannel(info.ChannelID); err != nil {
		t.Fatalf("unable to remove channel: %v", err)
	}
	if _, _, _, err := graph.FetchChannelEdgesByID(info.ChannelID); err != ErrEdgeNotFound {
		t.Fatalf("expected ErrEdgeNotFound, got %v", err)
	}
}
