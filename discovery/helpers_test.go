package discovery

import (
	"net"
	"sync"

	"github.com/btcsuite/btcd/btcec"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/lnwire"
)

// memGraphDB is an in-memory channeldb.GraphDB used so tests never touch
// disk or bbolt.
type memGraphDB struct {
	mu       sync.Mutex
	channels map[uint64]*channeldb.ChannelEdgeInfo
	policies map[[9]byte]*channeldb.ChannelEdgePolicy
	nodes    map[[33]byte]*channeldb.LightningNode
}

func newMemGraphDB() *memGraphDB {
	return &memGraphDB{
		channels: make(map[uint64]*channeldb.ChannelEdgeInfo),
		policies: make(map[[9]byte]*channeldb.ChannelEdgePolicy),
		nodes:    make(map[[33]byte]*channeldb.LightningNode),
	}
}

func policyMapKey(chanID uint64, direction uint8) [9]byte {
	var k [9]byte
	for i := 0; i < 8; i++ {
		k[i] = byte(chanID >> uint(8*(7-i)))
	}
	k[8] = direction
	return k
}

func (m *memGraphDB) ListChannels() ([]*channeldb.ChannelEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*channeldb.ChannelEdge
	for _, info := range m.channels {
		edge := &channeldb.ChannelEdge{Info: info}
		if p, ok := m.policies[policyMapKey(info.ChannelID, 0)]; ok {
			edge.Policy1 = p
		}
		if p, ok := m.policies[policyMapKey(info.ChannelID, 1)]; ok {
			edge.Policy2 = p
		}
		out = append(out, edge)
	}
	return out, nil
}

func (m *memGraphDB) ListNodes() ([]*channeldb.LightningNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*channeldb.LightningNode
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (m *memGraphDB) AddChannel(edge *channeldb.ChannelEdgeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[edge.ChannelID] = edge
	return nil
}

func (m *memGraphDB) RemoveChannel(chanID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, chanID)
	delete(m.policies, policyMapKey(chanID, 0))
	delete(m.policies, policyMapKey(chanID, 1))
	return nil
}

func (m *memGraphDB) AddChannelUpdate(policy *channeldb.ChannelEdgePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policyMapKey(policy.ChannelID, policy.ChannelFlags&0x1)] = policy
	return nil
}

func (m *memGraphDB) AddNode(node *channeldb.LightningNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.PubKeyBytes] = node
	return nil
}

func (m *memGraphDB) RemoveNode(pubKey [33]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, pubKey)
	return nil
}

func (m *memGraphDB) FetchNode(pubKey [33]byte) (*channeldb.LightningNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[pubKey]
	if !ok {
		return nil, channeldb.ErrGraphNodeNotFound
	}
	return n, nil
}

func (m *memGraphDB) HighestChanID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var highest uint64
	for id := range m.channels {
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

func (m *memGraphDB) FilterKnownChanIDs(chanIDs []uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unknown []uint64
	for _, id := range chanIDs {
		if _, ok := m.channels[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func (m *memGraphDB) FilterChannelRange(startHeight, endHeight uint32) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for id := range m.channels {
		scid := lnwire.NewShortChanIDFromInt(id)
		if scid.BlockHeight >= startHeight && scid.BlockHeight <= endHeight {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memGraphDB) FetchChannelEdgesByID(chanID uint64) (*channeldb.ChannelEdgeInfo, *channeldb.ChannelEdgePolicy, *channeldb.ChannelEdgePolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.channels[chanID]
	if !ok {
		return nil, nil, nil, channeldb.ErrEdgeNotFound
	}
	return info, m.policies[policyMapKey(chanID, 0)], m.policies[policyMapKey(chanID, 1)], nil
}

// acceptVerifier is a SigVerifier stub that treats every signature as valid,
// for exercising the state machine independently of cryptography.
type acceptVerifier struct{}

func (acceptVerifier) CheckSig(sig lnwire.Signature, pubKey [33]byte, msg []byte) bool { return true }
func (acceptVerifier) CheckSigs(ann *lnwire.ChannelAnnouncement) bool                  { return true }

// rejectVerifier fails every signature check.
type rejectVerifier struct{}

func (rejectVerifier) CheckSig(sig lnwire.Signature, pubKey [33]byte, msg []byte) bool { return false }
func (rejectVerifier) CheckSigs(ann *lnwire.ChannelAnnouncement) bool                  { return false }

// recordingBus captures every published event for later inspection.
type recordingBus struct {
	mu     sync.Mutex
	events []interface{}
}

func newRecordingBus() *recordingBus { return &recordingBus{} }

func (b *recordingBus) Publish(event interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) SubscribeTopology() *TopologySubscription {
	ch := make(chan interface{}, 10)
	return &TopologySubscription{Updates: ch, Cancel: func() { close(ch) }}
}

func (b *recordingBus) snapshot() []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]interface{}(nil), b.events...)
}

// fakeTransport is an lnpeer.Transport stub recording every message it's
// asked to send.
type fakeTransport struct {
	mu     sync.Mutex
	pub    [33]byte
	sent   []lnwire.Message
	quit   chan struct{}
	sendFn func(msg ...lnwire.Message) error
}

func newFakeTransport(pub [33]byte) *fakeTransport {
	return &fakeTransport{pub: pub, quit: make(chan struct{})}
}

func (f *fakeTransport) SendMessage(sync bool, msg ...lnwire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg...)
	if f.sendFn != nil {
		return f.sendFn(msg...)
	}
	return nil
}

func (f *fakeTransport) ReadAck()                       {}
func (f *fakeTransport) PubKey() [33]byte               { return f.pub }
func (f *fakeTransport) IdentityKey() *btcec.PublicKey   { return nil }
func (f *fakeTransport) Address() net.Addr               { return nil }
func (f *fakeTransport) QuitSignal() <-chan struct{}     { return f.quit }

func (f *fakeTransport) sentMessages() []lnwire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lnwire.Message(nil), f.sent...)
}

// fixedHeight is a ChainHeightSource stub returning a constant tip.
type fixedHeight uint32

func (h fixedHeight) BestHeight() (uint32, error) { return uint32(h), nil }

// chanVertex builds a distinct 33 byte vertex from a single seed byte, handy
// for constructing test node IDs.
func chanVertex(seed byte) [33]byte {
	var v [33]byte
	v[0] = 0x02
	v[32] = seed
	return v
}

// newTestRouter wires a Router around in-memory fakes, ready for direct
// handler invocation in tests (the dispatch loop is not started).
func newTestRouter(t testingT, verifier SigVerifier) (*Router, *memGraphDB, *recordingBus) {
	db := newMemGraphDB()
	bus := newRecordingBus()

	r, err := New(Config{
		Verifier: verifier,
		DB:       db,
		Bus:      bus,
		Height:   fixedHeight(0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, db, bus
}

// testingT is the subset of *testing.T this package's fakes need, so
// helpers_test.go doesn't have to import "testing" just for a type name
// used only in signatures.
type testingT interface {
	Fatalf(format string, args ...interface{})
}
