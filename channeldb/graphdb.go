package channeldb

import (
	"bytes"
	"image/color"
	"io"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/coreos/bbolt"

	"github.com/meshpay/lnrouter/lnwire"
)

var (
	// nodeBucket stores every known LightningNode, keyed by its 33 byte
	// compressed public key.
	nodeBucket = []byte("graph-node")

	// edgeBucket stores every known ChannelEdgeInfo, keyed by the 8 byte
	// big-endian short channel ID.
	edgeBucket = []byte("graph-edge")

	// edgePolicyBucket stores every known ChannelEdgePolicy, keyed by the
	// 8 byte short channel ID followed by a single direction byte (0 or
	// 1).
	edgePolicyBucket = []byte("graph-edge-policy")

	topLevelBuckets = [][]byte{nodeBucket, edgeBucket, edgePolicyBucket}
)

// LightningNode is the persisted representation of a node announcement: the
// identity, metadata, and reachability information for a single vertex in
// the channel graph.
type LightningNode struct {
	PubKeyBytes [33]byte

	LastUpdate time.Time

	Addresses []net.Addr

	Alias string

	Color color.RGBA

	Features *lnwire.RawFeatureVector

	AuthSigBytes []byte

	// HaveNodeAnnouncement is false for a node the graph only knows
	// about as an endpoint of a channel, and which has never itself sent
	// a validated node announcement.
	HaveNodeAnnouncement bool
}

// ChannelEdgeInfo is the persisted representation of a channel announcement:
// the immutable facts about a channel established at funding time.
type ChannelEdgeInfo struct {
	ChannelID uint64

	ChainHash chainhash.Hash

	ChannelPoint wire.OutPoint

	NodeKey1Bytes [33]byte
	NodeKey2Bytes [33]byte

	BitcoinKey1Bytes [33]byte
	BitcoinKey2Bytes [33]byte

	Features *lnwire.RawFeatureVector

	// AuthProof is non-nil once both directions' signatures have been
	// gathered and the announcement is fully authenticated.
	AuthProof *ChannelAuthProof
}

// ChannelAuthProof holds the four signatures that jointly authenticate a
// ChannelEdgeInfo.
type ChannelAuthProof struct {
	NodeSig1Bytes    []byte
	NodeSig2Bytes    []byte
	BitcoinSig1Bytes []byte
	BitcoinSig2Bytes []byte
}

// ChannelEdgePolicy is the persisted representation of a channel update: the
// routing policy advertised for one direction of a channel.
type ChannelEdgePolicy struct {
	ChannelID uint64

	LastUpdate time.Time

	MessageFlags uint8
	ChannelFlags uint8

	TimeLockDelta uint16

	MinHTLC lnwire.MilliSatoshi
	MaxHTLC lnwire.MilliSatoshi

	FeeBaseMSat             lnwire.MilliSatoshi
	FeeProportionalMillionths lnwire.MilliSatoshi

	SigBytes []byte
}

// ChannelEdge bundles a channel's immutable info together with whichever of
// its two directional policies are currently known, as returned by bulk
// range queries.
type ChannelEdge struct {
	Info     *ChannelEdgeInfo
	Policy1  *ChannelEdgePolicy
	Policy2  *ChannelEdgePolicy
}

// GraphDB is the persistence interface the router uses to durably store the
// channel graph. The in-memory working set lives in routing.Graph; this
// interface is only consulted on startup (to repopulate it) and whenever the
// working set changes (to keep the on-disk copy in sync).
type GraphDB interface {
	// ListChannels returns every channel currently stored, along with
	// whichever directional policies are known for it.
	ListChannels() ([]*ChannelEdge, error)

	// ListNodes returns every node currently stored.
	ListNodes() ([]*LightningNode, error)

	// AddChannel persists a new channel announcement.
	AddChannel(edge *ChannelEdgeInfo) error

	// RemoveChannel deletes a channel and both of its directional
	// policies.
	RemoveChannel(chanID uint64) error

	// AddChannelUpdate persists a new policy for one direction of a
	// channel, overwriting anything already stored for that direction.
	AddChannelUpdate(policy *ChannelEdgePolicy) error

	// AddNode persists a new or updated node announcement.
	AddNode(node *LightningNode) error

	// RemoveNode deletes a node.
	RemoveNode(pubKey [33]byte) error

	// FetchNode looks up a single node by public key.
	FetchNode(pubKey [33]byte) (*LightningNode, error)

	// HighestChanID returns the short channel ID, interpreted as a
	// uint64, of the highest (i.e. most recently confirmed) channel
	// known to the store.
	HighestChanID() (uint64, error)

	// FilterKnownChanIDs returns the subset of chanIDs that are NOT
	// already present in the store.
	FilterKnownChanIDs(chanIDs []uint64) ([]uint64, error)

	// FilterChannelRange returns the short channel IDs of every channel
	// whose block height falls in [startHeight, endHeight].
	FilterChannelRange(startHeight, endHeight uint32) ([]uint64, error)

	// FetchChannelEdgesByID returns the info and both directional
	// policies (either of which may be nil) for a single channel.
	FetchChannelEdgesByID(chanID uint64) (*ChannelEdgeInfo, *ChannelEdgePolicy, *ChannelEdgePolicy, error)
}

// boltGraphDB is the bbolt-backed concrete implementation of GraphDB.
type boltGraphDB struct {
	db *DB
}

// NewGraphDB wraps an opened DB in a GraphDB.
func NewGraphDB(db *DB) GraphDB {
	return &boltGraphDB{db: db}
}

func chanIDKey(chanID uint64) []byte {
	var b [8]byte
	byteOrder.PutUint64(b[:], chanID)
	return b[:]
}

func policyKey(chanID uint64, direction uint8) []byte {
	b := make([]byte, 9)
	byteOrder.PutUint64(b[:8], chanID)
	b[8] = direction
	return b
}

func (b *boltGraphDB) AddChannel(edge *ChannelEdgeInfo) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(edgeBucket)

		var buf bytes.Buffer
		if err := serializeChanEdgeInfo(&buf, edge); err != nil {
			return err
		}

		return bucket.Put(chanIDKey(edge.ChannelID), buf.Bytes())
	})
}

func (b *boltGraphDB) RemoveChannel(chanID uint64) error {
	log.Debugf("removing channel %d from persistent graph storage", chanID)

	return b.db.Update(func(tx *bbolt.Tx) error {
		edges := tx.Bucket(edgeBucket)
		if err := edges.Delete(chanIDKey(chanID)); err != nil {
			return err
		}

		policies := tx.Bucket(edgePolicyBucket)
		if err := policies.Delete(policyKey(chanID, 0)); err != nil {
			return err
		}
		return policies.Delete(policyKey(chanID, 1))
	})
}

func (b *boltGraphDB) AddChannelUpdate(policy *ChannelEdgePolicy) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(edgePolicyBucket)

		var buf bytes.Buffer
		if err := serializeChanEdgePolicy(&buf, policy); err != nil {
			return err
		}

		return bucket.Put(
			policyKey(policy.ChannelID, policy.ChannelFlags&0x1), buf.Bytes(),
		)
	})
}

func (b *boltGraphDB) AddNode(node *LightningNode) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(nodeBucket)

		var buf bytes.Buffer
		if err := serializeLightningNode(&buf, node); err != nil {
			return err
		}

		return bucket.Put(node.PubKeyBytes[:], buf.Bytes())
	})
}

func (b *boltGraphDB) RemoveNode(pubKey [33]byte) error {
	log.Debugf("removing node %x from persistent graph storage", pubKey)

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(nodeBucket).Delete(pubKey[:])
	})
}

func (b *boltGraphDB) FetchNode(pubKey [33]byte) (*LightningNode, error) {
	var node *LightningNode

	err := b.db.View(func(tx *bbolt.Tx) error {
		nodeBytes := tx.Bucket(nodeBucket).Get(pubKey[:])
		if nodeBytes == nil {
			return ErrGraphNodeNotFound
		}

		n, err := deserializeLightningNode(bytes.NewReader(nodeBytes))
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

func (b *boltGraphDB) ListNodes() ([]*LightningNode, error) {
	var nodes []*LightningNode

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(nodeBucket).ForEach(func(k, v []byte) error {
			node, err := deserializeLightningNode(bytes.NewReader(v))
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return nodes, nil
}

func (b *boltGraphDB) ListChannels() ([]*ChannelEdge, error) {
	var edges []*ChannelEdge

	err := b.db.View(func(tx *bbolt.Tx) error {
		edgeB := tx.Bucket(edgeBucket)
		policyB := tx.Bucket(edgePolicyBucket)

		return edgeB.ForEach(func(k, v []byte) error {
			info, err := deserializeChanEdgeInfo(bytes.NewReader(v))
			if err != nil {
				return err
			}

			var p1, p2 *ChannelEdgePolicy
			if raw := policyB.Get(policyKey(info.ChannelID, 0)); raw != nil {
				p1, err = deserializeChanEdgePolicy(bytes.NewReader(raw))
				if err != nil {
					return err
				}
			}
			if raw := policyB.Get(policyKey(info.ChannelID, 1)); raw != nil {
				p2, err = deserializeChanEdgePolicy(bytes.NewReader(raw))
				if err != nil {
					return err
				}
			}

			edges = append(edges, &ChannelEdge{
				Info:    info,
				Policy1: p1,
				Policy2: p2,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return edges, nil
}

func (b *boltGraphDB) HighestChanID() (uint64, error) {
	var highest uint64

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(edgeBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		highest = byteOrder.Uint64(k)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return highest, nil
}

func (b *boltGraphDB) FilterKnownChanIDs(chanIDs []uint64) ([]uint64, error) {
	var unknown []uint64

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(edgeBucket)
		for _, chanID := range chanIDs {
			if bucket.Get(chanIDKey(chanID)) == nil {
				unknown = append(unknown, chanID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return unknown, nil
}

func (b *boltGraphDB) FilterChannelRange(startHeight, endHeight uint32) ([]uint64, error) {
	var inRange []uint64

	start := lnwire.ShortChannelID{BlockHeight: startHeight}
	end := lnwire.ShortChannelID{BlockHeight: endHeight, TxIndex: 0xFFFFFF, TxPosition: 0xFFFF}

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(edgeBucket).Cursor()
		for k, _ := c.Seek(chanIDKey(start.ToUint64())); k != nil; k, _ = c.Next() {
			chanID := byteOrder.Uint64(k)
			if chanID > end.ToUint64() {
				break
			}
			inRange = append(inRange, chanID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return inRange, nil
}

func (b *boltGraphDB) FetchChannelEdgesByID(chanID uint64) (*ChannelEdgeInfo, *ChannelEdgePolicy, *ChannelEdgePolicy, error) {
	var (
		info   *ChannelEdgeInfo
		p1, p2 *ChannelEdgePolicy
	)

	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(edgeBucket).Get(chanIDKey(chanID))
		if raw == nil {
			return ErrEdgeNotFound
		}

		var err error
		info, err = deserializeChanEdgeInfo(bytes.NewReader(raw))
		if err != nil {
			return err
		}

		policyB := tx.Bucket(edgePolicyBucket)
		if raw := policyB.Get(policyKey(chanID, 0)); raw != nil {
			p1, err = deserializeChanEdgePolicy(bytes.NewReader(raw))
			if err != nil {
				return err
			}
		}
		if raw := policyB.Get(policyKey(chanID, 1)); raw != nil {
			p2, err = deserializeChanEdgePolicy(bytes.NewReader(raw))
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return info, p1, p2, nil
}

// --- serialization helpers -------------------------------------------------

func writeVarBytes(w io.Writer, b []byte) error {
	var lenBuf [2]byte
	byteOrder.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	b := make([]byte, byteOrder.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func serializeChanEdgeInfo(w io.Writer, e *ChannelEdgeInfo) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], e.ChannelID)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.ChainHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.ChannelPoint.Hash[:]); err != nil {
		return err
	}
	var idx [4]byte
	byteOrder.PutUint32(idx[:], e.ChannelPoint.Index)
	if _, err := w.Write(idx[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.NodeKey1Bytes[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.NodeKey2Bytes[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.BitcoinKey1Bytes[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.BitcoinKey2Bytes[:]); err != nil {
		return err
	}

	features := e.Features
	if features == nil {
		features = lnwire.NewRawFeatureVector()
	}
	if err := features.Encode(w); err != nil {
		return err
	}

	hasProof := byte(0)
	if e.AuthProof != nil {
		hasProof = 1
	}
	if _, err := w.Write([]byte{hasProof}); err != nil {
		return err
	}
	if e.AuthProof != nil {
		for _, sig := range [][]byte{
			e.AuthProof.NodeSig1Bytes, e.AuthProof.NodeSig2Bytes,
			e.AuthProof.BitcoinSig1Bytes, e.AuthProof.BitcoinSig2Bytes,
		} {
			if err := writeVarBytes(w, sig); err != nil {
				return err
			}
		}
	}

	return nil
}

func deserializeChanEdgeInfo(r io.Reader) (*ChannelEdgeInfo, error) {
	e := &ChannelEdgeInfo{}

	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	e.ChannelID = byteOrder.Uint64(buf[:])

	if _, err := io.ReadFull(r, e.ChainHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.ChannelPoint.Hash[:]); err != nil {
		return nil, err
	}
	var idx [4]byte
	if _, err := io.ReadFull(r, idx[:]); err != nil {
		return nil, err
	}
	e.ChannelPoint.Index = byteOrder.Uint32(idx[:])

	if _, err := io.ReadFull(r, e.NodeKey1Bytes[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.NodeKey2Bytes[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.BitcoinKey1Bytes[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.BitcoinKey2Bytes[:]); err != nil {
		return nil, err
	}

	e.Features = lnwire.NewRawFeatureVector()
	if err := e.Features.Decode(r); err != nil {
		return nil, err
	}

	var hasProof [1]byte
	if _, err := io.ReadFull(r, hasProof[:]); err != nil {
		return nil, err
	}
	if hasProof[0] == 1 {
		proof := &ChannelAuthProof{}
		sigs := make([][]byte, 4)
		for i := range sigs {
			sig, err := readVarBytes(r)
			if err != nil {
				return nil, err
			}
			sigs[i] = sig
		}
		proof.NodeSig1Bytes = sigs[0]
		proof.NodeSig2Bytes = sigs[1]
		proof.BitcoinSig1Bytes = sigs[2]
		proof.BitcoinSig2Bytes = sigs[3]
		e.AuthProof = proof
	}

	return e, nil
}

func serializeChanEdgePolicy(w io.Writer, p *ChannelEdgePolicy) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], p.ChannelID)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	var ts [8]byte
	byteOrder.PutUint64(ts[:], uint64(p.LastUpdate.Unix()))
	if _, err := w.Write(ts[:]); err != nil {
		return err
	}

	if _, err := w.Write([]byte{p.MessageFlags, p.ChannelFlags}); err != nil {
		return err
	}

	var delta [2]byte
	byteOrder.PutUint16(delta[:], p.TimeLockDelta)
	if _, err := w.Write(delta[:]); err != nil {
		return err
	}

	var amts [32]byte
	byteOrder.PutUint64(amts[0:8], uint64(p.MinHTLC))
	byteOrder.PutUint64(amts[8:16], uint64(p.MaxHTLC))
	byteOrder.PutUint64(amts[16:24], uint64(p.FeeBaseMSat))
	byteOrder.PutUint64(amts[24:32], uint64(p.FeeProportionalMillionths))
	if _, err := w.Write(amts[:]); err != nil {
		return err
	}

	return writeVarBytes(w, p.SigBytes)
}

func deserializeChanEdgePolicy(r io.Reader) (*ChannelEdgePolicy, error) {
	p := &ChannelEdgePolicy{}

	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	p.ChannelID = byteOrder.Uint64(buf[:])

	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, err
	}
	p.LastUpdate = time.Unix(int64(byteOrder.Uint64(ts[:])), 0)

	var flags [2]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return nil, err
	}
	p.MessageFlags, p.ChannelFlags = flags[0], flags[1]

	var delta [2]byte
	if _, err := io.ReadFull(r, delta[:]); err != nil {
		return nil, err
	}
	p.TimeLockDelta = byteOrder.Uint16(delta[:])

	var amts [32]byte
	if _, err := io.ReadFull(r, amts[:]); err != nil {
		return nil, err
	}
	p.MinHTLC = lnwire.MilliSatoshi(byteOrder.Uint64(amts[0:8]))
	p.MaxHTLC = lnwire.MilliSatoshi(byteOrder.Uint64(amts[8:16]))
	p.FeeBaseMSat = lnwire.MilliSatoshi(byteOrder.Uint64(amts[16:24]))
	p.FeeProportionalMillionths = lnwire.MilliSatoshi(byteOrder.Uint64(amts[24:32]))

	sig, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	p.SigBytes = sig

	return p, nil
}

func serializeLightningNode(w io.Writer, n *LightningNode) error {
	if _, err := w.Write(n.PubKeyBytes[:]); err != nil {
		return err
	}

	var ts [8]byte
	byteOrder.PutUint64(ts[:], uint64(n.LastUpdate.Unix()))
	if _, err := w.Write(ts[:]); err != nil {
		return err
	}

	if err := writeVarBytes(w, []byte(n.Alias)); err != nil {
		return err
	}

	if _, err := w.Write([]byte{n.Color.R, n.Color.G, n.Color.B}); err != nil {
		return err
	}

	haveAnn := byte(0)
	if n.HaveNodeAnnouncement {
		haveAnn = 1
	}
	if _, err := w.Write([]byte{haveAnn}); err != nil {
		return err
	}

	features := n.Features
	if features == nil {
		features = lnwire.NewRawFeatureVector()
	}
	if err := features.Encode(w); err != nil {
		return err
	}

	if err := writeVarBytes(w, n.AuthSigBytes); err != nil {
		return err
	}

	var numAddrs [2]byte
	byteOrder.PutUint16(numAddrs[:], uint16(len(n.Addresses)))
	if _, err := w.Write(numAddrs[:]); err != nil {
		return err
	}
	for _, addr := range n.Addresses {
		if err := serializeAddr(w, addr); err != nil {
			return err
		}
	}

	return nil
}

func deserializeLightningNode(r io.Reader) (*LightningNode, error) {
	n := &LightningNode{}

	if _, err := io.ReadFull(r, n.PubKeyBytes[:]); err != nil {
		return nil, err
	}

	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, err
	}
	n.LastUpdate = time.Unix(int64(byteOrder.Uint64(ts[:])), 0)

	alias, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	n.Alias = string(alias)

	var rgb [3]byte
	if _, err := io.ReadFull(r, rgb[:]); err != nil {
		return nil, err
	}
	n.Color = color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}

	var haveAnn [1]byte
	if _, err := io.ReadFull(r, haveAnn[:]); err != nil {
		return nil, err
	}
	n.HaveNodeAnnouncement = haveAnn[0] == 1

	n.Features = lnwire.NewRawFeatureVector()
	if err := n.Features.Decode(r); err != nil {
		return nil, err
	}

	sig, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	n.AuthSigBytes = sig

	var numAddrs [2]byte
	if _, err := io.ReadFull(r, numAddrs[:]); err != nil {
		return nil, err
	}
	addrs := make([]net.Addr, 0, byteOrder.Uint16(numAddrs[:]))
	for i := 0; i < cap(addrs); i++ {
		addr, err := deserializeAddr(r)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	n.Addresses = addrs

	return n, nil
}
