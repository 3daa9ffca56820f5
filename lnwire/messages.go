package lnwire

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"net"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MilliSatoshi is the unit used to denote the value of a Lightning payment,
// expressed in thousandths of a satoshi.
type MilliSatoshi uint64

// Signature is a fixed-size, wire-format Lightning signature. The router
// never inspects the bytes itself; it is only ever handed to the external
// SigVerifier predicate.
type Signature [64]byte

// NodeAlias is a UTF-8, null-padded string that may be used to address a
// node in place of its public key.
type NodeAlias [32]byte

// String returns a human readable version of the alias, stopping at the
// first null byte.
func (n NodeAlias) String() string {
	for i, b := range n {
		if b == 0 {
			return string(n[:i])
		}
	}
	return string(n[:])
}

// Message is implemented by every gossip wire message the router accepts
// from, or emits to, a peer's transport.
type Message interface {
	// MsgType returns the type of the message.
	MsgType() MessageType
}

// MessageType is the unique identifier for each message type understood by
// the gossip wire protocol.
type MessageType uint16

const (
	MsgChannelAnnouncement     MessageType = 256
	MsgNodeAnnouncement        MessageType = 257
	MsgChannelUpdate           MessageType = 258
	MsgQueryShortChanIDs       MessageType = 261
	MsgReplyShortChanIDsEnd    MessageType = 262
	MsgQueryChannelRange       MessageType = 263
	MsgReplyChannelRange       MessageType = 264
	MsgGossipTimestampRange    MessageType = 265
)

// ChannelAnnouncement announces the existence of a channel between two
// nodes, authenticated by both nodes' identity signatures and both nodes'
// signatures over the channel's on-chain funding keys. After validation the
// router discards everything here except the identifiers (see
// channeldb.ChannelEdgeInfo).
type ChannelAnnouncement struct {
	NodeSig1    Signature
	NodeSig2    Signature
	BitcoinSig1 Signature
	BitcoinSig2 Signature

	Features *RawFeatureVector

	ChainHash      chainhash.Hash
	ShortChannelID ShortChannelID

	NodeID1     [33]byte
	NodeID2     [33]byte
	BitcoinKey1 [33]byte
	BitcoinKey2 [33]byte
}

func (a *ChannelAnnouncement) MsgType() MessageType { return MsgChannelAnnouncement }

// SigningDigest returns the canonical byte sequence all four of a
// ChannelAnnouncement's signatures are taken over: every field except the
// signatures themselves.
func (a *ChannelAnnouncement) SigningDigest() []byte {
	buf := new(bytes.Buffer)
	buf.Write(a.ChainHash[:])
	binary.Write(buf, binary.BigEndian, a.ShortChannelID.ToUint64())
	buf.Write(a.NodeID1[:])
	buf.Write(a.NodeID2[:])
	buf.Write(a.BitcoinKey1[:])
	buf.Write(a.BitcoinKey2[:])
	return buf.Bytes()
}

// Channel flag bits, per spec.md §3/§6.
const (
	// ChanUpdateDirection is the low bit of ChannelFlags: when set, the
	// update applies to the direction node2 -> node1, when clear,
	// node1 -> node2.
	ChanUpdateDirection = 1

	// ChanUpdateDisabled marks the direction as temporarily unusable.
	ChanUpdateDisabled = 1 << 1
)

// ChannelUpdate carries the routing policy for one direction of a channel.
type ChannelUpdate struct {
	Signature Signature

	ChainHash      chainhash.Hash
	ShortChannelID ShortChannelID

	Timestamp uint32

	MessageFlags uint8
	ChannelFlags uint8

	TimeLockDelta uint16

	HtlcMinimumMsat MilliSatoshi
	HtlcMaximumMsat MilliSatoshi

	BaseFee uint32
	FeeRate uint32
}

func (u *ChannelUpdate) MsgType() MessageType { return MsgChannelUpdate }

// Direction returns 0 or 1, matching the low bit of ChannelFlags.
func (u *ChannelUpdate) Direction() uint8 {
	return u.ChannelFlags & ChanUpdateDirection
}

// Disabled reports whether the disabled bit is set.
func (u *ChannelUpdate) Disabled() bool {
	return u.ChannelFlags&ChanUpdateDisabled != 0
}

// HasMaxHtlc reports whether the optional htlc_maximum_msat field was
// supplied, per the low bit of MessageFlags.
func (u *ChannelUpdate) HasMaxHtlc() bool {
	return u.MessageFlags&0x1 != 0
}

// SigningDigest returns the canonical byte sequence a ChannelUpdate's
// Signature is taken over: every field except the signature itself.
func (u *ChannelUpdate) SigningDigest() []byte {
	buf := new(bytes.Buffer)
	buf.Write(u.ChainHash[:])
	binary.Write(buf, binary.BigEndian, u.ShortChannelID.ToUint64())
	binary.Write(buf, binary.BigEndian, u.Timestamp)
	buf.WriteByte(u.MessageFlags)
	buf.WriteByte(u.ChannelFlags)
	binary.Write(buf, binary.BigEndian, u.TimeLockDelta)
	binary.Write(buf, binary.BigEndian, uint64(u.HtlcMinimumMsat))
	binary.Write(buf, binary.BigEndian, u.BaseFee)
	binary.Write(buf, binary.BigEndian, u.FeeRate)
	if u.HasMaxHtlc() {
		binary.Write(buf, binary.BigEndian, uint64(u.HtlcMaximumMsat))
	}
	return buf.Bytes()
}

// NodeAnnouncement carries versioned metadata about a node: its identity key,
// alias, color, supported features and network addresses.
type NodeAnnouncement struct {
	Signature Signature
	Features  *RawFeatureVector
	Timestamp uint32
	NodeID    [33]byte
	RGBColor  color.RGBA
	Alias     NodeAlias
	Addresses []net.Addr
}

func (n *NodeAnnouncement) MsgType() MessageType { return MsgNodeAnnouncement }

// SigningDigest returns the canonical byte sequence a NodeAnnouncement's
// Signature is taken over: every field except the signature itself.
func (n *NodeAnnouncement) SigningDigest() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, n.Timestamp)
	buf.Write(n.NodeID[:])
	buf.WriteByte(n.RGBColor.R)
	buf.WriteByte(n.RGBColor.G)
	buf.WriteByte(n.RGBColor.B)
	buf.Write(n.Alias[:])
	for _, addr := range n.Addresses {
		buf.WriteString(addr.String())
	}
	return buf.Bytes()
}

// ShortChanIDEncoding records which range-query/follow-up dialect is in use,
// per spec.md §4.6: plain, deprecated-with-timestamps, or with-checksums.
// All three carry identical short-channel-id lists; they differ only in
// which auxiliary per-id fields ride alongside them.
type ShortChanIDEncoding uint8

const (
	// EncodingPlain requests or reports short channel IDs with no
	// auxiliary data.
	EncodingPlain ShortChanIDEncoding = iota

	// EncodingTimestamps additionally carries each channel's latest
	// per-direction update timestamps (the "deprecated" dialect).
	EncodingTimestamps

	// EncodingChecksums additionally carries each channel's latest
	// per-direction update timestamps and checksums.
	EncodingChecksums
)

// ChannelUpdateTimestamps carries the latest timestamp known for each
// direction of a channel, used by the timestamps and checksums dialects of
// ReplyChannelRange.
type ChannelUpdateTimestamps struct {
	Timestamp1 uint32
	Timestamp2 uint32
}

// ChannelUpdateChecksums carries the Adler-32 checksum (see ChecksumUpdate)
// of the latest update known for each direction of a channel, used by the
// checksums dialect of ReplyChannelRange.
type ChannelUpdateChecksums struct {
	Checksum1 uint32
	Checksum2 uint32
}

// QueryChannelRange requests all short channel IDs the remote party knows of
// that were confirmed in the half-open block range
// [FirstBlockHeight, FirstBlockHeight+NumBlocks).
type QueryChannelRange struct {
	ChainHash        chainhash.Hash
	FirstBlockHeight uint32
	NumBlocks        uint32
}

func (q *QueryChannelRange) MsgType() MessageType { return MsgQueryChannelRange }

// ReplyChannelRange is the (possibly chunked) response to a
// QueryChannelRange. Complete is 0 for all but the final chunk of a
// streaming response.
type ReplyChannelRange struct {
	QueryChannelRange

	Complete uint8

	Encoding     ShortChanIDEncoding
	ShortChanIDs []ShortChannelID
	Timestamps   []ChannelUpdateTimestamps
	Checksums    []ChannelUpdateChecksums
}

func (r *ReplyChannelRange) MsgType() MessageType { return MsgReplyChannelRange }

// QueryFlag is a per-channel bitmask used by the with-checksums dialect of
// QueryShortChanIDs to request exactly the pieces the requester is missing.
type QueryFlag uint8

const (
	QueryFlagChanAnnouncement QueryFlag = 1 << iota
	QueryFlagUpdate1
	QueryFlagUpdate2
	QueryFlagNode1
	QueryFlagNode2
)

// QueryShortChanIDs requests full announcement/update/node information for
// a specific batch of short channel IDs, as produced by diffing a
// ReplyChannelRange against the local graph.
type QueryShortChanIDs struct {
	ChainHash    chainhash.Hash
	Encoding     ShortChanIDEncoding
	ShortChanIDs []ShortChannelID
	Flags        []QueryFlag
}

func (q *QueryShortChanIDs) MsgType() MessageType { return MsgQueryShortChanIDs }

// ReplyShortChanIDsEnd terminates the streaming response to a
// QueryShortChanIDs.
type ReplyShortChanIDsEnd struct {
	ChainHash chainhash.Hash
	Complete  uint8
}

func (r *ReplyShortChanIDsEnd) MsgType() MessageType { return MsgReplyShortChanIDsEnd }

// GossipTimestampRange sets (or clears, with a zero range) the window of
// update timestamps the sender is willing to receive unsolicited gossip
// for.
type GossipTimestampRange struct {
	ChainHash      chainhash.Hash
	FirstTimestamp uint32
	TimestampRange uint32
}

func (g *GossipTimestampRange) MsgType() MessageType { return MsgGossipTimestampRange }
