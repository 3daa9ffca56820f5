package lnwire

import (
	"fmt"
)

// ShortChannelID represents the set of data which is used to uniquely
// identify a channel within the network. This value is generated by
// combining the block height, transaction index, and the output index of
// the channel's funding output.
type ShortChannelID struct {
	// BlockHeight is the height of the block where this channel was
	// confirmed within the main chain.
	BlockHeight uint32

	// TxIndex is the index within the block of the transaction that
	// created this channel.
	TxIndex uint32

	// TxPosition indicates the output index which pays to the channel
	// funding output within the transaction referenced above.
	TxPosition uint16
}

// NewShortChanIDFromInt converts a uint64 into a ShortChannelID, using the
// (block-height: 24 bits, tx-index: 24 bits, output-index: 16 bits) big
// endian layout specified by the protocol.
func NewShortChanIDFromInt(chanID uint64) ShortChannelID {
	return ShortChannelID{
		BlockHeight: uint32(chanID >> 40),
		TxIndex:     uint32(chanID>>16) & 0xFFFFFF,
		TxPosition:  uint16(chanID),
	}
}

// ToUint64 converts the ShortChannelID into a compact 8 byte integer, using
// the same encoding as NewShortChanIDFromInt. This uint64 value is used to
// order channels numerically, as well as to key into maps.
func (c ShortChannelID) ToUint64() uint64 {
	return ((uint64(c.BlockHeight) << 40) | (uint64(c.TxIndex) << 16) |
		(uint64(c.TxPosition)))
}

// String returns a string representation of the target ShortChannelID.
func (c ShortChannelID) String() string {
	return fmt.Sprintf("%dx%dx%d", c.BlockHeight, c.TxIndex, c.TxPosition)
}

// Less reports whether c sorts before other in the natural numeric ordering
// used for range scans (i.e. the ordering of ToUint64).
func (c ShortChannelID) Less(other ShortChannelID) bool {
	return c.ToUint64() < other.ToUint64()
}
