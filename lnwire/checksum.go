package lnwire

import (
	"encoding/binary"
	"hash/adler32"
)

// ChecksumUpdate computes the gossip-query checksum for a ChannelUpdate.
// The checksum covers every field of the update that two honest nodes with
// the same policy would agree on, and deliberately excludes the signature
// (which differs byte-for-byte across re-signings of identical policy data)
// and the chain hash (implied by the query context). It lets a peer compare
// its view of a channel's latest policy against a remote's without shipping
// the whole update.
func ChecksumUpdate(u *ChannelUpdate) uint32 {
	var b [32]byte

	binary.BigEndian.PutUint64(b[0:8], u.ShortChannelID.ToUint64())
	b[8] = u.MessageFlags
	b[9] = u.ChannelFlags
	binary.BigEndian.PutUint16(b[10:12], u.TimeLockDelta)
	binary.BigEndian.PutUint64(b[12:20], uint64(u.HtlcMinimumMsat))
	binary.BigEndian.PutUint32(b[20:24], u.BaseFee)
	binary.BigEndian.PutUint32(b[24:28], u.FeeRate)
	binary.BigEndian.PutUint32(b[28:32], uint32(u.HtlcMaximumMsat))

	return adler32.Checksum(b[:])
}
