package discovery

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/meshpay/lnrouter/lnwire"
)

// SigVerifier is the external cryptographic collaborator: a set of pure
// predicates over the signatures carried by gossip messages. The router
// never inspects key or signature bytes itself, it only asks this
// collaborator whether an announcement or update is authentic.
type SigVerifier interface {
	// CheckSig reports whether sig is a valid signature by pubKey over
	// msg.
	CheckSig(sig lnwire.Signature, pubKey [33]byte, msg []byte) bool

	// CheckSigs reports whether a ChannelAnnouncement's four signatures
	// (both node identity signatures and both bitcoin key signatures)
	// all verify against the announcement's own content.
	CheckSigs(ann *lnwire.ChannelAnnouncement) bool
}

// FundingSpend is delivered by the FundingWatcher when a channel's on-chain
// funding output is observed to have been spent, which the router treats as
// an immediate prune trigger for that single channel.
type FundingSpend struct {
	ChannelID    uint64
	ChannelPoint wire.OutPoint
}

// FundingWatcher is the external on-chain collaborator. The router never
// polls chain state itself; it only consumes spend notifications the
// watcher decides to emit.
type FundingWatcher interface {
	// SpentChannels returns a channel of FundingSpend notifications. The
	// router treats it as a perpetual, fire-and-forget event source.
	SpentChannels() <-chan *FundingSpend
}
