package daemon

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meshpay/lnrouter/lnwire"
)

// ecdsaVerifier is the concrete discovery.SigVerifier backing the daemon: it
// checks gossip signatures the same way the teacher's wire-level
// verification does, parsing compact signatures against btcec's secp256k1
// implementation over the double round of SHA-256 used throughout the
// protocol.
type ecdsaVerifier struct{}

func (ecdsaVerifier) CheckSig(sig lnwire.Signature, pubKey [33]byte, msg []byte) bool {
	key, err := btcec.ParsePubKey(pubKey[:], btcec.S256())
	if err != nil {
		return false
	}

	signature := &btcec.Signature{
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:]),
	}

	digest := chainhash.DoubleHashB(msg)
	return signature.Verify(digest, key)
}

func (v ecdsaVerifier) CheckSigs(ann *lnwire.ChannelAnnouncement) bool {
	digest := ann.SigningDigest()

	return v.CheckSig(ann.NodeSig1, ann.NodeID1, digest) &&
		v.CheckSig(ann.NodeSig2, ann.NodeID2, digest) &&
		v.CheckSig(ann.BitcoinSig1, ann.BitcoinKey1, digest) &&
		v.CheckSig(ann.BitcoinSig2, ann.BitcoinKey2, digest)
}
