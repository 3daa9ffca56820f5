// Package lnpeer defines the interface the gossip router uses to address a
// connected remote node, without depending on the concrete transport or
// wire-framing implementation backing it.
package lnpeer

import (
	"net"

	"github.com/btcsuite/btcd/btcec"

	"github.com/meshpay/lnrouter/lnwire"
)

// Transport represents a connected remote node as seen by the gossip router.
// It is a deliberately narrow view of a full lightning peer: the router
// never opens channels or moves funds, it only exchanges gossip messages and
// needs enough identity to key its per-peer sync state and apply flow
// control.
type Transport interface {
	// SendMessage sends a variadic number of messages to the remote peer.
	// The first argument denotes whether the call should block until the
	// messages have actually been written to the wire.
	SendMessage(sync bool, msg ...lnwire.Message) error

	// ReadAck acknowledges receipt of an inbound gossip message, allowing
	// the transport to resume reading from the peer. The router calls it
	// as soon as it dequeues the message, before processing it. This is the
	// mechanism the router uses to apply backpressure without blocking
	// its own single dispatch goroutine.
	ReadAck()

	// PubKey returns the serialized public key of the remote peer.
	PubKey() [33]byte

	// IdentityKey returns the public key of the remote peer.
	IdentityKey() *btcec.PublicKey

	// Address returns the network address of the remote peer.
	Address() net.Addr

	// QuitSignal returns a channel that is closed once the backing
	// connection exits, letting callers cancel any in-flight work tied
	// to this peer.
	QuitSignal() <-chan struct{}
}
