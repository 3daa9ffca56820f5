package discovery

import (
	"github.com/go-errors/errors"

	"github.com/meshpay/lnrouter/routing"
)

// InvalidSignature describes an announcement or update whose signature
// failed verification. The router's ingest handlers do not build it or send
// anything back to the origin: a failed check is logged as a warning and the
// message is dropped without mutating router state.
type InvalidSignature struct {
	// Entity is the message that failed verification, for logging.
	Entity interface{}
}

func (e *InvalidSignature) Error() string {
	return "invalid signature"
}

var (
	// ErrNonexistingChannel describes a channel the router has no record
	// of. No handler in this package returns it.
	ErrNonexistingChannel = errors.New("channel does not exist")

	// ErrChannelClosed describes a channel that has since been pruned or
	// explicitly closed. No handler in this package returns it.
	ErrChannelClosed = errors.New("channel has been closed")
)

// CannotRouteToSelf and RouteNotFound are re-exported from routing so that
// callers driving the router don't need to import that package directly
// just to compare sentinel errors.
var (
	ErrCannotRouteToSelf = routing.ErrCannotRouteToSelf
	ErrRouteNotFound     = routing.ErrRouteNotFound
)
