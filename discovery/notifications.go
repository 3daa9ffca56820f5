package discovery

import (
	"sync"

	"github.com/google/uuid"

	"github.com/meshpay/lnrouter/lnwire"
)

// ChannelLost announces that a channel has been pruned or its funding
// output spent, and is no longer part of the graph.
type ChannelLost struct {
	ShortChannelID lnwire.ShortChannelID
}

// NodeLost announces that a node no longer participates in any channel the
// router knows of.
type NodeLost struct {
	NodeID [33]byte
}

// NodeDiscovered announces the first NodeAnnouncement accepted for a node
// that an admitted channel (or a private channel) already references.
// Admitting a channel on its own does not publish it.
type NodeDiscovered struct {
	NodeID [33]byte
}

// NodeUpdated announces a fresher NodeAnnouncement for an already-known
// node.
type NodeUpdated struct {
	NodeID [33]byte
}

// ChannelUpdateReceived announces that a channel's routing policy changed.
type ChannelUpdateReceived struct {
	Update *lnwire.ChannelUpdate
}

// SyncProgress reports the router's overall progress syncing with its
// peers: 1.0 once no peer has an outstanding sync.
type SyncProgress struct {
	Progress float64
}

// EventBus is the non-blocking, multi-subscriber publication surface the
// router uses to announce topology changes. Publish never blocks the
// dispatch loop: a subscriber too slow to keep up simply misses events
// rather than stalling the router.
type EventBus interface {
	// Publish delivers event to every currently subscribed client.
	Publish(event interface{})

	// SubscribeTopology registers a new client and returns its
	// subscription.
	SubscribeTopology() *TopologySubscription
}

// TopologySubscription is a single client's view of the event bus.
type TopologySubscription struct {
	// ID uniquely and durably identifies this subscriber, so the bus
	// can be safely used across process restarts that persist
	// subscriber identity.
	ID uuid.UUID

	// Updates delivers every event published after the subscription was
	// created.
	Updates <-chan interface{}

	// Cancel unregisters the subscription and closes Updates.
	Cancel func()
}

// eventBus is the concrete, in-memory EventBus implementation.
type eventBus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan interface{}
}

// NewEventBus returns an empty EventBus.
func NewEventBus() EventBus {
	return &eventBus{
		subs: make(map[uuid.UUID]chan interface{}),
	}
}

func (b *eventBus) Publish(event interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, updates := range b.subs {
		select {
		case updates <- event:
		default:
			log.Warnf("topology subscriber too slow, dropping event %T", event)
		}
	}
}

func (b *eventBus) SubscribeTopology() *TopologySubscription {
	id := uuid.New()
	updates := make(chan interface{}, 100)

	b.mu.Lock()
	b.subs[id] = updates
	b.mu.Unlock()

	return &TopologySubscription{
		ID:      id,
		Updates: updates,
		Cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if ch, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		},
	}
}
