// Package event implements the daemon-internal publish/subscribe bus used to
// fan lifecycle events (neighbor changes, peer connectivity, application
// state transitions) out to subscribed handlers.
package event

import (
	"context"
	"sync"

	golog "github.com/ipfs/go-log/v2"
)

var log = golog.Logger("event")

// Type identifies the kind of event being published.
type Type string

const (
	// ETPeerConnected marks a newly established peer connection. No daemon
	// component publishes it.
	ETPeerConnected Type = "peer-connected"
	// ETPeerDisconnected marks a lost peer connection. No daemon component
	// publishes it.
	ETPeerDisconnected Type = "peer-disconnected"
	// ETNeighborResolved fires when a batman-adv neighbor's MAC is resolved
	// to a libp2p peer ID.
	ETNeighborResolved Type = "neighbor-resolved"
	// ETNeighborLost fires when a peer's last resolved MAC drops out of the
	// available set; the payload is that peer ID. Unresolved MACs dropping
	// out publish nothing.
	ETNeighborLost Type = "neighbor-lost"
	// ETAppDeployed fires when an application container starts running.
	ETAppDeployed Type = "app-deployed"
	// ETAppStopped fires when an application container stops, crashes, or
	// is removed.
	ETAppStopped Type = "app-stopped"
)

// Handler receives published events. A Handler must not block for long; the
// bus invokes handlers synchronously on the publishing goroutine.
type Handler func(ctx context.Context, typ Type, payload interface{}) error

type subscription struct {
	handler Handler
	types   map[Type]struct{}
}

// Bus fans published events out to subscribed handlers.
type Bus struct {
	ctx context.Context

	mu   sync.Mutex
	subs []*subscription
}

// NewBus constructs a Bus bound to ctx. Publish calls made after ctx is
// canceled are no-ops.
func NewBus(ctx context.Context) *Bus {
	return &Bus{ctx: ctx}
}

// Subscribe registers handler for the given event types. An empty types list
// subscribes to all events.
func (b *Bus) Subscribe(handler Handler, types ...Type) {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, &subscription{handler: handler, types: set})
	b.mu.Unlock()
}

// Publish fans typ/payload out to every matching subscriber, logging (but
// not propagating) handler errors.
func (b *Bus) Publish(ctx context.Context, typ Type, payload interface{}) {
	if b.ctx.Err() != nil {
		return
	}
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if len(s.types) > 0 {
			if _, ok := s.types[typ]; !ok {
				continue
			}
		}
		if err := s.handler(ctx, typ, payload); err != nil {
			log.Debugw("event handler returned error", "type", typ, "err", err)
		}
	}
}
