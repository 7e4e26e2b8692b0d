// Package swarm drives the single-goroutine actor that owns the libp2p host
// and dispatches commands to the DHT, pubsub, and request/response
// sub-actors.
package swarm

import (
	"context"

	golog "github.com/ipfs/go-log/v2"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
	"github.com/p2p-industries/hyveos/pkg/ifaddr"
)

var log = golog.Logger("swarm")

// Actor owns the libp2p host and drives its command channel on a single
// goroutine. Sub-actor methods never block: DHT and pubsub operations that
// need I/O spawn their own goroutines and report back over channels embedded
// in the command, exactly as each Client method in client.go expects.
type Actor struct {
	host   host.Host
	dht    *subactors.DHT
	pubsub *subactors.Pubsub
	rr     *subactors.ReqResp
	debug  *subactors.Debug

	cmds chan Command
}

// New constructs an Actor wrapping h, d, and ps. Call Run to start its
// dispatch loop and Client to obtain a handle.
func New(h host.Host, d *dht.IpfsDHT, ps *pubsub.PubSub) *Actor {
	return &Actor{
		host:   h,
		dht:    subactors.NewDHT(d),
		pubsub: subactors.NewPubsub(ps),
		rr:     subactors.NewReqResp(h),
		debug:  subactors.NewDebug(h),
		cmds:   make(chan Command, 64),
	}
}

// Client returns a new handle to this actor's command channel.
func (a *Actor) Client() *Client {
	return newClient(a.cmds)
}

// Run drains the command channel until it is closed (every Client handle's
// Close has been called) or ctx is canceled. It is meant to be run on its
// own goroutine for the lifetime of the daemon.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			a.dispatch(ctx, cmd)
		}
	}
}

func (a *Actor) dispatch(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case PutRecordCmd:
		go func() { c.Reply <- a.dht.PutRecord(ctx, c.Key, c.Value) }()
	case GetRecordCmd:
		go func() {
			for res := range a.dht.GetRecord(ctx, c.Key) {
				c.Reply <- res
			}
			close(c.Reply)
		}()
	case StartProvidingCmd:
		go func() { c.Reply <- a.dht.StartProviding(ctx, c.Key) }()
	case GetProvidersCmd:
		go func() {
			for res := range a.dht.GetProviders(ctx, c.Key) {
				c.Reply <- res
			}
			close(c.Reply)
		}()
	case BootstrapCmd:
		go func() { c.Reply <- a.dht.Bootstrap(ctx) }()
	case SubscribeCmd:
		c.Reply <- a.pubsub.Subscribe(c.Topic)
	case UnsubscribeCmd:
		a.pubsub.Unsubscribe(c.Topic, c.Handle)
	case PublishCmd:
		go func() { c.Reply <- a.pubsub.Publish(ctx, c.Topic, c.Data) }()
	case SendRequestCmd:
		go func() {
			res := a.rr.SendRequest(ctx, c.Peer, subactors.Request{Topic: c.Topic, Data: c.Data})
			c.Reply <- res
		}()
	case RegisterReqRespSubscriptionCmd:
		c.Reply <- a.rr.Subscribe(c.Query, c.Inbox)
	case UnregisterReqRespSubscriptionCmd:
		a.rr.Unsubscribe(c.Handle)
	case GetPeerIDCmd:
		c.Reply <- a.host.ID()
	case ListKnownPeersCmd:
		c.Reply <- a.debug.KnownPeers()
	default:
		log.Warnw("unhandled swarm command", "type", cmd)
	}
}

// AddRoutingTablePeer implements neighbors.SwarmEffects.
func (a *Actor) AddRoutingTablePeer(ctx context.Context, pid peer.ID) error {
	return a.dht.AddRoutingTablePeer(ctx, pid)
}

// RemoveRoutingTablePeer implements neighbors.SwarmEffects.
func (a *Actor) RemoveRoutingTablePeer(pid peer.ID) {
	a.dht.RemoveRoutingTablePeer(pid)
}

// AddExplicitPeer implements neighbors.SwarmEffects.
func (a *Actor) AddExplicitPeer(pid peer.ID) {
	a.pubsub.AddExplicitPeer(pid)
}

// ResolvePeerAddr implements neighbors.SwarmEffects: it records the
// neighbor's link-local address in the host's peerstore so future dials
// (DHT lookups, req-resp streams) can reach it directly over the mesh
// interface without going through discovery again.
func (a *Actor) ResolvePeerAddr(pid peer.ID, addr ifaddr.IfAddr) {
	direct, err := addr.Multiaddr()
	if err != nil {
		log.Warnw("failed to build multiaddr for resolved neighbor", "peer", pid, "err", err)
		return
	}
	a.host.Peerstore().AddAddr(pid, direct, peerstore.PermanentAddrTTL)
}

// AddBatmanAddr implements neighbors.SwarmEffects: it records a resolved
// neighbor's batman-adv interface address as an additional dial target, so
// the peer remains reachable even if its direct interface address changes.
// A nil addr (the neighbor's Response did not carry one yet) is a no-op.
func (a *Actor) AddBatmanAddr(pid peer.ID, addr ma.Multiaddr) {
	if addr == nil {
		return
	}
	a.host.Peerstore().AddAddr(pid, addr, peerstore.PermanentAddrTTL)
}
