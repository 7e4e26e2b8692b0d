package neighbors

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos/internal/batmanrpc"
	"github.com/p2p-industries/hyveos/internal/event"
	"github.com/p2p-industries/hyveos/pkg/ifaddr"
	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

// SwarmEffects is the set of libp2p-side side effects the neighbor discovery
// loop drives in response to Store updates: injecting newly resolved peers
// into the Kademlia routing table and the gossipsub explicit-peer set, and
// evicting lost peers from the routing table. Implemented by internal/swarm
// so this package never imports it, avoiding a cycle.
type SwarmEffects interface {
	AddRoutingTablePeer(ctx context.Context, pid peer.ID) error
	RemoveRoutingTablePeer(pid peer.ID)
	// AddExplicitPeer marks a resolved neighbor as an explicit gossipsub
	// peer. Lost peers are not retracted (gossipsub has no symmetric
	// removal); they are only evicted from the routing table.
	AddExplicitPeer(pid peer.ID)
	ResolvePeerAddr(pid peer.ID, addr ifaddr.IfAddr)
	// AddBatmanAddr records a resolved neighbor's batman-adv interface
	// multiaddr as an additional dial target, alongside its direct
	// interface address. Called with a nil addr when the neighbor's
	// Response did not carry one yet (no-op).
	AddBatmanAddr(pid peer.ID, addr ma.Multiaddr)
}

// Discovery polls the batman-adv helper for each configured interface,
// feeds the results into a Store, and drives a Resolver per interface to
// turn newly visible MACs into peer IDs.
type Discovery struct {
	rpc             *batmanrpc.Client
	store           *Store
	effects         SwarmEffects
	selfPeer        peer.ID
	batmanAddr      ma.Multiaddr
	events          *event.Bus
	interval        time.Duration
	neighborTimeout time.Duration
	resolvers       map[uint32]*Resolver
}

// NewDiscovery constructs a Discovery advertising selfPeer to neighbors.
// batmanAddr is this node's own batman-adv interface multiaddr, advertised
// to every neighbor that resolves us; it may be nil if the batman interface
// address is not yet known, in which case every outgoing Response simply
// omits it. bus may be nil, in which case neighbor lifecycle events are
// simply not published. Entries the helper reports with a last-seen age of
// neighborTimeout or more are dropped before ever reaching the Store.
func NewDiscovery(rpc *batmanrpc.Client, store *Store, effects SwarmEffects, selfPeer peer.ID, batmanAddr ma.Multiaddr, bus *event.Bus, interval, neighborTimeout time.Duration) *Discovery {
	return &Discovery{
		rpc:             rpc,
		store:           store,
		effects:         effects,
		selfPeer:        selfPeer,
		batmanAddr:      batmanAddr,
		events:          bus,
		interval:        interval,
		neighborTimeout: neighborTimeout,
		resolvers:       make(map[uint32]*Resolver),
	}
}

func (d *Discovery) publish(typ event.Type, payload interface{}) {
	if d.events == nil {
		return
	}
	d.events.Publish(context.Background(), typ, payload)
}

// EnumerateInterfaces reports the interfaces discovery should currently
// watch (name -> interface index) and each one's own link-local address.
// Called once per poll tick, so interfaces that go down and come back are
// picked up without restarting the daemon.
type EnumerateInterfaces func() (ifaces map[string]uint32, ifAddrs map[uint32]ifaddr.IfAddr, err error)

// Run polls the watched interfaces on Discovery's interval until ctx is
// canceled, reconciling its per-interface resolvers against enumerate's
// result on every tick: a vanished interface's resolver is closed, and an
// interface that returns gets a fresh resolver seeded with any MACs still
// pending for it.
func (d *Discovery) Run(ctx context.Context, enumerate EnumerateInterfaces, resolverPort uint16, retries int, retryPeriod time.Duration) {
	defer func() {
		for _, r := range d.resolvers {
			r.Close()
		}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		ifaces, ifAddrs, err := enumerate()
		if err != nil {
			log.Warnw("failed to enumerate interfaces", "err", err)
		} else {
			d.reconcileResolvers(ctx, ifaces, ifAddrs, resolverPort, retries, retryPeriod)
			for name, idx := range ifaces {
				d.poll(name, idx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconcileResolvers closes resolvers whose interface disappeared and
// creates resolvers for interfaces that are newly up (or back up), seeding
// a recreated resolver with every MAC still pending on that interface.
func (d *Discovery) reconcileResolvers(ctx context.Context, ifaces map[string]uint32, ifAddrs map[uint32]ifaddr.IfAddr, resolverPort uint16, retries int, retryPeriod time.Duration) {
	current := make(map[uint32]bool, len(ifaces))
	for _, idx := range ifaces {
		current[idx] = true
	}
	for idx, r := range d.resolvers {
		if !current[idx] {
			r.Close()
			delete(d.resolvers, idx)
			log.Infow("interface gone, resolver closed", "if_index", idx)
		}
	}

	for name, idx := range ifaces {
		if _, ok := d.resolvers[idx]; ok {
			continue
		}
		ifa, ok := ifAddrs[idx]
		if !ok {
			log.Warnw("no link-local address for interface, skipping", "interface", name)
			continue
		}
		r, err := NewResolver(ifa, d.selfPeer, d.batmanAddr, resolverPort, retries, retryPeriod)
		if err != nil {
			log.Warnw("failed to start resolver", "interface", name, "err", err)
			continue
		}
		d.resolvers[idx] = r
		go d.watchResolver(ctx, idx, r)

		for _, u := range d.store.Pending() {
			if u.IfIndex == idx {
				r.Resolve(u.Mac)
			}
		}
	}
}

func (d *Discovery) poll(ifName string, ifIndex uint32) {
	neighbours, err := d.rpc.GetNeighbours(ifIndex)
	if err != nil {
		log.Debugw("batman neighbour poll failed", "interface", ifName, "err", err)
		return
	}

	macs := make([]macaddr.Addr, 0, len(neighbours))
	for _, n := range neighbours {
		if d.neighborTimeout > 0 && n.LastSeen >= d.neighborTimeout {
			continue
		}
		macs = append(macs, n.Mac)
	}

	update := d.store.UpdateAvailable(ifIndex, macs, time.Now())
	d.applyUpdate(ifIndex, update)
}

func (d *Discovery) applyUpdate(ifIndex uint32, update Update) {
	if r, ok := d.resolvers[ifIndex]; ok {
		for _, u := range update.Discovered {
			r.Resolve(u.Mac)
		}
	}
	for _, lost := range update.LostPeers {
		d.effects.RemoveRoutingTablePeer(lost)
		d.publish(event.ETNeighborLost, lost)
	}
}

func (d *Discovery) watchResolver(ctx context.Context, ifIndex uint32, r *Resolver) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-r.Results():
			if !ok {
				return
			}
			if !res.Ok {
				d.store.Remove(res.Mac)
				continue
			}
			d.resolveToPeer(ifIndex, res.Mac, res.Peer, res.DirectAddr, res.BatmanAddr)
		}
	}
}

// resolveToPeer records a confirmed MAC-to-peer mapping, applies it to the
// neighbor store, and pushes the resulting routing-table/explicit-peer side
// effects out through SwarmEffects, recording both the peer's derived
// link-local address and its batman-adv address in the peerstore.
func (d *Discovery) resolveToPeer(ifIndex uint32, mac macaddr.Addr, pid peer.ID, directAddr, batmanAddr ma.Multiaddr) {
	addr, err := ifaddr.FromMac(mac, ifIndex)
	if err != nil {
		log.Warnw("cannot derive address for resolved mac", "mac", mac, "err", err)
		return
	}
	update := d.store.Resolve(mac, ifIndex, pid, directAddr, batmanAddr, time.Now())
	d.effects.ResolvePeerAddr(pid, addr)
	d.effects.AddBatmanAddr(pid, batmanAddr)
	for range update.Resolved {
		if err := d.effects.AddRoutingTablePeer(context.Background(), pid); err != nil {
			log.Debugw("failed adding resolved peer to routing table", "peer", pid, "err", err)
		}
		d.effects.AddExplicitPeer(pid)
		d.publish(event.ETNeighborResolved, pid)
	}
}
