// Package daemon wires together the libp2p host, the swarm actor, neighbor
// discovery, file transfer, the application manager, and the bridge
// listener into a single running node.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos/internal/apps"
	"github.com/p2p-industries/hyveos/internal/batmanrpc"
	"github.com/p2p-industries/hyveos/internal/config"
	"github.com/p2p-industries/hyveos/internal/event"
	"github.com/p2p-industries/hyveos/internal/filetransfer"
	"github.com/p2p-industries/hyveos/internal/identity"
	"github.com/p2p-industries/hyveos/internal/neighbors"
	"github.com/p2p-industries/hyveos/internal/store"
	"github.com/p2p-industries/hyveos/internal/swarm"
	"github.com/p2p-industries/hyveos/pkg/ifaddr"
)

var log = golog.Logger("daemon")

// Daemon owns every long-lived resource of a running node: the libp2p host,
// the swarm actor, the neighbor discovery loop, the file-transfer engine,
// the application manager, and the durable stores backing them.
type Daemon struct {
	cfg *config.Config

	host  host.Host
	actor *swarm.Actor

	discovery  *neighbors.Discovery
	ft         *filetransfer.Client
	apps       *apps.Manager
	appStore   *store.Store
	rootClient *swarm.Client
	events     *event.Bus

	cancel context.CancelFunc
}

// New constructs a Daemon from cfg but does not yet start any background
// work; call Run for that.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	priv, selfPeer, err := identity.LoadOrGenerate(cfg.Identity.KeyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("daemon: load identity: %w", err)
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(cfg.Swarm.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.Swarm.ListenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("daemon: create libp2p host: %w", err)
	}

	dhtOpts := []dht.Option{dht.Mode(dht.ModeServer)}
	if cfg.Swarm.DHTProtocolID != "" {
		dhtOpts = append(dhtOpts, dht.ProtocolPrefix(protocol.ID(cfg.Swarm.DHTProtocolID)))
	}
	if peers, err := bootstrapAddrInfos(cfg.Swarm.BootstrapPeers); err != nil {
		h.Close()
		return nil, err
	} else if len(peers) > 0 {
		dhtOpts = append(dhtOpts, dht.BootstrapPeers(peers...))
	}
	kad, err := dht.New(ctx, h, dhtOpts...)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("daemon: create dht: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("daemon: create pubsub: %w", err)
	}

	actor := swarm.New(h, kad, ps)
	rootClient := actor.Client()

	bus := event.NewBus(ctx)

	neighborStore := neighbors.NewStore()

	ftStore, err := filetransfer.NewLocalStore(cfg.FileTransfer.StoreDir)
	if err != nil {
		h.Close()
		return nil, err
	}
	ftClient := filetransfer.NewClient(h, ftStore, rootClient.Clone(), neighborStore)

	appStore, err := store.Open(cfg.Apps.StateDBPath)
	if err != nil {
		h.Close()
		return nil, err
	}

	docker, err := apps.NewContainerManager()
	if err != nil {
		appStore.Close()
		h.Close()
		return nil, err
	}

	manager := apps.NewManager(docker, appStore, rootClient.Clone(), ftClient, neighborStore, cfg.Bridge.SocketDir, selfPeer, bus,
		heartbeatTimeoutFor(cfg), cfg.Apps.ManagementAllowed)

	rpc := batmanrpc.New(cfg.Neighbors.BatmanSocketPath, 5*time.Second)
	batmanAddr, err := resolveBatmanAddr(cfg)
	if err != nil {
		log.Warnw("batman-adv interface address not available yet; resolver replies will omit it", "err", err)
	}
	discovery := neighbors.NewDiscovery(rpc, neighborStore, actor, selfPeer, batmanAddr, bus,
		cfg.Neighbors.DiscoveryInterval, cfg.Neighbors.NeighborTimeout)

	return &Daemon{
		cfg:        cfg,
		host:       h,
		actor:      actor,
		discovery:  discovery,
		ft:         ftClient,
		apps:       manager,
		appStore:   appStore,
		rootClient: rootClient,
		events:     bus,
	}, nil
}

func heartbeatTimeoutFor(cfg *config.Config) time.Duration {
	if cfg.Neighbors.NeighborTimeout > 0 {
		return cfg.Neighbors.NeighborTimeout
	}
	return 30 * time.Second
}

// PeerID returns the node's libp2p peer ID.
func (d *Daemon) PeerID() string {
	return d.host.ID().String()
}

// Apps returns the application lifecycle manager, for the bridge and CLI to
// share.
func (d *Daemon) Apps() *apps.Manager { return d.apps }

// SwarmClient returns a fresh handle to the swarm actor's command channel,
// cloned from the daemon's root client so its lifetime is independent of
// any single caller.
func (d *Daemon) SwarmClient() *swarm.Client { return d.rootClient.Clone() }

// Events returns the daemon's lifecycle event bus, letting external
// subscribers observe neighbor and application state transitions as they
// happen.
func (d *Daemon) Events() *event.Bus { return d.events }

// Run starts every background task (the swarm actor loop, neighbor
// discovery, the deploy-request listener, and replay of the persisted
// startup set) and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	go d.actor.Run(ctx)

	enumerate := func() (map[string]uint32, map[uint32]ifaddr.IfAddr, error) {
		return discoverableInterfaces(d.cfg)
	}
	go d.discovery.Run(ctx, enumerate,
		d.cfg.Neighbors.ResolverPort, d.cfg.Neighbors.ResolverRetries, d.cfg.Neighbors.ResolverRetryPeriod)

	go func() {
		if err := d.apps.ServeDeployRequests(ctx); err != nil {
			log.Warnw("deploy request listener stopped", "err", err)
		}
	}()

	if err := d.apps.LoadStartupApps(ctx); err != nil {
		log.Warnw("failed to load startup apps", "err", err)
	}

	<-ctx.Done()
	return nil
}

// Shutdown stops every running application, closes the libp2p host, and
// releases the durable stores. Call after Run returns.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.apps.StopAll()
	d.rootClient.Close()
	if err := d.host.Close(); err != nil {
		log.Warnw("failed closing libp2p host", "err", err)
	}
	if err := d.appStore.Close(); err != nil {
		log.Warnw("failed closing app store", "err", err)
	}
}

// bootstrapAddrInfos parses the configured bootstrap peer multiaddrs into
// dialable AddrInfos.
func bootstrapAddrInfos(addrs []string) ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("daemon: parse bootstrap peer %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("daemon: bootstrap peer %q: %w", s, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

// resolveBatmanAddr determines this node's own batman-adv interface
// multiaddr from the mutually exclusive --batman-address/--batman-interface
// settings. A literal
// BatmanAddress is used as-is; BatmanInterface is resolved to that
// interface's link-local address. Returning a nil, non-nil-error result is
// not fatal: discovery still runs, it simply cannot advertise a batman
// address to neighbors until one is configured.
func resolveBatmanAddr(cfg *config.Config) (ma.Multiaddr, error) {
	if cfg.Neighbors.BatmanAddress != "" {
		addr, err := ma.NewMultiaddr(cfg.Neighbors.BatmanAddress)
		if err != nil {
			return nil, fmt.Errorf("daemon: parse batman address %q: %w", cfg.Neighbors.BatmanAddress, err)
		}
		return addr, nil
	}
	if cfg.Neighbors.BatmanInterface == "" {
		return nil, fmt.Errorf("daemon: no batman-adv address or interface configured")
	}
	iface, err := net.InterfaceByName(cfg.Neighbors.BatmanInterface)
	if err != nil {
		return nil, fmt.Errorf("daemon: look up batman interface %q: %w", cfg.Neighbors.BatmanInterface, err)
	}
	addr, ok := linkLocalAddr(*iface)
	if !ok {
		return nil, fmt.Errorf("daemon: batman interface %q has no link-local address", cfg.Neighbors.BatmanInterface)
	}
	return ifaddr.IfAddr{IfIndex: uint32(iface.Index), Addr: addr}.Multiaddr()
}

// discoverableInterfaces enumerates local non-loopback interfaces other
// than the batman interface itself; every such interface gets a resolver,
// keyed by its own link-local IfAddr.
func discoverableInterfaces(cfg *config.Config) (map[string]uint32, map[uint32]ifaddr.IfAddr, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: list interfaces: %w", err)
	}

	names := make(map[string]uint32)
	addrs := make(map[uint32]ifaddr.IfAddr)

	watched := cfg.Neighbors.Interfaces
	watchSet := make(map[string]bool, len(watched))
	for _, n := range watched {
		watchSet[n] = true
	}

	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Name == cfg.Neighbors.BatmanInterface {
			continue
		}
		if len(watchSet) > 0 && !watchSet[iface.Name] {
			continue
		}
		linkLocal, ok := linkLocalAddr(iface)
		if !ok {
			continue
		}
		names[iface.Name] = uint32(iface.Index)
		addrs[uint32(iface.Index)] = ifaddr.IfAddr{IfIndex: uint32(iface.Index), Addr: linkLocal}
	}
	return names, addrs, nil
}

// linkLocalAddr returns iface's own IPv6 link-local unicast address, the
// address its resolver binds its receive socket to.
func linkLocalAddr(iface net.Interface) (netip.Addr, bool) {
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.To4() != nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok || !addr.Is6() || !addr.IsLinkLocalUnicast() {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}
