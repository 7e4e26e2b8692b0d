package subactors

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	golog "github.com/ipfs/go-log/v2"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
)

var log = golog.Logger("swarm/subactors")

// DHT wraps a *dht.IpfsDHT, translating the generic byte-keyed record and
// provider operations used throughout this daemon into go-libp2p-kad-dht's
// CID-addressed provider API and raw PutValue/GetValue calls. Every
// in-flight query owns exactly one goroutine that streams results back on a channel
// until the query's context is done, rather than a table of waiters removed
// on a terminal step — the channel's lifetime plays the same role.
type DHT struct {
	ipfsDHT *dht.IpfsDHT
}

// NewDHT wraps an already-constructed *dht.IpfsDHT.
func NewDHT(d *dht.IpfsDHT) *DHT {
	return &DHT{ipfsDHT: d}
}

// keyCid wraps an arbitrary byte key into a CID using an identity multihash,
// so it can be used with the provider-record API, which is CID-addressed.
func keyCid(key []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(key, multihash.IDENTITY, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("subactors: hash record key: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// PutRecord stores value at key in the DHT.
func (d *DHT) PutRecord(ctx context.Context, key, value []byte) error {
	if err := d.ipfsDHT.PutValue(ctx, string(key), value); err != nil {
		return fmt.Errorf("subactors: put record: %w", err)
	}
	return nil
}

// GetRecord streams every distinct value observed for key until ctx is
// canceled or the DHT query completes, closing the returned channel when
// done. The waiter (here, the channel) stays registered for every
// intermediate response, not just the first.
func (d *DHT) GetRecord(ctx context.Context, key []byte) <-chan GetRecordResult {
	out := make(chan GetRecordResult, 4)
	go func() {
		defer close(out)
		values, err := d.ipfsDHT.SearchValue(ctx, string(key))
		if err != nil {
			out <- GetRecordResult{Err: fmt.Errorf("subactors: get record: %w", err)}
			return
		}
		for v := range values {
			out <- GetRecordResult{Value: v}
		}
	}()
	return out
}

// StartProviding announces this node as a provider of key.
func (d *DHT) StartProviding(ctx context.Context, key []byte) error {
	c, err := keyCid(key)
	if err != nil {
		return err
	}
	if err := d.ipfsDHT.Provide(ctx, c, true); err != nil {
		return fmt.Errorf("subactors: start providing: %w", err)
	}
	return nil
}

// GetProviders streams every provider peer discovered for key until ctx is
// canceled or the search is exhausted, closing the returned channel when
// done. A single-result query would drop the waiter after the first hit,
// but file-transfer provider selection needs the full candidate set, so
// this always streams to exhaustion.
func (d *DHT) GetProviders(ctx context.Context, key []byte) <-chan GetProvidersResult {
	out := make(chan GetProvidersResult, 4)
	c, err := keyCid(key)
	if err != nil {
		go func() {
			out <- GetProvidersResult{Err: err}
			close(out)
		}()
		return out
	}
	go func() {
		defer close(out)
		for info := range d.ipfsDHT.FindProvidersAsync(ctx, c, 0) {
			out <- GetProvidersResult{Peer: info.ID}
		}
	}()
	return out
}

// AddRoutingTablePeer injects pid directly into the Kademlia routing table,
// used by neighbor discovery once a MAC resolves to a peer ID.
func (d *DHT) AddRoutingTablePeer(ctx context.Context, pid peer.ID) error {
	if _, err := d.ipfsDHT.RoutingTable().TryAddPeer(pid, true, false); err != nil {
		return fmt.Errorf("subactors: add routing table peer: %w", err)
	}
	return nil
}

// RemoveRoutingTablePeer evicts pid from the routing table.
func (d *DHT) RemoveRoutingTablePeer(pid peer.ID) {
	d.ipfsDHT.RoutingTable().RemovePeer(pid)
}

// Bootstrap triggers a DHT bootstrap round.
func (d *DHT) Bootstrap(ctx context.Context) error {
	return d.ipfsDHT.Bootstrap(ctx)
}
