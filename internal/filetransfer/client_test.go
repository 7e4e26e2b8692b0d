package filetransfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/p2p-industries/hyveos/internal/herr"
	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
	"github.com/p2p-industries/hyveos/pkg/fcid"
)

func TestLocalStoreImportOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	cidv, err := store.Import(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !store.Has(cidv) {
		t.Fatal("expected store to have the imported cid")
	}

	r, err := store.Open(cidv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	buf := new(bytes.Buffer)
	buf.ReadFrom(r)
	if buf.String() != "hello world" {
		t.Errorf("got %q, want %q", buf.String(), "hello world")
	}
}

func TestLoadCounterBeginEnd(t *testing.T) {
	lc := newLoadCounter()
	store, _ := NewLocalStore(t.TempDir())
	cidv, _ := store.Import(bytes.NewReader([]byte("data")))

	lc.begin(cidv)
	lc.begin(cidv)
	total, onCid := lc.snapshot(cidv)
	if total != 2 || onCid != 2 {
		t.Fatalf("got total=%d onCid=%d, want 2,2", total, onCid)
	}

	lc.end(cidv)
	total, onCid = lc.snapshot(cidv)
	if total != 1 || onCid != 1 {
		t.Fatalf("got total=%d onCid=%d, want 1,1", total, onCid)
	}
}

// noopDHT satisfies DHTProvider for tests that never touch the real
// Kademlia behaviour: StartProviding is a no-op and GetProviders yields a
// fixed, caller-supplied set of peers.
type noopDHT struct {
	providers []peer.ID
}

func (n noopDHT) StartProviding(context.Context, []byte) error { return nil }

func (n noopDHT) GetProviders(ctx context.Context, key []byte) (<-chan subactors.GetProvidersResult, error) {
	ch := make(chan subactors.GetProvidersResult, len(n.providers))
	for _, p := range n.providers {
		ch <- subactors.GetProvidersResult{Peer: p}
	}
	close(ch)
	return ch, nil
}

// fixedNeighbors satisfies NeighborLister with a fixed peer set.
type fixedNeighbors []peer.ID

func (f fixedNeighbors) ResolvedPeers() []peer.ID { return f }

func newConnectedHostPair(t *testing.T) (a, b host.Host) {
	t.Helper()
	a, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err = libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	b.Peerstore().AddAddrs(a.ID(), a.Addrs(), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Connect(ctx, peer.AddrInfo{ID: a.ID(), Addrs: a.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, b
}

func TestFileRoundTrip(t *testing.T) {
	providerHost, clientHost := newConnectedHostPair(t)

	providerStore, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	provider := NewClient(providerHost, providerStore, noopDHT{}, fixedNeighbors(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cidv, err := provider.Provide(ctx, bytes.NewReader([]byte("hello from provider")))
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}

	clientStore, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	dht := noopDHT{providers: []peer.ID{providerHost.ID()}}
	client := NewClient(clientHost, clientStore, dht, fixedNeighbors{providerHost.ID()})

	rc, err := client.Get(ctx, cidv)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello from provider" {
		t.Fatalf("got %q, want %q", data, "hello from provider")
	}

	total, _ := provider.load.snapshot(cidv)
	if total != 0 {
		t.Errorf("expected provider load to return to 0, got %d", total)
	}
}

func TestFileHashMismatchDeletesPartial(t *testing.T) {
	providerHost, clientHost := newConnectedHostPair(t)

	providerStore, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	provider := NewClient(providerHost, providerStore, noopDHT{}, fixedNeighbors(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cidv, err := provider.Provide(ctx, bytes.NewReader([]byte("original contents")))
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}

	// Tamper the provider's on-disk file in place, so the bytes that stream
	// out no longer match the Cid's advertised hash.
	path := providerStore.PathFor(cidv)
	if err := os.WriteFile(path, []byte("corrupted-file-contents!!"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	clientStore, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	dht := noopDHT{providers: []peer.ID{providerHost.ID()}}
	client := NewClient(clientHost, clientStore, dht, fixedNeighbors{providerHost.ID()})

	_, err = client.Get(ctx, cidv)
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if herr.CodeOf(err) != herr.CodeHashMismatch {
		t.Fatalf("got code %v, want CodeHashMismatch", herr.CodeOf(err))
	}

	partial := clientStore.PathFor(cidv) + ".part"
	if clientStore.Has(cidv) {
		t.Error("client store should not have the finalized file")
	}
	if _, statErr := os.Stat(partial); statErr == nil {
		t.Error("expected partial download file to be removed")
	}
}

func TestProviderScoringPrefersLeastLoaded(t *testing.T) {
	busyHost, clientHost := newConnectedHostPair(t)
	idleHost, _ := newConnectedHostPair(t)
	if err := clientHost.Connect(context.Background(), peer.AddrInfo{ID: idleHost.ID(), Addrs: idleHost.Addrs()}); err != nil {
		t.Fatalf("connect idle: %v", err)
	}

	busyStore, _ := NewLocalStore(t.TempDir())
	busy := NewClient(busyHost, busyStore, noopDHT{}, fixedNeighbors(nil))
	idleStore, _ := NewLocalStore(t.TempDir())
	idle := NewClient(idleHost, idleStore, noopDHT{}, fixedNeighbors(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cidv, err := busy.Provide(ctx, bytes.NewReader([]byte("shared payload")))
	if err != nil {
		t.Fatalf("Provide on busy: %v", err)
	}
	if err := os.WriteFile(idleStore.PathFor(cidv), []byte("shared payload"), 0o644); err != nil {
		t.Fatalf("seed idle store with cidv: %v", err)
	}

	// Simulate the busy provider already serving other streams for this cid.
	busy.load.begin(cidv)
	busy.load.begin(cidv)

	clientStore, _ := NewLocalStore(t.TempDir())
	dht := noopDHT{providers: []peer.ID{busyHost.ID(), idleHost.ID()}}
	client := NewClient(clientHost, clientStore, dht, fixedNeighbors{busyHost.ID(), idleHost.ID()})

	cs, err := client.selectProvider(ctx, cidv)
	if err != nil {
		t.Fatalf("selectProvider: %v", err)
	}
	defer cs.close()
	if cs.peer != idleHost.ID() {
		t.Errorf("expected idle host to win, got %s", cs.peer)
	}
}

