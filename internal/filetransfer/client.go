package filetransfer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/p2p-industries/hyveos/internal/herr"
	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
	"github.com/p2p-industries/hyveos/pkg/fcid"
)

// DHTProvider is the subset of the swarm's DHT operations the file-transfer
// engine needs: announcing and discovering providers for a Cid, addressed by
// its record key. Satisfied by *swarm.Client, kept as a narrow interface so
// this package never imports internal/swarm.
type DHTProvider interface {
	StartProviding(ctx context.Context, key []byte) error
	GetProviders(ctx context.Context, key []byte) (<-chan subactors.GetProvidersResult, error)
}

// NeighborLister is the subset of neighbor-store state the client consults
// to prioritize directly-reachable peers over providers that are only
// reachable through the DHT.
type NeighborLister interface {
	ResolvedPeers() []peer.ID
}

// Progress is one item of the sequence GetWithProgress returns: a
// percent-complete update, or, as the final item, either a successful
// Ready path or an error. Percent is monotonic and Ready/Err are mutually
// exclusive and terminal.
type Progress struct {
	Percent uint64
	Ready   string
	Err     error
}

// Client drives outbound and inbound file-transfer streams over a libp2p
// host, using a LocalStore for contents and a loadCounter to report this
// node's own load to requesters probing it as a provider.
type Client struct {
	h     host.Host
	store *LocalStore
	dht   DHTProvider
	neigh NeighborLister
	load  *loadCounter
}

// NewClient wires a Client and registers the stream handler for inbound
// transfers.
func NewClient(h host.Host, store *LocalStore, dht DHTProvider, neigh NeighborLister) *Client {
	c := &Client{h: h, store: store, dht: dht, neigh: neigh, load: newLoadCounter()}
	h.SetStreamHandler(StreamProtocolID, c.handleStream)
	return c
}

// recordKey is the DHT key this Cid is provided/discovered under.
func recordKey(c fcid.Cid) []byte {
	return fcid.RecordKey("file-transfer", append(c.ULID[:], c.SHA256[:]...))
}

// Provide imports data, stores it locally, and announces it on the DHT.
func (c *Client) Provide(ctx context.Context, r io.Reader) (fcid.Cid, error) {
	cidv, err := c.store.Import(r)
	if err != nil {
		return fcid.Cid{}, err
	}
	if err := c.dht.StartProviding(ctx, recordKey(cidv)); err != nil {
		return fcid.Cid{}, herr.Wrap(herr.CodeBehavior, "announce provider record", err)
	}
	return cidv, nil
}

// List returns every Cid currently held in the local store.
func (c *Client) List() ([]fcid.Cid, error) {
	return c.store.List()
}

// Get fetches cidv's contents, preferring a local copy, and otherwise
// downloading from the best available provider with hash verification. It
// is equivalent to draining GetWithProgress to its terminal item.
func (c *Client) Get(ctx context.Context, cidv fcid.Cid) (io.ReadCloser, error) {
	progress, err := c.GetWithProgress(ctx, cidv)
	if err != nil {
		return nil, err
	}
	var last Progress
	for p := range progress {
		last = p
	}
	if last.Err != nil {
		return nil, last.Err
	}
	return os.Open(last.Ready)
}

// GetWithProgress returns a lazy sequence of Progress updates followed by
// exactly one terminal item (Ready or Err). If cidv is already present
// locally the sequence is a single Ready item.
func (c *Client) GetWithProgress(ctx context.Context, cidv fcid.Cid) (<-chan Progress, error) {
	if c.store.Has(cidv) {
		ch := make(chan Progress, 1)
		ch <- Progress{Ready: c.store.PathFor(cidv)}
		close(ch)
		return ch, nil
	}

	cs, err := c.selectProvider(ctx, cidv)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 4)
	go c.download(ctx, cs, cidv, ch)
	return ch, nil
}

// candidateStream is an open, probed stream to a provider that has
// confirmed it holds the requested Cid: the GetCid/Cid(Some(..)) exchange
// has already happened, so the winner only needs to send StartStream to
// begin receiving bytes.
type candidateStream struct {
	peer   peer.ID
	stream network.Stream
	br     *bufio.Reader
	enc    *cbor.Encoder
	info   existenceInfo
}

func (cs *candidateStream) score() uint64 {
	return cs.info.TotalStreams + cs.info.StreamsOnCid
}

func (cs *candidateStream) close() {
	cs.stream.Close()
}

// probeProvider opens a stream to pid, sends GetCid(cidv), and returns the
// probed stream if pid reports it holds the file. A nil, nil result means
// pid answered but does not have it; a non-nil error means the exchange
// itself failed (dial, protocol, decode).
func (c *Client) probeProvider(ctx context.Context, pid peer.ID, cidv fcid.Cid) (*candidateStream, error) {
	s, err := c.h.NewStream(ctx, pid, StreamProtocolID)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: open stream to %s: %w", pid, err)
	}

	br := bufio.NewReader(s)
	enc := cbor.NewEncoder(s)
	dec := cbor.NewDecoder(br)

	if err := enc.Encode(getCidRequest{Cid: toWireCid(cidv)}); err != nil {
		s.Close()
		return nil, fmt.Errorf("filetransfer: send GetCid to %s: %w", pid, err)
	}

	var resp cidResponse
	if err := dec.Decode(&resp); err != nil {
		s.Close()
		return nil, fmt.Errorf("filetransfer: decode response from %s: %w", pid, err)
	}
	if resp.Info == nil {
		s.Close()
		return nil, nil
	}
	return &candidateStream{peer: pid, stream: s, br: br, enc: enc, info: *resp.Info}, nil
}

// getAllProviders queries the DHT for cidv's providers and partitions them
// into directly-reachable neighbors and everyone else.
func (c *Client) getAllProviders(ctx context.Context, cidv fcid.Cid) (neighborPeers, otherPeers []peer.ID, err error) {
	results, err := c.dht.GetProviders(ctx, recordKey(cidv))
	if err != nil {
		return nil, nil, herr.Wrap(herr.CodeBehavior, "find providers", err)
	}

	isNeighbor := make(map[peer.ID]struct{})
	for _, p := range c.neigh.ResolvedPeers() {
		isNeighbor[p] = struct{}{}
	}

	seen := make(map[peer.ID]struct{})
	for res := range results {
		if res.Err != nil {
			continue
		}
		if _, dup := seen[res.Peer]; dup {
			continue
		}
		seen[res.Peer] = struct{}{}
		if _, ok := isNeighbor[res.Peer]; ok {
			neighborPeers = append(neighborPeers, res.Peer)
		} else {
			otherPeers = append(otherPeers, res.Peer)
		}
	}
	return neighborPeers, otherPeers, nil
}

// pickBest probes every candidate in parallel and returns the one reporting
// the lowest score (least loaded), closing every other probed stream. A nil
// result means none of candidates answered Cid(Some(..)).
func (c *Client) pickBest(ctx context.Context, candidates []peer.ID, cidv fcid.Cid) *candidateStream {
	if len(candidates) == 0 {
		return nil
	}

	results := make(chan *candidateStream, len(candidates))
	for _, pid := range candidates {
		go func(pid peer.ID) {
			cs, err := c.probeProvider(ctx, pid, cidv)
			if err != nil {
				log.Debugw("filetransfer: probe failed", "peer", pid, "err", err)
				results <- nil
				return
			}
			results <- cs
		}(pid)
	}

	var best *candidateStream
	for range candidates {
		cs := <-results
		if cs == nil {
			continue
		}
		switch {
		case best == nil:
			best = cs
		case cs.score() < best.score():
			best.close()
			best = cs
		default:
			cs.close()
		}
	}
	return best
}

// firstAvailable probes candidates one at a time and returns the first to
// report the Cid present, the fallback once the top-K parallel pass has
// been exhausted.
func (c *Client) firstAvailable(ctx context.Context, candidates []peer.ID, cidv fcid.Cid) *candidateStream {
	for _, pid := range candidates {
		cs, err := c.probeProvider(ctx, pid, cidv)
		if err != nil {
			log.Debugw("filetransfer: probe failed", "peer", pid, "err", err)
			continue
		}
		if cs != nil {
			return cs
		}
	}
	return nil
}

// selectProvider runs the full provider-scoring cascade: neighbors first,
// then the top-K non-neighbors ranked in parallel, then the remaining
// non-neighbors scanned sequentially.
func (c *Client) selectProvider(ctx context.Context, cidv fcid.Cid) (*candidateStream, error) {
	neighborPeers, otherPeers, err := c.getAllProviders(ctx, cidv)
	if err != nil {
		return nil, err
	}

	if cs := c.pickBest(ctx, neighborPeers, cidv); cs != nil {
		return cs, nil
	}

	topK, rest := otherPeers, []peer.ID(nil)
	if len(topK) > TopK {
		topK, rest = otherPeers[:TopK], otherPeers[TopK:]
	}
	if cs := c.pickBest(ctx, topK, cidv); cs != nil {
		return cs, nil
	}
	if cs := c.firstAvailable(ctx, rest, cidv); cs != nil {
		return cs, nil
	}

	return nil, herr.New(herr.CodeNotFound, "no providers found")
}

// download drains cs's byte stream into the hasher and a temporary file
// concurrently, acking every block, then verifies the digest and publishes
// the result.
func (c *Client) download(ctx context.Context, cs *candidateStream, cidv fcid.Cid, progress chan<- Progress) {
	defer close(progress)
	defer cs.close()

	if err := cs.enc.Encode(startStreamRequest{}); err != nil {
		progress <- Progress{Err: fmt.Errorf("filetransfer: send start-stream: %w", err)}
		return
	}

	tmpPath := c.store.PathFor(cidv) + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		progress <- Progress{Err: fmt.Errorf("filetransfer: create file: %w", err)}
		return
	}
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	length := cs.info.Length
	var received uint64
	buf := make([]byte, blockSize)

	for received < length {
		want := blockSize
		if remaining := length - received; remaining < uint64(blockSize) {
			want = int(remaining)
		}
		n, err := io.ReadFull(cs.br, buf[:want])
		if n > 0 {
			hasher.Write(buf[:n])
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				progress <- Progress{Err: fmt.Errorf("filetransfer: write block: %w", werr)}
				return
			}
			received += uint64(n)
		}
		if err != nil {
			f.Close()
			progress <- Progress{Err: fmt.Errorf("filetransfer: read block: %w", err)}
			return
		}
		if _, err := cs.stream.Write([]byte{ackByte}); err != nil {
			f.Close()
			progress <- Progress{Err: fmt.Errorf("filetransfer: send ack: %w", err)}
			return
		}

		percent := uint64(100)
		if length > 0 {
			percent = received * 100 / length
		}
		select {
		case progress <- Progress{Percent: percent}:
		case <-ctx.Done():
			f.Close()
			return
		}
	}

	if err := cs.enc.Encode(okMessage{}); err != nil {
		log.Debugw("filetransfer: send terminator failed", "peer", cs.peer, "err", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		progress <- Progress{Err: fmt.Errorf("filetransfer: fsync: %w", err)}
		return
	}
	f.Close()

	var actual [32]byte
	copy(actual[:], hasher.Sum(nil))
	if actual != cidv.SHA256 {
		os.Remove(tmpPath)
		progress <- Progress{Err: herr.Wrap(herr.CodeHashMismatch, fmt.Sprintf(
			"expected %x, actual %x", cidv.SHA256, actual), nil)}
		return
	}

	finalPath := c.store.PathFor(cidv)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		progress <- Progress{Err: fmt.Errorf("filetransfer: finalize: %w", err)}
		return
	}

	if err := c.dht.StartProviding(ctx, recordKey(cidv)); err != nil {
		log.Warnw("filetransfer: announce provider record failed", "cid", cidv.Filename(), "err", err)
	}

	progress <- Progress{Ready: finalPath}
}

// handleStream serves an inbound file-transfer request, reporting this
// node's own load, then streams the file gated by the requester's acks.
func (c *Client) handleStream(s network.Stream) {
	defer s.Close()

	br := bufio.NewReader(s)
	dec := cbor.NewDecoder(br)
	enc := cbor.NewEncoder(s)

	var req getCidRequest
	if err := dec.Decode(&req); err != nil {
		log.Debugw("filetransfer: decode GetCid failed", "err", err)
		return
	}
	cidv := req.Cid.toCid()

	if !c.store.Has(cidv) {
		if err := enc.Encode(cidResponse{}); err != nil {
			log.Debugw("filetransfer: encode absent response failed", "err", err)
		}
		return
	}

	size, err := c.store.Size(cidv)
	if err != nil {
		log.Debugw("filetransfer: stat local file failed", "err", err)
		_ = enc.Encode(cidResponse{})
		return
	}

	total, onCid := c.load.snapshot(cidv)
	info := existenceInfo{TotalStreams: total, StreamsOnCid: onCid, Length: uint64(size)}
	if err := enc.Encode(cidResponse{Info: &info}); err != nil {
		log.Debugw("filetransfer: encode existence info failed", "err", err)
		return
	}

	var start startStreamRequest
	if err := dec.Decode(&start); err != nil {
		log.Debugw("filetransfer: requester did not start stream", "err", err)
		return
	}

	f, err := c.store.Open(cidv)
	if err != nil {
		log.Debugw("filetransfer: open local file failed", "err", err)
		return
	}
	defer f.Close()

	c.load.begin(cidv)
	defer c.load.end(cidv)

	buf := make([]byte, blockSize)
	remaining := size
	ack := make([]byte, 1)
	for remaining > 0 {
		want := blockSize
		if int64(want) > remaining {
			want = int(remaining)
		}
		n, err := io.ReadFull(f, buf[:want])
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				log.Debugw("filetransfer: write block failed", "err", werr)
				return
			}
			remaining -= int64(n)
		}
		if err != nil {
			log.Debugw("filetransfer: read local file failed", "err", err)
			return
		}
		if _, err := io.ReadFull(br, ack); err != nil {
			log.Debugw("filetransfer: read ack failed", "err", err)
			return
		}
	}

	var ok okMessage
	if err := dec.Decode(&ok); err != nil && err != io.EOF {
		log.Debugw("filetransfer: read terminator failed", "err", err)
	}
}
