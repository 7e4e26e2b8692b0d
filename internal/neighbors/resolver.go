package neighbors

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sys/unix"

	"github.com/p2p-industries/hyveos/pkg/ifaddr"
	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

var log = golog.Logger("neighbors")

// ResolveResult is delivered when a resolver either hears back from a
// neighbor or gives up on it. DirectAddr and BatmanAddr are only populated
// when Ok is true, carrying the addresses from the responder's Response
// packet.
type ResolveResult struct {
	Mac        macaddr.Addr
	IfIndex    uint32
	Peer       peer.ID
	Ok         bool
	DirectAddr ma.Multiaddr
	BatmanAddr ma.Multiaddr
}

// Resolver sends periodic UDP probes to a single interface's link-local
// neighbors and reports back which MACs answered (together with the
// responder's peer ID) or gave up, retrying up to a fixed number of times
// before giving up on each one. Two sockets per interface: one bound to the
// interface address to receive neighbors' probes, a second ephemeral-port
// socket to send from, on which the Responses to our own probes arrive.
type Resolver struct {
	ifAddr     ifaddr.IfAddr
	selfPeer   peer.ID
	batmanAddr ma.Multiaddr
	directAddr ma.Multiaddr
	port       uint16
	retries    int
	period     time.Duration

	recvConn *net.UDPConn
	sendConn *net.UDPConn

	mu      sync.Mutex
	pending map[uint32]*pendingResolve

	results chan ResolveResult
}

type pendingResolve struct {
	mac      macaddr.Addr
	tries    int
	timer    *time.Timer
	canceled bool
}

// NewResolver opens the resolver's sockets for the given interface address
// and UDP port. selfPeer is advertised to neighbors that probe us, along
// with batmanAddr (this node's own batman-adv interface multiaddr, nil if
// not yet known) in every Response.
func NewResolver(ifa ifaddr.IfAddr, selfPeer peer.ID, batmanAddr ma.Multiaddr, port uint16, retries int, period time.Duration) (*Resolver, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr == nil {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	recvPC, err := lc.ListenPacket(context.Background(), "udp6", ifa.WithPort(port))
	if err != nil {
		return nil, fmt.Errorf("neighbors: resolver recv socket on %s: %w", ifa, err)
	}
	recvConn := recvPC.(*net.UDPConn)

	sendPC, err := net.ListenPacket("udp6", fmt.Sprintf("[%s%%%d]:0", ifa.Addr, ifa.IfIndex))
	if err != nil {
		recvConn.Close()
		return nil, fmt.Errorf("neighbors: resolver send socket on %s: %w", ifa, err)
	}

	directAddr, err := ifa.Multiaddr()
	if err != nil {
		recvConn.Close()
		sendPC.Close()
		return nil, fmt.Errorf("neighbors: derive direct addr for %s: %w", ifa, err)
	}

	r := &Resolver{
		ifAddr:     ifa,
		selfPeer:   selfPeer,
		batmanAddr: batmanAddr,
		directAddr: directAddr,
		port:       port,
		retries:    retries,
		period:     period,
		recvConn:   recvConn,
		sendConn:   sendPC.(*net.UDPConn),
		pending:    make(map[uint32]*pendingResolve),
		results:    make(chan ResolveResult, 16),
	}
	go r.recvLoop(r.recvConn)
	go r.recvLoop(r.sendConn)
	return r, nil
}

// Results returns the channel on which resolution outcomes are delivered.
func (r *Resolver) Results() <-chan ResolveResult { return r.results }

// Close shuts down both sockets and stops all pending retry timers.
func (r *Resolver) Close() error {
	r.mu.Lock()
	for _, p := range r.pending {
		p.canceled = true
		p.timer.Stop()
	}
	r.mu.Unlock()
	r.recvConn.Close()
	return r.sendConn.Close()
}

// Resolve begins probing mac, retrying up to r.retries times at r.period
// intervals before reporting failure on Results().
func (r *Resolver) Resolve(mac macaddr.Addr) {
	r.mu.Lock()
	id := r.newIDLocked()
	p := &pendingResolve{mac: mac}
	p.timer = time.AfterFunc(r.period, func() { r.onTimeout(id) })
	r.pending[id] = p
	r.mu.Unlock()

	r.sendProbe(id, mac)
}

// newIDLocked picks a request id not currently in flight. Each probe
// attempt gets its own id, so a late response to an expired attempt never
// matches.
func (r *Resolver) newIDLocked() uint32 {
	for {
		id := rand.Uint32()
		if _, ok := r.pending[id]; !ok {
			return id
		}
	}
}

func (r *Resolver) sendProbe(id uint32, mac macaddr.Addr) {
	dst, err := mac.LinkLocalAddr()
	if err != nil {
		log.Warnw("cannot derive link-local address", "mac", mac, "err", err)
		return
	}
	addr := &net.UDPAddr{IP: dst.AsSlice(), Port: int(r.port), Zone: fmt.Sprintf("%d", r.ifAddr.IfIndex)}
	pkt := packet{Kind: packetRequest, RequestID: id}
	if _, err := r.sendConn.WriteTo(pkt.encode(), addr); err != nil {
		log.Debugw("resolver probe send failed", "mac", mac, "err", err)
	}
}

func (r *Resolver) onTimeout(id uint32) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok || p.canceled {
		r.mu.Unlock()
		return
	}
	p.tries++
	if p.tries > r.retries {
		delete(r.pending, id)
		r.mu.Unlock()
		r.results <- ResolveResult{Mac: p.mac, IfIndex: r.ifAddr.IfIndex, Ok: false}
		return
	}
	delete(r.pending, id)
	retryID := r.newIDLocked()
	p.timer = time.AfterFunc(r.period, func() { r.onTimeout(retryID) })
	r.pending[retryID] = p
	r.mu.Unlock()
	r.sendProbe(retryID, p.mac)
}

func (r *Resolver) recvLoop(conn *net.UDPConn) {
	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt, err := decodePacket(buf[:n])
		if err != nil {
			continue
		}
		switch pkt.Kind {
		case packetRequest:
			reply := packet{
				Kind:       packetResponse,
				RequestID:  pkt.RequestID,
				PeerID:     r.selfPeer,
				BatmanAddr: r.batmanAddr,
				DirectAddr: r.directAddr,
			}
			if _, err := r.sendConn.WriteTo(reply.encode(), from); err != nil {
				log.Debugw("resolver reply send failed", "err", err)
			}
		case packetResponse:
			r.mu.Lock()
			p, ok := r.pending[pkt.RequestID]
			if ok {
				p.canceled = true
				p.timer.Stop()
				delete(r.pending, pkt.RequestID)
			}
			r.mu.Unlock()
			if ok {
				r.results <- ResolveResult{
					Mac:        p.mac,
					IfIndex:    r.ifAddr.IfIndex,
					Peer:       pkt.PeerID,
					Ok:         true,
					DirectAddr: pkt.DirectAddr,
					BatmanAddr: pkt.BatmanAddr,
				}
			}
		}
	}
}
