// Package neighbors tracks batman-adv layer-2 neighbors and resolves their
// MAC addresses into libp2p peer IDs.
package neighbors

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

// Unresolved is a neighbor whose MAC has been seen on an interface but whose
// peer ID is not yet known.
type Unresolved struct {
	Mac     macaddr.Addr
	IfIndex uint32
	SeenAt  time.Time
}

// Resolved is a neighbor whose MAC has been mapped to a peer ID. DirectAddr
// is the multiaddr on IfIndex the resolution handshake observed; BatmanAddr
// is the peer's own batman-adv interface address, learned from its Response
// packet and nil until a handshake supplies one.
type Resolved struct {
	Mac        macaddr.Addr
	IfIndex    uint32
	Peer       peer.ID
	DirectAddr ma.Multiaddr
	BatmanAddr ma.Multiaddr
}

// Update describes the net effect of a Store mutation: every MAC that
// started being tracked, every MAC that got resolved, and everything that
// dropped out.
type Update struct {
	Discovered     []Unresolved
	Resolved       []Resolved
	LostUnresolved []macaddr.Addr
	LostResolved   []Resolved
	LostPeers      []peer.ID
}

func (u Update) isEmpty() bool {
	return len(u.Discovered) == 0 && len(u.Resolved) == 0 &&
		len(u.LostUnresolved) == 0 && len(u.LostResolved) == 0 && len(u.LostPeers) == 0
}

// Combine merges two updates into one, in emission order.
func Combine(a, b Update) Update {
	return Update{
		Discovered:     append(append([]Unresolved{}, a.Discovered...), b.Discovered...),
		Resolved:       append(append([]Resolved{}, a.Resolved...), b.Resolved...),
		LostUnresolved: append(append([]macaddr.Addr{}, a.LostUnresolved...), b.LostUnresolved...),
		LostResolved:   append(append([]Resolved{}, a.LostResolved...), b.LostResolved...),
		LostPeers:      append(append([]peer.ID{}, a.LostPeers...), b.LostPeers...),
	}
}

type macKey string

func keyOf(m macaddr.Addr) macKey { return macKey(m.String()) }

// Store holds the set of MAC addresses currently visible via batman-adv on
// each interface, split between those awaiting resolution and those already
// mapped to a peer ID. pending and resolved are keyed by MAC alone: a MAC
// seen on two interfaces keeps one entry (a pending entry keeps the IfIndex
// it was first seen on, a resolved entry the IfIndex it was resolved on),
// while a peer with a distinct MAC per interface keeps one entry each.
type Store struct {
	mu sync.Mutex

	available map[uint32]map[macKey]macaddr.Addr // ifIndex -> mac set
	pending   map[macKey]Unresolved
	resolved  map[macKey]Resolved
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		available: make(map[uint32]map[macKey]macaddr.Addr),
		pending:   make(map[macKey]Unresolved),
		resolved:  make(map[macKey]Resolved),
	}
}

// UpdateAvailable replaces the set of MACs visible on ifIndex with macs,
// computing which ones newly appeared (discovered, if not already resolved)
// and which disappeared (lost).
func (s *Store) UpdateAvailable(ifIndex uint32, macs []macaddr.Addr, now time.Time) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[macKey]macaddr.Addr, len(macs))
	for _, m := range macs {
		next[keyOf(m)] = m
	}

	prev := s.available[ifIndex]
	var update Update

	for k, m := range next {
		if prev != nil {
			if _, ok := prev[k]; ok {
				continue
			}
		}
		if _, alreadyResolved := s.resolved[k]; alreadyResolved {
			continue
		}
		if _, alreadyPending := s.pending[k]; alreadyPending {
			continue
		}
		u := Unresolved{Mac: m, IfIndex: ifIndex, SeenAt: now}
		s.pending[k] = u
		update.Discovered = append(update.Discovered, u)
	}

	for k, m := range prev {
		if _, stillPresent := next[k]; stillPresent {
			continue
		}
		update = Combine(update, s.removeLocked(m))
	}

	s.available[ifIndex] = next
	return update
}

// Resolve maps mac to pid, moving it out of the pending set. If mac has not
// yet been observed as available (a resolution response racing ahead of the
// discovery poll), it is admitted directly into the resolved set and BOTH a
// discovered and a resolved event are emitted.
func (s *Store) Resolve(mac macaddr.Addr, ifIndex uint32, pid peer.ID, directAddr, batmanAddr ma.Multiaddr, now time.Time) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(mac)
	var update Update

	if _, wasPending := s.pending[k]; !wasPending {
		if _, wasResolved := s.resolved[k]; !wasResolved {
			update.Discovered = append(update.Discovered, Unresolved{Mac: mac, IfIndex: ifIndex, SeenAt: now})
		}
	}
	delete(s.pending, k)

	r := Resolved{Mac: mac, IfIndex: ifIndex, Peer: pid, DirectAddr: directAddr, BatmanAddr: batmanAddr}
	s.resolved[k] = r
	update.Resolved = append(update.Resolved, r)
	return update
}

// Remove drops mac from whichever set it is currently tracked in.
func (s *Store) Remove(mac macaddr.Addr) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(mac)
}

func (s *Store) removeLocked(mac macaddr.Addr) Update {
	k := keyOf(mac)
	var update Update
	if r, ok := s.resolved[k]; ok {
		delete(s.resolved, k)
		update.LostResolved = append(update.LostResolved, r)
		if !s.hasOtherResolvedLocked(r.Peer) {
			update.LostPeers = append(update.LostPeers, r.Peer)
		}
		return update
	}
	if _, ok := s.pending[k]; ok {
		delete(s.pending, k)
		update.LostUnresolved = append(update.LostUnresolved, mac)
	}
	return update
}

// hasOtherResolvedLocked reports whether pid still has a resolved MAC after
// the one currently being removed. Callers must hold s.mu.
func (s *Store) hasOtherResolvedLocked(pid peer.ID) bool {
	for _, r := range s.resolved {
		if r.Peer == pid {
			return true
		}
	}
	return false
}

// AllResolved returns a snapshot of every currently resolved neighbor.
func (s *Store) AllResolved() []Resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resolved, 0, len(s.resolved))
	for _, r := range s.resolved {
		out = append(out, r)
	}
	return out
}

// ResolvedPeers returns every currently resolved peer ID, deduplicated
// across interfaces. Satisfies filetransfer.NeighborLister, letting the
// file-transfer client prioritize directly-reachable peers when scoring
// download providers.
func (s *Store) ResolvedPeers() []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[peer.ID]struct{}, len(s.resolved))
	out := make([]peer.ID, 0, len(s.resolved))
	for _, r := range s.resolved {
		if _, ok := seen[r.Peer]; ok {
			continue
		}
		seen[r.Peer] = struct{}{}
		out = append(out, r.Peer)
	}
	return out
}

// Pending returns a snapshot of every MAC still awaiting resolution.
func (s *Store) Pending() []Unresolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Unresolved, 0, len(s.pending))
	for _, u := range s.pending {
		out = append(out, u)
	}
	return out
}

// PeerFor returns the resolved peer ID for mac, if any.
func (s *Store) PeerFor(mac macaddr.Addr) (peer.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolved[keyOf(mac)]
	if !ok {
		return "", false
	}
	return r.Peer, true
}
