package subactors

import (
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Debug exposes the minimal swarm introspection surface: the set of known
// peers, which the bridge's Debug service serves, and their addresses.
type Debug struct {
	h host.Host
}

// NewDebug wraps h for introspection.
func NewDebug(h host.Host) *Debug {
	return &Debug{h: h}
}

// KnownPeers returns every peer ID the host's peerstore currently knows,
// excluding ourselves.
func (d *Debug) KnownPeers() []peer.ID {
	self := d.h.ID()
	ids := d.h.Peerstore().Peers()
	out := make([]peer.ID, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// AddrsFor returns the multiaddrs the peerstore knows for pid.
func (d *Debug) AddrsFor(pid peer.ID) []string {
	addrs := d.h.Peerstore().Addrs(pid)
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
