// Package ifaddr implements the scoped IPv6 link-local address type used
// throughout the neighbor resolver and discovery sub-actor.
package ifaddr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

// IfAddr pairs an IPv6 address with the interface index it is scoped to,
// mirroring a scoped link-local address ("addr%ifindex" in Unix notation).
type IfAddr struct {
	IfIndex uint32
	Addr    netip.Addr
}

// FromMac derives the IfAddr for a neighbor's MAC address on a given
// interface index.
func FromMac(mac macaddr.Addr, ifIndex uint32) (IfAddr, error) {
	addr, err := mac.LinkLocalAddr()
	if err != nil {
		return IfAddr{}, err
	}
	return IfAddr{IfIndex: ifIndex, Addr: addr}, nil
}

func (a IfAddr) String() string {
	return fmt.Sprintf("%s%%%d", a.Addr.String(), a.IfIndex)
}

// Parse parses the "addr%scope" notation produced by String.
func Parse(s string) (IfAddr, error) {
	idx := strings.LastIndexByte(s, '%')
	if idx < 0 {
		return IfAddr{}, fmt.Errorf("ifaddr: missing scope in %q", s)
	}
	addr, err := netip.ParseAddr(s[:idx])
	if err != nil {
		return IfAddr{}, fmt.Errorf("ifaddr: invalid address in %q: %w", s, err)
	}
	scope, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return IfAddr{}, fmt.Errorf("ifaddr: invalid scope in %q: %w", s, err)
	}
	return IfAddr{IfIndex: uint32(scope), Addr: addr}, nil
}

// WithPort returns a UDPAddrFromAddrPort-compatible string for dialing.
func (a IfAddr) WithPort(port uint16) string {
	return fmt.Sprintf("[%s%%%d]:%d", a.Addr.String(), a.IfIndex, port)
}

// Multiaddr converts the address into a bare /ip6/<addr> multiaddr
// component (no zone, no transport suffix), for use when building a libp2p
// listen address on a discovered neighbor's link-local address.
func (a IfAddr) Multiaddr() (ma.Multiaddr, error) {
	return ma.NewMultiaddr(fmt.Sprintf("/ip6/%s", a.Addr.String()))
}
