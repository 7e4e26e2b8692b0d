// Package macaddr implements EUI-48 and EUI-64 hardware addresses and the
// EUI-48 -> EUI-64 -> IPv6 link-local derivation used to turn a batman-adv
// neighbor's MAC address into an address the resolver can dial.
package macaddr

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
)

// Addr is a MAC address of either 6 (EUI-48) or 8 (EUI-64) octets. Both
// widths share one representation: the extra two bytes are simply unused
// when Len is 6.
type Addr struct {
	bytes [8]byte
	Len   int
}

// NewEUI48 builds a 6-octet MAC address.
func NewEUI48(b [6]byte) Addr {
	var a Addr
	copy(a.bytes[:6], b[:])
	a.Len = 6
	return a
}

// NewEUI64 builds an 8-octet MAC address.
func NewEUI64(b [8]byte) Addr {
	return Addr{bytes: b, Len: 8}
}

// Bytes returns the address octets.
func (a Addr) Bytes() []byte {
	return append([]byte(nil), a.bytes[:a.Len]...)
}

func (a Addr) String() string {
	parts := make([]string, a.Len)
	for i := 0; i < a.Len; i++ {
		parts[i] = hex.EncodeToString(a.bytes[i : i+1])
	}
	return strings.Join(parts, ":")
}

// ParseEUI48 parses a colon-separated 6-octet MAC address.
func ParseEUI48(s string) (Addr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Addr{}, fmt.Errorf("macaddr: %q is not a 6-octet address", s)
	}
	var b [6]byte
	for i, p := range parts {
		v, err := hex.DecodeString(p)
		if err != nil || len(v) != 1 {
			return Addr{}, fmt.Errorf("macaddr: invalid octet %q in %q", p, s)
		}
		b[i] = v[0]
	}
	return NewEUI48(b), nil
}

// ToEUI64 expands a 6-octet address into its 8-octet modified-EUI-64 form:
// insert 0xFF,0xFE in the middle and flip the universal/local bit (0x02) of
// the first octet.
func (a Addr) ToEUI64() (Addr, error) {
	if a.Len != 6 {
		return Addr{}, fmt.Errorf("macaddr: ToEUI64 requires a 6-octet address, got %d", a.Len)
	}
	var out [8]byte
	out[0] = a.bytes[0] ^ 0x02
	out[1] = a.bytes[1]
	out[2] = a.bytes[2]
	out[3] = 0xFF
	out[4] = 0xFE
	out[5] = a.bytes[3]
	out[6] = a.bytes[4]
	out[7] = a.bytes[5]
	return NewEUI64(out), nil
}

// LinkLocalAddr derives the fe80::/64 IPv6 link-local address corresponding
// to this EUI-64 address (or the EUI-48 address's EUI-64 expansion).
func (a Addr) LinkLocalAddr() (netip.Addr, error) {
	eui64 := a
	if a.Len == 6 {
		var err error
		eui64, err = a.ToEUI64()
		if err != nil {
			return netip.Addr{}, err
		}
	}
	if eui64.Len != 8 {
		return netip.Addr{}, fmt.Errorf("macaddr: LinkLocalAddr requires an 8-octet address, got %d", eui64.Len)
	}
	var ip [16]byte
	ip[0], ip[1] = 0xfe, 0x80
	copy(ip[8:], eui64.bytes[:8])
	return netip.AddrFrom16(ip), nil
}
