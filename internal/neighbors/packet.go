package neighbors

import (
	"encoding/binary"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// packetKind discriminates the two resolver wire messages.
type packetKind uint8

const (
	packetRequest  packetKind = 0
	packetResponse packetKind = 1
)

// packet is the wire encoding of a resolver request/response: kind(1) |
// requestID(4, big-endian), followed by a response-only tail of peerIDLen(2,
// big-endian) | peerID bytes | batmanAddrLen(2) | batmanAddr bytes |
// directAddrLen(2) | directAddr bytes. A request carries only an id;
// the sender's MAC is never on the wire because the destination/source UDP
// address already correlates a reply to the probe that elicited it. A
// response carries the responder's peer ID, its batman-adv interface
// multiaddr, and the multiaddr it received the request on.
type packet struct {
	Kind       packetKind
	RequestID  uint32
	PeerID     peer.ID
	BatmanAddr ma.Multiaddr
	DirectAddr ma.Multiaddr
}

func (p packet) encode() []byte {
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], p.RequestID)

	if p.Kind == packetRequest {
		buf := make([]byte, 0, 1+4)
		buf = append(buf, byte(p.Kind))
		return append(buf, idBuf[:]...)
	}

	idBytes := []byte(p.PeerID)
	batmanBytes := maBytes(p.BatmanAddr)
	directBytes := maBytes(p.DirectAddr)

	buf := make([]byte, 0, 1+4+2+len(idBytes)+2+len(batmanBytes)+2+len(directBytes))
	buf = append(buf, byte(p.Kind))
	buf = append(buf, idBuf[:]...)
	buf = appendLenPrefixed(buf, idBytes)
	buf = appendLenPrefixed(buf, batmanBytes)
	buf = appendLenPrefixed(buf, directBytes)
	return buf
}

func maBytes(m ma.Multiaddr) []byte {
	if m == nil {
		return nil
	}
	return m.Bytes()
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

func readLenPrefixed(b []byte, off int) (field []byte, next int, err error) {
	if len(b) < off+2 {
		return nil, 0, fmt.Errorf("neighbors: resolver packet truncated length prefix")
	}
	flen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if len(b) < off+flen {
		return nil, 0, fmt.Errorf("neighbors: resolver packet truncated field")
	}
	return b[off : off+flen], off + flen, nil
}

func decodePacket(b []byte) (packet, error) {
	if len(b) < 5 {
		return packet{}, fmt.Errorf("neighbors: resolver packet too short (%d bytes)", len(b))
	}
	kind := packetKind(b[0])
	id := binary.BigEndian.Uint32(b[1:5])

	if kind == packetRequest {
		return packet{Kind: kind, RequestID: id}, nil
	}

	off := 5
	idBytes, off, err := readLenPrefixed(b, off)
	if err != nil {
		return packet{}, err
	}
	pid := peer.ID(idBytes)

	p := packet{Kind: kind, RequestID: id, PeerID: pid}

	batmanBytes, off, err := readLenPrefixed(b, off)
	if err != nil {
		return packet{}, err
	}
	if len(batmanBytes) > 0 {
		if p.BatmanAddr, err = ma.NewMultiaddrBytes(batmanBytes); err != nil {
			return packet{}, fmt.Errorf("neighbors: decode batman addr: %w", err)
		}
	}

	directBytes, _, err := readLenPrefixed(b, off)
	if err != nil {
		return packet{}, err
	}
	if len(directBytes) > 0 {
		if p.DirectAddr, err = ma.NewMultiaddrBytes(directBytes); err != nil {
			return packet{}, fmt.Errorf("neighbors: decode direct addr: %w", err)
		}
	}

	return p, nil
}
