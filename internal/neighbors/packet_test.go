package neighbors

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/test"
	ma "github.com/multiformats/go-multiaddr"
)

func TestRequestPacketRoundtrip(t *testing.T) {
	p := packet{Kind: packetRequest, RequestID: 42}
	encoded := p.encode()

	got, err := decodePacket(encoded)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if got.Kind != p.Kind || got.RequestID != p.RequestID {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
	if got.PeerID != "" || got.BatmanAddr != nil || got.DirectAddr != nil {
		t.Errorf("expected a request packet to carry no peer id or addresses, got %+v", got)
	}
}

func TestResponsePacketRoundtrip(t *testing.T) {
	pid, err := test.RandPeerID()
	if err != nil {
		t.Fatalf("RandPeerID: %v", err)
	}
	batmanAddr, err := ma.NewMultiaddr("/ip6/fe80::1/udp/4242")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	directAddr, err := ma.NewMultiaddr("/ip6/fe80::2/udp/4242")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}

	p := packet{Kind: packetResponse, RequestID: 7, PeerID: pid, BatmanAddr: batmanAddr, DirectAddr: directAddr}
	encoded := p.encode()

	got, err := decodePacket(encoded)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if got.Kind != p.Kind || got.RequestID != p.RequestID || got.PeerID != p.PeerID {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
	if got.BatmanAddr == nil || !got.BatmanAddr.Equal(batmanAddr) {
		t.Errorf("unexpected batman addr: %v", got.BatmanAddr)
	}
	if got.DirectAddr == nil || !got.DirectAddr.Equal(directAddr) {
		t.Errorf("unexpected direct addr: %v", got.DirectAddr)
	}
}

func TestDecodePacketTooShort(t *testing.T) {
	if _, err := decodePacket([]byte{0, 1, 2}); err == nil {
		t.Error("expected error for truncated packet")
	}
}
