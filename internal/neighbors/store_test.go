package neighbors

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/test"

	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

func mustMac(t *testing.T, s string) macaddr.Addr {
	t.Helper()
	m, err := macaddr.ParseEUI48(s)
	if err != nil {
		t.Fatalf("ParseEUI48(%q): %v", s, err)
	}
	return m
}

func TestUpdateAvailableDiscoversAndLoses(t *testing.T) {
	s := NewStore()
	mac1 := mustMac(t, "01:23:45:67:89:AB")
	mac2 := mustMac(t, "02:23:45:67:89:AB")
	now := time.Now()

	upd := s.UpdateAvailable(1, []macaddr.Addr{mac1, mac2}, now)
	if len(upd.Discovered) != 2 {
		t.Fatalf("expected 2 discovered, got %d", len(upd.Discovered))
	}

	upd = s.UpdateAvailable(1, []macaddr.Addr{mac1}, now)
	if len(upd.Discovered) != 0 {
		t.Errorf("expected no new discoveries, got %d", len(upd.Discovered))
	}
	if len(upd.LostUnresolved) != 1 || upd.LostUnresolved[0].String() != mac2.String() {
		t.Errorf("expected mac2 lost unresolved, got %+v", upd.LostUnresolved)
	}
}

func TestResolveThenLose(t *testing.T) {
	s := NewStore()
	mac := mustMac(t, "01:23:45:67:89:AB")
	now := time.Now()
	pid, err := test.RandPeerID()
	if err != nil {
		t.Fatalf("RandPeerID: %v", err)
	}

	s.UpdateAvailable(1, []macaddr.Addr{mac}, now)
	upd := s.Resolve(mac, 1, pid, nil, nil, now)
	if len(upd.Resolved) != 1 || upd.Resolved[0].Peer != pid {
		t.Fatalf("expected resolution to %s, got %+v", pid, upd.Resolved)
	}

	got, ok := s.PeerFor(mac)
	if !ok || got != pid {
		t.Fatalf("PeerFor = %s, %v; want %s, true", got, ok, pid)
	}

	upd = s.Remove(mac)
	if len(upd.LostResolved) != 1 || len(upd.LostPeers) != 1 || upd.LostPeers[0] != pid {
		t.Fatalf("expected lost resolved/peer, got %+v", upd)
	}
}

func TestRemoveKeepsPeerWithOtherResolvedMac(t *testing.T) {
	s := NewStore()
	mac1 := mustMac(t, "01:23:45:67:89:AB")
	mac2 := mustMac(t, "02:23:45:67:89:AB")
	now := time.Now()
	pid, err := test.RandPeerID()
	if err != nil {
		t.Fatalf("RandPeerID: %v", err)
	}

	s.Resolve(mac1, 1, pid, nil, nil, now)
	s.Resolve(mac2, 2, pid, nil, nil, now)

	upd := s.Remove(mac1)
	if len(upd.LostResolved) != 1 {
		t.Fatalf("expected mac1 lost resolved, got %+v", upd)
	}
	if len(upd.LostPeers) != 0 {
		t.Fatalf("peer still reachable via mac2, expected no lost peer, got %+v", upd.LostPeers)
	}

	upd = s.Remove(mac2)
	if len(upd.LostPeers) != 1 || upd.LostPeers[0] != pid {
		t.Fatalf("expected peer lost after last mac removed, got %+v", upd.LostPeers)
	}
}

func TestResolveRaceBeforeDiscover(t *testing.T) {
	s := NewStore()
	mac := mustMac(t, "01:23:45:67:89:AB")
	now := time.Now()
	pid, err := test.RandPeerID()
	if err != nil {
		t.Fatalf("RandPeerID: %v", err)
	}

	// Resolution arrives before the discovery poll ever saw this MAC.
	upd := s.Resolve(mac, 1, pid, nil, nil, now)
	if len(upd.Discovered) != 1 {
		t.Errorf("expected a synthetic discovery event, got %d", len(upd.Discovered))
	}
	if len(upd.Resolved) != 1 {
		t.Errorf("expected a resolved event, got %d", len(upd.Resolved))
	}
}
