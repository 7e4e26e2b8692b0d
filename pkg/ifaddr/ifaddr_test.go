package ifaddr

import (
	"testing"

	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

func TestFromMacAndParse(t *testing.T) {
	mac, err := macaddr.ParseEUI48("01:23:45:67:89:AB")
	if err != nil {
		t.Fatalf("ParseEUI48: %v", err)
	}
	addr, err := FromMac(mac, 3)
	if err != nil {
		t.Fatalf("FromMac: %v", err)
	}
	s := addr.String()
	want := "fe80::323:45ff:fe67:89ab%3"
	if s != want {
		t.Fatalf("String() = %q, want %q", s, want)
	}
	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.IfIndex != 3 || parsed.Addr != addr.Addr {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", parsed, addr)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("no-scope-here"); err == nil {
		t.Error("expected error for missing scope")
	}
	if _, err := Parse("not-an-addr%3"); err == nil {
		t.Error("expected error for invalid address")
	}
}
