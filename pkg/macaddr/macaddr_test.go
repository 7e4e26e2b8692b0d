package macaddr

import "testing"

func TestToEUI64(t *testing.T) {
	mac, err := ParseEUI48("01:23:45:67:89:AB")
	if err != nil {
		t.Fatalf("ParseEUI48: %v", err)
	}
	eui64, err := mac.ToEUI64()
	if err != nil {
		t.Fatalf("ToEUI64: %v", err)
	}
	got := eui64.String()
	want := "03:23:45:ff:fe:67:89:ab"
	if got != want {
		t.Errorf("ToEUI64() = %q, want %q", got, want)
	}
}

func TestLinkLocalAddr(t *testing.T) {
	mac, err := ParseEUI48("01:23:45:67:89:AB")
	if err != nil {
		t.Fatalf("ParseEUI48: %v", err)
	}
	addr, err := mac.LinkLocalAddr()
	if err != nil {
		t.Fatalf("LinkLocalAddr: %v", err)
	}
	want := "fe80::323:45ff:fe67:89ab"
	if addr.String() != want {
		t.Errorf("LinkLocalAddr() = %q, want %q", addr.String(), want)
	}
}

func TestParseEUI48Invalid(t *testing.T) {
	if _, err := ParseEUI48("not-a-mac"); err == nil {
		t.Error("expected error for malformed address")
	}
	if _, err := ParseEUI48("01:23:45:67:89"); err == nil {
		t.Error("expected error for short address")
	}
}

func TestEUI64Roundtrip(t *testing.T) {
	b := [8]byte{0x03, 0x23, 0x45, 0xff, 0xfe, 0x67, 0x89, 0xab}
	a := NewEUI64(b)
	if a.Len != 8 {
		t.Fatalf("Len = %d, want 8", a.Len)
	}
	if got := a.Bytes(); len(got) != 8 {
		t.Errorf("Bytes() len = %d, want 8", len(got))
	}
}
