package fcid

import "testing"

func TestFilenameRoundtrip(t *testing.T) {
	sum := HashContents([]byte("hello world"))
	c := New(sum, nil)
	name := c.Filename()
	got, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q): %v", name, err)
	}
	if got.ULID != c.ULID {
		t.Errorf("ULID mismatch: got %s, want %s", got.ULID, c.ULID)
	}
	if got.SHA256 != c.SHA256 {
		t.Errorf("SHA256 mismatch")
	}
}

func TestParseFilenameMalformed(t *testing.T) {
	if _, err := ParseFilename("not-a-valid-name.data"); err == nil {
		t.Error("expected error for malformed filename")
	}
	sum := HashContents([]byte("x"))
	noSuffix := New(sum, nil)
	if _, err := ParseFilename(noSuffix.ULID.String()); err == nil {
		t.Error("expected error for filename without .data suffix")
	}
}

func TestRecordKey(t *testing.T) {
	key := RecordKey("my-topic", []byte("key-bytes"))
	if len(key) != 4+len("my-topic")+len("key-bytes") {
		t.Fatalf("unexpected key length %d", len(key))
	}
	other := RecordKey("other", []byte("key-bytes"))
	if string(key) == string(other) {
		t.Error("different topics should yield different keys")
	}
}
