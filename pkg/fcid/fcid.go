// Package fcid implements the content identifier used by the file-transfer
// engine: a ULID (for uniqueness and roughly-sortable allocation order) paired
// with the SHA-256 digest of the file's contents (for integrity
// verification).
package fcid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Cid identifies a stored file.
type Cid struct {
	ULID   ulid.ULID
	SHA256 [32]byte
}

// New mints a fresh Cid for a file whose contents hash to sum, using entropy
// from the given source (pass nil to use the default monotonic entropy
// source seeded from crypto/rand).
func New(sum [32]byte, entropy ulid.MonotonicReader) Cid {
	if entropy == nil {
		entropy = defaultEntropy
	}
	id := ulid.MustNew(ulid.Now(), entropy)
	return Cid{ULID: id, SHA256: sum}
}

var defaultEntropy = ulid.Monotonic(rand.Reader, 0)

// Filename returns the on-disk filename for this Cid:
// "<ulid>+<base64url(sha256)>.data".
func (c Cid) Filename() string {
	digest := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(c.SHA256[:])
	return fmt.Sprintf("%s+%s.data", c.ULID.String(), digest)
}

// ParseFilename parses a filename produced by Filename. The ".data" suffix
// is required, so directory listings can use a parse failure to skip
// unrelated files.
func ParseFilename(name string) (Cid, error) {
	name, ok := strings.CutSuffix(name, ".data")
	if !ok {
		return Cid{}, fmt.Errorf("fcid: missing .data suffix in %q", name)
	}
	parts := strings.SplitN(name, "+", 2)
	if len(parts) != 2 {
		return Cid{}, fmt.Errorf("fcid: malformed filename %q", name)
	}
	id, err := ulid.ParseStrict(parts[0])
	if err != nil {
		return Cid{}, fmt.Errorf("fcid: bad ulid in %q: %w", name, err)
	}
	digest, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(parts[1])
	if err != nil || len(digest) != 32 {
		return Cid{}, fmt.Errorf("fcid: bad digest in %q", name)
	}
	var sum [32]byte
	copy(sum[:], digest)
	return Cid{ULID: id, SHA256: sum}, nil
}

// FromParts reconstructs a Cid from an already-known ULID and digest, as
// opposed to New which mints a fresh ULID. Used when a Cid arrives encoded
// over the wire (file-transfer messages, deploy requests, bridge calls) rather than being
// created locally from file contents.
func FromParts(id ulid.ULID, sum [32]byte) Cid {
	return Cid{ULID: id, SHA256: sum}
}

// HashContents computes the digest fed to New for a byte slice's contents.
func HashContents(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RecordKey builds the length-framed DHT record key "len(topic) || topic ||
// key" used to address both plain records and provider records scoped to a
// topic.
func RecordKey(topic string, key []byte) []byte {
	out := make([]byte, 0, 4+len(topic)+len(key))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(topic)))
	out = append(out, lenBuf[:]...)
	out = append(out, topic...)
	out = append(out, key...)
	return out
}
