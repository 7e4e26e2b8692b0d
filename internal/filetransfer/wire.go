package filetransfer

import (
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/oklog/ulid/v2"

	"github.com/p2p-industries/hyveos/pkg/fcid"
)

// StreamProtocolID identifies the file-transfer stream protocol.
const StreamProtocolID = protocol.ID("/file-transfer/0.1.0")

// TopK bounds how many non-neighbor providers are ranked by load before
// falling back to a sequential scan of the rest.
const TopK = 10

// blockSize bounds how much file data the provider pushes before it must
// wait for the next ack byte, giving the reader backpressure without a
// separate flow-control protocol.
const blockSize = 32 * 1024

// ackByte is written by the client after draining each block.
const ackByte = 0x01

// wireCid is the CBOR-serializable form of fcid.Cid.
type wireCid struct {
	ULID   [16]byte `cbor:"ulid"`
	SHA256 [32]byte `cbor:"sha256"`
}

func toWireCid(c fcid.Cid) wireCid {
	return wireCid{ULID: [16]byte(c.ULID), SHA256: c.SHA256}
}

func (w wireCid) toCid() fcid.Cid {
	return fcid.FromParts(ulid.ULID(w.ULID), w.SHA256)
}

// getCidRequest is step 1 of the protocol: the requester states which Cid
// it wants.
type getCidRequest struct {
	Cid wireCid `cbor:"cid"`
}

// existenceInfo is the payload of a present Cid response: the provider's
// current load (for requester-side scoring) and the file's length.
type existenceInfo struct {
	TotalStreams uint64 `cbor:"total_streams"`
	StreamsOnCid uint64 `cbor:"streams_on_cid"`
	Length       uint64 `cbor:"length"`
}

// cidResponse is step 2: Info is nil for Cid(None), set for Cid(Some(..)).
type cidResponse struct {
	Info *existenceInfo `cbor:"info,omitempty"`
}

// startStreamRequest is step 3, sent only when the provider reported the
// Cid present.
type startStreamRequest struct{}

// okMessage is step 6, the client's terminator after the byte stream has
// been fully drained and acked.
type okMessage struct{}
