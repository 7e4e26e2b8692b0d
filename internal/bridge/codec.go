// Package bridge fans libp2p DHT/pubsub/req-resp/file-transfer/debug
// operations out to per-application gRPC servers over Unix domain sockets.
// There is no .proto IDL for this surface, so the services are registered
// with a JSON codec instead of compiled protobuf stubs.
package bridge

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "hyveos-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/json, so grpc's real transport, streaming, and service dispatch
// are exercised without fabricated protobuf-generated stubs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bridge: unmarshal: %w", err)
	}
	return nil
}
