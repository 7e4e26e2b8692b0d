package bridge

// These request/response shapes are the JSON-over-gRPC wire contract
// exposed to application containers. Field names are part of the interface
// surface and deliberately plain (no protobuf tags) since there is no IDL
// backing them.

// PutRecordRequest asks the daemon to store a DHT record.
type PutRecordRequest struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// PutRecordResponse acknowledges a PutRecordRequest.
type PutRecordResponse struct {
	Error string `json:"error,omitempty"`
}

// GetRecordRequest asks the daemon to look up a DHT record, streaming back
// every distinct value observed.
type GetRecordRequest struct {
	Key []byte `json:"key"`
}

// GetRecordResponse is one value observed for a GetRecordRequest.
type GetRecordResponse struct {
	Value []byte `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// StartProvidingRequest announces this node as a provider of a key.
type StartProvidingRequest struct {
	Key []byte `json:"key"`
}

// StartProvidingResponse acknowledges a StartProvidingRequest.
type StartProvidingResponse struct {
	Error string `json:"error,omitempty"`
}

// GetProvidersRequest looks up providers of a key, streaming back each one.
type GetProvidersRequest struct {
	Key []byte `json:"key"`
}

// GetProvidersResponse is one discovered provider.
type GetProvidersResponse struct {
	PeerID string `json:"peerId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PublishRequest broadcasts data on a gossipsub topic.
type PublishRequest struct {
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
}

// PublishResponse acknowledges a PublishRequest.
type PublishResponse struct {
	Error string `json:"error,omitempty"`
}

// SubscribeRequest joins a gossipsub topic, streaming back every message.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// SubscribeResponse is one message received on a subscribed topic.
type SubscribeResponse struct {
	FromPeerID string `json:"fromPeerId,omitempty"`
	Data       []byte `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SendRequestRequest sends a req-resp request to a peer. Topic is optional:
// a nil/absent Topic sends a topic-less request, which only a subscriber
// that registered with a nil TopicQuery (see ReceiveRequestsRequest) ever
// receives.
type SendRequestRequest struct {
	PeerID string  `json:"peerId"`
	Topic  *string `json:"topic,omitempty"`
	Data   []byte  `json:"data"`
}

// SendRequestResponse carries the reply, or a failure reason.
type SendRequestResponse struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReceiveRequestsRequest subscribes to inbound req-resp requests whose topic
// matches a literal string or, if Regex is true, a regular expression. A nil
// TopicQuery subscribes to topic-less requests only (a request with no
// topic of its own); Regex is meaningless in that case.
type ReceiveRequestsRequest struct {
	TopicQuery *string `json:"topicQuery,omitempty"`
	Regex      bool    `json:"regex"`
}

// InboundRequestMsg is one inbound request delivered to a subscriber. Topic
// is nil when the request carried no topic.
type InboundRequestMsg struct {
	RequestID  uint64  `json:"requestId"`
	FromPeerID string  `json:"fromPeerId"`
	Topic      *string `json:"topic,omitempty"`
	Data       []byte  `json:"data"`
	Error      string  `json:"error,omitempty"`
}

// RespondRequest answers a previously received InboundRequestMsg.
type RespondRequest struct {
	RequestID uint64 `json:"requestId"`
	Data      []byte `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RespondResponse acknowledges a RespondRequest.
type RespondResponse struct {
	Error string `json:"error,omitempty"`
}

// GetPeerIDRequest asks the daemon for its own peer ID.
type GetPeerIDRequest struct{}

// GetPeerIDResponse carries the daemon's peer ID.
type GetPeerIDResponse struct {
	PeerID string `json:"peerId"`
}

// GetKnownPeersRequest asks the daemon which peers it currently knows.
type GetKnownPeersRequest struct{}

// GetKnownPeersResponse lists known peer IDs.
type GetKnownPeersResponse struct {
	PeerIDs []string `json:"peerIds"`
}

// --- File transfer ---

// ProvideChunk is one chunk of a client-streamed file upload. The client
// half-closes the stream after the final chunk.
type ProvideChunk struct {
	Data []byte `json:"data"`
}

// ProvideResponse carries the Cid assigned to a completed upload, or a
// failure reason.
type ProvideResponse struct {
	ULID   []byte `json:"ulid,omitempty"`
	SHA256 []byte `json:"sha256,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GetFileRequest asks the daemon to fetch and stream back the file
// identified by a Cid.
type GetFileRequest struct {
	ULID   []byte `json:"ulid"`
	SHA256 []byte `json:"sha256"`
}

// GetFileResponse is one item of a server-streamed file download: zero or
// more Percent progress updates, then a run of Data chunks, terminated by
// stream close, or, at any point, a single Error as the stream's last
// message.
type GetFileResponse struct {
	Percent *uint64 `json:"percent,omitempty"`
	Data    []byte  `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// --- Discovery ---

// GetNeighboursRequest asks the daemon for its current resolved neighbor
// set.
type GetNeighboursRequest struct{}

// Neighbour is one resolved direct mesh neighbor.
type Neighbour struct {
	PeerID     string `json:"peerId"`
	Interface  uint32 `json:"interface"`
	DirectAddr string `json:"directAddr,omitempty"`
	BatmanAddr string `json:"batmanAddr,omitempty"`
}

// GetNeighboursResponse lists every currently resolved neighbor.
type GetNeighboursResponse struct {
	Neighbours []Neighbour `json:"neighbours"`
}
