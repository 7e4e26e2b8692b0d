package bridge

import (
	"bytes"
	"context"
	"io"
	"os"

	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/p2p-industries/hyveos/internal/filetransfer"
	"github.com/p2p-industries/hyveos/internal/neighbors"
	"github.com/p2p-industries/hyveos/internal/swarm"
	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
	"github.com/p2p-industries/hyveos/pkg/fcid"
)

var log = golog.Logger("bridge")

// Server implements every bridge RPC method on top of a *swarm.Client plus
// the file-transfer client and neighbor store, translating wire messages
// into internal calls and back. One Server is constructed per BridgeSession,
// sharing a single swarm.Client clone.
type Server struct {
	swarm      *swarm.Client
	ft         *filetransfer.Client
	neighbors  *neighbors.Store
	responders *pendingResponders
}

// NewServer wraps a swarm client clone, the daemon's file-transfer client,
// and its neighbor store. The caller owns cl's lifetime.
func NewServer(cl *swarm.Client, ft *filetransfer.Client, neighborStore *neighbors.Store) *Server {
	return &Server{swarm: cl, ft: ft, neighbors: neighborStore, responders: newPendingResponders()}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// --- DHT ---

func (s *Server) putRecord(ctx context.Context, req *PutRecordRequest) (*PutRecordResponse, error) {
	err := s.swarm.PutRecord(ctx, req.Key, req.Value)
	return &PutRecordResponse{Error: errString(err)}, nil
}

func (s *Server) getRecord(req *GetRecordRequest, stream grpc.ServerStream) error {
	results, err := s.swarm.GetRecord(stream.Context(), req.Key)
	if err != nil {
		return stream.SendMsg(&GetRecordResponse{Error: errString(err)})
	}
	for res := range results {
		if err := stream.SendMsg(&GetRecordResponse{Value: res.Value, Error: errString(res.Err)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) startProviding(ctx context.Context, req *StartProvidingRequest) (*StartProvidingResponse, error) {
	err := s.swarm.StartProviding(ctx, req.Key)
	return &StartProvidingResponse{Error: errString(err)}, nil
}

func (s *Server) getProviders(req *GetProvidersRequest, stream grpc.ServerStream) error {
	results, err := s.swarm.GetProviders(stream.Context(), req.Key)
	if err != nil {
		return stream.SendMsg(&GetProvidersResponse{Error: errString(err)})
	}
	for res := range results {
		if err := stream.SendMsg(&GetProvidersResponse{PeerID: res.Peer.String(), Error: errString(res.Err)}); err != nil {
			return err
		}
	}
	return nil
}

// --- Pub-sub ---

func (s *Server) publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	err := s.swarm.Publish(ctx, req.Topic, req.Data)
	return &PublishResponse{Error: errString(err)}, nil
}

func (s *Server) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	res, err := s.swarm.Subscribe(stream.Context(), req.Topic)
	if err != nil {
		return stream.SendMsg(&SubscribeResponse{Error: errString(err)})
	}
	defer s.swarm.Unsubscribe(context.Background(), req.Topic, res.Handle)
	if res.Err != nil {
		return stream.SendMsg(&SubscribeResponse{Error: errString(res.Err)})
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case msg, ok := <-res.Messages:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&SubscribeResponse{FromPeerID: msg.From.String(), Data: msg.Data}); err != nil {
				return err
			}
		}
	}
}

// --- Request/response ---

func (s *Server) sendRequest(ctx context.Context, req *SendRequestRequest) (*SendRequestResponse, error) {
	pid, err := peer.Decode(req.PeerID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid peer id: %v", err)
	}
	result, err := s.swarm.SendRequest(ctx, pid, req.Topic, req.Data)
	if err != nil {
		return &SendRequestResponse{Error: errString(err)}, nil
	}
	if result.Response.Err != nil {
		return &SendRequestResponse{Error: result.Response.Err.Error()}, nil
	}
	return &SendRequestResponse{Data: result.Response.Data}, nil
}

func (s *Server) receiveRequests(req *ReceiveRequestsRequest, stream grpc.ServerStream) error {
	var query subactors.TopicQuery
	switch {
	case req.TopicQuery == nil:
		query = subactors.NewTopicQueryNone()
	case req.Regex:
		q, err := subactors.NewTopicQueryRegex(*req.TopicQuery)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid regex: %v", err)
		}
		query = q
	default:
		query = subactors.NewTopicQueryLiteral(*req.TopicQuery)
	}

	inbox := make(chan subactors.InboundRequest, 16)
	handle, err := s.swarm.RegisterReqRespSubscription(stream.Context(), query, inbox)
	if err != nil {
		return stream.SendMsg(&InboundRequestMsg{Error: errString(err)})
	}
	defer s.swarm.UnregisterReqRespSubscription(context.Background(), handle)

	var owned []uint64
	defer func() {
		for _, id := range owned {
			s.responders.cancel(id)
		}
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case in, ok := <-inbox:
			if !ok {
				return nil
			}
			s.responders.put(in.ID, in.Respond)
			owned = append(owned, in.ID)
			msg := &InboundRequestMsg{RequestID: in.ID, FromPeerID: in.Peer.String(), Topic: in.Request.Topic, Data: in.Request.Data}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) respond(ctx context.Context, req *RespondRequest) (*RespondResponse, error) {
	respond, ok := s.responders.take(req.RequestID)
	if !ok {
		return &RespondResponse{Error: "unknown request id"}, nil
	}
	if req.Error != "" {
		respond(subactors.Response{Err: &subactors.ResponseError{Kind: subactors.ResponseErrorScript, Message: req.Error}})
	} else {
		respond(subactors.Response{Data: req.Data})
	}
	return &RespondResponse{}, nil
}

// --- Debug ---

func (s *Server) getPeerID(ctx context.Context, req *GetPeerIDRequest) (*GetPeerIDResponse, error) {
	id, err := s.swarm.GetPeerID(ctx)
	if err != nil {
		return nil, err
	}
	return &GetPeerIDResponse{PeerID: id.String()}, nil
}

func (s *Server) getKnownPeers(ctx context.Context, req *GetKnownPeersRequest) (*GetKnownPeersResponse, error) {
	ids, err := s.swarm.ListKnownPeers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return &GetKnownPeersResponse{PeerIDs: out}, nil
}

// --- File transfer ---

func (s *Server) provide(stream grpc.ServerStream) error {
	var buf bytes.Buffer
	for {
		chunk := new(ProvideChunk)
		err := stream.RecvMsg(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stream.SendMsg(&ProvideResponse{Error: err.Error()})
		}
		buf.Write(chunk.Data)
	}
	cidv, err := s.ft.Provide(stream.Context(), &buf)
	if err != nil {
		return stream.SendMsg(&ProvideResponse{Error: err.Error()})
	}
	return stream.SendMsg(&ProvideResponse{ULID: cidv.ULID[:], SHA256: cidv.SHA256[:]})
}

func (s *Server) getFile(req *GetFileRequest, stream grpc.ServerStream) error {
	if len(req.ULID) != 16 || len(req.SHA256) != 32 {
		return stream.SendMsg(&GetFileResponse{Error: "malformed cid"})
	}
	var id ulid.ULID
	copy(id[:], req.ULID)
	var sum [32]byte
	copy(sum[:], req.SHA256)
	cidv := fcid.FromParts(id, sum)

	progress, err := s.ft.GetWithProgress(stream.Context(), cidv)
	if err != nil {
		return stream.SendMsg(&GetFileResponse{Error: err.Error()})
	}

	var readyPath string
	for p := range progress {
		switch {
		case p.Err != nil:
			return stream.SendMsg(&GetFileResponse{Error: p.Err.Error()})
		case p.Ready != "":
			readyPath = p.Ready
		default:
			percent := p.Percent
			if err := stream.SendMsg(&GetFileResponse{Percent: &percent}); err != nil {
				return err
			}
		}
	}

	f, err := os.Open(readyPath)
	if err != nil {
		return stream.SendMsg(&GetFileResponse{Error: err.Error()})
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := stream.SendMsg(&GetFileResponse{Data: chunk}); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return stream.SendMsg(&GetFileResponse{Error: err.Error()})
		}
	}
}

// --- Discovery ---

func (s *Server) getNeighbours(ctx context.Context, req *GetNeighboursRequest) (*GetNeighboursResponse, error) {
	resolved := s.neighbors.AllResolved()
	out := make([]Neighbour, len(resolved))
	for i, r := range resolved {
		n := Neighbour{PeerID: r.Peer.String(), Interface: r.IfIndex}
		if r.DirectAddr != nil {
			n.DirectAddr = r.DirectAddr.String()
		}
		if r.BatmanAddr != nil {
			n.BatmanAddr = r.BatmanAddr.String()
		}
		out[i] = n
	}
	return &GetNeighboursResponse{Neighbours: out}, nil
}
