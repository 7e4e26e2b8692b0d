package subactors

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ReqRespProtocolID identifies the request/response stream protocol.
const ReqRespProtocolID = protocol.ID("/req_resp")

// RequestTimeout bounds how long a caller waits for a response before
// ResponseErrorTimeout is returned.
const RequestTimeout = 300 * time.Second

type wireRequest struct {
	ID    uint64  `cbor:"id"`
	Topic *string `cbor:"topic,omitempty"`
	Data  []byte  `cbor:"data"`
}

type wireResponse struct {
	ID      uint64  `cbor:"id"`
	Data    []byte  `cbor:"data,omitempty"`
	ErrKind *int    `cbor:"err_kind,omitempty"`
	ErrMsg  *string `cbor:"err_msg,omitempty"`
}

type subscription struct {
	query TopicQuery
	inbox chan<- InboundRequest
}

// ReqResp implements the request/response protocol directly over
// network.Stream, since go-libp2p has no built-in request-response
// behaviour at the version this daemon targets. A request addressed to our
// own peer ID is delivered to local subscribers without touching the
// network, and the behaviour keeps its
// TopicQuery-based subscription matching.
type ReqResp struct {
	h    host.Host
	self peer.ID

	nextID uint64

	mu            sync.Mutex
	subscriptions map[SubscriptionHandle]*subscription
	nextHandle    SubscriptionHandle

	pending sync.Map // uint64 -> chan wireResponse
}

// NewReqResp registers the req-resp stream handler on h.
func NewReqResp(h host.Host) *ReqResp {
	r := &ReqResp{h: h, self: h.ID(), subscriptions: make(map[SubscriptionHandle]*subscription)}
	h.SetStreamHandler(ReqRespProtocolID, r.handleStream)
	return r
}

// Subscribe registers inbox to receive inbound requests whose topic matches
// query, including requests synthesized by our own self-loop.
func (r *ReqResp) Subscribe(query TopicQuery, inbox chan<- InboundRequest) SubscriptionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandle++
	h := r.nextHandle
	r.subscriptions[h] = &subscription{query: query, inbox: inbox}
	return h
}

// Unsubscribe removes a previously registered subscription.
func (r *ReqResp) Unsubscribe(handle SubscriptionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, handle)
}

// SendRequest sends req to dst and waits for a response, or for
// RequestTimeout to elapse, or for no subscriber to claim the topic.
func (r *ReqResp) SendRequest(ctx context.Context, dst peer.ID, req Request) RequestResult {
	id := atomic.AddUint64(&r.nextID, 1)

	if dst == r.self {
		return r.selfLoop(ctx, id, req)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	s, err := r.h.NewStream(ctx, dst, ReqRespProtocolID)
	if err != nil {
		return RequestResult{Err: fmt.Errorf("subactors: open req-resp stream: %w", err)}
	}
	defer s.Close()

	enc := cbor.NewEncoder(s)
	if err := enc.Encode(wireRequest{ID: id, Topic: req.Topic, Data: req.Data}); err != nil {
		return RequestResult{Err: fmt.Errorf("subactors: encode request: %w", err)}
	}

	var resp wireResponse
	dec := cbor.NewDecoder(s)
	if err := dec.Decode(&resp); err != nil {
		return RequestResult{Err: fmt.Errorf("subactors: decode response: %w", err)}
	}
	return RequestResult{Response: fromWire(resp)}
}

// selfLoop delivers a request directly to a local subscriber without
// touching the network.
func (r *ReqResp) selfLoop(ctx context.Context, id uint64, req Request) RequestResult {
	sub := r.findSubscription(req.Topic)
	if sub == nil {
		return RequestResult{Response: Response{Err: &ResponseError{Kind: ResponseErrorTopicNotSubscribed}}}
	}

	replyCh := make(chan Response, 1)
	inReq := InboundRequest{
		ID: id, Peer: r.self, Request: req,
		Respond: func(resp Response) { replyCh <- resp },
	}

	select {
	case sub.inbox <- inReq:
	case <-ctx.Done():
		return RequestResult{Err: ctx.Err()}
	}

	select {
	case resp := <-replyCh:
		return RequestResult{Response: resp}
	case <-time.After(RequestTimeout):
		return RequestResult{Response: Response{Err: &ResponseError{Kind: ResponseErrorTimeout}}}
	case <-ctx.Done():
		return RequestResult{Err: ctx.Err()}
	}
}

func (r *ReqResp) findSubscription(topic *string) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscriptions {
		if s.query.Matches(topic) {
			return s
		}
	}
	return nil
}

func (r *ReqResp) handleStream(s network.Stream) {
	defer s.Close()

	var wr wireRequest
	dec := cbor.NewDecoder(s)
	if err := dec.Decode(&wr); err != nil {
		log.Debugw("req-resp decode failed", "err", err)
		return
	}

	sub := r.findSubscription(wr.Topic)
	var resp Response
	if sub == nil {
		resp = Response{Err: &ResponseError{Kind: ResponseErrorTopicNotSubscribed}}
	} else {
		replyCh := make(chan Response, 1)
		inReq := InboundRequest{
			ID: wr.ID, Peer: s.Conn().RemotePeer(), Request: Request{Topic: wr.Topic, Data: wr.Data},
			Respond: func(r Response) { replyCh <- r },
		}
		select {
		case sub.inbox <- inReq:
			select {
			case resp = <-replyCh:
			case <-time.After(RequestTimeout):
				resp = Response{Err: &ResponseError{Kind: ResponseErrorTimeout}}
			}
		default:
			resp = Response{Err: &ResponseError{Kind: ResponseErrorTopicNotSubscribed}}
		}
	}

	enc := cbor.NewEncoder(s)
	if err := enc.Encode(toWire(wr.ID, resp)); err != nil {
		log.Debugw("req-resp encode response failed", "err", err)
	}
}

func toWire(id uint64, resp Response) wireResponse {
	if resp.Err != nil {
		kind := int(resp.Err.Kind)
		msg := resp.Err.Message
		return wireResponse{ID: id, ErrKind: &kind, ErrMsg: &msg}
	}
	return wireResponse{ID: id, Data: resp.Data}
}

func fromWire(w wireResponse) Response {
	if w.ErrKind != nil {
		msg := ""
		if w.ErrMsg != nil {
			msg = *w.ErrMsg
		}
		return Response{Err: &ResponseError{Kind: ResponseErrorKind(*w.ErrKind), Message: msg}}
	}
	return Response{Data: w.Data}
}
