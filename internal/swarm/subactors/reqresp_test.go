package subactors

import (
	"context"
	"testing"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
)

func newTestHost(t *testing.T) *ReqResp {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return NewReqResp(h)
}

func TestSelfLoopDelivery(t *testing.T) {
	rr := newTestHost(t)
	inbox := make(chan InboundRequest, 1)
	rr.Subscribe(NewTopicQueryLiteral("echo"), inbox)

	go func() {
		req := <-inbox
		req.Respond(Response{Data: append([]byte("echo: "), req.Request.Data...)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result := rr.SendRequest(ctx, rr.self, Request{Topic: TopicPtr("echo"), Data: []byte("hi")})
	if result.Err != nil {
		t.Fatalf("SendRequest: %v", result.Err)
	}
	if result.Response.Err != nil {
		t.Fatalf("response error: %v", result.Response.Err)
	}
	if string(result.Response.Data) != "echo: hi" {
		t.Errorf("got %q, want %q", result.Response.Data, "echo: hi")
	}
}

func TestSelfLoopNoSubscriber(t *testing.T) {
	rr := newTestHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result := rr.SendRequest(ctx, rr.self, Request{Topic: TopicPtr("nobody-home"), Data: nil})
	if result.Err != nil {
		t.Fatalf("SendRequest: %v", result.Err)
	}
	if result.Response.Err == nil || result.Response.Err.Kind != ResponseErrorTopicNotSubscribed {
		t.Fatalf("expected TopicNotSubscribed, got %+v", result.Response.Err)
	}
}

func TestTopicQueryRegex(t *testing.T) {
	q, err := NewTopicQueryRegex("^app/.*$")
	if err != nil {
		t.Fatalf("NewTopicQueryRegex: %v", err)
	}
	if !q.Matches(TopicPtr("app/foo")) {
		t.Error("expected regex query to match app/foo")
	}
	if q.Matches(TopicPtr("other/foo")) {
		t.Error("expected regex query not to match other/foo")
	}
	if _, err := NewTopicQueryRegex("("); err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestTopicQueryNoneMatchesOnlyTopiclessRequests(t *testing.T) {
	q := NewTopicQueryNone()
	if !q.Matches(nil) {
		t.Error("expected none-query to match a topic-less request")
	}
	if q.Matches(TopicPtr("anything")) {
		t.Error("expected none-query not to match a request with a topic")
	}
	lit := NewTopicQueryLiteral("anything")
	if lit.Matches(nil) {
		t.Error("expected literal query not to match a topic-less request")
	}
}
