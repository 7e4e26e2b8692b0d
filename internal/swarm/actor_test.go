package swarm

import (
	"bytes"
	"context"
	"testing"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

func newTestActor(t *testing.T) *Actor {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	ctx := context.Background()
	d, err := dht.New(ctx, h)
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		t.Fatalf("pubsub.NewGossipSub: %v", err)
	}
	return New(h, d, ps)
}

func TestSelfPubsubRoundTrip(t *testing.T) {
	actor := newTestActor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go actor.Run(ctx)

	client := actor.Client()
	defer client.Close()

	self, err := client.GetPeerID(ctx)
	if err != nil {
		t.Fatalf("GetPeerID: %v", err)
	}

	sub, err := client.Subscribe(ctx, "t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Err != nil {
		t.Fatalf("subscribe result: %v", sub.Err)
	}
	defer client.Unsubscribe(context.Background(), "t", sub.Handle)

	if err := client.Publish(ctx, "t", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		if msg.From != self {
			t.Errorf("message source = %s, want self %s", msg.From, self)
		}
		if !bytes.Equal(msg.Data, []byte{0x01, 0x02}) {
			t.Errorf("message data = %v, want [1 2]", msg.Data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for self-published message")
	}
}

func TestClientCloseTerminatesRun(t *testing.T) {
	actor := newTestActor(t)
	done := make(chan struct{})
	go func() {
		actor.Run(context.Background())
		close(done)
	}()

	c1 := actor.Client()
	c2 := c1.Clone()

	c1.Close()
	select {
	case <-done:
		t.Fatal("actor exited while a clone was still open")
	case <-time.After(50 * time.Millisecond):
	}

	c2.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not exit after the last clone closed")
	}
}

func TestSurvivingCloneWorksAfterSiblingClose(t *testing.T) {
	actor := newTestActor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go actor.Run(ctx)

	client := actor.Client()
	survivor := client.Clone()
	client.Close()

	// The surviving clone still works after its sibling closed.
	if _, err := survivor.GetPeerID(ctx); err != nil {
		t.Fatalf("GetPeerID on surviving clone: %v", err)
	}
	survivor.Close()
}
