package swarm

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/p2p-industries/hyveos/internal/herr"
	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
)

// Client is a refcounted handle to a running Actor's command channel. The
// actor should only observe the channel closing once every handle is gone,
// so Client counts its clones: every Clone bumps the refcount, every Close
// decrements it, and the underlying channel is closed when the count
// reaches zero.
type Client struct {
	cmds chan<- Command

	mu     *sync.Mutex
	count  *int
	closed *bool
}

func newClient(cmds chan<- Command) *Client {
	count := 1
	closed := false
	return &Client{cmds: cmds, mu: &sync.Mutex{}, count: &count, closed: &closed}
}

// Clone returns a new handle sharing the same underlying channel, bumping
// the refcount.
func (c *Client) Clone() *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.count++
	return &Client{cmds: c.cmds, mu: c.mu, count: c.count, closed: c.closed}
}

// Close decrements the refcount, closing the command channel once the last
// clone is closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.count--
	if *c.count == 0 && !*c.closed {
		*c.closed = true
		close(c.cmds)
	}
}

func (c *Client) send(ctx context.Context, cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return herr.Wrap(herr.CodeTimeout, "send command", ctx.Err())
	}
}

// PutRecord stores value at key in the DHT.
func (c *Client) PutRecord(ctx context.Context, key, value []byte) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, PutRecordCmd{Key: key, Value: value, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return herr.Wrap(herr.CodeTimeout, "put record", ctx.Err())
	}
}

// GetRecord streams values observed for key.
func (c *Client) GetRecord(ctx context.Context, key []byte) (<-chan subactors.GetRecordResult, error) {
	reply := make(chan subactors.GetRecordResult, 8)
	if err := c.send(ctx, GetRecordCmd{Key: key, Reply: reply}); err != nil {
		return nil, err
	}
	return reply, nil
}

// StartProviding announces this node as a provider of key.
func (c *Client) StartProviding(ctx context.Context, key []byte) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, StartProvidingCmd{Key: key, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return herr.Wrap(herr.CodeTimeout, "start providing", ctx.Err())
	}
}

// GetProviders streams providers discovered for key.
func (c *Client) GetProviders(ctx context.Context, key []byte) (<-chan subactors.GetProvidersResult, error) {
	reply := make(chan subactors.GetProvidersResult, 8)
	if err := c.send(ctx, GetProvidersCmd{Key: key, Reply: reply}); err != nil {
		return nil, err
	}
	return reply, nil
}

// Bootstrap triggers a DHT bootstrap round, seeding the routing table from
// the configured bootstrap peers.
func (c *Client) Bootstrap(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, BootstrapCmd{Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return herr.Wrap(herr.CodeTimeout, "bootstrap", ctx.Err())
	}
}

// Subscribe joins a pubsub topic.
func (c *Client) Subscribe(ctx context.Context, topic string) (subactors.SubscribeResult, error) {
	reply := make(chan subactors.SubscribeResult, 1)
	if err := c.send(ctx, SubscribeCmd{Topic: topic, Reply: reply}); err != nil {
		return subactors.SubscribeResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return subactors.SubscribeResult{}, herr.Wrap(herr.CodeTimeout, "subscribe", ctx.Err())
	}
}

// Unsubscribe leaves a pubsub topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string, handle subactors.SubscriptionHandle) error {
	return c.send(ctx, UnsubscribeCmd{Topic: topic, Handle: handle})
}

// Publish broadcasts data on topic.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, PublishCmd{Topic: topic, Data: data, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return herr.Wrap(herr.CodeTimeout, "publish", ctx.Err())
	}
}

// SendRequest sends a request to dst and waits for a response. topic is
// optional (nil means the request carries no topic at all) and only reaches
// a subscriber whose query was built with subactors.NewTopicQueryNone.
func (c *Client) SendRequest(ctx context.Context, dst peer.ID, topic *string, data []byte) (subactors.RequestResult, error) {
	reply := make(chan subactors.RequestResult, 1)
	if err := c.send(ctx, SendRequestCmd{Peer: dst, Topic: topic, Data: data, Reply: reply}); err != nil {
		return subactors.RequestResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return subactors.RequestResult{}, herr.Wrap(herr.CodeTimeout, "send request", ctx.Err())
	}
}

// RegisterReqRespSubscription registers inbox to receive inbound requests
// matching query.
func (c *Client) RegisterReqRespSubscription(ctx context.Context, query subactors.TopicQuery, inbox chan<- subactors.InboundRequest) (subactors.SubscriptionHandle, error) {
	reply := make(chan subactors.SubscriptionHandle, 1)
	if err := c.send(ctx, RegisterReqRespSubscriptionCmd{Query: query, Inbox: inbox, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case h := <-reply:
		return h, nil
	case <-ctx.Done():
		return 0, herr.Wrap(herr.CodeTimeout, "register req-resp subscription", ctx.Err())
	}
}

// UnregisterReqRespSubscription releases a subscription registered with
// RegisterReqRespSubscription, so its inbox stops receiving requests.
func (c *Client) UnregisterReqRespSubscription(ctx context.Context, handle subactors.SubscriptionHandle) error {
	return c.send(ctx, UnregisterReqRespSubscriptionCmd{Handle: handle})
}

// GetPeerID returns the local peer ID.
func (c *Client) GetPeerID(ctx context.Context) (peer.ID, error) {
	reply := make(chan peer.ID, 1)
	if err := c.send(ctx, GetPeerIDCmd{Reply: reply}); err != nil {
		return "", err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return "", herr.Wrap(herr.CodeTimeout, "get peer id", ctx.Err())
	}
}

// ListKnownPeers returns every peer currently known to the host's peerstore.
func (c *Client) ListKnownPeers(ctx context.Context) ([]peer.ID, error) {
	reply := make(chan []peer.ID, 1)
	if err := c.send(ctx, ListKnownPeersCmd{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-ctx.Done():
		return nil, herr.Wrap(herr.CodeTimeout, "list known peers", ctx.Err())
	}
}
