package subactors

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Pubsub wraps a *pubsub.PubSub, maintaining one broadcaster per subscribed
// topic and garbage collecting topics once their last subscriber leaves.
type Pubsub struct {
	ps *pubsub.PubSub

	mu         sync.Mutex
	broadcasts map[string]*topicBroadcast
	nextHandle SubscriptionHandle
}

type topicBroadcast struct {
	topic     *pubsub.Topic
	sub       *pubsub.Subscription
	cancel    context.CancelFunc
	receivers map[SubscriptionHandle]chan PubsubMessage
}

// NewPubsub wraps an already-constructed *pubsub.PubSub.
func NewPubsub(ps *pubsub.PubSub) *Pubsub {
	return &Pubsub{ps: ps, broadcasts: make(map[string]*topicBroadcast)}
}

// Subscribe joins topic if not already joined and registers a new receiver,
// returning a handle used to Unsubscribe later.
func (p *Pubsub) Subscribe(topicName string) SubscribeResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	tb, ok := p.broadcasts[topicName]
	if !ok {
		topic, err := p.ps.Join(topicName)
		if err != nil {
			return SubscribeResult{Err: fmt.Errorf("subactors: join topic %q: %w", topicName, err)}
		}
		sub, err := topic.Subscribe()
		if err != nil {
			return SubscribeResult{Err: fmt.Errorf("subactors: subscribe topic %q: %w", topicName, err)}
		}
		ctx, cancel := context.WithCancel(context.Background())
		tb = &topicBroadcast{topic: topic, sub: sub, cancel: cancel, receivers: make(map[SubscriptionHandle]chan PubsubMessage)}
		p.broadcasts[topicName] = tb
		go p.pump(ctx, topicName, tb)
	}

	p.nextHandle++
	handle := p.nextHandle
	ch := make(chan PubsubMessage, 16)
	tb.receivers[handle] = ch
	return SubscribeResult{Handle: handle, Messages: ch}
}

func (p *Pubsub) pump(ctx context.Context, topicName string, tb *topicBroadcast) {
	for {
		msg, err := tb.sub.Next(ctx)
		if err != nil {
			return
		}
		pm := PubsubMessage{From: msg.ReceivedFrom, Data: msg.Data, Topic: topicName}
		p.mu.Lock()
		for _, ch := range tb.receivers {
			select {
			case ch <- pm:
			default:
				log.Warnw("dropping pubsub message, receiver channel full", "topic", topicName)
			}
		}
		p.mu.Unlock()
	}
}

// Unsubscribe removes a single receiver; once a topic's last receiver is
// gone the subscription and topic handle are torn down.
func (p *Pubsub) Unsubscribe(topicName string, handle SubscriptionHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tb, ok := p.broadcasts[topicName]
	if !ok {
		return
	}
	if ch, ok := tb.receivers[handle]; ok {
		close(ch)
		delete(tb.receivers, handle)
	}
	if len(tb.receivers) == 0 {
		tb.cancel()
		tb.sub.Cancel()
		tb.topic.Close()
		delete(p.broadcasts, topicName)
	}
}

// Publish broadcasts data on topic, joining it first if necessary.
func (p *Pubsub) Publish(ctx context.Context, topicName string, data []byte) error {
	p.mu.Lock()
	tb, ok := p.broadcasts[topicName]
	p.mu.Unlock()

	if ok {
		return tb.topic.Publish(ctx, data)
	}

	topic, err := p.ps.Join(topicName)
	if err != nil {
		return fmt.Errorf("subactors: join topic %q for publish: %w", topicName, err)
	}
	defer topic.Close()
	return topic.Publish(ctx, data)
}

// AddExplicitPeer marks pid as an explicit gossipsub peer, bypassing the
// mesh's usual peer-selection heuristics. Used for directly resolved
// batman-adv neighbors. There is no symmetric removal: gossipsub exposes no
// way to retract an explicit peer, and a stale entry only costs periodic
// reconnection attempts until the peer returns.
func (p *Pubsub) AddExplicitPeer(pid peer.ID) {
	p.ps.AddExplicitPeer(pid)
}
