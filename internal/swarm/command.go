package swarm

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
)

// Command is the union of operations the swarm actor accepts on its single
// command channel, dispatched by a type switch in the actor's loop.
type Command interface {
	isCommand()
}

// DHT commands.

type PutRecordCmd struct {
	Key, Value []byte
	Reply      chan<- error
}

func (PutRecordCmd) isCommand() {}

type GetRecordCmd struct {
	Key   []byte
	Reply chan<- subactors.GetRecordResult
}

func (GetRecordCmd) isCommand() {}

type StartProvidingCmd struct {
	Key   []byte
	Reply chan<- error
}

func (StartProvidingCmd) isCommand() {}

type GetProvidersCmd struct {
	Key   []byte
	Reply chan<- subactors.GetProvidersResult
}

func (GetProvidersCmd) isCommand() {}

type BootstrapCmd struct {
	Reply chan<- error
}

func (BootstrapCmd) isCommand() {}

// Pub-sub commands.

type SubscribeCmd struct {
	Topic string
	Reply chan<- subactors.SubscribeResult
}

func (SubscribeCmd) isCommand() {}

type PublishCmd struct {
	Topic string
	Data  []byte
	Reply chan<- error
}

func (PublishCmd) isCommand() {}

type UnsubscribeCmd struct {
	Topic  string
	Handle subactors.SubscriptionHandle
}

func (UnsubscribeCmd) isCommand() {}

// Request/response commands.

type SendRequestCmd struct {
	Peer  peer.ID
	Topic *string
	Data  []byte
	Reply chan<- subactors.RequestResult
}

func (SendRequestCmd) isCommand() {}

type RegisterReqRespSubscriptionCmd struct {
	Query subactors.TopicQuery
	Inbox chan<- subactors.InboundRequest
	Reply chan<- subactors.SubscriptionHandle
}

func (RegisterReqRespSubscriptionCmd) isCommand() {}

type UnregisterReqRespSubscriptionCmd struct {
	Handle subactors.SubscriptionHandle
}

func (UnregisterReqRespSubscriptionCmd) isCommand() {}

// Identity / peer introspection commands.

type GetPeerIDCmd struct {
	Reply chan<- peer.ID
}

func (GetPeerIDCmd) isCommand() {}

type ListKnownPeersCmd struct {
	Reply chan<- []peer.ID
}

func (ListKnownPeersCmd) isCommand() {}
