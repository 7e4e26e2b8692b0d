package bridge

import (
	"sync"

	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
)

// pendingResponders tracks inbound requests an application has been handed
// but not yet answered, keyed by the req-resp actor's request ID. Requests
// are registered by a ReceiveRequests stream and consumed by a later Respond
// call on the same gRPC connection.
type pendingResponders struct {
	mu sync.Mutex
	m  map[uint64]func(subactors.Response)
}

func newPendingResponders() *pendingResponders {
	return &pendingResponders{m: make(map[uint64]func(subactors.Response))}
}

func (p *pendingResponders) put(id uint64, respond func(subactors.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[id] = respond
}

// take removes and returns the responder for id, if still pending.
func (p *pendingResponders) take(id uint64) (func(subactors.Response), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	respond, ok := p.m[id]
	if ok {
		delete(p.m, id)
	}
	return respond, ok
}

// cancel drops id without invoking its responder, used when the stream that
// registered it exits before the application answers.
func (p *pendingResponders) cancel(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, id)
}
