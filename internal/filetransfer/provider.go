package filetransfer

import (
	"sync"
	"sync/atomic"

	"github.com/p2p-industries/hyveos/pkg/fcid"
)

// loadCounter tracks how many inbound file-transfer streams this node is
// currently serving, in total and per Cid. A GetCid response reports this
// node's own snapshot so the requester can rank it against other
// candidates.
type loadCounter struct {
	total  int64
	mu     sync.Mutex
	perCid map[fcid.Cid]int64
}

func newLoadCounter() *loadCounter {
	return &loadCounter{perCid: make(map[fcid.Cid]int64)}
}

// begin records a new in-flight inbound stream for c. Call end when the
// stream exits, success or failure alike, so the counter never drifts.
func (l *loadCounter) begin(c fcid.Cid) {
	atomic.AddInt64(&l.total, 1)
	l.mu.Lock()
	l.perCid[c]++
	l.mu.Unlock()
}

// end releases a stream previously recorded with begin.
func (l *loadCounter) end(c fcid.Cid) {
	atomic.AddInt64(&l.total, -1)
	l.mu.Lock()
	if n := l.perCid[c] - 1; n > 0 {
		l.perCid[c] = n
	} else {
		delete(l.perCid, c)
	}
	l.mu.Unlock()
}

// snapshot reports this node's current load with respect to c.
func (l *loadCounter) snapshot(c fcid.Cid) (total, onCid uint64) {
	t := atomic.LoadInt64(&l.total)
	if t < 0 {
		t = 0
	}
	l.mu.Lock()
	n := l.perCid[c]
	l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	return uint64(t), uint64(n)
}
