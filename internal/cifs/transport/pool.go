package transport

import (
	"sync"
	"time"
)

var timerPool sync.Pool

func acquireTimer(timeout time.Duration) *time.Timer {
	v := timerPool.Get()
	if v == nil {
		return time.NewTimer(timeout)
	}
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func releaseTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

var pendingRequestPool sync.Pool

func acquirePendingRequest() *pendingRequest {
	v := pendingRequestPool.Get()
	if v == nil {
		return &pendingRequest{done: make(chan result, 1)}
	}
	return v.(*pendingRequest)
}

// releasePendingRequest returns p to the pool. p must no longer be
// registered with a mux.
func releasePendingRequest(p *pendingRequest) {
	select {
	case <-p.done:
	default:
	}
	p.mid = 0
	p.command = 0
	p.submitted = time.Time{}
	p.state = stateFree
	p.respSeq = 0
	p.signed = false
	pendingRequestPool.Put(p)
}
