package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// midLimit is the first MID never handed out. 0xFFFF is reserved for
// server-initiated oplock breaks.
const midLimit = types.MIDOplockBreak

// mux is the registry of requests awaiting a response, keyed by MID.
//
// A request is resolved at most once: resolution removes it from the
// registry under mu, and a frame whose MID is not registered is discarded.
// MIDs abandoned by timeout or cancellation are quarantined so that their
// late responses cannot be mistaken for the reply to a newer request.
type mux struct {
	mu         sync.Mutex
	pending    map[uint16]*pendingRequest
	quarantine map[uint16]time.Time
	next       uint16
	ttl        time.Duration
	now        func() time.Time
}

func newMux(ttl time.Duration) *mux {
	return &mux{
		pending:    make(map[uint16]*pendingRequest),
		quarantine: make(map[uint16]time.Time),
		ttl:        ttl,
		now:        time.Now,
	}
}

// register allocates a free MID and records a pending request for cmd.
func (m *mux) register(cmd types.Command) (*pendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)

	for range int(midLimit) {
		mid := m.next
		m.next++
		if m.next == midLimit {
			m.next = 0
		}
		if _, busy := m.pending[mid]; busy {
			continue
		}
		if _, held := m.quarantine[mid]; held {
			continue
		}

		p := acquirePendingRequest()
		p.mid = mid
		p.command = cmd
		p.submitted = now
		p.state = stateAllocated
		m.pending[mid] = p
		return p, nil
	}
	return nil, fmt.Errorf("%w: all %d multiplex ids in use", types.ErrBusy, int(midLimit))
}

func (m *mux) expireLocked(now time.Time) {
	for mid, deadline := range m.quarantine {
		if !now.Before(deadline) {
			delete(m.quarantine, mid)
		}
	}
}

// markSubmitted records that the request's frame is about to hit the wire.
func (m *mux) markSubmitted(p *pendingRequest) {
	m.mu.Lock()
	if m.pending[p.mid] == p {
		p.state = stateSubmitted
	}
	m.mu.Unlock()
}

// deliver resolves the request registered under msg.MID. It returns false
// when no request is waiting, in which case the frame must be discarded. A
// late response for a quarantined MID releases the quarantine.
func (m *mux) deliver(msg *header.Message) bool {
	return m.resolve(msg.MID, result{msg: msg})
}

// fail resolves the request registered under mid with err.
func (m *mux) fail(mid uint16, err error) bool {
	return m.resolve(mid, result{err: err})
}

func (m *mux) resolve(mid uint16, r result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[mid]
	if !ok {
		delete(m.quarantine, mid)
		return false
	}
	delete(m.pending, mid)
	p.state = stateResponseReceived
	p.done <- r
	return true
}

// failAll resolves every pending request with err and forgets the
// quarantine, since a new socket starts a fresh MID space.
func (m *mux) failAll(err error) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	for mid, p := range m.pending {
		delete(m.pending, mid)
		p.state = stateResponseReceived
		p.done <- result{err: err}
	}
	clear(m.quarantine)
	return n
}

// abandon removes p from the registry if it is still waiting. When
// quarantine is set, its MID is held back for the TTL. It returns false if
// p was resolved first; the result is then already in p.done.
func (m *mux) abandon(p *pendingRequest, quarantine bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[p.mid] != p {
		return false
	}
	delete(m.pending, p.mid)
	if quarantine {
		m.quarantine[p.mid] = m.now().Add(m.ttl)
	}
	return true
}

// quarantined reports whether mid is currently held back.
func (m *mux) quarantined(mid uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.quarantine[mid]
	return ok && m.now().Before(deadline)
}

// len returns the number of requests awaiting a response.
func (m *mux) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
