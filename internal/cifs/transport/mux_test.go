package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

func quarantineLen(m *mux) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quarantine)
}

func reply(mid uint16) *header.Message {
	return &header.Message{Header: header.Header{Command: types.CommandEcho, MID: mid, Flags: types.FlagsReply}}
}

// =============================================================================
// Allocation
// =============================================================================

func TestMuxRegisterUniqueMIDs(t *testing.T) {
	m := newMux(time.Minute)

	var mu sync.Mutex
	seen := make(map[uint16]bool)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				p, err := m.register(types.CommandEcho)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[p.mid], "mid %d handed out twice", p.mid)
				seen[p.mid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 16*200)
	assert.Equal(t, 16*200, m.len())
}

func TestMuxNeverAllocatesOplockMID(t *testing.T) {
	m := newMux(time.Minute)
	m.next = midLimit - 1

	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)
	assert.Equal(t, midLimit-1, p.mid)

	p, err = m.register(types.CommandEcho)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), p.mid)
}

func TestMuxExhaustion(t *testing.T) {
	m := newMux(time.Minute)
	for range int(midLimit) {
		_, err := m.register(types.CommandEcho)
		require.NoError(t, err)
	}

	_, err := m.register(types.CommandEcho)
	assert.ErrorIs(t, err, types.ErrBusy)

	require.True(t, m.fail(7, errors.New("done")))
	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), p.mid)
}

// =============================================================================
// Resolution
// =============================================================================

func TestMuxDeliverExactlyOnce(t *testing.T) {
	m := newMux(time.Minute)
	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)

	assert.True(t, m.deliver(reply(p.mid)))
	assert.False(t, m.deliver(reply(p.mid)), "duplicate response must be discarded")
	assert.False(t, m.fail(p.mid, types.ErrConnectionLost))

	r := <-p.done
	require.NoError(t, r.err)
	assert.Equal(t, p.mid, r.msg.MID)
	assert.Equal(t, stateResponseReceived, p.state)
	assert.Empty(t, p.done)
}

func TestMuxDeliverUnknownMID(t *testing.T) {
	m := newMux(time.Minute)
	assert.False(t, m.deliver(reply(42)))
}

func TestMuxAbandonQuarantines(t *testing.T) {
	m := newMux(time.Minute)
	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)
	mid := p.mid

	require.True(t, m.abandon(p, true))
	assert.True(t, m.quarantined(mid))
	assert.Zero(t, m.len())

	// The MID is skipped while quarantined.
	m.next = mid
	q, err := m.register(types.CommandEcho)
	require.NoError(t, err)
	assert.NotEqual(t, mid, q.mid)

	// Its late response is discarded and releases it.
	assert.False(t, m.deliver(reply(mid)))
	assert.False(t, m.quarantined(mid))
}

func TestMuxQuarantineExpires(t *testing.T) {
	now := time.Now()
	m := newMux(time.Second)
	m.now = func() time.Time { return now }

	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)
	require.True(t, m.abandon(p, true))
	assert.True(t, m.quarantined(p.mid))

	now = now.Add(2 * time.Second)
	assert.False(t, m.quarantined(p.mid))

	_, err = m.register(types.CommandEcho)
	require.NoError(t, err)
	assert.Zero(t, quarantineLen(m))
}

func TestMuxAbandonAfterResolve(t *testing.T) {
	m := newMux(time.Minute)
	p, err := m.register(types.CommandEcho)
	require.NoError(t, err)

	require.True(t, m.deliver(reply(p.mid)))
	assert.False(t, m.abandon(p, true), "a resolved request cannot be abandoned")
	assert.False(t, m.quarantined(p.mid))

	r := <-p.done
	assert.NotNil(t, r.msg)
}

func TestMuxFailAll(t *testing.T) {
	m := newMux(time.Minute)
	var ps []*pendingRequest
	for range 3 {
		p, err := m.register(types.CommandEcho)
		require.NoError(t, err)
		ps = append(ps, p)
	}
	require.True(t, m.abandon(ps[0], true))

	assert.Equal(t, 2, m.failAll(types.ErrConnectionLost))
	for _, p := range ps[1:] {
		r := <-p.done
		assert.ErrorIs(t, r.err, types.ErrConnectionLost)
	}
	assert.Zero(t, m.len())
	assert.Zero(t, quarantineLen(m))
}

func TestRequestStateString(t *testing.T) {
	assert.Equal(t, "submitted", stateSubmitted.String())
	assert.Equal(t, "unknown", requestState(99).String())
}
